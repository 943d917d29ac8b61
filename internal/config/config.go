// Package config defines the flat blogidx configuration record.
// All pipeline and scheduler behavior is driven by this one record;
// jobs hold immutable snapshots of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Checksum algorithms accepted for the ledger.
const (
	ChecksumSHA256 = "sha-256"
	ChecksumMD5    = "md5"
)

// Chunking strategies.
const (
	StrategySemantic  = "semantic"
	StrategyRecursive = "recursive"
)

// Incremental modes.
const (
	ModeAuto        = "auto"
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Semantic breakpoint types.
const (
	BreakpointPercentile = "percentile"
	BreakpointStddev     = "stddev"
	BreakpointIQR        = "iqr"
	BreakpointGradient   = "gradient"
)

// Config is the complete blogidx configuration.
// Recognised keys are enumerated here; unknown YAML keys are rejected
// at parse time.
type Config struct {
	// Document loading
	DataDir             string   `yaml:"data_dir" json:"data_dir"`
	DataDirPattern      string   `yaml:"data_dir_pattern" json:"data_dir_pattern"`
	WebURLs             []string `yaml:"web_urls" json:"web_urls"`
	BlogBaseURL         string   `yaml:"blog_base_url" json:"blog_base_url"`
	IndexOnlyPublished  bool     `yaml:"index_only_published" json:"index_only_published"`

	// Chunking
	UseChunking                       bool    `yaml:"use_chunking" json:"use_chunking"`
	ChunkingStrategy                  string  `yaml:"chunking_strategy" json:"chunking_strategy"`
	AdaptiveChunking                  bool    `yaml:"adaptive_chunking" json:"adaptive_chunking"`
	ChunkSize                         int     `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap                      int     `yaml:"chunk_overlap" json:"chunk_overlap"`
	SemanticBreakpointType            string  `yaml:"semantic_breakpoint_type" json:"semantic_breakpoint_type"`
	SemanticBreakpointThresholdAmount float64 `yaml:"semantic_breakpoint_threshold_amount" json:"semantic_breakpoint_threshold_amount"`
	SemanticMinChunkSize              int     `yaml:"semantic_min_chunk_size" json:"semantic_min_chunk_size"`

	// Vector store
	CollectionName string `yaml:"collection_name" json:"collection_name"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	VectorStoreURL string `yaml:"vector_store_url" json:"vector_store_url"` // empty = local on-disk store
	VectorStoreDir string `yaml:"vector_store_dir" json:"vector_store_dir"`
	OllamaHost     string `yaml:"ollama_host" json:"ollama_host"`
	ForceRecreate  bool   `yaml:"force_recreate" json:"force_recreate"`

	// Change detection
	IncrementalMode              string  `yaml:"incremental_mode" json:"incremental_mode"`
	ChecksumAlgorithm            string  `yaml:"checksum_algorithm" json:"checksum_algorithm"`
	AutoDetectChanges            bool    `yaml:"auto_detect_changes" json:"auto_detect_changes"`
	IncrementalFallbackThreshold float64 `yaml:"incremental_fallback_threshold" json:"incremental_fallback_threshold"`

	// Batch processing
	EnableBatchProcessing   bool    `yaml:"enable_batch_processing" json:"enable_batch_processing"`
	BatchSize               int     `yaml:"batch_size" json:"batch_size"`
	BatchPauseSeconds       float64 `yaml:"batch_pause_seconds" json:"batch_pause_seconds"`
	MaxConcurrentOperations int     `yaml:"max_concurrent_operations" json:"max_concurrent_operations"`

	// Ledger
	MetadataCSVPath string `yaml:"metadata_csv_path" json:"metadata_csv_path"`
	MaxBackupFiles  int    `yaml:"max_backup_files" json:"max_backup_files"`

	// Scheduler
	JobsDBPath        string  `yaml:"jobs_db_path" json:"jobs_db_path"`
	MaxConcurrentJobs int     `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	RunTimeoutMinutes float64 `yaml:"run_timeout_minutes" json:"run_timeout_minutes"`

	// Output reports
	ReportsPath      string `yaml:"reports_path" json:"reports_path"`
	StatsPath        string `yaml:"stats_path" json:"stats_path"`
	HealthReportPath string `yaml:"health_report_path" json:"health_report_path"`
	BuildInfoPath    string `yaml:"build_info_path" json:"build_info_path"`

	// HTTP control surface
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Logging
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		DataDir:            "data/",
		DataDirPattern:     "*.md",
		WebURLs:            nil,
		BlogBaseURL:        "",
		IndexOnlyPublished: true,

		UseChunking:                       true,
		ChunkingStrategy:                  StrategySemantic,
		AdaptiveChunking:                  true,
		ChunkSize:                         1000,
		ChunkOverlap:                      200,
		SemanticBreakpointType:            BreakpointPercentile,
		SemanticBreakpointThresholdAmount: 95,
		SemanticMinChunkSize:              100,

		CollectionName: "blog_posts",
		EmbeddingModel: "nomic-embed-text",
		VectorStoreURL: "",
		VectorStoreDir: ".blogidx/vectors",
		OllamaHost:     "",
		ForceRecreate:  false,

		IncrementalMode:              ModeAuto,
		ChecksumAlgorithm:            ChecksumSHA256,
		AutoDetectChanges:            true,
		IncrementalFallbackThreshold: 0.8,

		EnableBatchProcessing:   true,
		BatchSize:               50,
		BatchPauseSeconds:       0.1,
		MaxConcurrentOperations: 5,

		MetadataCSVPath: ".blogidx/metadata.csv",
		MaxBackupFiles:  3,

		JobsDBPath:        ".blogidx/jobs.db",
		MaxConcurrentJobs: 4,
		RunTimeoutMinutes: 30,

		ReportsPath:      ".blogidx/reports.jsonl",
		StatsPath:        ".blogidx/stats.json",
		HealthReportPath: ".blogidx/health.json",
		BuildInfoPath:    ".blogidx/build_info.json",

		ListenAddr: ":8088",

		LogLevel: "info",
		LogFile:  "",
	}
}

// Load reads configuration from path (if it exists), applies environment
// overrides, and validates the result. A missing file is fine; defaults
// apply.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads configuration from a YAML file.
// Unknown keys are rejected rather than silently ignored.
func (c *Config) loadYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no config file is fine, use defaults
		}
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies BLOGIDX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BLOGIDX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BLOGIDX_BLOG_BASE_URL"); v != "" {
		c.BlogBaseURL = v
	}
	if v := os.Getenv("BLOGIDX_COLLECTION_NAME"); v != "" {
		c.CollectionName = v
	}
	if v := os.Getenv("BLOGIDX_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("BLOGIDX_VECTOR_STORE_URL"); v != "" {
		c.VectorStoreURL = v
	}
	if v := os.Getenv("BLOGIDX_OLLAMA_HOST"); v != "" {
		c.OllamaHost = v
	}
	if v := os.Getenv("BLOGIDX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BLOGIDX_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("BLOGIDX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BatchSize = n
		}
	}
	if v := os.Getenv("BLOGIDX_FORCE_RECREATE"); v != "" {
		c.ForceRecreate = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("embedding_model must be set")
	}
	if c.CollectionName == "" {
		return fmt.Errorf("collection_name must be set")
	}

	switch c.ChecksumAlgorithm {
	case ChecksumSHA256, ChecksumMD5:
	default:
		return fmt.Errorf("checksum_algorithm must be %q or %q, got %q",
			ChecksumSHA256, ChecksumMD5, c.ChecksumAlgorithm)
	}

	switch c.ChunkingStrategy {
	case StrategySemantic, StrategyRecursive:
	default:
		return fmt.Errorf("chunking_strategy must be %q or %q, got %q",
			StrategySemantic, StrategyRecursive, c.ChunkingStrategy)
	}

	switch c.SemanticBreakpointType {
	case BreakpointPercentile, BreakpointStddev, BreakpointIQR, BreakpointGradient:
	default:
		return fmt.Errorf("semantic_breakpoint_type must be one of percentile, stddev, iqr, gradient, got %q",
			c.SemanticBreakpointType)
	}

	switch c.IncrementalMode {
	case ModeAuto, ModeIncremental, ModeFull:
	default:
		return fmt.Errorf("incremental_mode must be auto, incremental, or full, got %q", c.IncrementalMode)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BatchPauseSeconds < 0 {
		return fmt.Errorf("batch_pause_seconds must be non-negative, got %f", c.BatchPauseSeconds)
	}
	if c.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("max_concurrent_operations must be positive, got %d", c.MaxConcurrentOperations)
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.IncrementalFallbackThreshold < 0 || c.IncrementalFallbackThreshold > 1 {
		return fmt.Errorf("incremental_fallback_threshold must be between 0 and 1, got %f",
			c.IncrementalFallbackThreshold)
	}
	if c.MaxBackupFiles < 0 {
		return fmt.Errorf("max_backup_files must be non-negative, got %d", c.MaxBackupFiles)
	}

	return nil
}

// Clone returns a deep copy of the config. Jobs hold snapshots, so later
// edits to the live config must not leak into scheduled work.
func (c *Config) Clone() *Config {
	cp := *c
	if c.WebURLs != nil {
		cp.WebURLs = append([]string(nil), c.WebURLs...)
	}
	return &cp
}

// BatchPause returns the inter-batch pause as a duration.
func (c *Config) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseSeconds * float64(time.Second))
}

// RunTimeout returns the per-run deadline as a duration.
// Zero means no deadline.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes * float64(time.Minute))
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
