// Package monitor records per-operation performance metrics into a
// bounded in-memory ring and derives tuning recommendations from them.
// Monitoring must never fail the pipeline: every failure path degrades
// to a warning.
package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pressridge/blogidx/internal/clock"
)

const defaultRingSize = 256

// Metric is one recorded measurement.
type Metric struct {
	Operation     string    `json:"operation"`
	Duration      float64   `json:"duration_seconds"`
	DocumentCount int       `json:"document_count"`
	DocsPerSecond float64   `json:"docs_per_second"`
	MemoryPercent float64   `json:"memory_percent"`
	CPUPercent    float64   `json:"cpu_percent"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// SystemStats is a point-in-time resource snapshot.
type SystemStats struct {
	MemoryPercent     float64 `json:"memory_percent"`
	AvailableMemoryGB float64 `json:"available_memory_gb"`
	CPUPercent        float64 `json:"cpu_percent"`
	DiskPercent       float64 `json:"disk_percent"`
}

// Monitor holds the metric ring. It is safe for concurrent use; reads
// return snapshot copies.
type Monitor struct {
	mu      sync.Mutex
	ring    []Metric
	next    int
	filled  bool
	clk     clock.Clock
	logger  *slog.Logger
	statsFn func() SystemStats
}

// New creates a Monitor with the default ring capacity.
func New(clk clock.Clock, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		ring:   make([]Metric, defaultRingSize),
		clk:    clk,
		logger: logger,
	}
	m.statsFn = m.readSystemStats
	return m
}

// Measure starts a scoped measurement for an operation. The returned
// function records the metric on scope exit.
func (m *Monitor) Measure(operation string, documentCount int) func() {
	start := m.clk.Now()
	return func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Warn("metric recording panicked", slog.Any("panic", r))
			}
		}()

		elapsed := m.clk.Now().Sub(start).Seconds()
		stats := m.statsFn()

		docsPerSecond := 0.0
		if elapsed > 0 {
			docsPerSecond = float64(documentCount) / elapsed
		}

		m.record(Metric{
			Operation:     operation,
			Duration:      elapsed,
			DocumentCount: documentCount,
			DocsPerSecond: docsPerSecond,
			MemoryPercent: stats.MemoryPercent,
			CPUPercent:    stats.CPUPercent,
			RecordedAt:    m.clk.Now(),
		})
	}
}

func (m *Monitor) record(metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = metric
	m.next++
	if m.next == len(m.ring) {
		m.next = 0
		m.filled = true
	}
}

// SetStatsFunc replaces the system stats probe. Used to inject
// deterministic stats in tests.
func (m *Monitor) SetStatsFunc(fn func() SystemStats) {
	if fn != nil {
		m.statsFn = fn
	}
}

// Metrics returns a snapshot copy of recorded metrics, oldest first,
// optionally filtered by operation name (empty matches all).
func (m *Monitor) Metrics(operation string) []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	var raw []Metric
	if m.filled {
		raw = append(raw, m.ring[m.next:]...)
		raw = append(raw, m.ring[:m.next]...)
	} else {
		raw = append(raw, m.ring[:m.next]...)
	}

	if operation == "" {
		return raw
	}
	out := raw[:0]
	for _, metric := range raw {
		if metric.Operation == operation {
			out = append(out, metric)
		}
	}
	return out
}

// Summary aggregates the recorded metrics for one operation.
type Summary struct {
	Operation        string  `json:"operation"`
	Count            int     `json:"count"`
	TotalDuration    float64 `json:"total_duration_seconds"`
	AvgDuration      float64 `json:"avg_duration_seconds"`
	AvgDocsPerSecond float64 `json:"avg_docs_per_second"`
}

// Summarize computes aggregates for an operation. A zero Summary means
// nothing was recorded.
func (m *Monitor) Summarize(operation string) Summary {
	metrics := m.Metrics(operation)
	s := Summary{Operation: operation, Count: len(metrics)}
	if len(metrics) == 0 {
		return s
	}
	var dps float64
	for _, metric := range metrics {
		s.TotalDuration += metric.Duration
		dps += metric.DocsPerSecond
	}
	s.AvgDuration = s.TotalDuration / float64(len(metrics))
	s.AvgDocsPerSecond = dps / float64(len(metrics))
	return s
}

// Summaries aggregates every recorded operation, sorted by name.
func (m *Monitor) Summaries() []Summary {
	seen := map[string]bool{}
	var names []string
	for _, metric := range m.Metrics("") {
		if !seen[metric.Operation] {
			seen[metric.Operation] = true
			names = append(names, metric.Operation)
		}
	}
	sort.Strings(names)

	out := make([]Summary, 0, len(names))
	for _, name := range names {
		out = append(out, m.Summarize(name))
	}
	return out
}

// StatsExport is the on-disk shape of a stats dump.
type StatsExport struct {
	GeneratedAt time.Time   `json:"generated_at"`
	System      SystemStats `json:"system"`
	Operations  []Summary   `json:"operations"`
}

// Export writes the current summaries and a resource snapshot to path
// as JSON. Failures are the caller's to log; monitoring data is
// best-effort.
func (m *Monitor) Export(path string) error {
	export := StatsExport{
		GeneratedAt: m.clk.Now().UTC(),
		System:      m.Stats(),
		Operations:  m.Summaries(),
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Stats returns a resource snapshot. Probe failures yield zero values
// and a warning, never an error.
func (m *Monitor) Stats() SystemStats {
	return m.statsFn()
}

func (m *Monitor) readSystemStats() SystemStats {
	var stats SystemStats

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.AvailableMemoryGB = float64(vm.Available) / (1 << 30)
	} else {
		m.logger.Warn("memory probe failed", slog.String("error", err.Error()))
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	} else if err != nil {
		m.logger.Warn("cpu probe failed", slog.String("error", err.Error()))
	}

	if du, err := disk.Usage("/"); err == nil {
		stats.DiskPercent = du.UsedPercent
	} else {
		m.logger.Warn("disk probe failed", slog.String("error", err.Error()))
	}

	return stats
}
