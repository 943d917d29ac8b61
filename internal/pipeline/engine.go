// Package pipeline orchestrates one end-to-end indexing run: load
// documents, detect changes against the ledger, mutate the vector store
// incrementally or via full rebuild, update the ledger atomically, and
// emit a run report. The engine is stateless; every invocation receives
// an immutable configuration snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressridge/blogidx/internal/batch"
	"github.com/pressridge/blogidx/internal/chunker"
	"github.com/pressridge/blogidx/internal/clock"
	"github.com/pressridge/blogidx/internal/config"
	"github.com/pressridge/blogidx/internal/detect"
	"github.com/pressridge/blogidx/internal/embed"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
	"github.com/pressridge/blogidx/internal/ledger"
	"github.com/pressridge/blogidx/internal/loader"
	"github.com/pressridge/blogidx/internal/monitor"
	"github.com/pressridge/blogidx/internal/vectorstore"
)

// Run modes.
const (
	ModeIncremental = "incremental"
	ModeFullRebuild = "full_rebuild"
)

// EmbedderFactory builds the embedding provider for a run. Pluggable so
// tests can substitute a deterministic embedder.
type EmbedderFactory func(cfg *config.Config, logger *slog.Logger) (embed.Embedder, error)

// DefaultEmbedderFactory builds an LRU-cached Ollama embedder on the
// system clock.
func DefaultEmbedderFactory(cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
	return defaultEmbedderFactory(nil)(cfg, logger)
}

// defaultEmbedderFactory threads the engine's clock into the embedder's
// retry backoff.
func defaultEmbedderFactory(clk clock.Clock) EmbedderFactory {
	return func(cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
		return embed.NewCachedEmbedder(embed.NewOllamaEmbedder(cfg.OllamaHost, cfg.EmbeddingModel, clk, logger), 4096)
	}
}

// Engine runs the indexing pipeline. Safe for concurrent use across
// different job configurations; same-job serialization is the
// scheduler's responsibility.
type Engine struct {
	clk       clock.Clock
	logger    *slog.Logger
	mon       *monitor.Monitor
	processor *batch.Processor
	factory   EmbedderFactory
}

// NewEngine creates an Engine.
func NewEngine(clk clock.Clock, mon *monitor.Monitor, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mon == nil {
		mon = monitor.New(clk, logger)
	}
	return &Engine{
		clk:       clk,
		logger:    logger,
		mon:       mon,
		processor: batch.New(clk, logger),
		factory:   defaultEmbedderFactory(clk),
	}
}

// SetEmbedderFactory overrides how the per-run embedder is built.
func (e *Engine) SetEmbedderFactory(f EmbedderFactory) {
	if f != nil {
		e.factory = f
	}
}

// Monitor exposes the engine's performance monitor.
func (e *Engine) Monitor() *monitor.Monitor { return e.mon }

// Run executes one pipeline run under the given config snapshot and
// appends the report to the reports log. The returned report is always
// valid, whatever the outcome.
func (e *Engine) Run(ctx context.Context, jobID string, cfg *config.Config) Report {
	report := Report{JobID: jobID, StartTime: e.clk.Now().UTC(), Status: StatusSuccess}
	logger := e.logger.With(slog.String("job_id", jobID))

	if cfg.RunTimeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout())
		defer cancel()
	}

	e.execute(ctx, cfg, logger, &report)

	report.EndTime = e.clk.Now().UTC()
	if err := AppendReport(cfg.ReportsPath, report); err != nil {
		logger.Error("failed to append run report", slog.String("error", err.Error()))
	}
	if cfg.StatsPath != "" {
		if err := e.mon.Export(cfg.StatsPath); err != nil {
			logger.Warn("failed to write stats export", slog.String("error", err.Error()))
		}
	}

	logger.Info("run finished",
		slog.String("status", string(report.Status)),
		slog.String("mode", report.Mode),
		slog.Int("loaded", report.Counts.Loaded),
		slog.Int("upserted", report.Counts.Upserted),
		slog.Int("removed", report.Counts.Removed))
	return report
}

func (e *Engine) execute(ctx context.Context, cfg *config.Config, logger *slog.Logger, report *Report) {
	if err := cfg.Validate(); err != nil {
		report.Status = StatusFailure
		report.Errors = append(report.Errors, idxerrors.ConfigError(err.Error(), err).Error())
		return
	}

	led := ledger.New(cfg.MetadataCSVPath, e.clk, logger)
	if err := led.Acquire(); err != nil {
		report.Status = StatusFailure
		report.Errors = append(report.Errors, err.Error())
		return
	}
	defer func() {
		if err := led.Release(); err != nil {
			logger.Warn("failed to release ledger lock", slog.String("error", err.Error()))
		}
	}()

	// Load documents. Directory-level failures abort with the ledger
	// untouched.
	stopLoad := e.mon.Measure("load_documents", 0)
	docs, err := loader.New(cfg, e.clk, logger).Load(ctx)
	stopLoad()
	if err != nil {
		report.Status = StatusFailure
		report.Errors = append(report.Errors, err.Error())
		return
	}
	report.Counts.Loaded = len(docs)

	rows, err := led.Load()
	if err != nil {
		report.Status = StatusFailure
		report.Errors = append(report.Errors, err.Error())
		return
	}

	backupPath, err := led.Backup()
	if err != nil {
		report.Status = StatusFailure
		report.Errors = append(report.Errors, err.Error())
		return
	}

	changes := detect.Detect(docs, rows, logger)
	report.Counts.New = len(changes.New)
	report.Counts.Modified = len(changes.Modified)
	report.Counts.Deleted = len(changes.DeletedSources)

	mode := e.decideMode(cfg, changes, len(rows), logger)
	report.Mode = mode

	embedder, err := e.factory(cfg, logger)
	if err != nil {
		e.failAndRestore(led, backupPath, report, err)
		return
	}
	defer embedder.Close()

	manager, err := vectorstore.NewManager(ctx, cfg, embedder, e.processor, logger,
		cfg.ForceRecreate || mode == ModeFullRebuild)
	if err != nil {
		e.failAndRestore(led, backupPath, report, err)
		return
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("failed to close vector store", slog.String("error", err.Error()))
		}
	}()

	chunkFn := e.chunkFunc(cfg, embedder, docs, logger, report)

	var update vectorstore.UpdateResult
	stopUpdate := e.mon.Measure("store_update", len(docs))
	if mode == ModeFullRebuild {
		update = manager.IncrementalUpdate(ctx, nil, docs, chunkFn)
	} else {
		addDocs := append(append([]loader.Document{}, changes.New...), changes.Modified...)
		removeSources := append(append([]string{}, changes.DeletedSources...), sourcesOf(changes.Modified)...)
		update = manager.IncrementalUpdate(ctx, removeSources, addDocs, chunkFn)
	}
	stopUpdate()

	report.Counts.Upserted = update.AddedCount
	report.Counts.Removed = update.RemovedCount
	report.Warnings = append(report.Warnings, update.Warnings...)

	failed := map[string]bool{}
	for _, s := range update.FailedSources {
		failed[s] = true
		report.Errors = append(report.Errors, fmt.Sprintf("source failed: %s", s))
	}

	if deadlineExceeded(ctx) {
		report.Status = StatusPartial
		report.Errors = append(report.Errors,
			idxerrors.Newf(idxerrors.ErrCodeRunDeadline, "run deadline exceeded").Error())
	} else if len(failed) > 0 {
		report.Status = StatusPartial
	}

	// Build the new ledger: rows for every successfully indexed source,
	// untouched rows for unchanged ones, no rows for removed sources.
	now := e.clk.Now().Unix()
	newRows := make(map[string]ledger.Row)
	for _, doc := range changes.Unchanged {
		if mode == ModeFullRebuild && failed[doc.Source] {
			continue
		}
		if row, ok := rows[doc.Source]; ok && mode != ModeFullRebuild {
			newRows[doc.Source] = row
		} else if !failed[doc.Source] {
			newRows[doc.Source] = rowFor(doc, now)
		}
	}
	indexedDocs := append(append([]loader.Document{}, changes.New...), changes.Modified...)
	if mode == ModeFullRebuild {
		indexedDocs = docs
	}
	for _, doc := range indexedDocs {
		if failed[doc.Source] {
			continue
		}
		newRows[doc.Source] = rowFor(doc, now)
	}
	// Failed sources keep their old rows so the next run retries: a
	// deleted source re-enters the deleted set, a modified source is
	// re-detected as modified and its removal re-fires.
	for _, source := range changes.DeletedSources {
		if failed[source] {
			if row, ok := rows[source]; ok {
				newRows[source] = row
			}
		}
	}
	if mode != ModeFullRebuild {
		for _, doc := range changes.Modified {
			if !failed[doc.Source] {
				continue
			}
			if row, ok := rows[doc.Source]; ok {
				newRows[doc.Source] = row
			}
		}
	}

	if err := led.Save(newRows); err != nil {
		// The store is already mutated. Restoring here would lose that
		// fact, so the run ends partial and the next change detection
		// reconciles: re-adding identical chunks is a no-op, deletions
		// re-fire. An accepted drift.
		logger.Error("ledger save failed after store mutation",
			slog.String("error", err.Error()))
		report.Status = StatusPartial
		report.Errors = append(report.Errors, err.Error())
		return
	}

	if err := led.CleanupBackups(cfg.MaxBackupFiles); err != nil {
		report.Warnings = append(report.Warnings, "backup cleanup failed: "+err.Error())
	}
}

// failAndRestore aborts a run before any store mutation happened and
// rolls the ledger back to the pre-run backup.
func (e *Engine) failAndRestore(led *ledger.Ledger, backupPath string, report *Report, cause error) {
	report.Status = StatusFailure
	report.Errors = append(report.Errors, cause.Error())
	if backupPath == "" {
		return
	}
	if err := led.Restore(backupPath); err != nil {
		report.Errors = append(report.Errors, "ledger restore failed: "+err.Error())
	}
}

// decideMode picks incremental or full rebuild for this run.
func (e *Engine) decideMode(cfg *config.Config, changes detect.ChangeSets, ledgerSize int, logger *slog.Logger) string {
	mode := ModeIncremental
	ratio := changes.ChangeRatio(ledgerSize)

	switch {
	case cfg.ForceRecreate:
		mode = ModeFullRebuild
	case cfg.IncrementalMode == config.ModeFull:
		mode = ModeFullRebuild
	case cfg.IncrementalMode == config.ModeIncremental:
		mode = ModeIncremental
	case !cfg.AutoDetectChanges:
		mode = ModeFullRebuild
	case ledgerSize == 0:
		mode = ModeFullRebuild
	case ratio > cfg.IncrementalFallbackThreshold:
		logger.Info("change ratio exceeds fallback threshold, rebuilding",
			slog.Float64("ratio", ratio),
			slog.Float64("threshold", cfg.IncrementalFallbackThreshold))
		mode = ModeFullRebuild
	}
	return mode
}

// chunkFunc builds the per-document chunk function for this run,
// applying adaptive sizing once across the corpus.
func (e *Engine) chunkFunc(cfg *config.Config, embedder embed.Embedder, docs []loader.Document, logger *slog.Logger, report *Report) vectorstore.ChunkFunc {
	if !cfg.UseChunking {
		return func(ctx context.Context, doc loader.Document) ([]chunker.Chunk, error) {
			report.Counts.Chunked++
			return []chunker.Chunk{{Content: doc.Content, Source: doc.Source, Ordinal: 0, Meta: doc.Meta}}, nil
		}
	}

	runCfg := cfg
	if cfg.AdaptiveChunking {
		params := chunker.AdaptParams(chunker.Params{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}, docs, logger)
		adapted := cfg.Clone()
		adapted.ChunkSize = params.ChunkSize
		adapted.ChunkOverlap = params.ChunkOverlap
		runCfg = adapted
	}

	c := chunker.New(runCfg, embedder, logger)
	return func(ctx context.Context, doc loader.Document) ([]chunker.Chunk, error) {
		chunks, err := c.Chunk(ctx, doc)
		if err != nil {
			return nil, err
		}
		report.Counts.Chunked += len(chunks)
		return chunks, nil
	}
}

func rowFor(doc loader.Document, indexedAt int64) ledger.Row {
	return ledger.Row{
		Source:           doc.Source,
		ContentChecksum:  doc.Checksum,
		LastModified:     doc.LastModified,
		IndexedTimestamp: indexedAt,
		Indexed:          true,
	}
}

func sourcesOf(docs []loader.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Source
	}
	return out
}

func deadlineExceeded(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
