package monitor

import (
	"fmt"
	"log/slog"

	"github.com/pressridge/blogidx/internal/chunker"
	"github.com/pressridge/blogidx/internal/loader"
)

// Optimizer bounds for batch size recommendations.
const (
	minBatchSize = 10
	maxBatchSize = 500
	// gbPerBatchSlot is the rough memory budget one batch slot needs.
	gbPerBatchSlot = 0.05
)

// Optimizer derives tuning recommendations from observed metrics and
// current resource headroom.
type Optimizer struct {
	monitor *Monitor
	logger  *slog.Logger

	// EfficiencyFloor is the docs-per-second rate below which an
	// operation is flagged as slow.
	EfficiencyFloor float64
}

// NewOptimizer creates an Optimizer over a Monitor.
func NewOptimizer(m *Monitor, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{monitor: m, logger: logger, EfficiencyFloor: 1.0}
}

// RecommendBatchSize scales the batch size roughly linearly with
// available memory, bounded by fixed min and max.
func (o *Optimizer) RecommendBatchSize(availableMemoryGB float64, currentBatchSize int) int {
	if availableMemoryGB <= 0 {
		return clampBatch(currentBatchSize)
	}
	recommended := int(availableMemoryGB / gbPerBatchSlot)
	return clampBatch(recommended)
}

func clampBatch(n int) int {
	if n < minBatchSize {
		return minBatchSize
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}

// RecommendChunkParams applies the adaptive sizing rule to the corpus.
func (o *Optimizer) RecommendChunkParams(base chunker.Params, docs []loader.Document) chunker.Params {
	return chunker.AdaptParams(base, docs, o.logger)
}

// EfficiencyReport lists operations whose throughput fell below the
// configured floor.
type EfficiencyReport struct {
	SlowOperations []SlowOperation `json:"slow_operations"`
	Healthy        bool            `json:"healthy"`
}

// SlowOperation is one flagged operation with its observed rate.
type SlowOperation struct {
	Operation        string  `json:"operation"`
	AvgDocsPerSecond float64 `json:"avg_docs_per_second"`
	Suggestion       string  `json:"suggestion"`
}

// AnalyzeEfficiency flags slow operations across the recorded history.
func (o *Optimizer) AnalyzeEfficiency() EfficiencyReport {
	seen := map[string]bool{}
	report := EfficiencyReport{Healthy: true}

	for _, metric := range o.monitor.Metrics("") {
		if seen[metric.Operation] {
			continue
		}
		seen[metric.Operation] = true

		summary := o.monitor.Summarize(metric.Operation)
		if summary.Count > 0 && summary.AvgDocsPerSecond < o.EfficiencyFloor {
			report.Healthy = false
			report.SlowOperations = append(report.SlowOperations, SlowOperation{
				Operation:        metric.Operation,
				AvgDocsPerSecond: summary.AvgDocsPerSecond,
				Suggestion: fmt.Sprintf("%s averages %.2f docs/s, below the %.2f floor; consider a larger batch size or fewer concurrent operations",
					metric.Operation, summary.AvgDocsPerSecond, o.EfficiencyFloor),
			})
		}
	}
	return report
}
