package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressridge/blogidx/internal/clock"
)

func testMonitor(t *testing.T) (*Monitor, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	m := New(clk, nil)
	// Deterministic stats for tests.
	m.statsFn = func() SystemStats {
		return SystemStats{MemoryPercent: 42, CPUPercent: 10, AvailableMemoryGB: 4}
	}
	return m, clk
}

func TestMeasureRecordsMetric(t *testing.T) {
	m, clk := testMonitor(t)

	done := m.Measure("chunk_documents", 20)
	clk.Advance(2 * time.Second)
	done()

	metrics := m.Metrics("chunk_documents")
	require.Len(t, metrics, 1)
	assert.Equal(t, 2.0, metrics[0].Duration)
	assert.Equal(t, 20, metrics[0].DocumentCount)
	assert.Equal(t, 10.0, metrics[0].DocsPerSecond)
	assert.Equal(t, 42.0, metrics[0].MemoryPercent)
}

func TestMetricsFilterByOperation(t *testing.T) {
	m, clk := testMonitor(t)

	for _, op := range []string{"load", "chunk", "load"} {
		done := m.Measure(op, 1)
		clk.Advance(time.Second)
		done()
	}

	assert.Len(t, m.Metrics(""), 3)
	assert.Len(t, m.Metrics("load"), 2)
	assert.Len(t, m.Metrics("chunk"), 1)
	assert.Empty(t, m.Metrics("embed"))
}

func TestRingBufferWrapsAround(t *testing.T) {
	m, clk := testMonitor(t)

	for i := 0; i < defaultRingSize+10; i++ {
		done := m.Measure("op", i)
		clk.Advance(time.Millisecond)
		done()
	}

	metrics := m.Metrics("op")
	require.Len(t, metrics, defaultRingSize)
	// Oldest entries were overwritten; the first survivor is entry 10.
	assert.Equal(t, 10, metrics[0].DocumentCount)
	assert.Equal(t, defaultRingSize+9, metrics[len(metrics)-1].DocumentCount)
}

func TestConcurrentRecording(t *testing.T) {
	m, _ := testMonitor(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Measure("parallel", 1)()
		}()
	}
	wg.Wait()

	assert.Len(t, m.Metrics("parallel"), 50)
}

func TestSummarize(t *testing.T) {
	m, clk := testMonitor(t)

	for i := 0; i < 3; i++ {
		done := m.Measure("embed", 10)
		clk.Advance(time.Second)
		done()
	}

	s := m.Summarize("embed")
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 3.0, s.TotalDuration)
	assert.Equal(t, 1.0, s.AvgDuration)
	assert.Equal(t, 10.0, s.AvgDocsPerSecond)

	assert.Zero(t, m.Summarize("missing").Count)
}

func TestRecommendBatchSizeScalesWithMemory(t *testing.T) {
	o := NewOptimizer(nil, nil)

	assert.Equal(t, minBatchSize, o.RecommendBatchSize(0.1, 50))
	assert.Equal(t, 100, o.RecommendBatchSize(5, 50))
	assert.Equal(t, maxBatchSize, o.RecommendBatchSize(100, 50))
	// Unknown memory keeps the current size, clamped.
	assert.Equal(t, 50, o.RecommendBatchSize(0, 50))
}

func TestAnalyzeEfficiencyFlagsSlowOps(t *testing.T) {
	m, clk := testMonitor(t)
	o := NewOptimizer(m, nil)
	o.EfficiencyFloor = 5.0

	// 1 doc over 1s: 1 doc/s, below floor.
	done := m.Measure("slow_op", 1)
	clk.Advance(time.Second)
	done()

	// 100 docs over 1s: well above floor.
	done = m.Measure("fast_op", 100)
	clk.Advance(time.Second)
	done()

	report := o.AnalyzeEfficiency()
	assert.False(t, report.Healthy)
	require.Len(t, report.SlowOperations, 1)
	assert.Equal(t, "slow_op", report.SlowOperations[0].Operation)
}

func TestAnalyzeEfficiencyHealthyWhenEmpty(t *testing.T) {
	m, _ := testMonitor(t)
	report := NewOptimizer(m, nil).AnalyzeEfficiency()
	assert.True(t, report.Healthy)
	assert.Empty(t, report.SlowOperations)
}

func TestSummariesCoverAllOperations(t *testing.T) {
	m, clk := testMonitor(t)

	for _, op := range []string{"store_update", "load_documents", "load_documents"} {
		done := m.Measure(op, 5)
		clk.Advance(time.Second)
		done()
	}

	summaries := m.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "load_documents", summaries[0].Operation)
	assert.Equal(t, 2, summaries[0].Count)
	assert.Equal(t, "store_update", summaries[1].Operation)
}

func TestExportWritesStatsFile(t *testing.T) {
	m, clk := testMonitor(t)

	done := m.Measure("load_documents", 3)
	clk.Advance(time.Second)
	done()

	path := filepath.Join(t.TempDir(), "out", "stats.json")
	require.NoError(t, m.Export(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var export StatsExport
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, 42.0, export.System.MemoryPercent)
	require.Len(t, export.Operations, 1)
	assert.Equal(t, "load_documents", export.Operations[0].Operation)
}
