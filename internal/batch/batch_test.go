package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestProcessAllSucceed(t *testing.T) {
	p := New(nil, nil)

	var batches atomic.Int32
	result := Process(context.Background(), p, intRange(25), Options{BatchSize: 10},
		func(ctx context.Context, items []int) error {
			batches.Add(1)
			return nil
		})

	assert.Len(t, result.Succeeded, 25)
	assert.Empty(t, result.Failed)
	assert.Equal(t, int32(3), batches.Load()) // 10 + 10 + 5
}

func TestProcessBatchFailureMarksWholeBatch(t *testing.T) {
	p := New(nil, nil)
	boom := errors.New("boom")

	result := Process(context.Background(), p, intRange(20), Options{BatchSize: 10},
		func(ctx context.Context, items []int) error {
			if items[0] == 0 {
				return boom
			}
			return nil
		})

	assert.Len(t, result.Succeeded, 10)
	require.Len(t, result.Failed, 10)
	for _, f := range result.Failed {
		assert.ErrorIs(t, f.Err, boom)
		assert.Less(t, f.Item, 10)
	}
	// No fail-fast: the second batch still ran and succeeded.
	failed := result.FailedItems()
	sort.Ints(failed)
	assert.Equal(t, intRange(10), failed)
}

func TestProcessHonorsConcurrencyCap(t *testing.T) {
	p := New(nil, nil)

	var active, peak atomic.Int32
	Process(context.Background(), p, intRange(40), Options{BatchSize: 5, MaxConcurrency: 2},
		func(ctx context.Context, items []int) error {
			cur := active.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		})

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestProcessCancelledContextFailsRemainder(t *testing.T) {
	p := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Process(ctx, p, intRange(10), Options{BatchSize: 2},
		func(ctx context.Context, items []int) error {
			t.Fatal("no batch should start on a cancelled context")
			return nil
		})

	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 10)
	assert.ErrorIs(t, result.Failed[0].Err, context.Canceled)
}

func TestProcessMidwayCancellation(t *testing.T) {
	p := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	result := Process(ctx, p, intRange(100), Options{BatchSize: 10, MaxConcurrency: 1},
		func(ctx context.Context, items []int) error {
			once.Do(cancel)
			return nil
		})

	// The first in-flight batch finished; everything after was failed
	// with the context error.
	assert.NotEmpty(t, result.Succeeded)
	assert.NotEmpty(t, result.Failed)
	assert.Equal(t, 100, len(result.Succeeded)+len(result.Failed))
}

func TestProcessEmptyInput(t *testing.T) {
	p := New(nil, nil)
	result := Process(context.Background(), p, nil, Options{BatchSize: 10},
		func(ctx context.Context, items []int) error { return nil })

	assert.Empty(t, result.Succeeded)
	assert.Empty(t, result.Failed)
}

func TestPartition(t *testing.T) {
	assert.Len(t, partition(intRange(10), 3), 4)
	assert.Len(t, partition(intRange(9), 3), 3)
	assert.Nil(t, partition([]int{}, 3))
}
