package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestFakeAdvance(t *testing.T) {
	clk := NewFake(start)
	assert.Equal(t, start, clk.Now())

	clk.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), clk.Now())
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	clk := NewFake(start)
	ch := clk.After(time.Hour)

	clk.Advance(30 * time.Minute)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	clk.Advance(30 * time.Minute)
	select {
	case at := <-ch:
		assert.Equal(t, start.Add(time.Hour), at)
	default:
		t.Fatal("did not fire at deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	clk := NewFake(start)
	select {
	case <-clk.After(0):
	default:
		t.Fatal("zero-duration wait did not fire")
	}
}

func TestFakeSet(t *testing.T) {
	clk := NewFake(start)
	ch := clk.After(2 * time.Hour)

	clk.Set(start.Add(3 * time.Hour))
	select {
	case <-ch:
	default:
		t.Fatal("Set past deadline did not fire waiter")
	}
	assert.Equal(t, start.Add(3*time.Hour), clk.Now())
}

func TestRealNowMonotonic(t *testing.T) {
	clk := NewReal()
	a := clk.Now()
	b := clk.Now()
	require.False(t, b.Before(a))
}
