package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressridge/blogidx/internal/clock"
	"github.com/pressridge/blogidx/internal/config"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

func TestFetchStampsDocumentFromClock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("External page body about Go."))
	}))
	defer srv.Close()

	now := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	f := NewWebFetcher(clock.NewFake(now), nil)

	doc, err := f.Fetch(context.Background(), srv.URL+"/posts/go-tips/", config.ChecksumSHA256)
	require.NoError(t, err)

	assert.Equal(t, now.Unix(), doc.LastModified)
	assert.Equal(t, srv.URL+"/posts/go-tips/", doc.Source)
	assert.Equal(t, "go-tips", doc.Meta.PostSlug)
	assert.NotEmpty(t, doc.Checksum)
	assert.True(t, doc.Meta.Published)
}

func TestFetchRetryBackoffRunsOnClock(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("finally up"))
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	f := NewWebFetcher(clk, nil)

	start := time.Now()
	var (
		doc Document
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		doc, err = f.Fetch(context.Background(), srv.URL, config.ChecksumSHA256)
	}()
	for {
		select {
		case <-done:
			require.NoError(t, err)
			assert.Equal(t, "finally up", doc.Content)
			assert.Equal(t, int32(3), calls.Load())
			// The backoff between attempts waited on the fake clock,
			// not on real time.
			assert.Less(t, time.Since(start), time.Second)
			return
		default:
			clk.Advance(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	f := NewWebFetcher(clk, nil)

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err = f.Fetch(context.Background(), srv.URL, config.ChecksumSHA256)
	}()
	for {
		select {
		case <-done:
			require.Error(t, err)
			assert.Equal(t, idxerrors.ErrCodeWebFetchFailed, idxerrors.GetCode(err))
			return
		default:
			clk.Advance(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}
