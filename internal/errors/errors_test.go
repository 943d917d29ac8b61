package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesFromCode(t *testing.T) {
	tests := []struct {
		code      string
		kind      Kind
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, KindConfig, SeverityError, false},
		{ErrCodeDataDirMissing, KindLoad, SeverityError, false},
		{ErrCodeLedgerCorrupt, KindLedger, SeverityFatal, false},
		{ErrCodeEmbedUnavailable, KindEmbedding, SeverityWarning, true},
		{ErrCodeStoreUnavailable, KindStore, SeverityWarning, true},
		{ErrCodeTriggerInvalid, KindSchedule, SeverityError, false},
		{ErrCodeHealthCheck, KindHealth, SeverityError, false},
		{ErrCodeInternal, KindInternal, SeverityError, false},
		{ErrCodeWebFetchFailed, KindLoad, SeverityWarning, true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestErrorFormatIncludesCode(t *testing.T) {
	err := New(ErrCodeLedgerWrite, "disk full", nil)
	assert.Equal(t, "[ERR_302_LEDGER_WRITE] disk full", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := Wrap(ErrCodeStoreAdd, cause)

	require.NotNil(t, err)
	assert.Equal(t, "underlying", err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeStoreAdd, nil))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(ErrCodeJobNotFound, "job a", nil)
	b := New(ErrCodeJobNotFound, "job b", nil)
	c := New(ErrCodeJobDuplicate, "job c", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeFileUnreadable, "cannot read", nil).
		WithDetail("path", "/posts/a.md")
	assert.Equal(t, "/posts/a.md", err.Details["path"])
}

func TestHelpersOnPlainErrors(t *testing.T) {
	plain := fmt.Errorf("plain")
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.Empty(t, GetCode(plain))
	assert.Equal(t, KindInternal, GetKind(plain))
	assert.Equal(t, Kind(""), GetKind(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeStoreCorrupt, "bad store", nil)))
	assert.False(t, IsFatal(New(ErrCodeStoreAdd, "add failed", nil)))
}
