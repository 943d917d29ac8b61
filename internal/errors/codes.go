// Package errors provides structured error handling for blogidx.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Document load errors
//   - 3XX: Ledger errors
//   - 4XX: Embedding provider errors
//   - 5XX: Vector store errors
//   - 6XX: Scheduler errors
//   - 7XX: Internal and health-check errors
package errors

// Kind classifies errors into the categories the HTTP layer and run
// reports expose. The string values are part of the external contract.
type Kind string

const (
	// KindConfig indicates configuration rejected before any I/O.
	KindConfig Kind = "config_error"
	// KindLoad indicates document discovery or read failure.
	KindLoad Kind = "load_error"
	// KindLedger indicates a ledger read, write, or schema problem.
	KindLedger Kind = "ledger_error"
	// KindEmbedding indicates an embedding provider failure.
	KindEmbedding Kind = "embedding_error"
	// KindStore indicates a vector-store failure.
	KindStore Kind = "store_error"
	// KindSchedule indicates a job trigger or persistence failure.
	KindSchedule Kind = "schedule_error"
	// KindHealth indicates a health-check internal failure.
	KindHealth Kind = "health_error"
	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = "internal_error"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigUnknown  = "ERR_103_CONFIG_UNKNOWN_KEY"

	// Load errors (200-299)
	ErrCodeDataDirMissing  = "ERR_201_DATA_DIR_MISSING"
	ErrCodeFileUnreadable  = "ERR_202_FILE_UNREADABLE"
	ErrCodeFrontmatterBad  = "ERR_203_FRONTMATTER_INVALID"
	ErrCodeWebFetchFailed  = "ERR_204_WEB_FETCH_FAILED"
	ErrCodeDuplicateSource = "ERR_205_DUPLICATE_SOURCE"

	// Ledger errors (300-399)
	ErrCodeLedgerCorrupt   = "ERR_301_LEDGER_CORRUPT"
	ErrCodeLedgerWrite     = "ERR_302_LEDGER_WRITE"
	ErrCodeLedgerBackup    = "ERR_303_LEDGER_BACKUP"
	ErrCodeLedgerRestore   = "ERR_304_LEDGER_RESTORE"
	ErrCodeLedgerLocked    = "ERR_305_LEDGER_LOCKED"
	ErrCodeChecksumAlgo    = "ERR_306_CHECKSUM_ALGORITHM"
	ErrCodeLedgerSchemaBad = "ERR_307_LEDGER_SCHEMA"

	// Embedding errors (400-499)
	ErrCodeEmbedUnavailable  = "ERR_401_EMBEDDER_UNAVAILABLE"
	ErrCodeEmbedTimeout      = "ERR_402_EMBED_TIMEOUT"
	ErrCodeEmbedFailed       = "ERR_403_EMBED_FAILED"
	ErrCodeDimensionMismatch = "ERR_404_DIMENSION_MISMATCH"

	// Store errors (500-599)
	ErrCodeStoreUnavailable = "ERR_501_STORE_UNAVAILABLE"
	ErrCodeStoreAdd         = "ERR_502_STORE_ADD"
	ErrCodeStoreRemove      = "ERR_503_STORE_REMOVE"
	ErrCodeStoreCorrupt     = "ERR_504_STORE_CORRUPT"

	// Schedule errors (600-699)
	ErrCodeJobDuplicate   = "ERR_601_JOB_DUPLICATE"
	ErrCodeJobNotFound    = "ERR_602_JOB_NOT_FOUND"
	ErrCodeTriggerInvalid = "ERR_603_TRIGGER_INVALID"
	ErrCodeJobPersist     = "ERR_604_JOB_PERSIST"

	// Internal / health errors (700-799)
	ErrCodeInternal    = "ERR_701_INTERNAL"
	ErrCodeHealthCheck = "ERR_702_HEALTH_CHECK"
	ErrCodeRunOverlap  = "ERR_703_RUN_OVERLAP"
	ErrCodeRunDeadline = "ERR_704_RUN_DEADLINE"
)

// kindFromCode extracts the error kind from the numeric portion of a code.
func kindFromCode(code string) Kind {
	if len(code) < 7 {
		return KindInternal
	}
	switch code[4] {
	case '1':
		return KindConfig
	case '2':
		return KindLoad
	case '3':
		return KindLedger
	case '4':
		return KindEmbedding
	case '5':
		return KindStore
	case '6':
		return KindSchedule
	case '7':
		if code == ErrCodeHealthCheck {
			return KindHealth
		}
		return KindInternal
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeLedgerCorrupt, ErrCodeStoreCorrupt:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Embedding and store availability problems are transient by nature.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedUnavailable, ErrCodeEmbedTimeout, ErrCodeStoreUnavailable, ErrCodeWebFetchFailed:
		return true
	}
	return false
}
