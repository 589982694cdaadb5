// Package errors provides structured error handling for docdex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, corruption)
//   - 3XX: Network errors (embedding/AI backends)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Not-found errors
//   - 7XX: Conflict errors
//   - 8XX: Consistency errors (index/metadata drift)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors, including corruption.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryNotFound indicates a missing document, chunk, or job.
	CategoryNotFound Category = "NOT_FOUND"
	// CategoryConflict indicates a rejected concurrent operation.
	CategoryConflict Category = "CONFLICT"
	// CategoryConsistency indicates detected index/metadata drift.
	// Consistency errors are never auto-corrected; they require an
	// explicit repair call.
	CategoryConsistency Category = "CONSISTENCY"
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

	// IO errors (200-299)
	ErrCodeFileNotFound    = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission  = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex    = "ERR_205_CORRUPT_INDEX"
	ErrCodeCorruptMetadata = "ERR_206_CORRUPT_METADATA"
	ErrCodeMatrixMissing   = "ERR_207_EMBEDDING_MATRIX_MISSING"
	ErrCodeBackupFormat    = "ERR_208_BACKUP_FORMAT_MISMATCH"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput        = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch   = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeUnsupportedFormat   = "ERR_403_UNSUPPORTED_FORMAT"
	ErrCodeEmptyDocument       = "ERR_404_EMPTY_DOCUMENT"
	ErrCodeChunkVectorMismatch = "ERR_405_CHUNK_VECTOR_MISMATCH"
	ErrCodeChunkerConfig       = "ERR_406_CHUNKER_CONFIG"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"

	// Not-found errors (600-699)
	ErrCodeDocumentNotFound   = "ERR_601_DOCUMENT_NOT_FOUND"
	ErrCodeChunkNotFound      = "ERR_602_CHUNK_NOT_FOUND"
	ErrCodeJobNotFound        = "ERR_603_JOB_NOT_FOUND"
	ErrCodeCollectionNotFound = "ERR_604_COLLECTION_NOT_FOUND"

	// Conflict errors (700-799)
	ErrCodeReindexActive = "ERR_701_REINDEX_ACTIVE"
	ErrCodeIndexLocked   = "ERR_702_INDEX_LOCKED"

	// Consistency errors (800-899)
	ErrCodeIndexDrift     = "ERR_801_INDEX_DRIFT"
	ErrCodeOrphanedChunks = "ERR_802_ORPHANED_CHUNKS"
	ErrCodeTruncateUnsafe = "ERR_803_TRUNCATE_UNSAFE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract leading digit of the numeric portion (e.g. "1" from "ERR_101_...")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '6':
		return CategoryNotFound
	case '7':
		return CategoryConflict
	case '8':
		return CategoryConsistency
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeCorruptMetadata:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Only transient network failures are retryable; everything else needs
// a caller decision.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable:
		return true
	}
	return false
}
