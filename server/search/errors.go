package search

import "github.com/gear6io/gharp/pkg/errors"

// Search error codes
var (
	ErrInvalidRequest   = errors.MustNewCode("search.invalid_request")
	ErrNoFiles          = errors.MustNewCode("search.no_files")
	ErrUnknownFiles     = errors.MustNewCode("search.unknown_files")
	ErrResolveFailed    = errors.MustNewCode("search.resolve_failed")
	ErrFileNotProcessed = errors.MustNewCode("search.file_not_processed")
	ErrSourceMissing    = errors.MustNewCode("search.source_missing")
	ErrTableNotFound    = errors.MustNewCode("search.table_not_found")
	ErrColumnNotFound   = errors.MustNewCode("search.column_not_found")
	ErrQueryFailed      = errors.MustNewCode("search.query_failed")
	ErrRunNotFound      = errors.MustNewCode("search.run_not_found")
	ErrRunNotRunning    = errors.MustNewCode("search.run_not_running")
)

// Per-file outcome messages
const (
	MsgFileNotProcessed = "file not processed"
	MsgSourceMissing    = "source file missing"
	MsgTableNotFound    = "table not found"
	MsgColumnNotFound   = "column not found"
)
