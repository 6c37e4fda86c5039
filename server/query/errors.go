package query

import "github.com/gear6io/gharp/pkg/errors"

// Query builder error codes
var (
	ErrInvalidMode    = errors.MustNewCode("query.invalid_mode")
	ErrEmptyTerm      = errors.MustNewCode("query.empty_term")
	ErrInvalidPattern = errors.MustNewCode("query.invalid_pattern")
	ErrMissingTable   = errors.MustNewCode("query.missing_table")
	ErrMissingColumn  = errors.MustNewCode("query.missing_column")
	ErrInvalidLimit   = errors.MustNewCode("query.invalid_limit")
)
