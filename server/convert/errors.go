package convert

import "github.com/gear6io/gharp/pkg/errors"

// Converter error codes
var (
	ErrSourceUnreadable = errors.MustNewCode("convert.source_unreadable")
	ErrCopyFailed       = errors.MustNewCode("convert.copy_failed")
	ErrBadCompression   = errors.MustNewCode("convert.bad_compression")
)
