package export

import "github.com/gear6io/gharp/pkg/errors"

// Export error codes
var (
	ErrUnsupportedFormat      = errors.MustNewCode("export.unsupported_format")
	ErrUnsupportedCompression = errors.MustNewCode("export.unsupported_compression")
	ErrWriteFailed            = errors.MustNewCode("export.write_failed")
)
