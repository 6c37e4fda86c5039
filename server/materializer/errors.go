package materializer

import "github.com/gear6io/gharp/pkg/errors"

// Materializer error codes
var (
	ErrSourceMissing     = errors.MustNewCode("materializer.source_missing")
	ErrUnsupportedFormat = errors.MustNewCode("materializer.unsupported_format")
	ErrCreateTable       = errors.MustNewCode("materializer.create_table")
	ErrReadColumns       = errors.MustNewCode("materializer.read_columns")
	ErrCountRows         = errors.MustNewCode("materializer.count_rows")
	ErrRecordMetadata    = errors.MustNewCode("materializer.record_metadata")
	ErrCleanup           = errors.MustNewCode("materializer.cleanup")
	ErrWatch             = errors.MustNewCode("materializer.watch")
	ErrFileExists        = errors.MustNewCode("materializer.file_exists")
)
