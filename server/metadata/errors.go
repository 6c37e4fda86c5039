package metadata

import "github.com/gear6io/gharp/pkg/errors"

// Metadata error codes
var (
	ErrDirectoryUnreadable = errors.MustNewCode("metadata.directory_unreadable")
	ErrUnsupportedFormat   = errors.MustNewCode("metadata.unsupported_format")
	ErrEmptyFile           = errors.MustNewCode("metadata.empty_file")
	ErrSchemaInference     = errors.MustNewCode("metadata.schema_inference")
	ErrRowCount            = errors.MustNewCode("metadata.row_count")
	ErrParquetFooter       = errors.MustNewCode("metadata.parquet_footer")
	ErrFileNotProcessed    = errors.MustNewCode("metadata.file_not_processed")
	ErrCatalogWrite        = errors.MustNewCode("metadata.catalog_write")
	ErrCatalogRead         = errors.MustNewCode("metadata.catalog_read")
	ErrCatalogDecode       = errors.MustNewCode("metadata.catalog_decode")
)
