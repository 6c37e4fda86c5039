package metadata

import (
	"fmt"

	"github.com/gear6io/gharp/server/store"
)

// ReaderOptions control how DuckDB parses delimited files
type ReaderOptions struct {
	SampleSize     int
	NormalizeNames bool
	IgnoreErrors   bool
}

// SourceSQL returns the table function that reads path in DuckDB. Scanning
// and materialization share it so both see the same columns and rows.
func SourceSQL(path string, format Format, opts ReaderOptions) string {
	lit := store.QuoteLiteral(path)
	if format == FormatParquet {
		return "read_parquet(" + lit + ")"
	}

	sample := opts.SampleSize
	if sample == 0 {
		sample = 20480
	}
	return fmt.Sprintf("read_csv_auto(%s, HEADER=TRUE, AUTO_DETECT=TRUE, SAMPLE_SIZE=%d, IGNORE_ERRORS=%t, NORMALIZE_NAMES=%t)",
		lit, sample, opts.IgnoreErrors, opts.NormalizeNames)
}
