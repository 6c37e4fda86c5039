package materializer

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/gear6io/gharp/server/metadata"
)

// TableName derives the table for a source file: a format prefix, the base
// name with every non-alphanumeric byte replaced by '_', and the first eight
// hex digits of the MD5 of the full path. Equal paths always give equal
// names.
func TableName(path string) string {
	prefix := "csv"
	if format, ok := metadata.FormatForPath(path); ok && format == metadata.FormatParquet {
		prefix = "parquet"
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	clean := make([]byte, len(base))
	for i := 0; i < len(base); i++ {
		c := base[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			clean[i] = c
		} else {
			clean[i] = '_'
		}
	}

	sum := md5.Sum([]byte(path))
	return prefix + "_" + string(clean) + "_" + hex.EncodeToString(sum[:])[:8]
}

// IndexName names the secondary index on one column of a materialized table
func IndexName(table, column string) string {
	return "idx_" + table + "_" + column
}

// isTextType reports whether a DuckDB column type holds free text
func isTextType(typ string) bool {
	t := strings.ToUpper(typ)
	return strings.Contains(t, "VARCHAR") || strings.Contains(t, "TEXT") || strings.Contains(t, "STRING")
}
