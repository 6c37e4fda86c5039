// Package metadata discovers tabular files, describes their schema and keeps
// the persistent catalog of materialized files.
package metadata

import (
	"path/filepath"
	"strings"
	"time"
)

// Format is the on-disk format of a source file
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// FormatForPath infers the format from the file extension
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, true
	case ".parquet", ".pq":
		return FormatParquet, true
	}
	return "", false
}

// Status summarizes the health of a scanned file
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusLarge   Status = "large"
	StatusError   Status = "error"
)

// FileMetadata describes one source file and, once materialized, its table
type FileMetadata struct {
	FilePath       string    `json:"file_path"`
	FileName       string    `json:"file_name"`
	Format         Format    `json:"format"`
	SizeMB         float64   `json:"size_mb"`
	RowCount       int64     `json:"row_count"`
	Columns        []string  `json:"columns"`
	ColumnTypes    []string  `json:"column_types"`
	LastModified   time.Time `json:"last_modified"`
	TableName      string    `json:"table_name,omitempty"`
	IndexedColumns []string  `json:"indexed_columns,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`

	// Populated by Scan only
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HasColumn reports whether the file has a column with exactly this name
func (m *FileMetadata) HasColumn(name string) bool {
	for _, c := range m.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Failed reports whether this is an error record
func (m *FileMetadata) Failed() bool {
	return m.Status == StatusError
}

// Overview aggregates a scan for the dashboard header
type Overview struct {
	TotalFiles    int     `json:"total_files"`
	TotalRows     int64   `json:"total_rows"`
	TotalSizeMB   float64 `json:"total_size_mb"`
	UniqueColumns int     `json:"unique_columns"`
	ErrorFiles    int     `json:"error_files"`
	LargeFiles    int     `json:"large_files"`
}

// Summarize computes an Overview. Error records count as files but
// contribute no rows, size or columns.
func Summarize(list []FileMetadata) Overview {
	var o Overview
	columns := make(map[string]struct{})
	for _, m := range list {
		o.TotalFiles++
		switch m.Status {
		case StatusError:
			o.ErrorFiles++
			continue
		case StatusLarge:
			o.LargeFiles++
		}
		o.TotalRows += m.RowCount
		o.TotalSizeMB += m.SizeMB
		for _, c := range m.Columns {
			columns[c] = struct{}{}
		}
	}
	o.UniqueColumns = len(columns)
	return o
}

// TruncateModTime normalizes a file mtime to the store's timestamp
// resolution so stored and on-disk values compare exactly
func TruncateModTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
