// Package export writes search results as CSV, JSON records or Parquet
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store"
)

// Format is an export file format
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// SourceColumn is prepended by Combine to name each row's file
const SourceColumn = "source_file"

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatParquet:
		return f, nil
	case "":
		return FormatCSV, nil
	}
	return "", errors.New(ErrUnsupportedFormat, "unsupported export format", nil).AddContext("format", s)
}

// ContentType is the MIME type for f
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

// FileName builds "<prefix>_<YYYYMMDD_HHMMSS>.<ext>"
func FileName(prefix string, f Format, t time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, t.Format("20060102_150405"), f)
}

// Options tune the writers
type Options struct {
	// Compression is the Parquet codec name; empty means snappy
	Compression string
}

// Write renders rs to w in format f
func Write(w io.Writer, f Format, rs *store.ResultSet, opts Options) error {
	if rs == nil {
		rs = &store.ResultSet{}
	}
	var err error
	switch f {
	case FormatCSV:
		err = writeCSV(w, rs)
	case FormatJSON:
		err = writeJSON(w, rs)
	case FormatParquet:
		err = writeParquet(w, rs, opts)
	default:
		return errors.New(ErrUnsupportedFormat, "unsupported export format", nil).AddContext("format", string(f))
	}
	if err != nil {
		return errors.New(ErrWriteFailed, "failed to write export", err).AddContext("format", string(f))
	}
	return nil
}

// Part is one file's rows, labelled with the value written to SourceColumn
type Part struct {
	Source string
	Result *store.ResultSet
}

// Combine concatenates per-file results into one table in the given order.
// Columns are the union in first-seen order behind a leading source_file
// column; cells a file lacks stay nil.
func Combine(parts []Part) *store.ResultSet {
	columns := []string{SourceColumn}
	position := map[string]int{}
	for _, p := range parts {
		if p.Result == nil {
			continue
		}
		for _, c := range p.Result.Columns {
			if _, ok := position[c]; !ok {
				position[c] = len(columns)
				columns = append(columns, c)
			}
		}
	}

	out := &store.ResultSet{Columns: columns, Rows: [][]any{}}
	for _, p := range parts {
		if p.Result == nil {
			continue
		}
		for _, row := range p.Result.Rows {
			merged := make([]any, len(columns))
			merged[0] = p.Source
			for i, c := range p.Result.Columns {
				merged[position[c]] = row[i]
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

func writeCSV(w io.Writer, rs *store.ResultSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rs.Columns); err != nil {
		return err
	}
	record := make([]string, len(rs.Columns))
	for _, row := range rs.Rows {
		for i, v := range row {
			record[i] = stringify(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeJSON emits an array of objects keeping the column order
func writeJSON(w io.Writer, rs *store.ResultSet) error {
	keys := make([][]byte, len(rs.Columns))
	for i, c := range rs.Columns {
		k, err := json.Marshal(c)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	var b strings.Builder
	b.WriteByte('[')
	for r, row := range rs.Rows {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('{')
		for i, v := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			val, err := json.Marshal(jsonValue(v))
			if err != nil {
				return err
			}
			b.Write(keys[i])
			b.WriteByte(':')
			b.Write(val)
		}
		b.WriteByte('}')
	}
	b.WriteString("]\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// writeParquet stores every column as a nullable string
func writeParquet(w io.Writer, rs *store.ResultSet, opts Options) error {
	compression := opts.Compression
	if compression == "" {
		compression = string(CompressionSnappy)
	}
	codec, err := GetCompressionCodec(compression)
	if err != nil {
		return err
	}

	fields := make([]arrow.Field, len(rs.Columns))
	for i, c := range rs.Columns {
		fields[i] = arrow.Field{Name: c, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for _, row := range rs.Rows {
		for i, v := range row {
			sb := b.Field(i).(*array.StringBuilder)
			if v == nil {
				sb.AppendNull()
				continue
			}
			sb.Append(stringify(v))
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(codec))
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return err
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return string(val)
	default:
		return v
	}
}
