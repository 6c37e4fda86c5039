package metadata

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/gear6io/gharp/pkg/errors"
)

// parquetFooter reads column names, types and the row count from the file
// footer without touching any row group
func parquetFooter(path string) ([]string, []string, int64, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, nil, 0, errors.New(ErrParquetFooter, "failed to open parquet file", err).AddContext("path", path)
	}
	defer rdr.Close()

	md := rdr.MetaData()
	schema, err := pqarrow.FromParquet(md.Schema, nil, md.KeyValueMetadata())
	if err != nil {
		return nil, nil, 0, errors.New(ErrParquetFooter, "failed to convert parquet schema", err).AddContext("path", path)
	}

	names := make([]string, 0, schema.NumFields())
	types := make([]string, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		names = append(names, f.Name)
		types = append(types, sqlTypeName(f.Type))
	}
	return names, types, rdr.NumRows(), nil
}

// sqlTypeName maps an Arrow type to the name DuckDB reports for the same
// column, so CSV and Parquet metadata read alike
func sqlTypeName(dt arrow.DataType) string {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return "BOOLEAN"
	case *arrow.Int8Type:
		return "TINYINT"
	case *arrow.Int16Type:
		return "SMALLINT"
	case *arrow.Int32Type:
		return "INTEGER"
	case *arrow.Int64Type:
		return "BIGINT"
	case *arrow.Uint8Type:
		return "UTINYINT"
	case *arrow.Uint16Type:
		return "USMALLINT"
	case *arrow.Uint32Type:
		return "UINTEGER"
	case *arrow.Uint64Type:
		return "UBIGINT"
	case *arrow.Float16Type, *arrow.Float32Type:
		return "FLOAT"
	case *arrow.Float64Type:
		return "DOUBLE"
	case *arrow.StringType, *arrow.LargeStringType:
		return "VARCHAR"
	case *arrow.BinaryType, *arrow.LargeBinaryType, *arrow.FixedSizeBinaryType:
		return "BLOB"
	case *arrow.Date32Type, *arrow.Date64Type:
		return "DATE"
	case *arrow.Time32Type, *arrow.Time64Type:
		return "TIME"
	case *arrow.TimestampType:
		if t.TimeZone != "" {
			return "TIMESTAMP WITH TIME ZONE"
		}
		return "TIMESTAMP"
	case *arrow.Decimal128Type:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case *arrow.ListType:
		return sqlTypeName(t.Elem()) + "[]"
	default:
		return strings.ToUpper(dt.String())
	}
}
