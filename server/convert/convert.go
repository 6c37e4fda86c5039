// Package convert rewrites CSV files as typed Parquet files. Column types are
// chosen from column names and applied with try_cast, so values that do not
// fit become NULL instead of failing the conversion.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/metadata"
	"github.com/gear6io/gharp/server/store"
	"github.com/gear6io/gharp/server/workers"
	"github.com/rs/zerolog"
)

// Kind is the target type family of a column
type Kind string

const (
	KindInteger   Kind = "integer"
	KindNumeric   Kind = "numeric"
	KindBoolean   Kind = "boolean"
	KindTimestamp Kind = "timestamp"
	KindText      Kind = "text"
)

var (
	numericWords = []string{"score", "age", "price", "amount", "value", "count", "num"}
	booleanNames = []string{"active", "enabled", "disabled", "valid"}
	booleanWords = []string{"active", "enabled", "is_", "has_"}
	timeNames    = []string{"date", "time", "created", "updated"}
)

// Classify picks the type family for a column from its name
func Classify(column string) Kind {
	name := strings.ToLower(column)
	switch {
	case name == "id" || strings.HasSuffix(name, "_id"):
		return KindInteger
	case containsAny(name, numericWords):
		return KindNumeric
	case oneOf(name, booleanNames) || containsAny(name, booleanWords):
		return KindBoolean
	case strings.HasSuffix(name, "_date") || strings.HasSuffix(name, "_time") || oneOf(name, timeNames):
		return KindTimestamp
	}
	return KindText
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func oneOf(s string, names []string) bool {
	for _, n := range names {
		if s == n {
			return true
		}
	}
	return false
}

// selectExpr is the projection converting one column
func selectExpr(column string, kind Kind) string {
	col := store.QuoteIdent(column)
	switch kind {
	case KindInteger:
		return fmt.Sprintf("try_cast(%s AS INTEGER) AS %s", col, col)
	case KindNumeric:
		return fmt.Sprintf("CASE WHEN try_cast(%s AS INTEGER) IS NOT NULL THEN try_cast(%s AS INTEGER) ELSE try_cast(%s AS DOUBLE) END AS %s", col, col, col, col)
	case KindBoolean:
		return fmt.Sprintf("try_cast(%s AS BOOLEAN) AS %s", col, col)
	case KindTimestamp:
		return fmt.Sprintf("try_cast(%s AS TIMESTAMP) AS %s", col, col)
	}
	return col
}

// Result describes one converted file
type Result struct {
	Source   string        `json:"source"`
	Output   string        `json:"output"`
	Columns  map[Kind]int  `json:"columns"`
	InputMB  float64       `json:"input_mb"`
	OutputMB float64       `json:"output_mb"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Converter runs conversions through the shared store
type Converter struct {
	store       *store.Store
	pool        *workers.Pool
	compression string
	logger      zerolog.Logger
}

// New creates a converter writing Parquet with the named codec
func New(s *store.Store, pool *workers.Pool, compression string, logger zerolog.Logger) (*Converter, error) {
	codec, err := duckdbCodec(compression)
	if err != nil {
		return nil, err
	}
	return &Converter{
		store:       s,
		pool:        pool,
		compression: codec,
		logger:      logger.With().Str("component", "converter").Logger(),
	}, nil
}

func duckdbCodec(name string) (string, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return "SNAPPY", nil
	case "none", "uncompressed":
		return "UNCOMPRESSED", nil
	case "gzip", "gz":
		return "GZIP", nil
	case "zstd":
		return "ZSTD", nil
	case "brotli":
		return "BROTLI", nil
	case "lz4":
		return "LZ4_RAW", nil
	}
	return "", errors.New(ErrBadCompression, "unsupported compression type", nil).AddContext("compression", name)
}

// Convert writes src as Parquet at dst, replacing any existing dst
func (c *Converter) Convert(ctx context.Context, src, dst string) (*Result, error) {
	start := time.Now()
	info, err := os.Stat(src)
	if err != nil {
		return nil, errors.New(ErrSourceUnreadable, "source file not accessible", err).AddContext("file", src)
	}

	header, err := c.store.QueryAll(ctx, fmt.Sprintf(
		"DESCRIBE SELECT * FROM read_csv_auto(%s, HEADER=TRUE, SAMPLE_SIZE=1, ALL_VARCHAR=TRUE)", store.QuoteLiteral(src)))
	if err != nil {
		return nil, errors.New(ErrSourceUnreadable, "failed to read CSV header", err).AddContext("file", src)
	}

	res := &Result{Source: src, Output: dst, Columns: map[Kind]int{}, InputMB: float64(info.Size()) / (1024 * 1024)}
	parts := make([]string, 0, len(header.Rows))
	for _, row := range header.Rows {
		name, _ := row[0].(string)
		kind := Classify(name)
		res.Columns[kind]++
		parts = append(parts, selectExpr(name, kind))
	}
	if len(parts) == 0 {
		return nil, errors.New(ErrSourceUnreadable, "CSV has no columns", nil).AddContext("file", src)
	}

	source := metadata.SourceSQL(src, metadata.FormatCSV, metadata.ReaderOptions{IgnoreErrors: true})
	copySQL := fmt.Sprintf("COPY (SELECT %s FROM %s) TO %s (FORMAT PARQUET, COMPRESSION %s)",
		strings.Join(parts, ", "), source, store.QuoteLiteral(dst), c.compression)
	if _, err := c.store.Exec(ctx, copySQL); err != nil {
		return nil, errors.New(ErrCopyFailed, "failed to write Parquet", err).AddContext("file", src)
	}

	if out, err := os.Stat(dst); err == nil {
		res.OutputMB = float64(out.Size()) / (1024 * 1024)
	}
	res.Duration = time.Since(start)

	c.logger.Info().
		Str("source", filepath.Base(src)).
		Str("output", dst).
		Int("integer", res.Columns[KindInteger]).
		Int("numeric", res.Columns[KindNumeric]).
		Int("boolean", res.Columns[KindBoolean]).
		Int("timestamp", res.Columns[KindTimestamp]).
		Int("text", res.Columns[KindText]).
		Float64("input_mb", res.InputMB).
		Float64("output_mb", res.OutputMB).
		Dur("elapsed", res.Duration).
		Msg("CSV converted")
	return res, nil
}

// ConvertDirectory converts every CSV in inDir into outDir. Existing outputs
// are skipped unless overwrite is set. Results follow file name order.
func (c *Converter) ConvertDirectory(ctx context.Context, inDir, outDir string, overwrite bool) ([]Result, error) {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return nil, errors.New(ErrSourceUnreadable, "failed to read directory", err).AddContext("dir", inDir)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.New(ErrCopyFailed, "failed to create output directory", err).AddContext("dir", outDir)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]Result, len(names))
	tasks := make([]workers.Task, len(names))
	for i, name := range names {
		i := i
		src := filepath.Join(inDir, name)
		dst := filepath.Join(outDir, strings.TrimSuffix(name, filepath.Ext(name))+".parquet")
		results[i] = Result{Source: src, Output: dst}

		tasks[i] = workers.TaskFunc{ID: "convert:" + src, Fn: func(ctx context.Context) error {
			if _, err := os.Stat(dst); err == nil && !overwrite {
				results[i].Skipped = true
				c.logger.Warn().Str("output", dst).Msg("Output exists, skipping")
				return nil
			}
			res, err := c.Convert(ctx, src, dst)
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		}}
	}

	var errs []error
	if c.pool != nil && len(tasks) > 1 {
		errs = c.pool.Run(ctx, tasks)
	} else {
		errs = make([]error, len(tasks))
		for i, t := range tasks {
			errs[i] = t.Execute(ctx)
		}
	}
	for i, err := range errs {
		if err != nil {
			results[i].Error = err.Error()
			c.logger.Error().Err(err).Str("source", results[i].Source).Msg("Conversion failed")
		}
	}
	return results, nil
}
