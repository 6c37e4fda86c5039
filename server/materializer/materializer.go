// Package materializer loads source files into tables of the shared store
// and keeps the metadata catalog in step with the filesystem.
package materializer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/config"
	"github.com/gear6io/gharp/server/metadata"
	"github.com/gear6io/gharp/server/store"
	"github.com/gear6io/gharp/server/workers"
	"github.com/rs/zerolog"
)

// ComponentType is the materializer's component name
const ComponentType = "materializer"

// Materializer turns files into queryable tables
type Materializer struct {
	store   *store.Store
	catalog *metadata.Catalog
	scanner *metadata.Scanner
	pool    *workers.Pool
	reader  metadata.ReaderOptions
	dataDir string
	logger  zerolog.Logger
}

// Outcome reports what happened to one file in a batch
type Outcome struct {
	FilePath string                 `json:"file_path"`
	Skipped  bool                   `json:"skipped"`
	Metadata *metadata.FileMetadata `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// New creates a materializer. pool may be nil, in which case batches run
// sequentially.
func New(s *store.Store, catalog *metadata.Catalog, scanner *metadata.Scanner, pool *workers.Pool, cfg *config.Config, logger zerolog.Logger) *Materializer {
	return &Materializer{
		store:   s,
		catalog: catalog,
		scanner: scanner,
		pool:    pool,
		reader: metadata.ReaderOptions{
			SampleSize:     cfg.Scan.SampleSize,
			NormalizeNames: cfg.Scan.NormalizeNames,
			IgnoreErrors:   true,
		},
		dataDir: cfg.Scan.DataDir,
		logger:  logger.With().Str("component", ComponentType).Logger(),
	}
}

// Materialize (re)creates the table for path, indexes its text columns and
// records its metadata. Running it twice on an unchanged file produces the
// same table and the same metadata apart from updated_at.
func (m *Materializer) Materialize(ctx context.Context, path string) (*metadata.FileMetadata, error) {
	start := time.Now()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.New(ErrSourceMissing, "invalid file path", err).AddContext("file", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.New(ErrSourceMissing, "source file not accessible", err).AddContext("file", abs)
	}
	format, ok := metadata.FormatForPath(abs)
	if !ok {
		return nil, errors.New(ErrUnsupportedFormat, "unsupported file format", nil).AddContext("file", abs)
	}

	table := TableName(abs)
	source := metadata.SourceSQL(abs, format, m.reader)
	// The old table goes first so its indexes never block the replacement
	err = m.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+store.QuoteIdent(table)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", store.QuoteIdent(table), source))
		return err
	})
	if err != nil {
		return nil, errors.New(ErrCreateTable, "failed to create table", err).AddContext("file", abs).AddContext("table", table)
	}

	columns, err := m.store.TableColumns(ctx, table)
	if err != nil {
		return nil, errors.New(ErrReadColumns, "failed to read table columns", err).AddContext("table", table)
	}

	var rowCount int64
	if err := m.store.ScanRow(ctx, "SELECT COUNT(*) FROM "+store.QuoteIdent(table), nil, &rowCount); err != nil {
		return nil, errors.New(ErrCountRows, "failed to count rows", err).AddContext("table", table)
	}

	md := &metadata.FileMetadata{
		FilePath:       abs,
		FileName:       filepath.Base(abs),
		Format:         format,
		SizeMB:         float64(info.Size()) / (1024 * 1024),
		RowCount:       rowCount,
		LastModified:   metadata.TruncateModTime(info.ModTime()),
		TableName:      table,
		IndexedColumns: []string{},
		Status:         metadata.StatusHealthy,
	}
	for _, c := range columns {
		md.Columns = append(md.Columns, c.Name)
		md.ColumnTypes = append(md.ColumnTypes, c.Type)
	}

	md.IndexedColumns = m.indexTextColumns(ctx, table, columns)

	if err := m.catalog.Upsert(ctx, md); err != nil {
		return nil, errors.New(ErrRecordMetadata, "failed to record metadata", err).AddContext("file", abs)
	}

	m.logger.Info().
		Str("file", md.FileName).
		Str("table", table).
		Int64("rows", rowCount).
		Int("columns", len(columns)).
		Int("indexed", len(md.IndexedColumns)).
		Dur("elapsed", time.Since(start)).
		Msg("File materialized")

	return md, nil
}

// indexTextColumns creates an index per textual column. A column that cannot
// be indexed is logged and left out; the table stays searchable without it.
func (m *Materializer) indexTextColumns(ctx context.Context, table string, columns []store.Column) []string {
	indexed := []string{}
	for _, c := range columns {
		if !isTextType(c.Type) {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			store.QuoteIdent(IndexName(table, c.Name)), store.QuoteIdent(table), store.QuoteIdent(c.Name))
		if _, err := m.store.Exec(ctx, stmt); err != nil {
			m.logger.Warn().Err(err).Str("table", table).Str("column", c.Name).Msg("Skipping column index")
			continue
		}
		indexed = append(indexed, c.Name)
	}
	return indexed
}

// IsCurrent reports whether path has a metadata record, its table exists,
// and the recorded modification time is not older than the file's.
func (m *Materializer) IsCurrent(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(abs)
	if err != nil {
		return false, nil
	}

	md, err := m.catalog.Get(ctx, abs)
	if err != nil {
		return false, err
	}
	if md == nil {
		return false, nil
	}

	exists, err := m.store.TableExists(ctx, md.TableName)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	return !md.LastModified.Before(metadata.TruncateModTime(info.ModTime())), nil
}

// CleanupOrphans drops the table and metadata of every recorded file that no
// longer exists on disk. Failures on one record are logged and the sweep
// moves on.
func (m *Materializer) CleanupOrphans(ctx context.Context) (int, error) {
	list, err := m.catalog.List(ctx)
	if err != nil {
		return 0, errors.New(ErrCleanup, "failed to list file metadata", err)
	}

	removed := 0
	for _, md := range list {
		if _, err := os.Stat(md.FilePath); !os.IsNotExist(err) {
			continue
		}
		if err := m.drop(ctx, md.FilePath, md.TableName); err != nil {
			m.logger.Warn().Err(err).Str("file", md.FilePath).Msg("Failed to remove orphaned table")
			continue
		}
		removed++
		m.logger.Info().Str("table", md.TableName).Msg("Removed orphaned table")
	}

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("Orphan cleanup finished")
	}
	return removed, nil
}

// Remove forgets a file: its table and metadata are dropped and, when
// deleteSource is set, the file itself is deleted.
func (m *Materializer) Remove(ctx context.Context, path string, deleteSource bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.New(ErrSourceMissing, "invalid file path", err).AddContext("file", path)
	}

	table := TableName(abs)
	if md, err := m.catalog.Get(ctx, abs); err == nil && md != nil {
		table = md.TableName
	}
	if err := m.drop(ctx, abs, table); err != nil {
		return err
	}

	if deleteSource {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return errors.New(ErrCleanup, "failed to delete source file", err).AddContext("file", abs)
		}
	}
	m.logger.Info().Str("file", abs).Bool("source_deleted", deleteSource).Msg("File removed")
	return nil
}

func (m *Materializer) drop(ctx context.Context, path, table string) error {
	if err := m.store.DropTable(ctx, table); err != nil {
		return errors.New(ErrCleanup, "failed to drop table", err).AddContext("table", table)
	}
	if err := m.catalog.Delete(ctx, path); err != nil {
		return errors.New(ErrCleanup, "failed to delete metadata", err).AddContext("file", path)
	}
	return nil
}

// ProcessFiles materializes every path that is not already current. Files
// run on the worker pool; one failure never stops the others. Outcomes keep
// the input order.
func (m *Materializer) ProcessFiles(ctx context.Context, paths []string, force bool) []Outcome {
	outcomes := make([]Outcome, len(paths))
	tasks := make([]workers.Task, len(paths))

	for i, p := range paths {
		i, p := i, p
		outcomes[i].FilePath = p
		tasks[i] = workers.TaskFunc{ID: "materialize:" + p, Fn: func(ctx context.Context) error {
			start := time.Now()
			defer func() { outcomes[i].Duration = time.Since(start) }()

			if !force {
				current, err := m.IsCurrent(ctx, p)
				if err != nil {
					return err
				}
				if current {
					outcomes[i].Skipped = true
					return nil
				}
			}
			md, err := m.Materialize(ctx, p)
			if err != nil {
				return err
			}
			outcomes[i].Metadata = md
			outcomes[i].FilePath = md.FilePath
			return nil
		}}
	}

	var errs []error
	if m.pool != nil && len(tasks) > 1 {
		errs = m.pool.Run(ctx, tasks)
	} else {
		errs = make([]error, len(tasks))
		for i, t := range tasks {
			errs[i] = t.Execute(ctx)
		}
	}

	failed := 0
	for i, err := range errs {
		if err != nil {
			outcomes[i].Error = err.Error()
			failed++
			m.logger.Warn().Err(err).Str("file", paths[i]).Msg("Failed to materialize file")
		}
	}

	m.logger.Info().Int("files", len(paths)).Int("failed", failed).Msg("Batch processed")
	return outcomes
}

// ProcessDirectory scans dir and processes every readable file in it
func (m *Materializer) ProcessDirectory(ctx context.Context, dir string, force bool) ([]Outcome, error) {
	list, err := m.scanner.Scan(ctx, dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	var outcomes []Outcome
	for _, md := range list {
		if md.Failed() {
			outcomes = append(outcomes, Outcome{FilePath: md.FilePath, Error: md.Error})
			continue
		}
		paths = append(paths, md.FilePath)
	}
	return append(m.ProcessFiles(ctx, paths, force), outcomes...), nil
}

// Ingest stores an uploaded file in the data directory and materializes it.
// The upload is written to a hidden temporary file and parsed there first, so
// a bad upload never touches an existing file. An existing file of the same
// name is only replaced when overwrite is set.
func (m *Materializer) Ingest(ctx context.Context, name string, r io.Reader, overwrite bool) (*metadata.FileMetadata, error) {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || strings.HasPrefix(base, ".") {
		return nil, errors.New(ErrUnsupportedFormat, "invalid file name", nil).AddContext("name", name)
	}
	if !m.scanner.Accepts(base) {
		return nil, errors.New(ErrUnsupportedFormat, "unsupported file format", nil).AddContext("name", name)
	}

	if err := os.MkdirAll(m.dataDir, 0755); err != nil {
		return nil, errors.New(ErrCreateTable, "failed to create data directory", err)
	}
	dest := filepath.Join(m.dataDir, base)
	if err := m.checkVacant(dest, overwrite); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(m.dataDir, ".upload-*"+filepath.Ext(base))
	if err != nil {
		return nil, errors.New(ErrCreateTable, "failed to create file", err).AddContext("file", dest)
	}
	staged := tmp.Name()
	defer os.Remove(staged)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, errors.New(ErrCreateTable, "failed to write file", err).AddContext("file", dest)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.New(ErrCreateTable, "failed to write file", err).AddContext("file", dest)
	}

	if described := m.scanner.Describe(ctx, staged); described.Failed() {
		return nil, errors.New(ErrUnsupportedFormat, "file could not be parsed", nil).
			AddContext("file", base).
			AddContext("reason", described.Error)
	}

	if err := m.checkVacant(dest, overwrite); err != nil {
		return nil, err
	}
	if err := os.Rename(staged, dest); err != nil {
		return nil, errors.New(ErrCreateTable, "failed to move upload into place", err).AddContext("file", dest)
	}

	m.logger.Info().Str("file", base).Bool("replaced", overwrite).Msg("Upload stored")
	return m.Materialize(ctx, dest)
}

func (m *Materializer) checkVacant(dest string, overwrite bool) error {
	if overwrite {
		return nil
	}
	if _, err := os.Stat(dest); err == nil {
		return errors.New(ErrFileExists, "file already exists", nil).AddContext("file", filepath.Base(dest))
	}
	return nil
}
