package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/store"
	"github.com/rs/zerolog"
)

const metadataColumns = `file_path, file_name, file_format, file_size_mb, row_count, column_names,
	column_types, indexed_columns, table_name, last_modified, created_at, updated_at`

// Catalog persists FileMetadata for materialized files in the shared store
type Catalog struct {
	store  *store.Store
	logger zerolog.Logger

	mu       sync.RWMutex
	onChange []func()
}

func NewCatalog(s *store.Store, logger zerolog.Logger) *Catalog {
	return &Catalog{
		store:  s,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// OnChange registers a callback fired after every successful write
func (c *Catalog) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *Catalog) changed() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, fn := range c.onChange {
		fn()
	}
}

// Upsert records md, replacing any previous record for the same path. The
// original creation time is kept.
func (c *Catalog) Upsert(ctx context.Context, md *FileMetadata) error {
	cols, err := json.Marshal(nonNil(md.Columns))
	if err != nil {
		return errors.New(ErrCatalogWrite, "failed to encode columns", err)
	}
	types, err := json.Marshal(nonNil(md.ColumnTypes))
	if err != nil {
		return errors.New(ErrCatalogWrite, "failed to encode column types", err)
	}
	indexed, err := json.Marshal(nonNil(md.IndexedColumns))
	if err != nil {
		return errors.New(ErrCatalogWrite, "failed to encode indexed columns", err)
	}

	now := time.Now().UTC()
	if md.CreatedAt.IsZero() {
		md.CreatedAt = now
	}
	md.UpdatedAt = now

	err = c.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file_metadata (`+metadataColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (file_path) DO UPDATE SET
				file_name = excluded.file_name,
				file_format = excluded.file_format,
				file_size_mb = excluded.file_size_mb,
				row_count = excluded.row_count,
				column_names = excluded.column_names,
				column_types = excluded.column_types,
				indexed_columns = excluded.indexed_columns,
				table_name = excluded.table_name,
				last_modified = excluded.last_modified,
				updated_at = excluded.updated_at`,
			md.FilePath, md.FileName, string(md.Format), md.SizeMB, md.RowCount,
			string(cols), string(types), string(indexed), md.TableName,
			md.LastModified.UTC(), md.CreatedAt.UTC(), md.UpdatedAt)
		return err
	})
	if err != nil {
		return errors.New(ErrCatalogWrite, "failed to record file metadata", err).AddContext("file", md.FilePath)
	}

	c.changed()
	return nil
}

// Get returns the record for path, or nil when the file was never processed
func (c *Catalog) Get(ctx context.Context, path string) (*FileMetadata, error) {
	rows, err := c.store.Query(ctx, `SELECT `+metadataColumns+` FROM file_metadata WHERE file_path = ?`, path)
	if err != nil {
		return nil, errors.New(ErrCatalogRead, "failed to read file metadata", err).AddContext("file", path)
	}
	defer rows.Close()

	list, err := scanMetadata(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// List returns every record ordered by file name
func (c *Catalog) List(ctx context.Context) ([]FileMetadata, error) {
	rows, err := c.store.Query(ctx, `SELECT `+metadataColumns+` FROM file_metadata ORDER BY file_name, file_path`)
	if err != nil {
		return nil, errors.New(ErrCatalogRead, "failed to list file metadata", err)
	}
	defer rows.Close()
	return scanMetadata(rows)
}

// Resolve looks up several paths at once. Unknown paths are absent from the
// returned map.
func (c *Catalog) Resolve(ctx context.Context, paths []string) (map[string]*FileMetadata, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	out := make(map[string]*FileMetadata, len(paths))
	for i := range all {
		if want[all[i].FilePath] {
			out[all[i].FilePath] = &all[i]
		}
	}
	return out, nil
}

// Delete removes the record for path
func (c *Catalog) Delete(ctx context.Context, path string) error {
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM file_metadata WHERE file_path = ?`, path)
		return err
	})
	if err != nil {
		return errors.New(ErrCatalogWrite, "failed to delete file metadata", err).AddContext("file", path)
	}
	c.changed()
	return nil
}

func scanMetadata(rows *sql.Rows) ([]FileMetadata, error) {
	var out []FileMetadata
	for rows.Next() {
		var (
			md                   FileMetadata
			format               string
			cols, types, indexed string
		)
		if err := rows.Scan(&md.FilePath, &md.FileName, &format, &md.SizeMB, &md.RowCount,
			&cols, &types, &indexed, &md.TableName,
			&md.LastModified, &md.CreatedAt, &md.UpdatedAt); err != nil {
			return nil, errors.New(ErrCatalogRead, "failed to scan file metadata", err)
		}
		md.Format = Format(format)
		if err := decodeList(cols, &md.Columns); err != nil {
			return nil, err
		}
		if err := decodeList(types, &md.ColumnTypes); err != nil {
			return nil, err
		}
		if err := decodeList(indexed, &md.IndexedColumns); err != nil {
			return nil, err
		}
		md.LastModified = md.LastModified.UTC()
		md.Status = StatusHealthy
		out = append(out, md)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(ErrCatalogRead, "file metadata iteration failed", err)
	}
	return out, nil
}

func decodeList(raw string, dst *[]string) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return errors.New(ErrCatalogDecode, "corrupt list column in file_metadata", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
