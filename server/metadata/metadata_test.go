package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/config"
	"github.com/gear6io/gharp/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewMemoryStore(context.Background(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	dir := t.TempDir()

	writeFile(t, dir, "b.csv", "id,name\n1,Bob\n2,Carol\n")
	writeFile(t, dir, "a.csv", "id,name\n1,Alice\n2,Dan\n3,Eve\n")
	writeFile(t, dir, "empty.csv", "")
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))
	writeFile(t, filepath.Join(dir, "nested"), "deep.csv", "x\n1\n")

	parquetPath := filepath.Join(dir, "c.parquet")
	_, err := s.Exec(ctx, `COPY (SELECT range::INTEGER AS id, 'row ' || range AS label FROM range(5)) TO `+
		store.QuoteLiteral(parquetPath)+` (FORMAT PARQUET)`)
	require.NoError(t, err)

	scanner := NewScanner(s, config.LoadDefaultConfig(), zerolog.Nop())
	list, err := scanner.Scan(ctx, dir)
	require.NoError(t, err)

	names := make([]string, len(list))
	for i, md := range list {
		names[i] = md.FileName
	}
	assert.Equal(t, []string{"a.csv", "b.csv", "c.parquet", "empty.csv"}, names)

	a := list[0]
	assert.Equal(t, StatusHealthy, a.Status)
	assert.Equal(t, FormatCSV, a.Format)
	assert.Equal(t, []string{"id", "name"}, a.Columns)
	assert.Equal(t, []string{"BIGINT", "VARCHAR"}, a.ColumnTypes)
	assert.Equal(t, int64(3), a.RowCount)
	assert.Greater(t, a.SizeMB, 0.0)
	assert.True(t, filepath.IsAbs(a.FilePath))
	assert.Empty(t, a.TableName)

	c := list[2]
	assert.Equal(t, FormatParquet, c.Format)
	assert.Equal(t, []string{"id", "label"}, c.Columns)
	assert.Equal(t, []string{"INTEGER", "VARCHAR"}, c.ColumnTypes)
	assert.Equal(t, int64(5), c.RowCount)

	bad := list[3]
	assert.Equal(t, StatusError, bad.Status)
	assert.NotEmpty(t, bad.Error)
	assert.Zero(t, bad.RowCount)
	assert.Zero(t, bad.SizeMB)

	overview := Summarize(list)
	assert.Equal(t, 4, overview.TotalFiles)
	assert.Equal(t, int64(10), overview.TotalRows)
	assert.Equal(t, 1, overview.ErrorFiles)
	assert.Equal(t, 3, overview.UniqueColumns)
}

func TestScanExtensionFilterAndLargeFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "id\n1\n")

	cfg := config.LoadDefaultConfig()
	cfg.Scan.Extensions = []string{".parquet"}
	list, err := NewScanner(s, cfg, zerolog.Nop()).Scan(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, list)

	cfg = config.LoadDefaultConfig()
	scanner := NewScanner(s, cfg, zerolog.Nop())
	scanner.largeFileMB = 0.000001
	list, err = scanner.Scan(ctx, dir)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusLarge, list[0].Status)
}

func TestScanMissingDirectory(t *testing.T) {
	s := newTestStore(t)
	_, err := NewScanner(s, config.LoadDefaultConfig(), zerolog.Nop()).Scan(context.Background(), filepath.Join(t.TempDir(), "gone"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrDirectoryUnreadable))
}

func TestBuildColumnIndex(t *testing.T) {
	list := []FileMetadata{
		{FilePath: "/d/b.csv", Columns: []string{"id", "Name"}},
		{FilePath: "/d/a.csv", Columns: []string{"id", "name"}},
		{FilePath: "/d/c.csv", Columns: []string{"id", "email"}},
		{FilePath: "/d/broken.csv", Columns: []string{"id"}, Status: StatusError},
	}

	first := BuildColumnIndex(list)
	second := BuildColumnIndex(list)
	assert.Equal(t, first, second)

	assert.Equal(t, []string{"/d/a.csv", "/d/b.csv", "/d/c.csv"}, first["id"])
	assert.Equal(t, []string{"/d/a.csv"}, first["name"])
	assert.Equal(t, []string{"/d/b.csv"}, first["Name"])
	assert.Equal(t, []string{"Name", "email", "id", "name"}, first.Columns())

	reversed := []FileMetadata{list[3], list[2], list[1], list[0]}
	assert.Equal(t, first, BuildColumnIndex(reversed))

	assert.Empty(t, BuildColumnIndex(nil))
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	catalog := NewCatalog(s, zerolog.Nop())

	missing, err := catalog.Get(ctx, "/data/a.csv")
	require.NoError(t, err)
	assert.Nil(t, missing)

	mtime := TruncateModTime(time.Now().Add(-time.Hour))
	md := &FileMetadata{
		FilePath:     "/data/a.csv",
		FileName:     "a.csv",
		Format:       FormatCSV,
		SizeMB:       1.5,
		RowCount:     3,
		Columns:      []string{"id", "name"},
		ColumnTypes:  []string{"BIGINT", "VARCHAR"},
		LastModified: mtime,
		TableName:    "csv_a_12345678",
	}
	require.NoError(t, catalog.Upsert(ctx, md))

	got, err := catalog.Get(ctx, "/data/a.csv")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, md.Columns, got.Columns)
	assert.Equal(t, md.ColumnTypes, got.ColumnTypes)
	assert.Equal(t, []string{}, got.IndexedColumns)
	assert.True(t, mtime.Equal(got.LastModified), "mtime round-trips exactly")
	created := got.CreatedAt

	md2 := *md
	md2.CreatedAt = time.Time{}
	md2.RowCount = 4
	md2.IndexedColumns = []string{"name"}
	require.NoError(t, catalog.Upsert(ctx, &md2))

	got, err = catalog.Get(ctx, "/data/a.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.RowCount)
	assert.Equal(t, []string{"name"}, got.IndexedColumns)
	assert.True(t, created.Equal(got.CreatedAt), "created_at survives re-upsert")

	require.NoError(t, catalog.Upsert(ctx, &FileMetadata{FilePath: "/data/b.csv", FileName: "b.csv", Format: FormatCSV, TableName: "csv_b_1"}))
	list, err := catalog.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a.csv", list[0].FileName)

	resolved, err := catalog.Resolve(ctx, []string{"/data/b.csv", "/data/zzz.csv"})
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
	assert.Contains(t, resolved, "/data/b.csv")

	require.NoError(t, catalog.Delete(ctx, "/data/a.csv"))
	list, err = catalog.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIndexInvalidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	catalog := NewCatalog(s, zerolog.Nop())
	idx := NewIndex(catalog, time.Minute, zerolog.Nop())
	defer idx.Close()

	ci, err := idx.Columns(ctx)
	require.NoError(t, err)
	assert.Empty(t, ci)

	_, err = idx.Columns(ctx)
	require.NoError(t, err)
	hits, misses := idx.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	require.NoError(t, catalog.Upsert(ctx, &FileMetadata{
		FilePath: "/data/a.csv", FileName: "a.csv", Format: FormatCSV,
		Columns: []string{"id", "name"}, ColumnTypes: []string{"BIGINT", "VARCHAR"}, TableName: "csv_a_1",
	}))

	files, err := idx.FilesWithColumn(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.csv"}, files)

	_, misses = idx.Stats()
	assert.Equal(t, int64(2), misses)

	all, err := idx.FilesFor(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.csv"}, all)
	none, err := idx.FilesFor(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIndexSkipsSnapshotRacingAWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	catalog := NewCatalog(s, zerolog.Nop())
	idx := NewIndex(catalog, time.Minute, zerolog.Nop())
	defer idx.Close()

	// A write lands between reading the catalog and caching the result
	idx.loaded = func() {
		idx.loaded = nil
		require.NoError(t, catalog.Upsert(ctx, &FileMetadata{
			FilePath: "/data/a.csv", FileName: "a.csv", Format: FormatCSV,
			Columns: []string{"id"}, ColumnTypes: []string{"BIGINT"}, TableName: "csv_a_1",
		}))
	}

	stale, err := idx.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale.Files)

	fresh, err := idx.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, fresh.Files, 1)
	assert.Equal(t, "/data/a.csv", fresh.Files[0].FilePath)

	_, misses := idx.Stats()
	assert.Equal(t, int64(2), misses)
}

func TestSourceSQL(t *testing.T) {
	assert.Equal(t, `read_parquet('/d/o''k.parquet')`, SourceSQL("/d/o'k.parquet", FormatParquet, ReaderOptions{}))
	assert.Equal(t,
		`read_csv_auto('/d/a.csv', HEADER=TRUE, AUTO_DETECT=TRUE, SAMPLE_SIZE=100, IGNORE_ERRORS=true, NORMALIZE_NAMES=false)`,
		SourceSQL("/d/a.csv", FormatCSV, ReaderOptions{SampleSize: 100, IgnoreErrors: true}))
}
