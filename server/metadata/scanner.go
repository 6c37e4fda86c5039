package metadata

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/config"
	"github.com/gear6io/gharp/server/store"
	"github.com/rs/zerolog"
)

// Scanner discovers tabular files in a directory and describes them without
// materializing anything
type Scanner struct {
	store       *store.Store
	extensions  map[string]bool
	reader      ReaderOptions
	largeFileMB float64
	logger      zerolog.Logger
}

// NewScanner creates a scanner using the scan and search sections of cfg
func NewScanner(s *store.Store, cfg *config.Config, logger zerolog.Logger) *Scanner {
	exts := make(map[string]bool, len(cfg.Scan.Extensions))
	for _, e := range cfg.Scan.Extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Scanner{
		store:      s,
		extensions: exts,
		reader: ReaderOptions{
			SampleSize:     cfg.Scan.SampleSize,
			NormalizeNames: cfg.Scan.NormalizeNames,
			IgnoreErrors:   true,
		},
		largeFileMB: float64(cfg.Search.LargeFileThresholdMB),
		logger:      logger.With().Str("component", "scanner").Logger(),
	}
}

// Scan describes every matching file directly inside dir, ordered by file
// name. A file that cannot be read becomes an error record; only an
// unreadable directory fails the scan.
func (s *Scanner) Scan(ctx context.Context, dir string) ([]FileMetadata, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.New(ErrDirectoryUnreadable, "invalid directory", err).AddContext("dir", dir)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errors.New(ErrDirectoryUnreadable, "failed to read directory", err).AddContext("dir", abs)
	}

	var out []FileMetadata
	for _, entry := range entries {
		if entry.IsDir() || !s.Accepts(entry.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, s.Describe(ctx, filepath.Join(abs, entry.Name())))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })

	s.logger.Info().
		Str("dir", abs).
		Int("files", len(out)).
		Msg("Directory scanned")
	return out, nil
}

// Accepts reports whether a file name passes the extension filter. Hidden
// files, such as staged uploads, are never accepted.
func (s *Scanner) Accepts(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	if _, ok := FormatForPath(name); !ok {
		return false
	}
	return s.extensions[strings.ToLower(filepath.Ext(name))]
}

// Describe reads one file's schema, row count and size
func (s *Scanner) Describe(ctx context.Context, path string) FileMetadata {
	md := FileMetadata{
		FilePath: path,
		FileName: filepath.Base(path),
		Status:   StatusHealthy,
	}

	fail := func(err error) FileMetadata {
		s.logger.Warn().Err(err).Str("file", md.FileName).Msg("Failed to describe file")
		md.Status = StatusError
		md.Error = err.Error()
		md.SizeMB = 0
		md.RowCount = 0
		md.Columns = nil
		md.ColumnTypes = nil
		return md
	}

	format, ok := FormatForPath(path)
	if !ok {
		return fail(errors.New(ErrUnsupportedFormat, "unsupported file format", nil).AddContext("path", path))
	}
	md.Format = format

	info, err := os.Stat(path)
	if err != nil {
		return fail(err)
	}
	if info.Size() == 0 {
		return fail(errors.New(ErrEmptyFile, "file is empty", nil).AddContext("path", path))
	}
	md.SizeMB = float64(info.Size()) / (1024 * 1024)
	md.LastModified = TruncateModTime(info.ModTime())

	if format == FormatParquet {
		md.Columns, md.ColumnTypes, md.RowCount, err = parquetFooter(path)
	} else {
		md.Columns, md.ColumnTypes, md.RowCount, err = s.describeCSV(ctx, path)
	}
	if err != nil {
		return fail(err)
	}

	if s.largeFileMB > 0 && md.SizeMB >= s.largeFileMB {
		md.Status = StatusLarge
	}
	return md
}

func (s *Scanner) describeCSV(ctx context.Context, path string) ([]string, []string, int64, error) {
	source := SourceSQL(path, FormatCSV, s.reader)

	rs, err := s.store.QueryAll(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return nil, nil, 0, errors.New(ErrSchemaInference, "failed to infer schema", err).AddContext("path", path)
	}

	names := make([]string, 0, rs.Len())
	types := make([]string, 0, rs.Len())
	for _, row := range rs.Rows {
		name, _ := row[0].(string)
		typ, _ := row[1].(string)
		names = append(names, name)
		types = append(types, typ)
	}

	var count int64
	if err := s.store.ScanRow(ctx, "SELECT COUNT(*) FROM "+source, nil, &count); err != nil {
		return nil, nil, 0, errors.New(ErrRowCount, "failed to count rows", err).AddContext("path", path)
	}
	return names, types, count, nil
}
