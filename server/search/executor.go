// Package search runs a term against the tables of many files, in bulk or
// chunk by chunk, and reports per-file and aggregate outcomes.
package search

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/cache"
	"github.com/gear6io/gharp/server/config"
	"github.com/gear6io/gharp/server/export"
	"github.com/gear6io/gharp/server/history"
	"github.com/gear6io/gharp/server/metadata"
	"github.com/gear6io/gharp/server/query"
	"github.com/gear6io/gharp/server/store"
	"github.com/gear6io/gharp/server/workers"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ComponentType is the executor's component name
const ComponentType = "search"

// ChunkHandler receives streamed chunks. With Parallel set it is called
// from several workers at once.
type ChunkHandler func(ctx context.Context, chunk Chunk) error

// Chunk is one batch of streamed rows from one file
type Chunk struct {
	File  string
	Index int
	Rows  *store.ResultSet
}

// Request describes one search over a set of files
type Request struct {
	User      string     `json:"user,omitempty"`
	Column    string     `json:"column"`
	Term      string     `json:"term"`
	Mode      query.Mode `json:"mode"`
	Limit     int        `json:"limit"`
	Files     []string   `json:"files"`
	Parallel  bool       `json:"parallel"`
	Streaming bool       `json:"streaming"`
	ChunkSize int        `json:"chunk_size,omitempty"`
	// SkipCache neither reads nor writes the result cache
	SkipCache bool `json:"skip_cache,omitempty"`

	OnChunk ChunkHandler `json:"-"`
}

// FileOutcome is the result of searching one file
type FileOutcome struct {
	File       string           `json:"file"`
	FileName   string           `json:"file_name"`
	TableName  string           `json:"table_name,omitempty"`
	RowCount   int64            `json:"row_count"`
	Chunks     int              `json:"chunks,omitempty"`
	Duration   time.Duration    `json:"-"`
	DurationMS float64          `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
	Result     *store.ResultSet `json:"result,omitempty"`
}

// Failed reports whether the file produced an error instead of rows
func (o *FileOutcome) Failed() bool {
	return o.Error != ""
}

// Response is either a cache hit summary or a full per-file outcome
type Response struct {
	RunID            string        `json:"run_id"`
	Fingerprint      string        `json:"fingerprint"`
	Cached           bool          `json:"cached"`
	CacheEntry       *cache.Entry  `json:"cache_entry,omitempty"`
	PerFile          []FileOutcome `json:"per_file,omitempty"`
	TotalResults     int64         `json:"total_results"`
	FilesWithMatches int           `json:"files_with_matches"`
	FilesWithErrors  int           `json:"files_with_errors"`
	TotalFiles       int           `json:"total_files"`
	TotalDuration    time.Duration `json:"-"`
	TotalDurationMS  float64       `json:"total_duration_ms"`
}

// ExportParts returns the files that produced rows, in request order. Each
// part is labelled with its file name, or with the full path when another
// file in the response shares that name.
func (r *Response) ExportParts() []export.Part {
	names := make(map[string]int, len(r.PerFile))
	for _, o := range r.PerFile {
		if o.Result != nil {
			names[o.FileName]++
		}
	}
	parts := make([]export.Part, 0, len(r.PerFile))
	for _, o := range r.PerFile {
		if o.Result == nil {
			continue
		}
		label := o.FileName
		if names[label] > 1 {
			label = o.File
		}
		parts = append(parts, export.Part{Source: label, Result: o.Result})
	}
	return parts
}

// Executor runs searches. cache, history and pool are optional.
type Executor struct {
	store   *store.Store
	catalog *metadata.Catalog
	cache   *cache.ResultCache
	history *history.Store
	pool    *workers.Pool
	runs    *Runs
	cfg     config.SearchConfig
	logger  zerolog.Logger
}

// NewExecutor creates an executor
func NewExecutor(s *store.Store, catalog *metadata.Catalog, c *cache.ResultCache, h *history.Store, pool *workers.Pool, cfg config.SearchConfig, logger zerolog.Logger) *Executor {
	return &Executor{
		store:   s,
		catalog: catalog,
		cache:   c,
		history: h,
		pool:    pool,
		runs:    NewRuns(logger),
		cfg:     cfg,
		logger:  logger.With().Str("component", ComponentType).Logger(),
	}
}

// Runs returns the registry of in-flight and recent searches
func (e *Executor) Runs() *Runs {
	return e.runs
}

// Search checks the result cache and, on a miss, searches every file,
// aggregates the outcomes and records the summary. A file that fails is
// reported in its outcome and never stops the others. Only an invalid
// request, an empty or entirely unknown file set, or a store failure while
// resolving metadata fail the whole search.
func (e *Executor) Search(ctx context.Context, req Request) (*Response, error) {
	req, err := e.normalize(req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = e.runs.start(ctx, runID, req)
	resp, err := e.search(ctx, runID, req)
	e.runs.finish(runID, resp, err)
	return resp, err
}

func (e *Executor) search(ctx context.Context, runID string, req Request) (*Response, error) {
	start := time.Now()

	resp := &Response{
		RunID:       runID,
		Fingerprint: Fingerprint(req.Term, req.Mode, req.Column, req.Files, e.rowCap(req)),
		TotalFiles:  len(req.Files),
	}
	logger := e.logger.With().Str("run_id", resp.RunID).Logger()

	if e.cache != nil && !req.SkipCache {
		entry, err := e.cache.Get(ctx, resp.Fingerprint)
		if err != nil {
			logger.Warn().Err(err).Msg("Cache lookup failed")
		} else if entry != nil {
			resp.Cached = true
			resp.CacheEntry = entry
			resp.TotalResults = entry.ResultCount
			resp.setDuration(time.Since(start))
			logger.Info().Str("term", req.Term).Int64("results", entry.ResultCount).Msg("Serving cached search result")
			e.record(ctx, logger, req, resp)
			return resp, nil
		}
	}

	resolved, err := e.catalog.Resolve(ctx, req.Files)
	if err != nil {
		return nil, errors.New(ErrResolveFailed, "failed to resolve file metadata", err)
	}
	if len(resolved) == 0 {
		return nil, errors.New(ErrUnknownFiles, "none of the requested files has been processed", nil).
			AddContext("first_file", req.Files[0])
	}

	resp.PerFile = make([]FileOutcome, len(req.Files))
	run := func(ctx context.Context, i int) {
		resp.PerFile[i] = e.searchFile(ctx, logger, req, req.Files[i], resolved[req.Files[i]])
	}

	if req.Parallel && e.pool != nil && len(req.Files) > 1 {
		tasks := make([]workers.Task, len(req.Files))
		for i := range req.Files {
			i := i
			tasks[i] = workers.TaskFunc{ID: resp.RunID + ":" + req.Files[i], Fn: func(ctx context.Context) error {
				run(ctx, i)
				return nil
			}}
		}
		for i, err := range e.pool.Run(ctx, tasks) {
			if err != nil && resp.PerFile[i].Error == "" {
				resp.PerFile[i].File = req.Files[i]
				resp.PerFile[i].FileName = filepath.Base(req.Files[i])
				resp.PerFile[i].Error = err.Error()
			}
		}
	} else {
		for i := range req.Files {
			run(ctx, i)
		}
	}

	resp.aggregate()
	resp.setDuration(time.Since(start))

	logger.Info().
		Str("term", req.Term).
		Str("column", req.Column).
		Str("mode", string(req.Mode)).
		Int("files", resp.TotalFiles).
		Int("errors", resp.FilesWithErrors).
		Int64("results", resp.TotalResults).
		Dur("elapsed", resp.TotalDuration).
		Msg("Search completed")

	// A partial failure is not worth remembering
	if e.cache != nil && !req.SkipCache && resp.FilesWithErrors == 0 {
		if entry, err := e.cache.Put(ctx, resp.Fingerprint, resp.TotalResults, resp.TotalDurationMS, 0); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache search result")
		} else {
			resp.CacheEntry = entry
		}
	}
	e.record(ctx, logger, req, resp)

	return resp, nil
}

// Stream opens a chunked search over a single processed file
func (e *Executor) Stream(ctx context.Context, file, term string, mode query.Mode, column string, chunkSize int) (*Stream, error) {
	req, err := e.normalize(Request{Column: column, Term: term, Mode: mode, Files: []string{file}, ChunkSize: chunkSize, Streaming: true})
	if err != nil {
		return nil, err
	}
	path := req.Files[0]

	md, err := e.catalog.Get(ctx, path)
	if err != nil {
		return nil, errors.New(ErrResolveFailed, "failed to resolve file metadata", err).AddContext("file", path)
	}
	search, err := e.prepare(ctx, req, path, md)
	if err != nil {
		return nil, err
	}
	return openStream(ctx, e.store, search, req.ChunkSize)
}

func (e *Executor) normalize(req Request) (Request, error) {
	if len(req.Files) == 0 {
		return req, errors.New(ErrNoFiles, "no files to search", nil)
	}
	if req.Term == "" {
		return req, errors.New(ErrInvalidRequest, "search term is required", nil)
	}
	mode, err := query.ParseMode(string(req.Mode))
	if err != nil {
		return req, errors.New(ErrInvalidRequest, "invalid search request", err)
	}
	req.Mode = mode
	if req.Column == "" {
		req.Column = query.AllColumns
	}
	if req.Limit < 0 {
		return req, errors.New(ErrInvalidRequest, "limit must not be negative", nil)
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = e.cfg.DefaultChunkSize
	}
	if req.User == "" {
		req.User = config.ANONYMOUS_USER
	}

	// Surface bad modes and patterns before touching any file
	if _, _, err := query.Predicate(req.Term, req.Mode, "column"); err != nil {
		return req, errors.New(ErrInvalidRequest, "invalid search request", err)
	}

	seen := make(map[string]bool, len(req.Files))
	files := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return req, errors.New(ErrInvalidRequest, "invalid file path", err).AddContext("file", f)
		}
		if !seen[abs] {
			seen[abs] = true
			files = append(files, abs)
		}
	}
	req.Files = files
	return req, nil
}

// rowCap is the number of rows a bulk search may return per file; streaming
// is unbounded
func (e *Executor) rowCap(req Request) int {
	if req.Streaming {
		return 0
	}
	if req.Limit > 0 {
		return req.Limit
	}
	return e.cfg.MaxResultLimit
}

// prepare checks that path can be searched and builds its query
func (e *Executor) prepare(ctx context.Context, req Request, path string, md *metadata.FileMetadata) (query.Search, error) {
	if md == nil {
		return query.Search{}, errors.New(ErrFileNotProcessed, MsgFileNotProcessed, nil).AddContext("file", path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return query.Search{}, errors.New(ErrSourceMissing, MsgSourceMissing, nil).AddContext("file", path)
	}
	exists, err := e.store.TableExists(ctx, md.TableName)
	if err != nil {
		return query.Search{}, errors.New(ErrQueryFailed, "failed to check table", err).AddContext("table", md.TableName)
	}
	if !exists {
		return query.Search{}, errors.New(ErrTableNotFound, MsgTableNotFound, nil).AddContext("table", md.TableName)
	}
	if req.Column != query.AllColumns && !md.HasColumn(req.Column) {
		return query.Search{}, errors.New(ErrColumnNotFound, MsgColumnNotFound, nil).AddContext("column", req.Column)
	}

	return query.Search{
		Table:   md.TableName,
		Column:  req.Column,
		Columns: md.Columns,
		Term:    req.Term,
		Mode:    req.Mode,
	}, nil
}

func (e *Executor) searchFile(ctx context.Context, logger zerolog.Logger, req Request, path string, md *metadata.FileMetadata) (out FileOutcome) {
	start := time.Now()
	out = FileOutcome{File: path, FileName: filepath.Base(path)}
	if md != nil {
		out.TableName = md.TableName
	}
	defer func() {
		out.Duration = time.Since(start)
		out.DurationMS = float64(out.Duration.Microseconds()) / 1000
		if out.Error != "" {
			logger.Warn().Str("file", out.FileName).Str("error", out.Error).Msg("File search failed")
		}
	}()

	search, err := e.prepare(ctx, req, path, md)
	if err != nil {
		out.Error = outcomeMessage(err)
		return out
	}

	if req.Streaming {
		e.streamFile(ctx, req, search, &out)
		return out
	}

	q, err := search.Select(e.rowCap(req))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	rs, err := e.store.QueryAll(ctx, q.SQL, q.Args...)
	if err != nil {
		out.Error = errors.New(ErrQueryFailed, "search query failed", err).Error()
		return out
	}
	out.Result = rs
	out.RowCount = int64(rs.Len())
	return out
}

// streamFile drains a stream into the handler, or into the outcome when the
// request has none
func (e *Executor) streamFile(ctx context.Context, req Request, search query.Search, out *FileOutcome) {
	st, err := openStream(ctx, e.store, search, req.ChunkSize)
	if err != nil {
		out.Error = err.Error()
		return
	}

	for {
		chunk, err := st.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Error = err.Error()
			break
		}

		if req.OnChunk != nil {
			if err := req.OnChunk(ctx, Chunk{File: out.File, Index: st.Chunks() - 1, Rows: chunk}); err != nil {
				out.Error = err.Error()
				break
			}
		} else if out.Result == nil {
			out.Result = chunk
		} else {
			out.Result.Rows = append(out.Result.Rows, chunk.Rows...)
		}
	}

	out.RowCount = st.Delivered()
	out.Chunks = st.Chunks()
}

func (e *Executor) record(ctx context.Context, logger zerolog.Logger, req Request, resp *Response) {
	if e.history == nil {
		return
	}
	err := e.history.Append(ctx, &history.Entry{
		User:          req.User,
		Term:          req.Term,
		Column:        req.Column,
		Mode:          string(req.Mode),
		FilesSearched: len(req.Files),
		ResultCount:   resp.TotalResults,
		DurationMS:    resp.TotalDurationMS,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to record search history")
	}
}

func (r *Response) aggregate() {
	r.TotalResults = 0
	r.FilesWithMatches = 0
	r.FilesWithErrors = 0
	for i := range r.PerFile {
		o := &r.PerFile[i]
		if o.Failed() {
			r.FilesWithErrors++
			continue
		}
		r.TotalResults += o.RowCount
		if o.RowCount > 0 {
			r.FilesWithMatches++
		}
	}
}

func (r *Response) setDuration(d time.Duration) {
	r.TotalDuration = d
	r.TotalDurationMS = float64(d.Microseconds()) / 1000
}

// outcomeMessage keeps the short per-file messages for expected conditions
func outcomeMessage(err error) string {
	switch {
	case errors.HasCode(err, ErrFileNotProcessed):
		return MsgFileNotProcessed
	case errors.HasCode(err, ErrSourceMissing):
		return MsgSourceMissing
	case errors.HasCode(err, ErrTableNotFound):
		return MsgTableNotFound
	case errors.HasCode(err, ErrColumnNotFound):
		return MsgColumnNotFound
	}
	return err.Error()
}
