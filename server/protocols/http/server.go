package http

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/cache"
	"github.com/gear6io/gharp/server/config"
	"github.com/gear6io/gharp/server/export"
	"github.com/gear6io/gharp/server/history"
	"github.com/gear6io/gharp/server/materializer"
	"github.com/gear6io/gharp/server/metadata"
	"github.com/gear6io/gharp/server/search"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// ComponentType is the HTTP server's component name
const ComponentType = "http-server"

// Services are the components the API exposes
type Services struct {
	Scanner      *metadata.Scanner
	Catalog      *metadata.Catalog
	Index        *metadata.Index
	Materializer *materializer.Materializer
	Executor     *search.Executor
	Cache        *cache.ResultCache
	History      *history.Store
}

// Server is the JSON API over the search services
type Server struct {
	cfg    *config.Config
	svc    Services
	app    *fiber.App
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewServer creates the API and registers its routes
func NewServer(cfg *config.Config, svc Services, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With().Str("component", ComponentType).Logger(),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "gharp",
		DisableStartupMessage: true,
		BodyLimit:             512 * 1024 * 1024,
		ErrorHandler:          s.handleError,
	})

	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/api")
	api.Get("/files", s.handleFiles)
	api.Delete("/files", s.handleRemove)
	api.Post("/upload", s.handleUpload)
	api.Get("/columns", s.handleColumns)
	api.Get("/overview", s.handleOverview)
	api.Post("/process", s.handleProcess)
	api.Post("/cleanup", s.handleCleanup)
	api.Post("/search", s.handleSearch)
	api.Post("/export", s.handleExport)
	api.Get("/runs", s.handleRuns)
	api.Get("/runs/:id", s.handleRun)
	api.Delete("/runs/:id", s.handleCancelRun)
	api.Get("/history", s.handleHistory)
	api.Get("/popular", s.handlePopular)

	return s
}

// App exposes the fiber application, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// GetType returns the component type
func (s *Server) GetType() string {
	return ComponentType
}

// Start listens on the configured address in the background
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Server.HTTPAddress
	if addr == "" {
		addr = config.DefaultHTTPAddress()
	}
	s.logger.Info().Str("address", addr).Msg("Starting HTTP server")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.app.Listen(addr); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP server")
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return errors.New(ErrShutdownFailed, "HTTP server shutdown failed", err)
	}
	s.wg.Wait()
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) user(c *fiber.Ctx) string {
	header := s.cfg.Server.UserHeader
	if header == "" {
		header = config.DEFAULT_USER_HEADER
	}
	if u := strings.TrimSpace(c.Get(header)); u != "" {
		return u
	}
	return config.ANONYMOUS_USER
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"server":    "gharp-http",
	})
}

// handleFiles lists processed files, or scans the data directory with ?scan=true
func (s *Server) handleFiles(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if c.QueryBool("scan") {
		list, err := s.svc.Scanner.Scan(ctx, s.dataDir(c))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"files": list})
	}

	snap, err := s.svc.Index.Snapshot(ctx)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"files": snap.Files})
}

func (s *Server) handleRemove(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return errors.New(ErrBadRequest, "path is required", nil)
	}
	if err := s.svc.Materializer.Remove(c.UserContext(), path, c.QueryBool("delete_source")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"removed": path})
}

// handleUpload stores a multipart upload; ?overwrite=true replaces an existing
// file of the same name
func (s *Server) handleUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return errors.New(ErrBadRequest, "multipart field 'file' is required", err)
	}
	f, err := fh.Open()
	if err != nil {
		return errors.New(ErrBadRequest, "failed to open upload", err)
	}
	defer f.Close()

	md, err := s.svc.Materializer.Ingest(c.UserContext(), fh.Filename, f, c.QueryBool("overwrite"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(md)
}

type columnEntry struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

func (s *Server) handleColumns(c *fiber.Ctx) error {
	ci, err := s.svc.Index.Columns(c.UserContext())
	if err != nil {
		return err
	}
	if name := c.Query("column"); name != "" {
		return c.JSON(columnEntry{Name: name, Files: nonNil(ci[name])})
	}

	out := make([]columnEntry, 0, len(ci))
	for _, name := range ci.Columns() {
		out = append(out, columnEntry{Name: name, Files: ci[name]})
	}
	return c.JSON(fiber.Map{"columns": out})
}

func (s *Server) handleOverview(c *fiber.Ctx) error {
	list, err := s.svc.Scanner.Scan(c.UserContext(), s.dataDir(c))
	if err != nil {
		return err
	}
	return c.JSON(metadata.Summarize(list))
}

type processRequest struct {
	Files []string `json:"files"`
	Force bool     `json:"force"`
}

func (s *Server) handleProcess(c *fiber.Ctx) error {
	var req processRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errors.New(ErrBadRequest, "invalid process request", err)
		}
	}

	ctx := c.UserContext()
	if len(req.Files) > 0 {
		return c.JSON(fiber.Map{"outcomes": s.svc.Materializer.ProcessFiles(ctx, req.Files, req.Force)})
	}
	outcomes, err := s.svc.Materializer.ProcessDirectory(ctx, s.dataDir(c), req.Force)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"outcomes": outcomes})
}

func (s *Server) handleCleanup(c *fiber.Ctx) error {
	ctx := c.UserContext()
	removed, err := s.svc.Materializer.CleanupOrphans(ctx)
	if err != nil {
		return err
	}

	swept := 0
	if s.svc.Cache != nil {
		if swept, err = s.svc.Cache.Sweep(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Cache sweep failed")
		}
	}
	pruned := s.svc.Executor.Runs().Prune(search.RunRetention)
	return c.JSON(fiber.Map{"removed_tables": removed, "swept_cache_entries": swept, "pruned_runs": pruned})
}

// parseSearch reads a search request and fills in the user and, when no
// files are named, every file holding the column
func (s *Server) parseSearch(c *fiber.Ctx) (search.Request, error) {
	var req search.Request
	if err := c.BodyParser(&req); err != nil {
		return req, errors.New(ErrBadRequest, "invalid search request", err)
	}
	req.User = s.user(c)

	if len(req.Files) == 0 {
		files, err := s.svc.Index.FilesFor(c.UserContext(), req.Column)
		if err != nil {
			return req, err
		}
		req.Files = files
	}
	return req, nil
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	req, err := s.parseSearch(c)
	if err != nil {
		return err
	}

	resp, err := s.svc.Executor.Search(c.UserContext(), req)
	if err != nil {
		return err
	}
	if !c.QueryBool("rows", true) {
		for i := range resp.PerFile {
			resp.PerFile[i].Result = nil
		}
	}
	return c.JSON(resp)
}

// handleExport runs the search uncached and returns every file's rows as one
// download
func (s *Server) handleExport(c *fiber.Ctx) error {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		return err
	}
	req, err := s.parseSearch(c)
	if err != nil {
		return err
	}
	req.SkipCache = true
	req.Streaming = false
	req.OnChunk = nil

	resp, err := s.svc.Executor.Search(c.UserContext(), req)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, export.Combine(resp.ExportParts()), export.Options{Compression: s.cfg.Export.Compression}); err != nil {
		return err
	}

	name := export.FileName("search_results", format, time.Now())
	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Send(buf.Bytes())
}

// handleRuns lists tracked searches, only running ones with ?running=true
func (s *Server) handleRuns(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"runs": s.svc.Executor.Runs().List(c.QueryBool("running"))})
}

func (s *Server) handleRun(c *fiber.Ctx) error {
	run, err := s.svc.Executor.Runs().Get(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) handleCancelRun(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.svc.Executor.Runs().Cancel(id); err != nil {
		return err
	}
	run, err := s.svc.Executor.Runs().Get(id)
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", s.cfg.Search.HistoryLimit)
	entries, err := s.svc.History.Recent(c.UserContext(), s.user(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": s.user(c), "history": entries})
}

func (s *Server) handlePopular(c *fiber.Ctx) error {
	window := s.cfg.Search.PopularWindow()
	if days := c.QueryInt("days", 0); days > 0 {
		window = time.Duration(days) * 24 * time.Hour
	}
	popular, err := s.svc.History.Popular(c.UserContext(), window, c.QueryInt("limit", 5))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"popular": popular})
}

func (s *Server) dataDir(c *fiber.Ctx) string {
	if dir := c.Query("dir"); dir != "" {
		return filepath.Clean(dir)
	}
	return s.cfg.Scan.DataDir
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
