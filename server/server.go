package server

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/cache"
	"github.com/gear6io/gharp/server/config"
	"github.com/gear6io/gharp/server/convert"
	"github.com/gear6io/gharp/server/history"
	"github.com/gear6io/gharp/server/materializer"
	"github.com/gear6io/gharp/server/metadata"
	"github.com/gear6io/gharp/server/protocols/http"
	"github.com/gear6io/gharp/server/search"
	"github.com/gear6io/gharp/server/shared"
	"github.com/gear6io/gharp/server/store"
	"github.com/gear6io/gharp/server/workers"
	"github.com/rs/zerolog"
)

// Server owns the store and every service built on it. The CLI and the HTTP
// API share one instance.
type Server struct {
	config *config.Config
	logger zerolog.Logger

	store        *store.Store
	pool         *workers.Pool
	catalog      *metadata.Catalog
	index        *metadata.Index
	scanner      *metadata.Scanner
	materializer *materializer.Materializer
	cache        *cache.ResultCache
	history      *history.Store
	executor     *search.Executor
	converter    *convert.Converter
	httpServer   *http.Server
	watcher      *materializer.Watcher

	// shut down in reverse order
	components []shared.Component

	mu        sync.Mutex
	started   bool
	closed    bool
	startTime time.Time
}

// New opens the store and wires the services
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	s, err := store.NewStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, errors.New(ErrServiceInitFailed, "failed to open store", err)
	}
	srv, err := NewWithStore(cfg, s, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return srv, nil
}

// NewWithStore wires the services over an already opened store
func NewWithStore(cfg *config.Config, s *store.Store, logger zerolog.Logger) (*Server, error) {
	srv := &Server{
		config:    cfg,
		logger:    logger.With().Str("component", "server").Logger(),
		store:     s,
		startTime: time.Now(),
	}
	srv.components = append(srv.components, s)

	srv.pool = workers.NewPool(cfg.Search.MaxWorkers, logger)
	if err := srv.pool.Start(); err != nil {
		return nil, errors.New(ErrServiceInitFailed, "failed to start worker pool", err)
	}
	srv.components = append(srv.components, srv.pool)

	srv.catalog = metadata.NewCatalog(s, logger)
	srv.index = metadata.NewIndex(srv.catalog, cfg.Search.ColumnIndexTTL(), logger)
	srv.components = append(srv.components, shared.Closer{Type: "column_index", Close: srv.index.Close})

	srv.scanner = metadata.NewScanner(s, cfg, logger)
	srv.materializer = materializer.New(s, srv.catalog, srv.scanner, srv.pool, cfg, logger)
	srv.cache = cache.New(s, cfg.Search.CacheTTL(), logger)
	srv.history = history.New(s, logger)
	srv.executor = search.NewExecutor(s, srv.catalog, srv.cache, srv.history, srv.pool, cfg.Search, logger)

	conv, err := convert.New(s, srv.pool, cfg.Export.Compression, logger)
	if err != nil {
		srv.pool.Stop()
		srv.index.Close()
		return nil, errors.New(ErrServiceInitFailed, "failed to create converter", err)
	}
	srv.converter = conv

	srv.httpServer = http.NewServer(cfg, http.Services{
		Scanner:      srv.scanner,
		Catalog:      srv.catalog,
		Index:        srv.index,
		Materializer: srv.materializer,
		Executor:     srv.executor,
		Cache:        srv.cache,
		History:      srv.history,
	}, logger)

	return srv, nil
}

func (s *Server) Config() *config.Config                   { return s.config }
func (s *Server) Store() *store.Store                      { return s.store }
func (s *Server) Catalog() *metadata.Catalog               { return s.catalog }
func (s *Server) Index() *metadata.Index                   { return s.index }
func (s *Server) Scanner() *metadata.Scanner               { return s.scanner }
func (s *Server) Materializer() *materializer.Materializer { return s.materializer }
func (s *Server) Cache() *cache.ResultCache                { return s.cache }
func (s *Server) History() *history.Store                  { return s.history }
func (s *Server) Executor() *search.Executor               { return s.executor }
func (s *Server) Converter() *convert.Converter            { return s.converter }
func (s *Server) HTTP() *http.Server                       { return s.httpServer }

// Start brings up the HTTP API
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.logger.Info().Msg("Starting gharp server...")
	if err := s.httpServer.Start(ctx); err != nil {
		return errors.New(ErrServiceStartFailed, "failed to start HTTP server", err)
	}
	s.components = append(s.components, s.httpServer)

	if s.config.Scan.Watch {
		if err := s.startWatcher(ctx); err != nil {
			return err
		}
	}
	s.started = true

	s.logger.Info().
		Str("http_address", s.config.Server.HTTPAddress).
		Str("data_dir", s.config.Scan.DataDir).
		Int("workers", s.pool.Size()).
		Msg("Server started")
	return nil
}

// startWatcher brings existing files up to date, then follows the data
// directory for changes
func (s *Server) startWatcher(ctx context.Context) error {
	dir := s.config.Scan.DataDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.New(ErrServiceStartFailed, "failed to create data directory", err).AddContext("dir", dir)
	}
	if _, err := s.materializer.ProcessDirectory(ctx, dir, false); err != nil {
		return errors.New(ErrServiceStartFailed, "initial processing failed", err)
	}

	w, err := materializer.NewWatcher(s.materializer, dir, s.config.Scan.WatchDebounce(), s.logger)
	if err != nil {
		return errors.New(ErrServiceStartFailed, "failed to create watcher", err)
	}
	if err := w.Start(ctx); err != nil {
		w.Shutdown(ctx)
		return errors.New(ErrServiceStartFailed, "failed to start watcher", err)
	}
	s.watcher = w
	s.components = append(s.components, w)
	return nil
}

// Shutdown stops every component, last started first. All components are
// given the chance to stop; the first failure is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info().Msg("Shutting down server...")

	var first error
	for i := len(s.components) - 1; i >= 0; i-- {
		c := s.components[i]
		if err := c.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Str("component", c.GetType()).Msg("Error stopping component")
			if first == nil {
				first = errors.New(ErrShutdownFailed, "component shutdown failed", err).AddContext("component", c.GetType())
			}
		}
	}

	s.logger.Info().Dur("uptime", s.GetUptime()).Msg("Server stopped")
	return first
}

// GetUptime returns the server uptime
func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}

// GetStatus returns the server status
func (s *Server) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.pool.GetStats()
	hits, misses := s.index.Stats()
	return map[string]interface{}{
		"uptime":       s.GetUptime().String(),
		"start_time":   s.startTime,
		"http_started": s.started,
		"watching":     s.watcher != nil,
		"store":        s.store.Path(),
		"workers":      stats,
		"index_hits":   hits,
		"index_misses": misses,
	}
}
