package mcpservice

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ggoodman/mcp-dispatch-go/auth"
	"github.com/ggoodman/mcp-dispatch-go/internal/engine"
	"github.com/ggoodman/mcp-dispatch-go/internal/logctx"
	"github.com/ggoodman/mcp-dispatch-go/registry"
	"github.com/ggoodman/mcp-dispatch-go/sessions"
)

const defaultPageSize = 50

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	log        *slog.Logger
	level      *slog.LevelVar
	workers    int
	queueDepth int
	checker    auth.Checker
	store      *sessions.Store
	pageSize   int
	timeout    time.Duration
}

// WithLogger sets the base logger. Records are enriched with the invocation
// and session they belong to.
func WithLogger(l *slog.Logger) ServerOption {
	return func(c *serverConfig) { c.log = l }
}

// WithLevelVar lets SetLogLevel adjust lv. Use the same LevelVar in the
// logger's handler options.
func WithLevelVar(lv *slog.LevelVar) ServerOption {
	return func(c *serverConfig) { c.level = lv }
}

// WithWorkers sets the size of the blocking-handler pool.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithQueueDepth bounds how many blocking calls may wait for a worker.
func WithQueueDepth(n int) ServerOption {
	return func(c *serverConfig) { c.queueDepth = n }
}

// WithAccessChecker sets the capability collaborator. The default allows
// everything.
func WithAccessChecker(ch auth.Checker) ServerOption {
	return func(c *serverConfig) { c.checker = ch }
}

// WithSessionStore shares an existing session store.
func WithSessionStore(st *sessions.Store) ServerOption {
	return func(c *serverConfig) { c.store = st }
}

// WithPageSize sets the listing page size (default 50).
func WithPageSize(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithDefaultTimeout bounds calls whose Request carries no Timeout.
func WithDefaultTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// Server dispatches requests to registered handlers.
type Server struct {
	log      *slog.Logger
	level    *slog.LevelVar
	reg      *registry.Registry
	store    *sessions.Store
	bridge   *engine.Bridge
	pageSize int
	timeout  time.Duration
}

// NewServer builds a Server and starts its worker pool.
func NewServer(opts ...ServerOption) *Server {
	cfg := serverConfig{
		log:        slog.Default(),
		workers:    runtime.GOMAXPROCS(0),
		queueDepth: 64,
		checker:    auth.AllowAll{},
		pageSize:   defaultPageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	log := cfg.log
	if _, wrapped := log.Handler().(logctx.Handler); !wrapped {
		log = slog.New(logctx.New(log.Handler()))
	}
	if cfg.store == nil {
		cfg.store = sessions.NewStore(sessions.WithLogger(log))
	}

	return &Server{
		log:   log,
		level: cfg.level,
		reg:   registry.New(),
		store: cfg.store,
		bridge: engine.NewBridge(
			engine.WithLogger(log),
			engine.WithAccessChecker(cfg.checker),
			engine.WithWorkers(cfg.workers),
			engine.WithQueueDepth(cfg.queueDepth),
		),
		pageSize: cfg.pageSize,
		timeout:  cfg.timeout,
	}
}

// Register adds definitions in order and stops at the first failure.
func (s *Server) Register(defs ...Definition) error {
	for _, d := range defs {
		if d.err != nil {
			return errors.Wrapf(d.err, "define %s %q", d.rec.Kind, d.rec.Name)
		}
		if _, err := s.reg.Register(d.rec); err != nil {
			return errors.Wrapf(err, "register %s %q", d.rec.Kind, d.rec.Name)
		}
		s.log.Debug("server.register.ok", slog.String("kind", string(d.rec.Kind)), slog.String("name", d.rec.Name))
	}
	return nil
}

// Freeze ends the registration phase.
func (s *Server) Freeze() {
	s.reg.Freeze()
	s.log.Info("server.freeze",
		slog.Int("tools", s.reg.Len(registry.KindTool)),
		slog.Int("resources", s.reg.Len(registry.KindResource)),
		slog.Int("prompts", s.reg.Len(registry.KindPrompt)),
	)
}

// Registry exposes the handler registry.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Sessions exposes the session store.
func (s *Server) Sessions() *sessions.Store { return s.store }

// Cancel asks the in-flight request to stop. It reports whether the request
// was found.
func (s *Server) Cancel(requestID, reason string) bool {
	ok := s.bridge.Cancel(requestID, reason)
	s.log.Debug("server.cancel", slog.String("request_id", requestID), slog.Bool("found", ok))
	return ok
}

// InFlight returns the number of running or waiting calls.
func (s *Server) InFlight() int { return s.bridge.InFlight() }

// Close stops accepting blocking calls and waits for running ones until ctx
// ends.
func (s *Server) Close(ctx context.Context) error {
	return s.bridge.Close(ctx)
}
