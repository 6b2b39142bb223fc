// Package server exposes analyses over HTTP.
//
// The API is a thin adapter for the status page and badge renderers: it
// returns analysis results and badge summaries as JSON and leaves all
// presentation to its callers.
//
//	GET /api/health
//	GET /api/repo/{site}/{owner}/{name}/status|badge
//	GET /api/gitea/{host}/{owner}/{name}/status|badge
//	GET /api/crate/{name}/status|badge
//	GET /api/crate/{name}/{version}/status|badge
//	GET /api/popular/crates
//	GET /api/popular/repos
//	GET /metrics
//
// Status and badge endpoints accept ?dev=true and ?optional=true to widen
// the roll-up, and status endpoints accept ?archived=1 to serve the latest
// archived result instead of analyzing.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/matzehuels/cratestatus/pkg/advisory"
	"github.com/matzehuels/cratestatus/pkg/analysis"
	"github.com/matzehuels/cratestatus/pkg/index"
	"github.com/matzehuels/cratestatus/pkg/integrations/crates"
	"github.com/matzehuels/cratestatus/pkg/project"
	"github.com/matzehuels/cratestatus/pkg/status"
	"github.com/matzehuels/cratestatus/pkg/storage"
)

// PopularTTL is how long popular lists are served from memory.
const PopularTTL = time.Hour

// CrateLister lists the most popular crates.
type CrateLister interface {
	PopularCrates(ctx context.Context, refresh bool) ([]crates.PopularCrate, error)
}

// RepoLister lists popular Rust repositories.
type RepoLister interface {
	PopularRepos(ctx context.Context) ([]project.Identity, error)
}

// Config wires the server to its collaborators. Engine, Index and
// Advisories are required.
type Config struct {
	Engine     *analysis.Engine
	Index      *index.Store
	Advisories *advisory.Store

	// Archive serves ?archived=1 requests. Optional.
	Archive storage.Archive
	// Crates and Repos back the popular lists. Optional.
	Crates CrateLister
	Repos  RepoLister

	// Policy is the roll-up used when a request does not override it.
	Policy status.Policy

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	Logger *log.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	logger  *log.Logger
	router  chi.Router
	popular *expirable.LRU[string, any]
}

// New builds the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		popular: expirable.NewLRU[string, any](4, nil, PopularTTL),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/repo/{site}/{owner}/{name}/status", s.handleRepo(viewStatus))
		r.Get("/repo/{site}/{owner}/{name}/badge", s.handleRepo(viewBadge))
		r.Get("/gitea/{host}/{owner}/{name}/status", s.handleGitea(viewStatus))
		r.Get("/gitea/{host}/{owner}/{name}/badge", s.handleGitea(viewBadge))

		r.Get("/crate/{crate}/status", s.handleCrate(viewStatus))
		r.Get("/crate/{crate}/badge", s.handleCrate(viewBadge))
		r.Get("/crate/{crate}/{version}/status", s.handleCrate(viewStatus))
		r.Get("/crate/{crate}/{version}/badge", s.handleCrate(viewBadge))

		r.Get("/popular/crates", s.handlePopularCrates)
		r.Get("/popular/repos", s.handlePopularRepos)
	})
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
