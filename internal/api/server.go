// Package api serves the crawl control and catalog read endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eargollo/dicomcat/internal/api/handlers"
	"github.com/eargollo/dicomcat/internal/catalog"
	"github.com/eargollo/dicomcat/internal/crawl"
	"github.com/eargollo/dicomcat/internal/scheduler"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// Deps are the components the handlers read from. Sched may be nil.
type Deps struct {
	Store   *catalog.Store
	Manager *crawl.Manager
	Sched   *scheduler.Scheduler
	Version string
	// CrawlCtx parents crawls started over HTTP.
	CrawlCtx context.Context
}

// NewRouter wires all routes.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	statusH := &handlers.StatusHandler{Store: d.Store, Manager: d.Manager, Sched: d.Sched, Version: d.Version}
	crawlsH := &handlers.CrawlsHandler{Manager: d.Manager, BaseCtx: d.CrawlCtx}
	errorsH := &handlers.ErrorsHandler{Store: d.Store}
	studiesH := &handlers.StudiesHandler{Source: d.Store}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/crawls", crawlsH.Create)
		r.Delete("/crawls/current", crawlsH.Cancel)

		r.Get("/errors", errorsH.List)
		r.Get("/studies", studiesH.List)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// New returns a Server ready to Run.
func New(addr string, d Deps) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
