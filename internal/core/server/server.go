package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voyagekit/offline-engine/internal/core/config"
	"github.com/voyagekit/offline-engine/internal/core/health"
	"github.com/voyagekit/offline-engine/internal/core/middleware"
)

type Handlers struct {
	Intercept http.HandlerFunc
	Prefetch  http.HandlerFunc
	Ready     health.ReadinessReporter
	Metrics   http.Handler
}

// Run sets up the gateway router and serves until the context is done.
// Everything not matched by an engine endpoint falls into the
// interception boundary, regardless of method.
func Run(ctx context.Context, cfg config.Config, log *slog.Logger, h Handlers) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Logging(log))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(h.Ready))
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	r.Post("/offline/prefetch", h.Prefetch)
	r.NotFound(h.Intercept)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
