// Package server exposes the node's observability endpoints: liveness,
// readiness against the store, and the Prometheus registry.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/autopostd/autopostd/metrics"
	"github.com/autopostd/autopostd/store"
)

const (
	readyTimeout    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	e     *echo.Echo
	store *store.Store
	addr  string
}

func New(st *store.Store, exporter *metrics.Exporter, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{e: e, store: st, addr: addr}
	e.GET("/healthz", s.healthz)
	e.GET("/readyz", s.readyz)
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	return s
}

// healthz reports process liveness only.
func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports whether the store answers.
func (s *Server) readyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
	defer cancel()
	if err := s.store.GetDB().PingContext(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unready",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// Run serves until ctx is canceled, then drains in-flight requests under the
// shutdown deadline.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("observability server started", "addr", s.addr)
		if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to stop observability server")
	}
	slog.Info("observability server stopped")
	return <-errCh
}
