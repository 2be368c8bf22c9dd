package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/usorama/virtual-tutor-v7-sub008/pkg/gateway/config"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/gateway/handlers"
	"github.com/usorama/virtual-tutor-v7-sub008/pkg/gateway/mw"
)

// Server is the HTTP front of the tutoring gateway.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	router chi.Router
}

func New(cfg config.Config, h *handlers.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.Recover(logger))
	r.Use(mw.AccessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	h.RegisterRoutes(r)

	return &Server{cfg: cfg, logger: logger, router: r}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down within the
// configured grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
