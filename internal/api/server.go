package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchsearch/internal/metrics"
	"github.com/JakeFAU/batchsearch/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// RunInfo describes the run the server reports on.
type RunInfo struct {
	RunID          string
	Target         string
	TargetRedacted bool
}

// Progress reports worker state.
type Progress interface {
	Snapshots() []worker.Stats
	Alive() int
	Stopped() bool
}

// Cursor reports the next batch id to be claimed.
type Cursor interface {
	Peek() int64
}

// StatusResponse is the /v1/status payload. Target is left out when it is the redacted one.
type StatusResponse struct {
	RunID       string         `json:"run_id"`
	Target      string         `json:"target,omitempty"`
	Devices     []worker.Stats `json:"devices"`
	Alive       int            `json:"alive"`
	NextBatchID int64          `json:"next_batch_id"`
	Stopped     bool           `json:"stopped"`
}

// Server wires HTTP handlers to the running dispatcher.
type Server struct {
	router   chi.Router
	info     RunInfo
	progress Progress
	cursor   Cursor
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(info RunInfo, progress Progress, cursor Cursor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		info:     info,
		progress: progress,
		cursor:   cursor,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server started", zap.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("status server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		RunID:   s.info.RunID,
		Devices: []worker.Stats{},
	}
	if !s.info.TargetRedacted {
		resp.Target = s.info.Target
	}
	if s.progress != nil {
		resp.Devices = s.progress.Snapshots()
		resp.Alive = s.progress.Alive()
		resp.Stopped = s.progress.Stopped()
	}
	if s.cursor != nil {
		resp.NextBatchID = s.cursor.Peek()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg, "code": strconv.Itoa(status)})
}
