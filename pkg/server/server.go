package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/unowned-ai/resonance/pkg/memories"
)

const maxBodyBytes = 1 << 20

// Server exposes an Engine over HTTP/JSON.
type Server struct {
	engine *memories.Engine
	addr   string
	logger *log.Logger
	now    func() time.Time
}

// New returns a Server that will listen on addr.
func New(engine *memories.Engine, addr string, logger *log.Logger) *Server {
	return &Server{engine: engine, addr: addr, logger: logger, now: time.Now}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("PUT /records", s.handlePutRecord)
	mux.HandleFunc("POST /records", s.handlePutRecord)
	mux.HandleFunc("GET /records/random", s.handleRandomRecord)
	mux.HandleFunc("GET /records/{id}", s.handleGetRecord)
	mux.HandleFunc("PATCH /records/{ownerId}/{id}", s.handleUpdateRecord)
	mux.HandleFunc("DELETE /records/{ownerId}/{id}", s.handleDeleteRecord)

	mux.HandleFunc("GET /owners/{ownerId}/records", s.handleListOwnerRecords)
	mux.HandleFunc("GET /owners/{ownerId}/tags", s.handleListTags)
	mux.HandleFunc("GET /categories/{category}/records", s.handleListCategoryRecords)

	mux.HandleFunc("POST /reminders/tick", s.handleTick)
	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(start),
		)
	})
}
