// Package server exposes the master's worker registry over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/fatt/internal/distributed"
	"github.com/raysh454/fatt/internal/logging"
)

// WorkerDirectory is the part of the master the admin API needs.
type WorkerDirectory interface {
	Workers() []distributed.ConnectedWorker
	Worker(id string) (distributed.ConnectedWorker, bool)
	StopWorker(id string) error
}

// Server is the HTTP + WebSocket admin surface of a master.
type Server struct {
	cfg      Config
	workers  WorkerDirectory
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewServer(cfg Config, workers WorkerDirectory, logger logging.Logger) (*Server, error) {
	if workers == nil {
		return nil, errors.New("server: worker directory is nil")
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = DefaultConfig().PushInterval
	}

	s := &Server{
		cfg:     cfg,
		workers: workers,
		router:  chi.NewRouter(),
		logger:  logger.With(logging.Field{Key: "component", Value: "admin"}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: restrict to the configured admin origin once the API is exposed beyond localhost
				return true
			},
		},
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Options("/workers", s.optionsHandler("GET"))
	r.Options("/workers/{id}", s.optionsHandler("GET, DELETE"))

	r.Get("/healthz", s.handleHealth)

	r.Get("/workers", s.handleListWorkers)
	r.Get("/workers/{id}", s.handleGetWorker)
	r.Delete("/workers/{id}", s.handleStopWorker)

	r.Get("/ws/workers", s.handleWorkersWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	s.logger.Debug("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // allow streaming
	}
}

// ListenAndServe listens on cfg.ListenAddr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("admin api listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := s.HTTPServer()
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("admin api listening", logging.Field{Key: "addr", Value: ln.Addr().String()})
		errc <- hs.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin api shutdown: %w", err)
	}
	return nil
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) snapshot() WorkersSnapshot {
	ws := s.workers.Workers()
	if ws == nil {
		ws = []distributed.ConnectedWorker{}
	}
	return WorkersSnapshot{Time: time.Now().UTC(), Count: len(ws), Workers: ws}
}

// --- HTTP handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: distributed.Version,
		Workers: len(s.workers.Workers()),
	})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot()
	s.logger.Debug("listed workers", logging.Field{Key: "count", Value: snap.Count})
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cw, ok := s.workers.Worker(id)
	if !ok {
		writeError(w, http.StatusNotFound, "worker not found")
		return
	}
	writeJSON(w, http.StatusOK, cw)
}

func (s *Server) handleStopWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.workers.StopWorker(id); err != nil {
		if errors.Is(err, distributed.ErrWorkerNotFound) {
			writeError(w, http.StatusNotFound, "worker not found")
			return
		}
		s.logger.Warn("stopping worker",
			logging.Field{Key: "worker", Value: id},
			logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Info("stop requested", logging.Field{Key: "worker", Value: id})
	writeJSON(w, http.StatusAccepted, StopResponse{WorkerID: id, Stopping: true})
}

// WebSockets

func (s *Server) handleWorkersWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
