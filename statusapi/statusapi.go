// Package statusapi serves read-only run status over HTTP for the operator
// console: registry stats, per-file state, journal events and the summary
// documents. It binds to localhost; the vendor machine is not a server.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/capflow/observability"
	"github.com/hazyhaar/capflow/registry"
)

// Config wires the API's data sources. Journal and the summary paths are
// optional; endpoints without a source answer 404.
type Config struct {
	Registry       *registry.Registry
	Journal        *observability.Journal
	CSVSummaryPath string
	ETLSummaryPath string
	Logger         *slog.Logger
}

// Server is the read-only status API.
type Server struct {
	cfg  Config
	http *http.Server
}

// NewServer builds the API around its sources.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("statusapi: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg}, nil
}

// Router returns the chi router so tests can drive it without a listener.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/files", s.handleFiles)
		r.Get("/file", s.handleFile)
		r.Get("/events", s.handleEvents)
		r.Get("/summary/csv", s.handleSummaryFile(s.cfg.CSVSummaryPath))
		r.Get("/summary/etl", s.handleSummaryFile(s.cfg.ETLSummaryPath))
	})
	return r
}

// Serve runs the API on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info("statusapi: listening", "addr", addr)
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Registry.Stats())
}

func (s *Server) handleFiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Registry.Entries())
}

// handleFile looks one entry up by absolute path. Paths carry slashes, so
// they travel as a query parameter rather than a route segment.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path parameter required")
		return
	}
	entry, ok := s.cfg.Registry.Get(path)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown file")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeError(w, http.StatusNotFound, "journal not configured")
		return
	}
	q := r.URL.Query()
	filter := &observability.EventFilter{
		Path: q.Get("path"),
		Type: q.Get("type"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	events, err := s.cfg.Journal.Query(r.Context(), filter)
	if err != nil {
		s.cfg.Logger.Error("statusapi: event query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleSummaryFile serves a summary document straight from disk; the
// reporter already persists them as JSON.
func (s *Server) handleSummaryFile(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if path == "" {
			writeError(w, http.StatusNotFound, "summary not configured")
			return
		}
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "summary not generated yet")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "summary unreadable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
