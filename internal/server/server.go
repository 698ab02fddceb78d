// Package server exposes run control and live telemetry over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"netdash/internal/control"
	"netdash/internal/registry"
	"netdash/internal/runner"
	"netdash/internal/storage"
	"netdash/internal/telemetry"
)

const (
	maxRequestBody = 1 << 20
	pingInterval   = 15 * time.Second
)

// History is the read side of the run history.
type History interface {
	List(limit int) ([]storage.Record, error)
	Get(id string) (storage.Record, error)
}

// Server is the HTTP API.
type Server struct {
	mgr     *control.Manager
	history History
	version string
	started time.Time
	mux     *http.ServeMux
}

// New builds the API. history may be nil.
func New(mgr *control.Manager, history History, version string) *Server {
	s := &Server{
		mgr:     mgr,
		history: history,
		version: version,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/limits", s.handleLimits)
	s.mux.HandleFunc("POST /api/runs", s.handleStart)
	s.mux.HandleFunc("GET /api/runs", s.handleList)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleGet)
	s.mux.HandleFunc("POST /api/runs/{id}/stop", s.handleStop)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/history/{id}", s.handleHistoryGet)
}

// Handler returns the API with CORS applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "api listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, runner.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, runner.ErrTargetUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     s.version,
		"status":      "ready",
		"activeRuns":  len(s.mgr.ListActive()),
		"subscribers": s.mgr.Subscribers(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Limits())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req runner.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.mgr.Start(r.Context(), req)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.mgr.ListActive()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Stop(id); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "status": "stopping"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []storage.Record{}})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	items, err := s.history.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": items})
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	rec, err := s.history.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEvents streams events as server-sent events. With ?session=ID the
// stream ends after that session's terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session := r.URL.Query().Get("session")
	sub := s.mgr.Subscribe(session, 0)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			fl.Flush()
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				slog.DebugContext(r.Context(), "event stream closed", slog.Any("error", err))
				return
			}
			fl.Flush()
			if session != "" && e.Type.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, e telemetry.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
