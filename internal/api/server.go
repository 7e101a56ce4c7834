// Package api provides the thin HTTP control-API framing over
// internal/control, deliberately kept minimal since spec.md §1 puts "all
// HTTP/web framing" out of core scope. Grounded on internal/api/
// server.go's http.ServeMux + Go 1.22 method+path routing + jsonResponse
// helper, re-pointed at task endpoints (plus a stall-cleanup endpoint)
// instead of crawl-job endpoints. Schedules have no HTTP endpoints.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/areascope/areascope/internal/control"
	"github.com/areascope/areascope/internal/types"
)

// Server exposes internal/control over HTTP.
type Server struct {
	mux    *http.ServeMux
	port   int
	logger *slog.Logger
	ctrl   *control.Control
}

// NewServer wires routes against ctrl.
func NewServer(port int, ctrl *control.Control, logger *slog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		port:   port,
		logger: logger.With("component", "api_server"),
		ctrl:   ctrl,
	}
	s.registerRoutes()
	return s
}

// Start begins serving in the background and returns immediately.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	go func() {
		if err := http.ListenAndServe(addr, s.mux); err != nil {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/tasks/serial", s.handleStartSerial)
	s.mux.HandleFunc("POST /api/tasks/parallel", s.handleStartParallel)
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetStatus)
	s.mux.HandleFunc("POST /api/tasks/{id}/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/tasks/{id}/resume", s.handleResume)
	s.mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/tasks/{id}/logs", s.handleLogDiff)

	s.mux.HandleFunc("POST /api/cleanup", s.handleForceCleanup)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequestBody struct {
	Scrapers           []string `json:"scrapers"`
	Areas              []string `json:"areas"`
	MaxProperties      int      `json:"max_properties"`
	ForceDetailFetch   bool     `json:"force_detail_fetch"`
	DetailRefetchHours *int     `json:"detail_refetch_hours"`
	IgnoreErrorHistory bool     `json:"ignore_error_history"`
}

func (s *Server) handleStartSerial(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStartRequest(r)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	task, err := s.ctrl.StartSerial(r.Context(), req)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, task)
}

func (s *Server) handleStartParallel(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStartRequest(r)
	if err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	task, err := s.ctrl.StartParallel(r.Context(), req)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, task)
}

func decodeStartRequest(r *http.Request) (control.StartRequest, error) {
	var body startRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return control.StartRequest{}, err
	}
	return control.StartRequest{
		Scrapers:           body.Scrapers,
		Areas:              body.Areas,
		MaxProperties:      body.MaxProperties,
		ForceDetailFetch:   body.ForceDetailFetch,
		DetailRefetchHours: body.DetailRefetchHours,
		IgnoreErrorHistory: body.IgnoreErrorHistory,
	}, nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	tasks, err := s.ctrl.ListTasks(r.Context(), activeOnly)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, tasks)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.ctrl.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, task)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Pause(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Resume(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogDiff(w http.ResponseWriter, r *http.Request) {
	var since sql.NullTime
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid since timestamp"})
			return
		}
		since = sql.NullTime{Time: t, Valid: true}
	}
	diff, err := s.ctrl.ReadLogDiff(r.Context(), r.PathValue("id"), since)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, diff)
}

func (s *Server) handleForceCleanup(w http.ResponseWriter, r *http.Request) {
	promoted := s.ctrl.ForceCleanup(r.Context())
	s.jsonResponse(w, http.StatusOK, map[string]int{"promoted": promoted})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	var invalidArg *types.InvalidArgumentError
	switch {
	case errors.As(err, &invalidArg):
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, types.ErrNotFound):
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, types.ErrInvalidState):
		s.jsonResponse(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, types.ErrConflict):
		s.jsonResponse(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("unexpected control error", "error", err)
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
