// Package broker is the local task broker build-less containers claim their
// build task from.
package broker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the Store over HTTP.
type Server struct {
	store *Store
	log   *slog.Logger
}

// NewServer logs through logger as given; callers tag it with their
// component. A nil logger falls back to the default one, tagged "broker".
func NewServer(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "broker")
	}
	return &Server{store: store, log: logger}
}

// Routes returns the broker HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/build/task", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/claim", s.handleClaim)
		r.Get("/{id}", s.handleGet)
	})
	return r
}

// POST /api/build/task
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var spec TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid task body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(spec.AgentID) == "" || strings.TrimSpace(spec.SecretKey) == "" || strings.TrimSpace(spec.ProjectID) == "" {
		http.Error(w, "agentId, secretKey and projectId are required", http.StatusBadRequest)
		return
	}

	task, err := s.store.Enqueue(r.Context(), spec)
	if err != nil {
		s.log.Error("enqueue failed", "error", err)
		http.Error(w, "cannot enqueue task", http.StatusInternalServerError)
		return
	}

	s.log.Info("task enqueued", "task_id", task.ID, "project_id", task.ProjectID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": task.ID, "status": task.Status})
}

// GET /api/build/task/claim?containerId=...
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	containerID := r.URL.Query().Get("containerId")
	if containerID == "" {
		http.Error(w, "containerId is required", http.StatusBadRequest)
		return
	}

	task, ok, err := s.store.Claim(r.Context(), containerID)
	if err != nil {
		s.log.Error("claim failed", "container_id", containerID, "error", err)
		http.Error(w, "cannot claim task", http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.log.Info("task claimed", "task_id", task.ID, "container_id", containerID)
	writeJSON(w, http.StatusOK, task.ClaimFields())
}

// GET /api/build/task/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("get failed", "error", err)
		http.Error(w, "cannot load task", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
