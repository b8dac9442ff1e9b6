// Package api exposes an Engine over REST + SSE, grounded on
// project-tachyon's ControlServer (internal/api/server.go) for the
// chi router/middleware shape, adapted from its localhost-only +
// custom-header token check to a standard "Authorization: Bearer"
// scheme per spec.md §1's "optional bearer auth", and on teal33t's
// RemoteDownloadService (internal/core/remote_service.go) for the SSE
// event-type/frame wire format its own connectSSE parses.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/surge-downloader/surge/internal/engine"
	"github.com/surge-downloader/surge/internal/engine/model"
	"github.com/surge-downloader/surge/internal/engine/task"
)

// Server is the daemon's HTTP surface over one Engine.
type Server struct {
	engine *engine.Engine
	token  string
	router *chi.Mux
}

// New builds a Server. An empty token disables the bearer-auth
// middleware entirely (spec.md §1: auth is optional).
func New(eng *engine.Engine, token string) *Server {
	s := &Server{engine: eng, token: token, router: chi.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	if s.token != "" {
		s.router.Use(s.bearerAuth)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Post("/download", s.handleCreate)
	s.router.Get("/download", s.handleGetByQuery)
	s.router.Delete("/download", s.handleDeleteByQuery)
	s.router.Get("/list", s.handleList)
	s.router.Get("/history", s.handleHistory)
	s.router.Post("/pause", s.handlePauseByQuery)
	s.router.Post("/resume", s.handleResumeByQuery)
	s.router.Post("/cancel", s.handleCancelByQuery)
	s.router.Get("/tasks/{id}", s.handleGetTask)
	s.router.Post("/tasks/{id}/speed-limit", s.handleSpeedLimit)
	s.router.Post("/tasks/{id}/connections", s.handleConnections)
	s.router.Post("/tasks/{id}/priority", s.handlePriority)
	s.router.Post("/tasks/{id}/reschedule", s.handleReschedule)
	s.router.Post("/global/speed-limit", s.handleGlobalSpeedLimit)
	s.router.Get("/events", s.handleEvents)
}

// bearerAuth checks "Authorization: Bearer <token>" against the
// configured token, returning 401 on mismatch, adapted from the
// teacher's securityMiddleware token check.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || auth[len(prefix):] != s.token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	URL             string                 `json:"url"`
	Destination     string                 `json:"destination,omitempty"`
	Connections     int                    `json:"connections,omitempty"`
	Headers         map[string]string      `json:"headers,omitempty"`
	Priority        *int                   `json:"priority,omitempty"`
	SpeedLimit      string                 `json:"speedLimit,omitempty"`
	SelectedFileIDs []string               `json:"selectedFileIds,omitempty"`
	Schedule        *model.DownloadSchedule `json:"schedule,omitempty"`
	Conditions      []model.Condition      `json:"conditions,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	priority := model.PriorityNormal
	if req.Priority != nil {
		priority = model.Priority(*req.Priority)
	}
	id, err := s.engine.Submit(model.DownloadRequest{
		URL:             req.URL,
		Destination:     req.Destination,
		Connections:     req.Connections,
		Headers:         req.Headers,
		Priority:        priority,
		SpeedLimit:      req.SpeedLimit,
		SelectedFileIDs: req.SelectedFileIDs,
		Schedule:        req.Schedule,
		Conditions:      req.Conditions,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetByQuery(w http.ResponseWriter, r *http.Request) {
	s.writeTaskStatus(w, r.URL.Query().Get("id"))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	s.writeTaskStatus(w, chi.URLParam(r, "id"))
}

func (s *Server) writeTaskStatus(w http.ResponseWriter, id string) {
	t, ok := s.engine.Task(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, taskStatus(t))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tasks := s.engine.List()
	out := make([]statusView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskStatus(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	tasks := s.engine.List()
	out := make([]statusView, 0)
	for _, t := range tasks {
		if t.State().IsTerminal() {
			out = append(out, taskStatus(t))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePauseByQuery(w http.ResponseWriter, r *http.Request) {
	s.withTask(w, r.URL.Query().Get("id"), func(t *task.Task) { t.Pause() })
}

func (s *Server) handleResumeByQuery(w http.ResponseWriter, r *http.Request) {
	s.withTask(w, r.URL.Query().Get("id"), func(t *task.Task) { t.Resume("") })
}

func (s *Server) handleCancelByQuery(w http.ResponseWriter, r *http.Request) {
	s.withTask(w, r.URL.Query().Get("id"), func(t *task.Task) { t.Cancel() })
}

func (s *Server) handleDeleteByQuery(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	deleteFile := r.URL.Query().Get("deleteFile") == "true"
	s.withTask(w, id, func(t *task.Task) { t.Remove(deleteFile) })
}

type speedLimitRequest struct {
	SpeedLimit string `json:"speedLimit"`
}

func (s *Server) handleSpeedLimit(w http.ResponseWriter, r *http.Request) {
	var req speedLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.withTask(w, chi.URLParam(r, "id"), func(t *task.Task) { t.SetSpeedLimit(req.SpeedLimit) })
}

type connectionsRequest struct {
	Connections int `json:"connections"`
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	var req connectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.withTask(w, chi.URLParam(r, "id"), func(t *task.Task) { t.SetConnections(req.Connections) })
}

type priorityRequest struct {
	Priority int `json:"priority"`
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.withTask(w, chi.URLParam(r, "id"), func(t *task.Task) { t.SetPriority(model.Priority(req.Priority)) })
}

type rescheduleRequest struct {
	Schedule   *model.DownloadSchedule `json:"schedule"`
	Conditions []model.Condition       `json:"conditions"`
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.withTask(w, chi.URLParam(r, "id"), func(t *task.Task) { t.Reschedule(req.Schedule, req.Conditions) })
}

type globalSpeedLimitRequest struct {
	BytesPerSecond int64 `json:"bytesPerSecond"`
}

func (s *Server) handleGlobalSpeedLimit(w http.ResponseWriter, r *http.Request) {
	var req globalSpeedLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.engine.SetGlobalSpeedLimit(req.BytesPerSecond)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) withTask(w http.ResponseWriter, id string, fn func(*task.Task)) {
	t, ok := s.engine.Task(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	fn(t)
	w.WriteHeader(http.StatusOK)
}

// handleEvents streams the engine-wide activity feed as named SSE frames
// ("event: <type>\ndata: <json>\n\n"), the exact framing teal33t's
// connectSSE already knows how to parse.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.engine.Events()
	defer unsubscribe()

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(eventPayload(ev))
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + ev.Type + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func eventPayload(ev engine.Event) map[string]any {
	out := map[string]any{"taskId": ev.TaskID}
	switch ev.Type {
	case "progress":
		out["progress"] = ev.Progress
	case "error":
		out["error"] = ev.Err
	default:
		out["state"] = ev.State
	}
	return out
}

type statusView struct {
	ID       string              `json:"id"`
	State    model.ObservedState `json:"state"`
	Segments []model.Segment     `json:"segments"`
}

func taskStatus(t *task.Task) statusView {
	return statusView{ID: t.ID(), State: t.State(), Segments: t.Segments()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

