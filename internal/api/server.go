package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/jobs"
	"github.com/Aleksandr071218/wb-parser/internal/observability"
)

// TaskManager is what the server needs from the job manager.
type TaskManager interface {
	Submit(ctx context.Context, req jobs.Request) (jobs.Task, error)
	Status(ctx context.Context, id string) (jobs.Task, error)
}

// Defaults fill in omitted request fields.
type Defaults struct {
	Step        int
	MaxProducts int
}

// Server provides the REST API for submitting crawls and polling them.
type Server struct {
	mux      *http.ServeMux
	port     int
	tasks    TaskManager
	defaults Defaults
	metrics  *observability.Metrics
	srv      *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(port int, tasks TaskManager, defaults Defaults, metrics *observability.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		port:     port,
		tasks:    tasks,
		defaults: defaults,
		metrics:  metrics,
		logger:   logger.With("component", "api_server"),
	}

	s.registerRoutes()
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler { return s.mux }

// Start starts the API server in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Shutdown stops accepting connections and waits for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Tasks
	s.mux.HandleFunc("POST /parse", s.handleParse)
	s.mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

type parseRequest struct {
	URL         string `json:"url"`
	Step        int    `json:"step"`
	MaxProducts int    `json:"max_products"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var body parseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req := jobs.Request{URL: body.URL, Step: body.Step, MaxProducts: body.MaxProducts}
	if req.Step == 0 {
		req.Step = s.defaults.Step
	}
	if req.MaxProducts == 0 {
		req.MaxProducts = s.defaults.MaxProducts
	}

	task, err := s.tasks.Submit(r.Context(), req)
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		s.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, jobs.ErrManagerClosed):
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("submit failed", "url", req.URL, "error", err)
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "could not accept task"})
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"task_id": task.ID,
		"status":  string(task.Status),
	})
}

type taskResponse struct {
	TaskID string      `json:"task_id"`
	Status jobs.Status `json:"status"`
	Result any         `json:"result"`
	Error  string      `json:"error,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.tasks.Status(r.Context(), id)
	if errors.Is(err, jobs.ErrTaskNotFound) {
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", "task_id", id, "error", err)
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "could not load task"})
		return
	}

	resp := taskResponse{TaskID: task.ID, Status: task.Status, Error: task.Error}
	if task.Result != nil {
		resp.Result = task.Result
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
