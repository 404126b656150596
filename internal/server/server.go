// Package server exposes text-to-3D generation over HTTP, streaming progress as SSE.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go-meshy-generate/internal/api"
	"go-meshy-generate/internal/batch"
	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/pipeline"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// BatchRunner runs a batch of generations. *pipeline.Coordinator implements it.
type BatchRunner interface {
	Run(ctx context.Context, reqs []pipeline.RunRequest, sink pipeline.ProgressSink) ([]models.RunSummary, error)
}

// TaskLookup fetches one remote task. *api.Client implements it.
type TaskLookup interface {
	GetTask(ctx context.Context, taskID string) (models.TaskEvent, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	Runner BatchRunner
	Tasks  TaskLookup
	// Generate fills parameters a request leaves unset.
	Generate models.GenerateConfig
}

// New creates a Server.
func New(runner BatchRunner, tasks TaskLookup) *Server {
	return &Server{Runner: runner, Tasks: tasks}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, requestLogger)

	r.Get("/v1/healthz", s.health)
	r.Route("/v1/text-to-3d", func(r chi.Router) {
		r.Post("/", s.generate)
		r.Get("/{id}", s.getTask)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.WithFields(log.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Info("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.Tasks.GetTask(r.Context(), id)
	if err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, api.ErrNotFound):
			code = http.StatusNotFound
		case errors.Is(err, api.ErrUnauthorized):
			code = http.StatusUnauthorized
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type progressEvent struct {
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

type resultEvent struct {
	Message string              `json:"message"`
	Runs    []models.RunSummary `json:"runs"`
}

type errorEvent struct {
	Error string              `json:"error"`
	Runs  []models.RunSummary `json:"runs,omitempty"`
}

// eventWriter serializes SSE frames onto one response.
type eventWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	broken  bool
}

func (e *eventWriter) send(name string, v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Errorf("Failed to encode %s event", name)
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		log.WithError(err).Debug("Client went away, dropping further events")
		e.broken = true
		return
	}
	e.flusher.Flush()
}

// generate accepts a batch and streams its progress. Accepted runs keep going
// when the client disconnects.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var file batch.File
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&file); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
		return
	}
	reqs, err := file.WithConfig(s.Generate).RunRequests()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := &eventWriter{w: w, flusher: flusher}
	sink := pipeline.ProgressSinkFunc(func(percent float64, message string) {
		events.send("progress", progressEvent{Percent: percent, Message: message})
	})

	logger := log.WithField("request_id", middleware.GetReqID(r.Context()))
	logger.Infof("Accepted %d generation(s)", len(reqs))

	summaries, err := s.Runner.Run(context.WithoutCancel(r.Context()), reqs, sink)
	if err != nil {
		logger.WithError(err).Error("Batch finished with errors")
		events.send("error", errorEvent{Error: err.Error(), Runs: summaries})
		return
	}
	events.send("result", resultEvent{Message: pipeline.SuccessMessage(summaries), Runs: summaries})
}
