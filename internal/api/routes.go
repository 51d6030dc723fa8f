package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/spotmp3/webdl/internal/config"
	"github.com/spotmp3/webdl/internal/job"
	"github.com/spotmp3/webdl/internal/pipeline"
	"github.com/spotmp3/webdl/internal/ws"
)

// Starter launches the pipeline for a newly created job.
type Starter interface {
	Start(j *job.Job)
}

func NewRouter(cfg *config.Config, jobs *job.Store, runner Starter) http.Handler {
	return NewRouterWithHistory(cfg, jobs, runner, nil, nil)
}

func NewRouterWithHistory(cfg *config.Config, jobs *job.Store, runner Starter, history *job.History, probe func() pipeline.DependencyReport) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	keepAlive := cfg.KeepAliveInterval
	if keepAlive <= 0 {
		keepAlive = 10 * time.Second
	}

	h := NewHandlers(cfg, jobs, runner)
	h.history = history
	h.probe = probe
	h.keepAlive = keepAlive

	wsServer := ws.NewServer(jobs, keepAlive)

	// Health & Info
	r.Get("/", h.Info)
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)

	// Jobs
	r.Post("/start", h.StartJob)
	r.Get("/status/{id}", h.Status)
	r.Get("/logs/{id}", h.StreamLogs)
	r.Get("/download/{id}", h.Download)

	r.Get("/api/ffmpeg", h.Dependencies)
	r.Get("/api/jobs", h.ListJobs)
	r.Route("/api/history", func(r chi.Router) {
		r.Get("/", h.ListHistory)
		r.Get("/{id}", h.GetHistory)
	})

	// WebSocket
	r.Get("/ws/logs/{id}", wsServer.HandleLogs)

	return r
}
