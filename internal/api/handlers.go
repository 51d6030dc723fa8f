package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spotmp3/webdl/internal/config"
	"github.com/spotmp3/webdl/internal/job"
	"github.com/spotmp3/webdl/internal/pipeline"
)

var startTime = time.Now()

type Handlers struct {
	cfg       *config.Config
	jobs      *job.Store
	runner    Starter
	history   *job.History
	probe     func() pipeline.DependencyReport
	keepAlive time.Duration
}

func NewHandlers(cfg *config.Config, jobs *job.Store, runner Starter) *Handlers {
	return &Handlers{cfg: cfg, jobs: jobs, runner: runner, keepAlive: 10 * time.Second}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"version":        "0.1.0",
		"uptime_seconds": int(time.Since(startTime).Seconds()),
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	queued, downloading, done, failed := h.jobs.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"jobs": map[string]int{
			"queued":      queued,
			"downloading": downloading,
			"done":        done,
			"failed":      failed,
		},
	})
}

func (h *Handlers) Dependencies(w http.ResponseWriter, r *http.Request) {
	if h.probe == nil {
		writeJSON(w, http.StatusOK, pipeline.DependencyReport{})
		return
	}
	writeJSON(w, http.StatusOK, h.probe())
}

func formBool(r *http.Request, key string) bool {
	switch strings.ToLower(strings.TrimSpace(r.FormValue(key))) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// StartJob creates a job from the submitted form and hands it to the runner.
// It succeeds as soon as the job exists; pipeline failures show up later in
// the job status and log.
func (h *Handlers) StartJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
		return
	}

	url := strings.TrimSpace(r.FormValue("url"))
	if url == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	params := job.Params{
		URL:     url,
		Trim:    formBool(r, "trim"),
		Verbose: formBool(r, "verbose"),
	}
	if formBool(r, "use_auth") {
		params.Auth = &job.Credentials{
			Username:  strings.TrimSpace(r.FormValue("username")),
			Password:  r.FormValue("password"),
			TwoFactor: strings.TrimSpace(r.FormValue("twofactor")),
			UseNetrc:  formBool(r, "usenetrc"),
		}
	}

	j := h.jobs.Create(params)
	h.runner.Start(j)

	writeJSON(w, http.StatusOK, map[string]string{"job_id": j.ID})
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, release, err := h.jobs.Pin(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	defer release()

	path, err := j.ResultPath()
	switch {
	case errors.Is(err, job.ErrNotReady):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job still running"})
		return
	case err != nil:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no mp3 produced for this job"})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	name := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		name = "spotify_mp3_" + j.ID + ".zip"
	}

	// Large artifacts outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func paging(r *http.Request) (limit, offset int, state string) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	state = r.URL.Query().Get("state")
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, state
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, state := paging(r)

	jobs, total := h.jobs.List(limit, offset, state)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	limit, offset, state := paging(r)

	jobs, total, err := h.history.List(limit, offset, state)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	rec, err := h.history.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
