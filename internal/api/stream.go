package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// StreamLogs serves the job log as server-sent events. Every subscriber gets
// the whole log from the first line. Comment frames keep idle connections
// open; they carry no sequence number. The stream ends with an "end" event
// once the job finished and its log has been sent.
func (h *Handlers) StreamLogs(w http.ResponseWriter, r *http.Request) {
	_, entries, err := h.jobs.Subscribe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				if r.Context().Err() != nil {
					return
				}
				fmt.Fprint(w, "event: end\ndata: end\n\n")
				_ = rc.Flush()
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", e.Seq, e.Line); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
