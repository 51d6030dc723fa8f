// Package ws streams job logs over WebSocket as an alternative to the
// server-sent events endpoint.
package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/spotmp3/webdl/internal/job"
)

type Server struct {
	jobs      *job.Store
	keepAlive time.Duration
}

func NewServer(jobs *job.Store, keepAlive time.Duration) *Server {
	if keepAlive <= 0 {
		keepAlive = 10 * time.Second
	}
	return &Server{jobs: jobs, keepAlive: keepAlive}
}

// HandleLogs replays the job log from the first line, follows it until the
// job finishes and then sends a final "end" message.
func (s *Server) HandleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.jobs.Get(id); err != nil {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Allow all origins
	})
	if err != nil {
		log.Printf("WebSocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	j, entries, err := s.jobs.Subscribe(ctx, id)
	if err != nil {
		wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Error: "job not found"})
		conn.Close(websocket.StatusPolicyViolation, "job not found")
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				snap := j.Snapshot()
				end := EndMessage{
					Type:       "end",
					JobID:      j.ID,
					State:      string(snap.State),
					ReturnCode: snap.ReturnCode,
				}
				if err := s.write(ctx, conn, end); err != nil {
					return
				}
				conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			if err := s.write(ctx, conn, LogMessage{Type: "log", Seq: e.Seq, Line: e.Line}); err != nil {
				if websocket.CloseStatus(err) == -1 {
					log.Printf("WebSocket write error for job %s: %v", id, err)
				}
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg any) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}
