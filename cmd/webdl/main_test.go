package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/spotmp3/webdl/internal/api"
	"github.com/spotmp3/webdl/internal/config"
	"github.com/spotmp3/webdl/internal/job"
	"github.com/spotmp3/webdl/internal/pipeline"
	"github.com/spotmp3/webdl/internal/runner"
	"github.com/spotmp3/webdl/internal/storage"
)

func TestShutdown_EndsOpenLogStreams(t *testing.T) {
	files, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	jobs := job.NewStore(job.Options{DirFor: files.JobDir})

	started := make(chan struct{})
	p := pipeline.Func(func(ctx context.Context, params job.Params, emit func(string)) (int, error) {
		close(started)
		<-ctx.Done()
		return job.CodeFault, ctx.Err()
	})
	jobRunner := runner.New(p, files, runner.Options{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := newServer(ln.Addr().String(), api.NewRouter(config.Default(), jobs, jobRunner), jobRunner)
	go server.Serve(ln)
	base := "http://" + ln.Addr().String()

	resp, err := http.PostForm(base+"/start", url.Values{"url": {"u"}})
	if err != nil {
		t.Fatalf("post start: %v", err)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never started")
	}

	stream, err := http.Get(base + "/logs/" + body["job_id"])
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer stream.Body.Close()

	ended := make(chan bool, 1)
	go func() {
		sc := bufio.NewScanner(stream.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "event: end") {
				ended <- true
				return
			}
		}
		ended <- false
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	begin := time.Now()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 3*time.Second {
		t.Errorf("shutdown waited %s for the open stream", elapsed)
	}

	select {
	case ok := <-ended:
		if !ok {
			t.Error("expected end event before the stream closed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream never ended")
	}

	jobRunner.Close()
	j, err := jobs.Get(body["job_id"])
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.State() != job.StateError {
		t.Errorf("expected interrupted job in error state, got %s", j.State())
	}
}
