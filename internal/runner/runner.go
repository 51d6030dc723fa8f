// Package runner executes the download pipeline for each job in its own
// goroutine and turns the pipeline output into job state and log lines.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/spotmp3/webdl/internal/artifact"
	"github.com/spotmp3/webdl/internal/job"
	"github.com/spotmp3/webdl/internal/pipeline"
	"github.com/spotmp3/webdl/internal/progress"
	"github.com/spotmp3/webdl/internal/storage"
)

type Options struct {
	// MaxConcurrent caps running pipelines. Jobs wait in queued state for a
	// slot. Zero means no cap.
	MaxConcurrent int
	// History, when set, receives every finished job.
	History *job.History
}

type Runner struct {
	pipeline pipeline.Pipeline
	files    *storage.Store
	history  *job.History
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(p pipeline.Pipeline, files *storage.Store, opts Options) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		pipeline: p,
		files:    files,
		history:  opts.History,
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return r
}

// Start runs j in the background. It never fails; problems are reported
// through the job state and log.
func (r *Runner) Start(j *job.Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(r.ctx, j)
	}()
}

// Close interrupts running pipelines and waits for their jobs to finish.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

// Run executes j to completion. On return the job is terminal and its log is
// closed.
func (r *Runner) Run(ctx context.Context, j *job.Job) {
	t := newTracker(j, r.files)
	defer j.Log.Close()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("job %s: runner panic: %v", j.ID, rec)
			t.force(fmt.Sprintf("ERROR: fallo interno: %v", rec))
			r.finish(t, job.CodeFault, "")
		}
	}()

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			t.force("ERROR: cancelado antes de empezar")
			r.finish(t, job.CodeFault, "")
			return
		}
		defer r.sem.Release(1)
	}

	j.Begin()
	t.force(progress.LinePreparing)
	log.Printf("job %s: started for %s", j.ID, j.Params.URL)

	if err := r.files.Prepare(j.ID); err != nil {
		t.force("ERROR: " + err.Error())
		r.finish(t, job.CodeFault, "")
		return
	}

	code, err := r.pipeline.Run(ctx, j.Params, t.line)
	if err != nil {
		if errors.Is(err, pipeline.ErrLaunch) {
			log.Printf("job %s: %v", j.ID, err)
		}
		t.force("ERROR: " + err.Error())
		if code == 0 {
			code = job.CodeFault
		}
		r.finish(t, code, "")
		return
	}
	if code != 0 {
		t.force(fmt.Sprintf("ERROR: el proceso terminó con código %d", code))
		r.finish(t, code, "")
		return
	}

	res, err := artifact.Build(r.files, j.ID)
	if err != nil {
		t.force("ERROR: " + err.Error())
		r.finish(t, job.CodeFault, "")
		return
	}
	for _, name := range res.Tracks {
		t.force("Descargado: " + name)
	}
	t.force(fmt.Sprintf("%s: %d pista(s)", progress.LineCompleted, len(res.Tracks)))
	r.finish(t, 0, res.Path)
}

func (r *Runner) finish(t *tracker, code int, resultPath string) {
	j := t.job
	if !j.Finish(code, resultPath) {
		return
	}
	log.Printf("job %s: finished with code %d", j.ID, code)

	if code != 0 || t.errorSeen || t.skippedSeen {
		t.writeJobLog()
	}
	if r.history != nil {
		if err := r.history.Save(j); err != nil {
			log.Printf("job %s: save history: %v", j.ID, err)
		}
	}
}

// tracker holds the per-job parsing state. Its methods are called from one
// goroutine at a time.
type tracker struct {
	job    *job.Job
	files  *storage.Store
	filter progress.Filter

	all         []string
	trackLog    []string
	announced   bool
	botHinted   bool
	errorSeen   bool
	skippedSeen bool
	title       string
}

func newTracker(j *job.Job, files *storage.Store) *tracker {
	return &tracker{
		job:    j,
		files:  files,
		filter: progress.Filter{Verbose: j.Params.Verbose},
	}
}

// force appends a line that is shown regardless of verbosity.
func (t *tracker) force(line string) {
	t.all = append(t.all, line)
	t.job.Log.Append(line)
}

func (t *tracker) line(raw string) {
	line := strings.TrimRight(raw, "\r\n")
	t.all = append(t.all, line)
	t.trackLog = append(t.trackLog, line)
	if t.filter.Live(line) {
		t.job.Log.Append(line)
	}

	ev := progress.Parse(line)
	if ev.Track {
		t.job.Advance(ev.Index, ev.Total, ev.Title)
		t.title = ev.Title
		t.trackLog = []string{strings.TrimSpace(line)}
		if !t.announced {
			t.announced = true
			t.job.Log.Append(progress.LineDownloading)
		}
		return
	}

	switch ev.Outcome {
	case progress.OutcomeSkipped:
		t.skippedSeen = true
		t.job.MarkItem(ev.Outcome)
		t.writeTrackLog()
	case progress.OutcomeError:
		t.errorSeen = true
		t.job.MarkItem(ev.Outcome)
		t.writeTrackLog()
	}

	if ev.BotCheck && !t.botHinted {
		t.botHinted = true
		t.force(progress.LineBotHint)
	}
}

func (t *tracker) writeTrackLog() {
	if t.title == "" {
		return
	}
	content := strings.Join(t.trackLog, "\n") + "\n"
	if _, err := t.files.WriteFile(t.job.ID, t.title+".log.txt", []byte(content)); err != nil {
		log.Printf("job %s: write track log: %v", t.job.ID, err)
	}
}

func (t *tracker) writeJobLog() {
	var b strings.Builder
	for _, l := range t.all {
		if t.filter.Archive(l) {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	if _, err := t.files.WriteFile(t.job.ID, "job_"+t.job.ID+".log.txt", []byte(b.String())); err != nil {
		log.Printf("job %s: write job log: %v", t.job.ID, err)
	}
}
