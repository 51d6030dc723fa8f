package job

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spotmp3/webdl/internal/logstream"
)

type Options struct {
	// Retention is how long a finished job stays addressable. Zero keeps it forever.
	Retention time.Duration
	// MaxJobs bounds the number of finished jobs kept. Zero means unbounded.
	MaxJobs int
	// DirFor returns the output directory for a new job id.
	DirFor func(id string) string
	// OnEvict runs after a job has been removed from the store.
	OnEvict func(j *Job)
}

type Store struct {
	opts Options

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // creation order
}

func NewStore(opts Options) *Store {
	return &Store{
		opts:  opts,
		jobs:  make(map[string]*Job),
		order: make([]string, 0),
	}
}

// Create registers a new queued job with a fresh identifier.
func (s *Store) Create(p Params) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	for s.jobs[id] != nil {
		id = uuid.NewString()
	}
	if s.opts.DirFor != nil {
		p.OutDir = s.opts.DirFor(id)
	}

	j := newJob(id, p)
	s.jobs[id] = j
	s.order = append(s.order, id)
	return j
}

func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

// Subscribe looks up a job and attaches to its log in one step, so a sweep
// cannot evict the job in between.
func (s *Store) Subscribe(ctx context.Context, id string) (*Job, <-chan logstream.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, j.Log.Subscribe(ctx), nil
}

// Pin looks up a job and holds it against eviction until release is called.
func (s *Store) Pin(id string) (*Job, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, j.AcquireDownload(), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// List returns snapshots newest first, optionally filtered by state.
func (s *Store) List(limit, offset int, state string) ([]Snapshot, int) {
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		jobs = append(jobs, s.jobs[s.order[i]])
	}
	s.mu.RUnlock()

	var filtered []Snapshot
	for _, j := range jobs {
		snap := j.Snapshot()
		if state == "" || string(snap.State) == state {
			filtered = append(filtered, snap)
		}
	}

	total := len(filtered)
	if offset >= total {
		return []Snapshot{}, total
	}

	end := offset + limit
	if end > total {
		end = total
	}

	return filtered[offset:end], total
}

func (s *Store) Stats() (queued, downloading, done, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		switch j.State() {
		case StateQueued:
			queued++
		case StateDownloading:
			downloading++
		case StateDone:
			done++
		case StateError:
			failed++
		}
	}
	return
}

// Sweep evicts finished jobs older than the retention window, then the oldest
// finished jobs while the store holds more than MaxJobs. Jobs that are still
// running, streaming to a subscriber or serving a download are never evicted.
func (s *Store) Sweep(now time.Time) []string {
	type candidate struct {
		id       string
		finished time.Time
	}

	s.mu.Lock()
	var candidates []candidate
	for _, id := range s.order {
		if ok, finished := s.jobs[id].evictable(); ok {
			candidates = append(candidates, candidate{id: id, finished: finished})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].finished.Before(candidates[b].finished)
	})

	drop := make(map[string]bool)
	remaining := len(s.jobs)
	for _, c := range candidates {
		expired := s.opts.Retention > 0 && now.Sub(c.finished) >= s.opts.Retention
		overflow := s.opts.MaxJobs > 0 && remaining > s.opts.MaxJobs
		if expired || overflow {
			drop[c.id] = true
			remaining--
		}
	}

	var evicted []*Job
	if len(drop) > 0 {
		kept := s.order[:0]
		for _, id := range s.order {
			if drop[id] {
				evicted = append(evicted, s.jobs[id])
				delete(s.jobs, id)
				continue
			}
			kept = append(kept, id)
		}
		s.order = kept
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, j := range evicted {
		ids = append(ids, j.ID)
		if s.opts.OnEvict != nil {
			s.opts.OnEvict(j)
		}
	}
	if len(ids) > 0 {
		log.Printf("Evicted %d finished job(s), %d remaining", len(ids), remaining)
	}
	return ids
}
