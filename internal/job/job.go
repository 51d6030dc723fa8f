package job

import (
	"errors"
	"sync"
	"time"

	"github.com/spotmp3/webdl/internal/logstream"
	"github.com/spotmp3/webdl/internal/progress"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrNotReady = errors.New("job not finished")
)

// CodeFault is the return code recorded when the pipeline could not be
// launched or the runner itself failed.
const CodeFault = -1

type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateDone        State = "done"
	StateError       State = "error"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

type Credentials struct {
	Username  string
	Password  string
	TwoFactor string
	UseNetrc  bool
}

type Params struct {
	URL     string
	OutDir  string
	Trim    bool
	Verbose bool
	Auth    *Credentials
}

// Job is the in-memory record of one download run. Only the runner that owns
// the job mutates it; everyone else reads through Snapshot.
type Job struct {
	ID        string
	Params    Params
	CreatedAt time.Time
	Log       *logstream.Log

	mu           sync.RWMutex
	state        State
	lastStatus   progress.Outcome
	currentIndex int
	total        int
	currentTitle string
	returnCode   *int
	resultPath   string
	completedAt  time.Time
	downloads    int
}

func newJob(id string, p Params) *Job {
	return &Job{
		ID:        id,
		Params:    p,
		CreatedAt: time.Now().UTC(),
		Log:       logstream.New(),
		state:     StateQueued,
	}
}

// Snapshot is a consistent point-in-time copy of a job.
type Snapshot struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	OutDir       string     `json:"out_dir"`
	Trim         bool       `json:"trim"`
	Verbose      bool       `json:"verbose"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	State        State      `json:"state"`
	Running      bool       `json:"running"`
	ReturnCode   *int       `json:"returncode"`
	OutputFile   string     `json:"output_file"`
	CurrentTitle string     `json:"current_title"`
	CurrentIndex int        `json:"current_index"`
	Total        int        `json:"total"`
	LastStatus   string     `json:"last_status"`
	Percent      int        `json:"percent"`
}

func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:           j.ID,
		URL:          j.Params.URL,
		OutDir:       j.Params.OutDir,
		Trim:         j.Params.Trim,
		Verbose:      j.Params.Verbose,
		CreatedAt:    j.CreatedAt,
		State:        j.state,
		Running:      j.returnCode == nil,
		OutputFile:   j.resultPath,
		CurrentTitle: j.currentTitle,
		CurrentIndex: j.currentIndex,
		Total:        j.total,
		LastStatus:   string(j.lastStatus),
		Percent:      progress.Percent(j.currentIndex, j.total, j.state == StateDone),
	}
	if j.returnCode != nil {
		rc := *j.returnCode
		s.ReturnCode = &rc
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		s.CompletedAt = &t
	}
	return s
}

func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Begin moves a queued job to downloading.
func (j *Job) Begin() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateQueued {
		return false
	}
	j.state = StateDownloading
	return true
}

// Advance records a track header. The index never moves backwards and never
// exceeds the total.
func (j *Job) Advance(index, total int, title string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() || index < 0 || total < 0 || index > total {
		return false
	}
	if index < j.currentIndex {
		return false
	}
	j.currentIndex = index
	j.total = total
	j.currentTitle = title
	j.lastStatus = progress.OutcomeDownloading
	return true
}

// MarkItem records the outcome of the current track.
func (j *Job) MarkItem(o progress.Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() || o == progress.OutcomeNone {
		return
	}
	j.lastStatus = o
}

// Finish sets the return code and the terminal state. The first call wins.
func (j *Job) Finish(code int, resultPath string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.returnCode != nil {
		return false
	}
	rc := code
	j.returnCode = &rc
	j.completedAt = time.Now().UTC()
	if code == 0 {
		j.state = StateDone
		j.lastStatus = "done"
		j.resultPath = resultPath
	} else {
		j.state = StateError
		j.lastStatus = progress.OutcomeError
	}
	return true
}

// ResultPath returns the artifact location, ErrNotReady while the job runs,
// or ErrNotFound when it finished without one.
func (j *Job) ResultPath() (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.returnCode == nil {
		return "", ErrNotReady
	}
	if j.resultPath == "" {
		return "", ErrNotFound
	}
	return j.resultPath, nil
}

// AcquireDownload pins the job against eviction while its artifact is served.
func (j *Job) AcquireDownload() func() {
	j.mu.Lock()
	j.downloads++
	j.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			j.mu.Lock()
			j.downloads--
			j.mu.Unlock()
		})
	}
}

// evictable reports whether the job may be dropped as of now.
func (j *Job) evictable() (bool, time.Time) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.state.Terminal() || j.downloads > 0 {
		return false, time.Time{}
	}
	// The runner closes the log only after its last write to the job dir.
	if !j.Log.Closed() || j.Log.Subscribers() > 0 {
		return false, time.Time{}
	}
	return true, j.completedAt
}
