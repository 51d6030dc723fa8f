package job

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spotmp3/webdl/internal/db"
)

const historyNamespace = "webdl/"

// Record is what survives of a job after it finished.
type Record struct {
	Snapshot
	Lines []string `json:"lines,omitempty"`
}

// History persists finished jobs so they can be listed after eviction or a
// restart. Entries expire after ttl.
type History struct {
	dbStore *db.Store
	ttl     time.Duration
}

func NewHistory(dbStore *db.Store, ttl time.Duration) *History {
	return &History{dbStore: dbStore, ttl: ttl}
}

func (h *History) Save(j *Job) error {
	snap := j.Snapshot()
	if snap.ReturnCode == nil {
		return fmt.Errorf("job %s still running", j.ID)
	}

	data, err := json.Marshal(Record{Snapshot: snap, Lines: j.Log.Lines()})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	key := fmt.Sprintf("jobs/%s", j.ID)
	if err := h.dbStore.Set(historyNamespace, key, data, h.ttl); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

func (h *History) Get(id string) (*Record, error) {
	data, err := h.dbStore.Get(historyNamespace, fmt.Sprintf("jobs/%s", id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &rec, nil
}

// List returns snapshots most recent first, without their log lines.
func (h *History) List(limit, offset int, state string) ([]Snapshot, int, error) {
	var all []Snapshot
	err := h.dbStore.Scan(historyNamespace, "jobs/", func(key string, value []byte) error {
		if strings.TrimPrefix(key, "jobs/") == "" {
			return nil
		}
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		if state == "" || string(rec.State) == state {
			all = append(all, rec.Snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(a, b int) bool {
		return all[a].CreatedAt.After(all[b].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []Snapshot{}, total, nil
	}

	end := offset + limit
	if end > total {
		end = total
	}

	return all[offset:end], total, nil
}
