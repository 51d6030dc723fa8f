package job

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/spotmp3/webdl/internal/db"
)

func TestHistory_SaveAndList(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbStore, err := db.NewStore(tmpDir)
	if err != nil {
		t.Fatalf("create db store: %v", err)
	}
	defer dbStore.Close()

	history := NewHistory(dbStore, time.Hour)
	store := NewStore(Options{})

	first := store.Create(Params{URL: "https://open.spotify.com/album/1"})
	first.Log.Append("Preparando…")
	first.Finish(0, "/tmp/job.zip")

	time.Sleep(time.Millisecond)
	second := store.Create(Params{URL: "https://open.spotify.com/track/2"})
	second.Finish(2, "")

	running := store.Create(Params{})
	if err := history.Save(running); err == nil {
		t.Error("expected running job to be rejected")
	}

	if err := history.Save(first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := history.Save(second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	rec, err := history.Get(first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.OutputFile != "/tmp/job.zip" {
		t.Errorf("expected output file, got %s", rec.OutputFile)
	}
	if len(rec.Lines) != 1 || rec.Lines[0] != "Preparando…" {
		t.Errorf("unexpected lines: %v", rec.Lines)
	}

	snaps, total, err := history.List(10, 0, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2, got %d", total)
	}
	if snaps[0].ID != second.ID {
		t.Errorf("expected most recent first, got %s", snaps[0].ID)
	}

	failed, total, _ := history.List(10, 0, string(StateError))
	if total != 1 || failed[0].ID != second.ID {
		t.Errorf("expected only the failed job, got %v", failed)
	}

	if _, err := history.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
