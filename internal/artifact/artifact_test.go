package artifact

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/bogem/id3v2"
	"github.com/klauspost/compress/zip"

	"github.com/spotmp3/webdl/internal/storage"
)

func newJobDir(t *testing.T) (*storage.Store, string) {
	t.Helper()
	store, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if err := store.Prepare("j1"); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return store, store.JobDir("j1")
}

func writeTagged(t *testing.T, path, artist, title string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("not really audio"), 0644); err != nil {
		t.Fatalf("write mp3: %v", err)
	}
	tag, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		t.Fatalf("open tag: %v", err)
	}
	tag.SetArtist(artist)
	tag.SetTitle(title)
	if err := tag.Save(); err != nil {
		t.Fatalf("save tag: %v", err)
	}
	tag.Close()
}

func TestBuild_NoFiles(t *testing.T) {
	store, _ := newJobDir(t)

	res, err := Build(store, "j1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Path != "" {
		t.Errorf("expected no artifact, got %s", res.Path)
	}
}

func TestBuild_SingleFile(t *testing.T) {
	store, dir := newJobDir(t)
	path := filepath.Join(dir, "Daft Punk - One More Time.mp3")
	writeTagged(t, path, "Daft Punk", "One More Time")

	res, err := Build(store, "j1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Path != path {
		t.Errorf("expected %s, got %s", path, res.Path)
	}
	if res.Name != "Daft Punk - One More Time.mp3" {
		t.Errorf("unexpected name %s", res.Name)
	}
	if len(res.Tracks) != 1 || res.Tracks[0] != "Daft Punk - One More Time" {
		t.Errorf("unexpected tracks %v", res.Tracks)
	}
}

func TestBuild_ZipsMultipleFiles(t *testing.T) {
	store, dir := newJobDir(t)
	album := filepath.Join(dir, "Discovery")
	os.MkdirAll(album, 0755)
	writeTagged(t, filepath.Join(album, "01 a.mp3"), "Daft Punk", "One More Time")
	os.WriteFile(filepath.Join(album, "02 b.mp3"), []byte("untagged"), 0644)

	res, err := Build(store, "j1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Path != store.ArchivePath("j1") {
		t.Errorf("expected archive path, got %s", res.Path)
	}
	if res.Name != "spotify_mp3_j1.zip" {
		t.Errorf("unexpected name %s", res.Name)
	}
	if len(res.Tracks) != 2 || res.Tracks[1] != "02 b" {
		t.Errorf("unexpected tracks %v", res.Tracks)
	}

	zr, err := zip.OpenReader(res.Path)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "Discovery/01 a.mp3" || names[1] != "Discovery/02 b.mp3" {
		t.Errorf("unexpected zip entries %v", names)
	}
}
