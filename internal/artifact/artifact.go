// Package artifact turns a finished job directory into one downloadable file.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2"
	"github.com/klauspost/compress/zip"

	"github.com/spotmp3/webdl/internal/storage"
)

// Result describes the artifact of a job.
type Result struct {
	// Path is empty when the job produced no MP3.
	Path string
	// Name is the file name offered to the client.
	Name   string
	Tracks []string
}

// Build collects the MP3s of job id. A single file is served as is; several
// are zipped together with the rest of the job directory.
func Build(store *storage.Store, id string) (Result, error) {
	mp3s, err := store.Files(id, ".mp3")
	if err != nil {
		return Result{}, fmt.Errorf("list mp3 files: %w", err)
	}

	res := Result{Tracks: make([]string, 0, len(mp3s))}
	for _, p := range mp3s {
		res.Tracks = append(res.Tracks, Describe(p))
	}

	switch len(mp3s) {
	case 0:
		return res, nil
	case 1:
		res.Path = mp3s[0]
		res.Name = filepath.Base(mp3s[0])
		return res, nil
	}

	zipPath := store.ArchivePath(id)
	if err := zipDir(store.JobDir(id), zipPath); err != nil {
		return Result{}, err
	}
	res.Path = zipPath
	res.Name = fmt.Sprintf("spotify_mp3_%s.zip", id)
	return res, nil
}

// Describe returns "Artist - Title" from the ID3 tag of path, falling back to
// the file name.
func Describe(path string) string {
	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fallback
	}
	defer tag.Close()

	artist, title := tag.Artist(), tag.Title()
	switch {
	case artist != "" && title != "":
		return artist + " - " + title
	case title != "":
		return title
	}
	return fallback
}

func zipDir(srcDir, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".webdl-zip-*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	zw := zip.NewWriter(tmp)
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, filepath.ToSlash(rel), info)
	})
	if err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", dst, err)
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string, info os.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	// MP3 data does not compress; store it.
	if strings.EqualFold(filepath.Ext(name), ".mp3") {
		hdr.Method = zip.Store
	} else {
		hdr.Method = zip.Deflate
	}

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
