// Package storage lays out per-job output directories under the downloads root.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var reUnsafe = regexp.MustCompile(`[\\/:*?"<>|]`)

type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) JobDir(id string) string {
	return filepath.Join(s.baseDir, "job_"+id)
}

// ArchivePath is where the zip of a multi-track job is written.
func (s *Store) ArchivePath(id string) string {
	return filepath.Join(s.baseDir, "job_"+id+".zip")
}

func (s *Store) Prepare(id string) error {
	if err := os.MkdirAll(s.JobDir(id), 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	return nil
}

// SanitizeFilename replaces characters that are not allowed in file names.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(reUnsafe.ReplaceAllString(name, "_"))
	if name == "" || name == "." || name == ".." {
		return "track"
	}
	return name
}

func (s *Store) filePath(id, name string) (string, error) {
	dir := s.JobDir(id)
	fullPath := filepath.Join(dir, name)

	rel, err := filepath.Rel(dir, fullPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}

	return fullPath, nil
}

// WriteFile stores content as name inside the job directory.
func (s *Store) WriteFile(id, name string, content []byte) (string, error) {
	fullPath, err := s.filePath(id, SanitizeFilename(name))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fullPath, nil
}

// Files lists files in the job directory whose extension matches ext,
// case-insensitively, sorted by path.
func (s *Store) Files(id, ext string) ([]string, error) {
	dir := s.JobDir(id)

	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if ext == "" || strings.EqualFold(filepath.Ext(path), ext) {
			files = append(files, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}

	sort.Strings(files)
	return files, err
}

// Remove deletes the job directory and its archive.
func (s *Store) Remove(id string) error {
	if err := os.RemoveAll(s.JobDir(id)); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	if err := os.Remove(s.ArchivePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive: %w", err)
	}
	return nil
}
