package pipeline

import (
	"os/exec"
	"path/filepath"
)

type DependencyReport struct {
	FFmpegFound   bool   `json:"ffmpeg"`
	FFmpegPath    string `json:"ffmpeg_path,omitempty"`
	PipelineFound bool   `json:"pipeline"`
	PipelinePath  string `json:"pipeline_path,omitempty"`
}

// DependencyStatus reports whether ffmpeg and the pipeline program can be found.
func (c *Command) DependencyStatus() DependencyReport {
	report := DependencyReport{}
	if c.FFmpegDir != "" {
		local := filepath.Join(c.FFmpegDir, "ffmpeg")
		if path, err := exec.LookPath(local); err == nil {
			report.FFmpegFound = true
			report.FFmpegPath = path
		}
	}
	if !report.FFmpegFound {
		if path, err := exec.LookPath("ffmpeg"); err == nil {
			report.FFmpegFound = true
			report.FFmpegPath = path
		}
	}
	if path, err := exec.LookPath(c.Path); err == nil {
		report.PipelineFound = true
		report.PipelinePath = path
	}
	return report
}
