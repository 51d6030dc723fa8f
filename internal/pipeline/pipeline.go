// Package pipeline runs the external download/convert/tag program for a job
// and streams its output line by line.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spotmp3/webdl/internal/job"
)

// ErrLaunch means the pipeline process never started.
var ErrLaunch = errors.New("pipeline launch failed")

// Pipeline runs one job to completion. emit receives every output line, from
// a single goroutine at a time. The returned code is the process exit code;
// err is non-nil only when the pipeline could not run or was interrupted.
type Pipeline interface {
	Run(ctx context.Context, p job.Params, emit func(line string)) (int, error)
}

// Func adapts a function to Pipeline.
type Func func(ctx context.Context, p job.Params, emit func(line string)) (int, error)

func (f Func) Run(ctx context.Context, p job.Params, emit func(line string)) (int, error) {
	return f(ctx, p, emit)
}

// Command runs the pipeline as a subordinate process.
type Command struct {
	Path string
	// Args may reference {url} and {out_dir}.
	Args []string
	// FFmpegDir is prepended to PATH when it exists.
	FFmpegDir string
}

func (c *Command) args(p job.Params) []string {
	args := make([]string, 0, len(c.Args)+2)
	for _, a := range c.Args {
		a = strings.ReplaceAll(a, "{url}", p.URL)
		a = strings.ReplaceAll(a, "{out_dir}", p.OutDir)
		args = append(args, a)
	}
	if p.Trim {
		args = append(args, "--trim")
	}
	if p.Verbose {
		args = append(args, "--verbose")
	}
	return args
}

// env keeps credentials out of argv.
func (c *Command) env(p job.Params) []string {
	env := os.Environ()
	if c.FFmpegDir != "" {
		if info, err := os.Stat(c.FFmpegDir); err == nil && info.IsDir() {
			abs, _ := filepath.Abs(c.FFmpegDir)
			env = append(env, "PATH="+abs+string(os.PathListSeparator)+os.Getenv("PATH"))
		}
	}
	if a := p.Auth; a != nil {
		if a.Username != "" {
			env = append(env, "SPOTMP3_USERNAME="+a.Username)
		}
		if a.Password != "" {
			env = append(env, "SPOTMP3_PASSWORD="+a.Password)
		}
		if a.TwoFactor != "" {
			env = append(env, "SPOTMP3_TWOFACTOR="+a.TwoFactor)
		}
		if a.UseNetrc {
			env = append(env, "SPOTMP3_USENETRC=1")
		}
	}
	return env
}

func (c *Command) Run(ctx context.Context, p job.Params, emit func(line string)) (int, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.args(p)...)
	cmd.Dir = p.OutDir
	cmd.Env = c.env(p)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return job.CodeFault, fmt.Errorf("%w: setup stdout pipe: %v", ErrLaunch, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return job.CodeFault, fmt.Errorf("%w: setup stderr pipe: %v", ErrLaunch, err)
	}

	if err := cmd.Start(); err != nil {
		return job.CodeFault, fmt.Errorf("%w: start %s: %v", ErrLaunch, c.Path, err)
	}

	var mu sync.Mutex
	read := func(r io.Reader) error {
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			mu.Lock()
			emit(scanner.Text())
			mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			// Keep the pipe drained so the child can still exit.
			io.Copy(io.Discard, r)
			return err
		}
		return nil
	}

	var g errgroup.Group
	g.Go(func() error { return read(stdoutPipe) })
	g.Go(func() error { return read(stderrPipe) })
	readErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return job.CodeFault, fmt.Errorf("pipeline interrupted: %w", ctx.Err())
		}
		return job.CodeFault, fmt.Errorf("pipeline failed: %w", err)
	}
	if readErr != nil {
		return job.CodeFault, fmt.Errorf("read pipeline output: %w", readErr)
	}
	return 0, nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
