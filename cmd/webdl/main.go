package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spotmp3/webdl/internal/api"
	"github.com/spotmp3/webdl/internal/config"
	"github.com/spotmp3/webdl/internal/db"
	"github.com/spotmp3/webdl/internal/job"
	"github.com/spotmp3/webdl/internal/pipeline"
	"github.com/spotmp3/webdl/internal/runner"
	"github.com/spotmp3/webdl/internal/storage"
)

// historyTTL bounds how long finished jobs stay in the history database.
const historyTTL = 30 * 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (default: $CONFIG_FILE)")
	checkDeps := flag.Bool("check-deps", false, "Report whether ffmpeg and the pipeline are available, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	pipe := &pipeline.Command{
		Path:      cfg.PipelineCommand,
		Args:      cfg.PipelineArgs,
		FFmpegDir: cfg.FFmpegDir,
	}

	if *checkDeps {
		report := pipe.DependencyStatus()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		if !report.FFmpegFound || !report.PipelineFound {
			os.Exit(1)
		}
		return
	}

	run(cfg, pipe)
}

func run(cfg *config.Config, pipe *pipeline.Command) {
	log.Printf("Starting download service: %s", cfg.NodeID)
	log.Printf("HTTP port: %d", cfg.HTTPPort)
	log.Printf("Downloads dir: %s", cfg.DownloadsDir)

	files, err := storage.NewStore(cfg.DownloadsDir)
	if err != nil {
		log.Fatalf("Storage error: %v", err)
	}

	var history *job.History
	if cfg.HistoryEnabled {
		dbStore, err := db.NewStore(filepath.Join(cfg.DataDir, "history"))
		if err != nil {
			log.Fatalf("History database error: %v", err)
		}
		defer dbStore.Close()
		history = job.NewHistory(dbStore, historyTTL)
	}

	jobs := job.NewStore(job.Options{
		Retention: cfg.JobRetention,
		MaxJobs:   cfg.MaxJobs,
		DirFor:    files.JobDir,
		OnEvict: func(j *job.Job) {
			if err := files.Remove(j.ID); err != nil {
				log.Printf("job %s: remove files: %v", j.ID, err)
			}
		},
	})

	if deps := pipe.DependencyStatus(); !deps.FFmpegFound {
		log.Printf("Warning: ffmpeg not found; conversions will fail")
	}

	jobRunner := runner.New(pipe, files, runner.Options{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		History:       history,
	})

	router := api.NewRouterWithHistory(cfg, jobs, jobRunner, history, pipe.DependencyStatus)

	server := newServer(cfg.Addr(), router, jobRunner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweep(ctx, jobs, cfg.SweepInterval)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server listening on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Waits for the pipelines interrupted during Shutdown.
	jobRunner.Close()
	log.Println("Server stopped")
}

// newServer builds the HTTP server. Shutdown interrupts the running jobs
// first, so open log streams reach their end instead of holding Shutdown
// until its deadline.
func newServer(addr string, handler http.Handler, jobRunner *runner.Runner) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server.RegisterOnShutdown(jobRunner.Close)
	return server
}

// sweep evicts finished jobs until ctx is cancelled.
func sweep(ctx context.Context, jobs *job.Store, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			jobs.Sweep(now)
		}
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "webdl - Web front end for the Spotify to MP3 pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                          # Serve on :8000 with defaults\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config webdl.yaml       # Load settings from a file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -check-deps              # Verify ffmpeg and the pipeline\n", os.Args[0])
	}
}
