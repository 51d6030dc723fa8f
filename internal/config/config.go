package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NodeID   string `yaml:"node_id"`
	HTTPPort int    `yaml:"http_port"`
	Debug    bool   `yaml:"debug"`

	DownloadsDir string `yaml:"downloads_dir"`
	DataDir      string `yaml:"data_dir"`

	// PipelineArgs may reference {url} and {out_dir}.
	PipelineCommand string   `yaml:"pipeline_command"`
	PipelineArgs    []string `yaml:"pipeline_args"`
	FFmpegDir       string   `yaml:"ffmpeg_dir"`

	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	JobRetention      time.Duration `yaml:"job_retention"`
	MaxJobs           int           `yaml:"max_jobs"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	HistoryEnabled    bool          `yaml:"history_enabled"`
}

func Default() *Config {
	return &Config{
		NodeID:            "webdl",
		HTTPPort:          8000,
		DownloadsDir:      "downloads",
		DataDir:           "data",
		PipelineCommand:   "python3",
		PipelineArgs:      []string{"spotify_to_mp3.py", "{url}", "--out", "{out_dir}"},
		FFmpegDir:         "ffmpeg",
		MaxConcurrentJobs: 2,
		JobRetention:      time.Hour,
		MaxJobs:           200,
		SweepInterval:     time.Minute,
		KeepAliveInterval: 10 * time.Second,
		HistoryEnabled:    true,
	}
}

// Load applies defaults, then the YAML file at path (if any), then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.parseYAML(data); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) parseYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("yaml parse: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.NodeID = getEnv("NODE_ID", c.NodeID)
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.DownloadsDir = getEnv("DOWNLOADS_DIR", c.DownloadsDir)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.PipelineCommand = getEnv("PIPELINE_COMMAND", c.PipelineCommand)
	if v := os.Getenv("PIPELINE_ARGS"); v != "" {
		c.PipelineArgs = strings.Fields(v)
	}
	c.FFmpegDir = getEnv("FFMPEG_DIR", c.FFmpegDir)
	c.MaxConcurrentJobs = getEnvInt("MAX_CONCURRENT_JOBS", c.MaxConcurrentJobs)
	c.JobRetention = getEnvDuration("JOB_RETENTION", c.JobRetention)
	c.MaxJobs = getEnvInt("MAX_JOBS", c.MaxJobs)
	c.SweepInterval = getEnvDuration("SWEEP_INTERVAL", c.SweepInterval)
	c.KeepAliveInterval = getEnvDuration("KEEPALIVE_INTERVAL", c.KeepAliveInterval)
	c.HistoryEnabled = getEnvBool("HISTORY_ENABLED", c.HistoryEnabled)
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
