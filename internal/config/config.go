package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	DefaultSprintStatus = "_bmad-output/implementation-artifacts/sprint-status.yaml"
	DefaultStoryDir     = "_bmad-output/implementation-artifacts"
	DefaultDataDir      = ".bmadloop"
	DefaultTimeout      = 600 // seconds, per pipeline step
	DefaultDeepTimeout  = 120 // seconds, per deep verification call
	DefaultMaxAttempts  = 3
	DefaultAPIPort      = 8080
)

// Config holds all application configuration
type Config struct {
	// Paths
	SprintStatusPath string
	StoryDir         string
	WorkingDir       string
	DataDir          string
	DatabasePath     string

	// Execution settings
	AssistantCommand string
	Timeout          int // seconds, per pipeline step
	DeepTimeout      int // seconds, per deep verification call
	MaxAttempts      int
	Demo             bool

	// API settings
	APIEnabled bool
	APIPort    int

	Verbose bool
}

// New creates a new Config with default values
func New() *Config {
	wd, _ := os.Getwd()

	return &Config{
		SprintStatusPath: filepath.Join(wd, DefaultSprintStatus),
		StoryDir:         filepath.Join(wd, DefaultStoryDir),
		WorkingDir:       wd,
		DataDir:          filepath.Join(wd, DefaultDataDir),
		DatabasePath:     filepath.Join(wd, DefaultDataDir, "bmadloop.db"),
		AssistantCommand: "claude",
		Timeout:          DefaultTimeout,
		DeepTimeout:      DefaultDeepTimeout,
		MaxAttempts:      DefaultMaxAttempts,
		APIPort:          DefaultAPIPort,
	}
}

// StepTimeout returns the per-step assistant timeout.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// DeepVerifyTimeout returns the deep verification timeout.
func (c *Config) DeepVerifyTimeout() time.Duration {
	return time.Duration(c.DeepTimeout) * time.Second
}

// StopFilePath returns the stop sentinel location.
func (c *Config) StopFilePath() string {
	return filepath.Join(c.DataDir, "stop")
}

// ProgressFilePath returns the per-step progress file location.
func (c *Config) ProgressFilePath() string {
	return filepath.Join(c.DataDir, "progress.json")
}

// EnsureDataDir creates the data directory if missing.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
