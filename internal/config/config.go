// Package config handles loading and validating ngao configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Default timeout ceilings in seconds. Zero config values fall back to these.
const (
	defaultTimeoutS    = 3600
	defaultStreamS     = 300
	defaultBackgroundS = 3600

	// defaultSnapshotFile is the task snapshot filename, created under the
	// safe root.
	defaultSnapshotFile = ".ngao_tasks.json"
)

// Config is the root configuration for ngao.
type Config struct {
	// SafeRoot is the only directory file tools may touch, and the working
	// directory for every spawned command. Required.
	// Override: NGAO_SAFE_ROOT env var.
	SafeRoot string `json:"safe_root" yaml:"safe_root"`

	// Debug enables debug-level logging to stderr.
	// Override: NGAO_DEBUG env var ("true"/"1").
	Debug bool `json:"debug" yaml:"debug"`

	// SnapshotFile names the task persistence file, relative to SafeRoot.
	// Default: .ngao_tasks.json.
	SnapshotFile string `json:"snapshot_file,omitempty" yaml:"snapshot_file,omitempty"`

	// TimeoutS caps synchronous command execution. Default: 3600.
	TimeoutS int `json:"timeout_s,omitempty" yaml:"timeout_s,omitempty"`

	// StreamTimeoutS caps a single streaming call. Default: 300.
	StreamTimeoutS int `json:"stream_timeout_s,omitempty" yaml:"stream_timeout_s,omitempty"`

	// BackgroundTimeoutS caps a background task's runtime. Default: 3600.
	BackgroundTimeoutS int `json:"background_timeout_s,omitempty" yaml:"background_timeout_s,omitempty"`
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

// Default returns a Config with only defaults and env overrides applied.
// Used when no config file is given and the safe root comes from a flag.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.SafeRoot = goutils.Env("NGAO_SAFE_ROOT", c.SafeRoot)
	c.SnapshotFile = goutils.Env("NGAO_SNAPSHOT_FILE", c.SnapshotFile)
	if v := goutils.Env("NGAO_DEBUG", ""); v == "true" || v == "1" {
		c.Debug = true
	}
}

// Validate checks the configuration and fills in defaults. The safe root
// must exist and be a directory — everything the server does is anchored
// there.
func (c *Config) Validate() error {
	if c.SafeRoot == "" {
		return fmt.Errorf("safe_root is required (flag --saferoot, config, or NGAO_SAFE_ROOT)")
	}
	resolved, err := resolvePath(c.SafeRoot)
	if err != nil {
		return fmt.Errorf("resolving safe_root %q: %w", c.SafeRoot, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("safe_root %q: %w", resolved, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("safe_root %q must be a directory", resolved)
	}
	c.SafeRoot = resolved

	if c.SnapshotFile == "" {
		c.SnapshotFile = defaultSnapshotFile
	}
	if c.TimeoutS <= 0 {
		c.TimeoutS = defaultTimeoutS
	}
	if c.StreamTimeoutS <= 0 {
		c.StreamTimeoutS = defaultStreamS
	}
	if c.BackgroundTimeoutS <= 0 {
		c.BackgroundTimeoutS = defaultBackgroundS
	}
	return nil
}

// SnapshotPath returns the absolute task snapshot file path.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.SafeRoot, c.SnapshotFile)
}

// Timeout returns the synchronous execution ceiling.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutS) * time.Second
}

// StreamTimeout returns the per-call streaming ceiling.
func (c *Config) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutS) * time.Second
}

// BackgroundTimeout returns the background task ceiling.
func (c *Config) BackgroundTimeout() time.Duration {
	return time.Duration(c.BackgroundTimeoutS) * time.Second
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
