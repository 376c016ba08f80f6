package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Paths contains directory and bind address configuration.
type Paths struct {
	ScratchRoot    string `toml:"scratch_root"`
	DataDir        string `toml:"data_dir"`
	LogDir         string `toml:"log_dir"`
	ObjectStoreDir string `toml:"object_store_dir"`
	MetricsBind    string `toml:"metrics_bind"`
}

// Broker contains connection settings for the Redis dispatch broker.
type Broker struct {
	Address     string `toml:"address"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	QueuePrefix string `toml:"queue_prefix"`
}

// StageLimits holds per-stage queue routing and time limit configuration.
type StageLimits struct {
	Queue            string `toml:"queue"`
	SoftLimitSeconds int    `toml:"soft_limit_seconds"`
	HardLimitSeconds int    `toml:"hard_limit_seconds"`
	Workers          int    `toml:"workers"`
}

// Stages groups the limit configuration for the four pipeline stages.
type Stages struct {
	Separation  StageLimits `toml:"separation"`
	Extraction  StageLimits `toml:"extraction"`
	Fusion      StageLimits `toml:"fusion"`
	Enhancement StageLimits `toml:"enhancement"`
}

// Processing contains endpoints and retry policy for the external audio
// processing services.
type Processing struct {
	SeparatorURL   string `toml:"separator_url"`
	AnalyzerURL    string `toml:"analyzer_url"`
	GeneratorURL   string `toml:"generator_url"`
	EnhancerURL    string `toml:"enhancer_url"`
	RequestTimeout int    `toml:"request_timeout"`
	MaxAttempts    int    `toml:"max_attempts"`
	RetryBackoffMS int    `toml:"retry_backoff_ms"`
}

// Storage contains retry policy for the durable object store.
type Storage struct {
	RetryAttempts  int `toml:"retry_attempts"`
	RetryBackoffMS int `toml:"retry_backoff_ms"`
}

// Janitor contains the scratch retention sweep configuration.
type Janitor struct {
	RetentionHours       int `toml:"retention_hours"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Workflow contains daemon timing and delivery budget configuration.
type Workflow struct {
	ClaimWaitSeconds       int `toml:"claim_wait_seconds"`
	ErrorRetryInterval     int `toml:"error_retry_interval"`
	HeartbeatInterval      int `toml:"heartbeat_interval"`
	ReclaimIntervalSeconds int `toml:"reclaim_interval_seconds"`
	MaxDeliveries          int `toml:"max_deliveries"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains log output configuration.
type Logging struct {
	Level         string `toml:"level"`
	Format        string `toml:"format"`
	RetentionDays int    `toml:"retention_days"`
}

// Config is the root configuration object for the stemfuse daemon and CLI.
type Config struct {
	Paths         `toml:"paths"`
	Broker        Broker        `toml:"broker"`
	Stages        Stages        `toml:"stages"`
	Processing    Processing    `toml:"processing"`
	Storage       Storage       `toml:"storage"`
	Janitor       Janitor       `toml:"janitor"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	return expandPath("~/.config/stemfuse/config.toml")
}

// Load reads configuration from path (or the default location when empty),
// applies defaults for unset fields, normalizes paths, and validates the
// result. The resolved path is returned alongside the config.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath()
	} else {
		resolved = expandPath(resolved)
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Missing file runs on defaults; explicit paths must exist.
		if strings.TrimSpace(path) != "" {
			return nil, resolved, fmt.Errorf("config file %s not found", resolved)
		}
	default:
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return &cfg, resolved, nil
}

// Marshal renders the configuration as TOML, used by `stemfuse config init`.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// EnsureDirectories creates every directory the daemon writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.ScratchRoot, c.DataDir, c.LogDir, c.ObjectStoreDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// StageNames returns the ordered stage identifiers of the fusion pipeline.
func StageNames() []string {
	return []string{"separation", "extraction", "fusion", "enhancement"}
}

// StageLimitsFor returns the limit configuration for a stage name.
func (c *Config) StageLimitsFor(stage string) (StageLimits, bool) {
	switch stage {
	case "separation":
		return c.Stages.Separation, true
	case "extraction":
		return c.Stages.Extraction, true
	case "fusion":
		return c.Stages.Fusion, true
	case "enhancement":
		return c.Stages.Enhancement, true
	default:
		return StageLimits{}, false
	}
}

func (c *Config) normalize() {
	c.ScratchRoot = expandPath(c.ScratchRoot)
	c.DataDir = expandPath(c.DataDir)
	c.LogDir = expandPath(c.LogDir)
	c.ObjectStoreDir = expandPath(c.ObjectStoreDir)
}

func expandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
		}
	}
	return filepath.Clean(trimmed)
}
