// Package config loads overseer configuration from .overseer/config.yaml,
// merging file values over defaults and CLI flags over both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StallConfig tunes the stall/loop detector.
type StallConfig struct {
	// WindowEvents is the trailing read-event window inspected for loops.
	WindowEvents int `yaml:"window_events"`

	// MaxDistinctReads is the distinct-resource ceiling inside the window.
	// At or below this, with no mutation in the window, the session is
	// considered looping.
	MaxDistinctReads int `yaml:"max_distinct_reads"`

	// Inactivity is how long the detector tolerates no events at all.
	Inactivity time.Duration `yaml:"inactivity"`
}

// VerifyConfig tunes the post-session verification pipeline.
type VerifyConfig struct {
	// TestCommand overrides auto-detection of the project test command.
	// Empty means detect (go.mod, package.json, pytest markers).
	TestCommand string `yaml:"test_command"`

	// DeletionRatio is the removed/added line ratio above which a change
	// set is flagged as a diff anomaly.
	DeletionRatio float64 `yaml:"deletion_ratio"`

	// MinDeletedLines gates the ratio check so small diffs never trip it.
	MinDeletedLines int `yaml:"min_deleted_lines"`

	// SecretScan enables credential/key detection on added lines.
	SecretScan bool `yaml:"secret_scan"`

	// SelfCorrect enables the single corrective session on failure.
	SelfCorrect bool `yaml:"self_correct"`
}

// RollbackConfig tunes the checkpoint manager's safety net.
type RollbackConfig struct {
	// Enabled turns automatic rollback on.
	Enabled bool `yaml:"enabled"`

	// ConsecutiveFailures is the non-success streak that triggers a
	// rollback to the last good checkpoint.
	ConsecutiveFailures int `yaml:"consecutive_failures"`
}

// PatternConfig tunes the cross-run failure pattern store.
type PatternConfig struct {
	// Enabled turns pattern recording and injection on.
	Enabled bool `yaml:"enabled"`

	// DBPath is the SQLite database path, relative to the state dir.
	DBPath string `yaml:"db_path"`

	// InjectCount is how many top-weighted patterns are injected into the
	// session context as hints. 0 disables injection entirely.
	InjectCount int `yaml:"inject_count"`

	// DecayRate is the per-day exponential decay applied to pattern
	// weight. Heuristic default, tune per project.
	DecayRate float64 `yaml:"decay_rate"`
}

// CanaryConfig tunes control/canary comparison runs.
type CanaryConfig struct {
	// ScoreThreshold is the diff score above which the canary is flagged
	// as a regression.
	ScoreThreshold float64 `yaml:"score_threshold"`

	// SlowdownFactor flags a regression when canary duration exceeds
	// control duration by this multiple.
	SlowdownFactor float64 `yaml:"slowdown_factor"`

	// Timeout bounds each side of the comparison.
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds all overseer settings.
type Config struct {
	// AgentCommand is the external coding-agent CLI to supervise.
	AgentCommand string `yaml:"agent_command"`

	// StateDir holds graph.json, retry.json, checkpoints.json, patterns.db
	// and logs. Relative paths are resolved against the project dir.
	StateDir string `yaml:"state_dir"`

	// SessionTimeout is the hard wall-clock limit per agent session.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// GracePeriod is how long to wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration `yaml:"grace_period"`

	// RetryCeiling is the per-task attempt limit before skipping.
	RetryCeiling int `yaml:"retry_ceiling"`

	// LogLevel sets console verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	Stall    StallConfig    `yaml:"stall"`
	Verify   VerifyConfig   `yaml:"verify"`
	Rollback RollbackConfig `yaml:"rollback"`
	Patterns PatternConfig  `yaml:"patterns"`
	Canary   CanaryConfig   `yaml:"canary"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		AgentCommand:   "claude",
		StateDir:       ".overseer",
		SessionTimeout: 60 * time.Minute,
		GracePeriod:    5 * time.Second,
		RetryCeiling:   3,
		LogLevel:       "info",
		Stall: StallConfig{
			WindowEvents:     12,
			MaxDistinctReads: 2,
			Inactivity:       10 * time.Minute,
		},
		Verify: VerifyConfig{
			DeletionRatio:   3.0,
			MinDeletedLines: 100,
			SecretScan:      true,
			SelfCorrect:     true,
		},
		Rollback: RollbackConfig{
			Enabled:             true,
			ConsecutiveFailures: 3,
		},
		Patterns: PatternConfig{
			Enabled:     true,
			DBPath:      "patterns.db",
			InjectCount: 3,
			DecayRate:   0.10,
		},
		Canary: CanaryConfig{
			ScoreThreshold: 0.70,
			SlowdownFactor: 2.0,
			Timeout:        30 * time.Minute,
		},
	}
}

// yamlConfig mirrors Config with string durations and pointer scalars so a
// missing key is distinguishable from an explicit zero.
type yamlConfig struct {
	AgentCommand   string `yaml:"agent_command"`
	StateDir       string `yaml:"state_dir"`
	SessionTimeout string `yaml:"session_timeout"`
	GracePeriod    string `yaml:"grace_period"`
	RetryCeiling   *int   `yaml:"retry_ceiling"`
	LogLevel       string `yaml:"log_level"`

	Stall struct {
		WindowEvents     *int   `yaml:"window_events"`
		MaxDistinctReads *int   `yaml:"max_distinct_reads"`
		Inactivity       string `yaml:"inactivity"`
	} `yaml:"stall"`

	Verify struct {
		TestCommand     string   `yaml:"test_command"`
		DeletionRatio   *float64 `yaml:"deletion_ratio"`
		MinDeletedLines *int     `yaml:"min_deleted_lines"`
		SecretScan      *bool    `yaml:"secret_scan"`
		SelfCorrect     *bool    `yaml:"self_correct"`
	} `yaml:"verify"`

	Rollback struct {
		Enabled             *bool `yaml:"enabled"`
		ConsecutiveFailures *int  `yaml:"consecutive_failures"`
	} `yaml:"rollback"`

	Patterns struct {
		Enabled     *bool    `yaml:"enabled"`
		DBPath      string   `yaml:"db_path"`
		InjectCount *int     `yaml:"inject_count"`
		DecayRate   *float64 `yaml:"decay_rate"`
	} `yaml:"patterns"`

	Canary struct {
		ScoreThreshold *float64 `yaml:"score_threshold"`
		SlowdownFactor *float64 `yaml:"slowdown_factor"`
		Timeout        string   `yaml:"timeout"`
	} `yaml:"canary"`
}

// LoadConfig loads configuration from path. A missing file returns defaults
// without error; a malformed file returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if y.AgentCommand != "" {
		cfg.AgentCommand = y.AgentCommand
	}
	if y.StateDir != "" {
		cfg.StateDir = y.StateDir
	}
	if err := setDuration(&cfg.SessionTimeout, y.SessionTimeout, "session_timeout"); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.GracePeriod, y.GracePeriod, "grace_period"); err != nil {
		return nil, err
	}
	if y.RetryCeiling != nil {
		cfg.RetryCeiling = *y.RetryCeiling
	}
	if y.LogLevel != "" {
		cfg.LogLevel = y.LogLevel
	}

	if y.Stall.WindowEvents != nil {
		cfg.Stall.WindowEvents = *y.Stall.WindowEvents
	}
	if y.Stall.MaxDistinctReads != nil {
		cfg.Stall.MaxDistinctReads = *y.Stall.MaxDistinctReads
	}
	if err := setDuration(&cfg.Stall.Inactivity, y.Stall.Inactivity, "stall.inactivity"); err != nil {
		return nil, err
	}

	if y.Verify.TestCommand != "" {
		cfg.Verify.TestCommand = y.Verify.TestCommand
	}
	if y.Verify.DeletionRatio != nil {
		cfg.Verify.DeletionRatio = *y.Verify.DeletionRatio
	}
	if y.Verify.MinDeletedLines != nil {
		cfg.Verify.MinDeletedLines = *y.Verify.MinDeletedLines
	}
	if y.Verify.SecretScan != nil {
		cfg.Verify.SecretScan = *y.Verify.SecretScan
	}
	if y.Verify.SelfCorrect != nil {
		cfg.Verify.SelfCorrect = *y.Verify.SelfCorrect
	}

	if y.Rollback.Enabled != nil {
		cfg.Rollback.Enabled = *y.Rollback.Enabled
	}
	if y.Rollback.ConsecutiveFailures != nil {
		cfg.Rollback.ConsecutiveFailures = *y.Rollback.ConsecutiveFailures
	}

	if y.Patterns.Enabled != nil {
		cfg.Patterns.Enabled = *y.Patterns.Enabled
	}
	if y.Patterns.DBPath != "" {
		cfg.Patterns.DBPath = y.Patterns.DBPath
	}
	if y.Patterns.InjectCount != nil {
		cfg.Patterns.InjectCount = *y.Patterns.InjectCount
	}
	if y.Patterns.DecayRate != nil {
		cfg.Patterns.DecayRate = *y.Patterns.DecayRate
	}

	if y.Canary.ScoreThreshold != nil {
		cfg.Canary.ScoreThreshold = *y.Canary.ScoreThreshold
	}
	if y.Canary.SlowdownFactor != nil {
		cfg.Canary.SlowdownFactor = *y.Canary.SlowdownFactor
	}
	if err := setDuration(&cfg.Canary.Timeout, y.Canary.Timeout, "canary.timeout"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfigFromDir loads .overseer/config.yaml from the given project dir.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".overseer", "config.yaml"))
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}

// MergeWithFlags applies CLI flag overrides. Non-nil values win over both
// defaults and the config file.
func (c *Config) MergeWithFlags(agentCommand *string, sessionTimeout *time.Duration, retryCeiling *int, injectCount *int) {
	if agentCommand != nil {
		c.AgentCommand = *agentCommand
	}
	if sessionTimeout != nil {
		c.SessionTimeout = *sessionTimeout
	}
	if retryCeiling != nil {
		c.RetryCeiling = *retryCeiling
	}
	if injectCount != nil {
		c.Patterns.InjectCount = *injectCount
	}
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.AgentCommand == "" {
		return fmt.Errorf("agent_command cannot be empty")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be > 0, got %v", c.SessionTimeout)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must be >= 0, got %v", c.GracePeriod)
	}
	if c.RetryCeiling <= 0 {
		return fmt.Errorf("retry_ceiling must be > 0, got %d", c.RetryCeiling)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Stall.WindowEvents <= 0 {
		return fmt.Errorf("stall.window_events must be > 0, got %d", c.Stall.WindowEvents)
	}
	if c.Stall.MaxDistinctReads <= 0 {
		return fmt.Errorf("stall.max_distinct_reads must be > 0, got %d", c.Stall.MaxDistinctReads)
	}
	if c.Stall.Inactivity <= 0 {
		return fmt.Errorf("stall.inactivity must be > 0, got %v", c.Stall.Inactivity)
	}

	if c.Verify.DeletionRatio <= 0 {
		return fmt.Errorf("verify.deletion_ratio must be > 0, got %v", c.Verify.DeletionRatio)
	}
	if c.Rollback.Enabled && c.Rollback.ConsecutiveFailures <= 0 {
		return fmt.Errorf("rollback.consecutive_failures must be > 0, got %d", c.Rollback.ConsecutiveFailures)
	}

	if c.Patterns.Enabled {
		if c.Patterns.DBPath == "" {
			return fmt.Errorf("patterns.db_path cannot be empty when patterns are enabled")
		}
		if c.Patterns.InjectCount < 0 {
			return fmt.Errorf("patterns.inject_count must be >= 0, got %d", c.Patterns.InjectCount)
		}
		if c.Patterns.DecayRate < 0 {
			return fmt.Errorf("patterns.decay_rate must be >= 0, got %v", c.Patterns.DecayRate)
		}
	}

	if c.Canary.ScoreThreshold < 0 || c.Canary.ScoreThreshold > 1 {
		return fmt.Errorf("canary.score_threshold must be in [0,1], got %v", c.Canary.ScoreThreshold)
	}
	if c.Canary.SlowdownFactor <= 1 {
		return fmt.Errorf("canary.slowdown_factor must be > 1, got %v", c.Canary.SlowdownFactor)
	}

	return nil
}
