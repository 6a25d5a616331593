// Package config handles engine tuning configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	appName        = "tapmix"
	configFileName = "config.yaml"
)

// Config tunes the timing and threshold behavior of the routing engine.
// Every field has a working default; the file only needs the values being
// overridden.
type Config struct {
	// Volume ramp time constant.
	RampSeconds float64 `yaml:"ramp_seconds"`
	// Soft limiter knee, in full scale.
	LimiterThreshold float64 `yaml:"limiter_threshold"`

	// Crossfade length once the incoming pipeline is trusted.
	CrossfadeSeconds float64 `yaml:"crossfade_seconds"`
	// Warm-up floor before a crossfade may start advancing.
	WarmupWired    time.Duration `yaml:"warmup_wired"`
	WarmupWireless time.Duration `yaml:"warmup_wireless"`
	// Frames the incoming pipeline must process before its IO thread is
	// trusted. A sample count, not wall-clock time.
	TrustFrames int `yaml:"trust_frames"`

	// Destructive switch fallback: settle time after forcing silence, then
	// the staged ramp back up.
	SilenceSettle           time.Duration `yaml:"silence_settle"`
	DestructiveRampSteps    int           `yaml:"destructive_ramp_steps"`
	DestructiveStepInterval time.Duration `yaml:"destructive_step_interval"`

	// Coarse health check cadence.
	HealthInterval time.Duration `yaml:"health_interval"`
	// Fast post-creation permission probes.
	FastCheckInterval time.Duration `yaml:"fast_check_interval"`
	FastCheckCount    int           `yaml:"fast_check_count"`
	// Minimum callbacks before permission can be confirmed.
	MinConfirmCallbacks int64 `yaml:"min_confirm_callbacks"`

	// Pause/play inference: peak threshold, how long below it counts as
	// paused, and the level poll cadence (bounds resume latency).
	PauseThreshold    float64       `yaml:"pause_threshold"`
	PauseAfter        time.Duration `yaml:"pause_after"`
	LevelPollInterval time.Duration `yaml:"level_poll_interval"`

	// Service restart recovery.
	RestartStabilize time.Duration `yaml:"restart_stabilize"`
	// Trailing window after recovery during which device notifications stay
	// suppressed.
	SuppressGrace time.Duration `yaml:"suppress_grace"`

	// Settings database directory. Empty means the per-user default.
	StorePath string `yaml:"store_path"`
}

// Default returns the built-in tuning.
func Default() *Config {
	return &Config{
		RampSeconds:             0.030,
		LimiterThreshold:        0.85,
		CrossfadeSeconds:        0.5,
		WarmupWired:             900 * time.Millisecond,
		WarmupWireless:          2500 * time.Millisecond,
		TrustFrames:             4096,
		SilenceSettle:           50 * time.Millisecond,
		DestructiveRampSteps:    8,
		DestructiveStepInterval: 25 * time.Millisecond,
		HealthInterval:          5 * time.Second,
		FastCheckInterval:       250 * time.Millisecond,
		FastCheckCount:          20,
		MinConfirmCallbacks:     3,
		PauseThreshold:          0.001,
		PauseAfter:              1500 * time.Millisecond,
		LevelPollInterval:       50 * time.Millisecond,
		RestartStabilize:        2 * time.Second,
		SuppressGrace:           1 * time.Second,
	}
}

// Load reads configuration from path, or the per-user location when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := configPath()
		if err != nil {
			return nil, fmt.Errorf("get config path: %w", err)
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Save persists the configuration to path, or the per-user location when
// path is empty.
func (c *Config) Save(path string) error {
	if path == "" {
		p, err := configPath()
		if err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// normalize clamps values a hand-edited file could break.
func (c *Config) normalize() {
	def := Default()
	if c.RampSeconds <= 0 {
		c.RampSeconds = def.RampSeconds
	}
	if c.LimiterThreshold <= 0 || c.LimiterThreshold >= 1 {
		c.LimiterThreshold = def.LimiterThreshold
	}
	if c.CrossfadeSeconds <= 0 {
		c.CrossfadeSeconds = def.CrossfadeSeconds
	}
	if c.WarmupWired <= 0 {
		c.WarmupWired = def.WarmupWired
	}
	if c.WarmupWireless < c.WarmupWired {
		c.WarmupWireless = c.WarmupWired
	}
	if c.TrustFrames <= 0 {
		c.TrustFrames = def.TrustFrames
	}
	if c.DestructiveRampSteps <= 0 {
		c.DestructiveRampSteps = def.DestructiveRampSteps
	}
	if c.DestructiveStepInterval <= 0 {
		c.DestructiveStepInterval = def.DestructiveStepInterval
	}
	if c.SilenceSettle <= 0 {
		c.SilenceSettle = def.SilenceSettle
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = def.HealthInterval
	}
	if c.FastCheckInterval <= 0 {
		c.FastCheckInterval = def.FastCheckInterval
	}
	if c.FastCheckCount <= 0 {
		c.FastCheckCount = def.FastCheckCount
	}
	if c.MinConfirmCallbacks <= 0 {
		c.MinConfirmCallbacks = def.MinConfirmCallbacks
	}
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = def.PauseThreshold
	}
	if c.PauseAfter <= 0 {
		c.PauseAfter = def.PauseAfter
	}
	if c.LevelPollInterval <= 0 {
		c.LevelPollInterval = def.LevelPollInterval
	}
	if c.RestartStabilize <= 0 {
		c.RestartStabilize = def.RestartStabilize
	}
	if c.SuppressGrace < 0 {
		c.SuppressGrace = def.SuppressGrace
	}
}

// Warmup returns the crossfade warm-up floor for a destination transport.
func (c *Config) Warmup(wireless bool) time.Duration {
	if wireless {
		return c.WarmupWireless
	}
	return c.WarmupWired
}

func configPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName, configFileName), nil
}

// DefaultStorePath returns the per-user settings database directory.
func DefaultStorePath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName, "settings"), nil
}
