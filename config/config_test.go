package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.HealthInterval != def.HealthInterval || cfg.TrustFrames != def.TrustFrames {
		t.Errorf("missing file did not yield defaults: %+v", cfg)
	}
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "health_interval: 2s\ntrust_frames: 8192\npause_after: 1s\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HealthInterval != 2*time.Second {
		t.Errorf("HealthInterval = %v, want 2s", cfg.HealthInterval)
	}
	if cfg.TrustFrames != 8192 {
		t.Errorf("TrustFrames = %d, want 8192", cfg.TrustFrames)
	}
	if cfg.PauseAfter != time.Second {
		t.Errorf("PauseAfter = %v, want 1s", cfg.PauseAfter)
	}
	// untouched fields keep defaults
	if cfg.RampSeconds != Default().RampSeconds {
		t.Errorf("RampSeconds = %v, want default", cfg.RampSeconds)
	}
}

func TestLoadNormalizesBrokenValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "limiter_threshold: 7\nwarmup_wired: 2s\nwarmup_wireless: 1s\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LimiterThreshold != Default().LimiterThreshold {
		t.Errorf("LimiterThreshold = %v, want clamped to default", cfg.LimiterThreshold)
	}
	// wireless warm-up can never be shorter than wired
	if cfg.WarmupWireless < cfg.WarmupWired {
		t.Errorf("WarmupWireless %v < WarmupWired %v", cfg.WarmupWireless, cfg.WarmupWired)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.CrossfadeSeconds = 0.25
	cfg.WarmupWireless = 3 * time.Second
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.CrossfadeSeconds != 0.25 || got.WarmupWireless != 3*time.Second {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestWarmup(t *testing.T) {
	cfg := Default()
	if cfg.Warmup(false) != cfg.WarmupWired {
		t.Error("wired warmup mismatch")
	}
	if cfg.Warmup(true) != cfg.WarmupWireless {
		t.Error("wireless warmup mismatch")
	}
	if cfg.Warmup(true) <= cfg.Warmup(false) {
		t.Error("wireless warmup must exceed wired")
	}
}
