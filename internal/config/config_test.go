package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goscope.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Errorf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: /dev/ttyACM0
baud_rate: 230400
codec: u16le
frame_timeout: 3s
timebase: 100 us
trigger_on: true
trigger_slope: falling
telemetry_addr: 127.0.0.1:4020
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "/dev/ttyACM0" || cfg.BaudRate != 230400 || cfg.Codec != "u16le" {
		t.Errorf("serial settings not loaded: %+v", cfg)
	}
	if cfg.FrameTimeout != 3*time.Second {
		t.Errorf("FrameTimeout = %v, want 3s", cfg.FrameTimeout)
	}
	if cfg.Timebase != "100 us" || !cfg.TriggerOn || cfg.TriggerSlope != "falling" {
		t.Errorf("scope settings not loaded: %+v", cfg)
	}
	// untouched fields keep their defaults
	if cfg.ReadTimeout != DEFAULT_READ_TIMEOUT || cfg.FpsInterval != DEFAULT_FPS_INTERVAL {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.BaudRate = 0
	cfg.Codec = "u32"
	cfg.Timebase = "fast"
	cfg.TriggerSlope = "sideways"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := len(multierr.Errors(err)); got != 4 {
		t.Errorf("got %d errors, want 4: %v", got, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
