package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/aphelia-health/aphelia/internal/config"
	"github.com/aphelia-health/aphelia/internal/engine"
)

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q reported invalid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO"} {
		if l.IsValid() {
			t.Errorf("%q reported valid", l)
		}
	}
}

func TestLogLevel_Level(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := tc.in.Level(); got != tc.want {
			t.Errorf("Level(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEngineConfig_Matcher(t *testing.T) {
	// "fone" is phonetically "phone" but shares too few bigrams to pass
	// the similarity threshold, so it separates the two matcher modes.
	var zero config.EngineConfig
	if d := zero.Matcher().Decide("fone", "phone", nil); d.Pass {
		t.Errorf("zero config matcher passed a phonetic-only pair (score=%v)", d.Score)
	}

	cfg := config.EngineConfig{PhoneticThreshold: 0.7}
	if d := cfg.Matcher().Decide("fone", "phone", nil); !d.Pass {
		t.Error("phonetic_threshold 0.7 did not enable the phonetic lane")
	}
	if d := cfg.Matcher().Decide("cup", "cup", nil); !d.Pass {
		t.Error("exact match failed with the phonetic lane on")
	}
}

func TestEngineConfig_Delays(t *testing.T) {
	var zero config.EngineConfig
	if d := zero.Delays(); d != engine.DefaultDelays {
		t.Errorf("zero config delays = %+v, want defaults", d)
	}

	cfg := config.EngineConfig{
		FallbackRevealMs: 5000,
		SoftResetMs:      1000,
	}
	d := cfg.Delays()
	if d.Fallback != 5*time.Second {
		t.Errorf("fallback = %v, want 5s", d.Fallback)
	}
	if d.Success != engine.DefaultDelays.Success {
		t.Errorf("success = %v, want default %v", d.Success, engine.DefaultDelays.Success)
	}
	if d.SoftReset != time.Second {
		t.Errorf("soft reset = %v, want 1s", d.SoftReset)
	}
}
