package config

import (
	"log/slog"
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"CALLCOORD_DATA_DIR", "CALLCOORD_HTTP_PORT", "CALLCOORD_LOG_LEVEL",
		"CALLCOORD_LOG_FORMAT", "CALLCOORD_CORS_ORIGINS", "CALLCOORD_DATABASE_URL",
		"CALLCOORD_RING_TIMEOUT", "CALLCOORD_SWEEP_INTERVAL",
		"CALLCOORD_RECORDING_MAX_DAYS", "CALLCOORD_CALL_MAX_DAYS",
		"CALLCOORD_CAPTURE_AGENT_URL", "CALLCOORD_FFMPEG_PATH",
		"CALLCOORD_FIREBASE_CREDENTIALS", "CALLCOORD_FIREBASE_BUCKET",
		"CALLCOORD_APNS_KEY_FILE", "CALLCOORD_APNS_KEY_ID",
		"CALLCOORD_APNS_TEAM_ID", "CALLCOORD_APNS_BUNDLE_ID",
		"CALLCOORD_APNS_SANDBOX",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"callcoord"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.RingTimeoutSec != defaultRingTimeout {
		t.Errorf("RingTimeoutSec = %d, want %d", cfg.RingTimeoutSec, defaultRingTimeout)
	}
	if cfg.SweepIntervalSec != defaultSweepInterval {
		t.Errorf("SweepIntervalSec = %d, want %d", cfg.SweepIntervalSec, defaultSweepInterval)
	}
	if cfg.FFmpegPath != defaultFFmpegPath {
		t.Errorf("FFmpegPath = %q, want %q", cfg.FFmpegPath, defaultFFmpegPath)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLCOORD_HTTP_PORT", "9090")
	t.Setenv("CALLCOORD_RING_TIMEOUT", "30")
	t.Setenv("CALLCOORD_DATABASE_URL", "postgres://localhost/calls")
	t.Setenv("CALLCOORD_LOG_LEVEL", "debug")
	os.Args = []string{"callcoord"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.RingTimeoutSec != 30 {
		t.Errorf("RingTimeoutSec = %d, want 30", cfg.RingTimeoutSec)
	}
	if cfg.DatabaseURL != "postgres://localhost/calls" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestFlagsBeatEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLCOORD_HTTP_PORT", "9090")
	os.Args = []string{"callcoord", "-http-port", "7070"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 7070 {
		t.Errorf("HTTPPort = %d, want 7070 (flag should beat env)", cfg.HTTPPort)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad port", []string{"callcoord", "-http-port", "0"}},
		{"bad log level", []string{"callcoord", "-log-level", "verbose"}},
		{"bad log format", []string{"callcoord", "-log-format", "xml"}},
		{"zero ring timeout", []string{"callcoord", "-ring-timeout", "0"}},
		{"negative sweep", []string{"callcoord", "-sweep-interval", "-5"}},
		{"partial apns", []string{"callcoord", "-apns-key-file", "key.p8"}},
		{"bucket without creds", []string{"callcoord", "-firebase-bucket", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			os.Args = tt.args
			if _, err := Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAPNSCompleteSetAccepted(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"callcoord",
		"-apns-key-file", "key.p8",
		"-apns-key-id", "ABC123",
		"-apns-team-id", "TEAM1",
		"-apns-bundle-id", "com.example.app",
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.APNSEnabled() {
		t.Error("APNSEnabled = false with full credential set")
	}
}

func TestRecordingsDir(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/callcoord"}
	if got := cfg.RecordingsDir(); got != "/var/lib/callcoord/recordings" {
		t.Errorf("RecordingsDir = %q", got)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
