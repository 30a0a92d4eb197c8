// Package config loads runtime configuration for the call coordinator.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the coordinator.
// Precedence: CLI flags > env vars > .env file > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	CORSOrigins string

	// DatabaseURL selects PostgreSQL for call records when set; empty
	// uses the embedded SQLite database under DataDir.
	DatabaseURL string

	RingTimeoutSec   int // seconds before an unanswered call goes to missed
	SweepIntervalSec int // timeout sweep period; 0 disables the ticker
	RecordingMaxDays int // recording retention; 0 keeps recordings forever
	CallMaxDays      int // terminal call history retention; 0 keeps forever

	CaptureAgentURL string // capture agent endpoint; empty disables recording
	FFmpegPath      string

	FirebaseCredentials string // service-account JSON; empty disables firebase
	FirebaseBucket      string // storage bucket for recording archival

	APNSKeyFile  string
	APNSKeyID    string
	APNSTeamID   string
	APNSBundleID string
	APNSSandbox  bool
}

// defaults
const (
	defaultDataDir       = "./data"
	defaultHTTPPort      = 8080
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultRingTimeout   = 60
	defaultSweepInterval = 60
	defaultFFmpegPath    = "ffmpeg"
)

// envPrefix is the prefix for all coordinator environment variables.
const envPrefix = "CALLCOORD_"

// Load parses configuration from CLI flags and environment variables. A
// .env file in the working directory is loaded first so local development
// does not need exported variables.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{}

	fs := flag.NewFlagSet("callcoord", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for database and recordings")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL DSN for call records (empty uses embedded SQLite)")
	fs.IntVar(&cfg.RingTimeoutSec, "ring-timeout", defaultRingTimeout, "seconds before an unanswered call is marked missed")
	fs.IntVar(&cfg.SweepIntervalSec, "sweep-interval", defaultSweepInterval, "seconds between timeout sweeps (0 disables)")
	fs.IntVar(&cfg.RecordingMaxDays, "recording-max-days", 0, "days to keep recording files (0 keeps forever)")
	fs.IntVar(&cfg.CallMaxDays, "call-max-days", 0, "days to keep terminal call history (0 keeps forever)")
	fs.StringVar(&cfg.CaptureAgentURL, "capture-agent-url", "", "capture agent endpoint (empty disables recording)")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg-path", defaultFFmpegPath, "path to the ffmpeg binary")
	fs.StringVar(&cfg.FirebaseCredentials, "firebase-credentials", "", "path to firebase service-account JSON (empty disables firebase)")
	fs.StringVar(&cfg.FirebaseBucket, "firebase-bucket", "", "storage bucket for recording archival")
	fs.StringVar(&cfg.APNSKeyFile, "apns-key-file", "", "path to the APNs .p8 provider key")
	fs.StringVar(&cfg.APNSKeyID, "apns-key-id", "", "APNs key identifier")
	fs.StringVar(&cfg.APNSTeamID, "apns-team-id", "", "Apple Developer team ID")
	fs.StringVar(&cfg.APNSBundleID, "apns-bundle-id", "", "app bundle identifier (APNs topic)")
	fs.BoolVar(&cfg.APNSSandbox, "apns-sandbox", false, "use the APNs sandbox environment")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":             envPrefix + "DATA_DIR",
		"http-port":            envPrefix + "HTTP_PORT",
		"log-level":            envPrefix + "LOG_LEVEL",
		"log-format":           envPrefix + "LOG_FORMAT",
		"cors-origins":         envPrefix + "CORS_ORIGINS",
		"database-url":         envPrefix + "DATABASE_URL",
		"ring-timeout":         envPrefix + "RING_TIMEOUT",
		"sweep-interval":       envPrefix + "SWEEP_INTERVAL",
		"recording-max-days":   envPrefix + "RECORDING_MAX_DAYS",
		"call-max-days":        envPrefix + "CALL_MAX_DAYS",
		"capture-agent-url":    envPrefix + "CAPTURE_AGENT_URL",
		"ffmpeg-path":          envPrefix + "FFMPEG_PATH",
		"firebase-credentials": envPrefix + "FIREBASE_CREDENTIALS",
		"firebase-bucket":      envPrefix + "FIREBASE_BUCKET",
		"apns-key-file":        envPrefix + "APNS_KEY_FILE",
		"apns-key-id":          envPrefix + "APNS_KEY_ID",
		"apns-team-id":         envPrefix + "APNS_TEAM_ID",
		"apns-bundle-id":       envPrefix + "APNS_BUNDLE_ID",
		"apns-sandbox":         envPrefix + "APNS_SANDBOX",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "database-url":
			cfg.DatabaseURL = val
		case "ring-timeout":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RingTimeoutSec = v
			}
		case "sweep-interval":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SweepIntervalSec = v
			}
		case "recording-max-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RecordingMaxDays = v
			}
		case "call-max-days":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.CallMaxDays = v
			}
		case "capture-agent-url":
			cfg.CaptureAgentURL = val
		case "ffmpeg-path":
			cfg.FFmpegPath = val
		case "firebase-credentials":
			cfg.FirebaseCredentials = val
		case "firebase-bucket":
			cfg.FirebaseBucket = val
		case "apns-key-file":
			cfg.APNSKeyFile = val
		case "apns-key-id":
			cfg.APNSKeyID = val
		case "apns-team-id":
			cfg.APNSTeamID = val
		case "apns-bundle-id":
			cfg.APNSBundleID = val
		case "apns-sandbox":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.APNSSandbox = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.RingTimeoutSec < 1 {
		return fmt.Errorf("ring-timeout must be positive, got %d", c.RingTimeoutSec)
	}
	if c.SweepIntervalSec < 0 {
		return fmt.Errorf("sweep-interval must not be negative, got %d", c.SweepIntervalSec)
	}
	if c.RecordingMaxDays < 0 {
		return fmt.Errorf("recording-max-days must not be negative, got %d", c.RecordingMaxDays)
	}
	if c.CallMaxDays < 0 {
		return fmt.Errorf("call-max-days must not be negative, got %d", c.CallMaxDays)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	// APNs provider credentials come as a set.
	apnsFields := []string{c.APNSKeyFile, c.APNSKeyID, c.APNSTeamID, c.APNSBundleID}
	apnsSet := 0
	for _, f := range apnsFields {
		if f != "" {
			apnsSet++
		}
	}
	if apnsSet != 0 && apnsSet != len(apnsFields) {
		return fmt.Errorf("apns-key-file, apns-key-id, apns-team-id and apns-bundle-id must all be provided together")
	}

	if c.FirebaseBucket != "" && c.FirebaseCredentials == "" {
		return fmt.Errorf("firebase-bucket requires firebase-credentials")
	}

	return nil
}

// RingTimeout returns the ring timeout as a duration.
func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.RingTimeoutSec) * time.Second
}

// SweepInterval returns the timeout sweep period; zero disables it.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// RecordingsDir returns the directory recordings are written to.
func (c *Config) RecordingsDir() string {
	return filepath.Join(c.DataDir, "recordings")
}

// APNSEnabled reports whether the full APNs credential set is configured.
func (c *Config) APNSEnabled() bool {
	return c.APNSKeyFile != ""
}

// FirebaseEnabled reports whether firebase credentials are configured.
func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseCredentials != ""
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
