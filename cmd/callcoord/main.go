package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/memharbor/callcoord/internal/api"
	"github.com/memharbor/callcoord/internal/call"
	"github.com/memharbor/callcoord/internal/capture"
	"github.com/memharbor/callcoord/internal/config"
	"github.com/memharbor/callcoord/internal/database"
	"github.com/memharbor/callcoord/internal/database/pgstore"
	"github.com/memharbor/callcoord/internal/firebase"
	"github.com/memharbor/callcoord/internal/metrics"
	"github.com/memharbor/callcoord/internal/push"
	"github.com/memharbor/callcoord/internal/recording"
	"github.com/memharbor/callcoord/internal/transcode"
)

// historyStore is implemented by call stores that support terminal-record
// retention.
type historyStore interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callcoord",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"ring_timeout_sec", cfg.RingTimeoutSec,
	)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Call store: PostgreSQL when a DSN is configured, embedded SQLite
	// otherwise. Both run their migrations on open.
	var store call.Store
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open postgres store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
		slog.Info("using postgresql call store")
	} else {
		db, err := database.Open(cfg.DataDir)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = database.NewCallStore(db)
	}

	// Firebase backs both push-token lookup and recording archival.
	var fb *firebase.Service
	if cfg.FirebaseEnabled() {
		fb, err = firebase.New(appCtx, cfg.FirebaseCredentials, cfg.FirebaseBucket)
		if err != nil {
			slog.Error("failed to initialize firebase", "error", err)
			os.Exit(1)
		}
		defer fb.Close()
	}

	notifier := buildNotifier(appCtx, cfg, fb, logger)

	manager := call.NewManager(store, notifier, cfg.RingTimeout(), logger)
	defer manager.Shutdown()

	// Reconcile calls whose ring timers were lost to the previous
	// process exit.
	if expired, err := manager.Sweep(appCtx, cfg.RingTimeout()); err != nil {
		slog.Error("boot sweep failed", "error", err)
	} else if expired > 0 {
		slog.Info("boot sweep expired stale calls", "count", expired)
	}
	if cfg.SweepInterval() > 0 {
		manager.StartSweepTicker(appCtx, cfg.SweepInterval())
	}

	// Recording subsystem.
	var capability capture.Capability = capture.Unconfigured{}
	if cfg.CaptureAgentURL != "" {
		capability = capture.NewAgentClient(cfg.CaptureAgentURL)
		slog.Info("capture agent configured", "url", cfg.CaptureAgentURL)
	} else {
		slog.Warn("no capture agent configured, recording starts will fail")
	}

	var uploader recording.Uploader
	if fb != nil && cfg.FirebaseBucket != "" {
		uploader = fb
	}

	pipeline := recording.NewPipeline(cfg.RecordingsDir(), transcode.NewFFmpeg(cfg.FFmpegPath), uploader, logger)
	recorder := recording.NewRecorder(capability, pipeline, logger)

	if cfg.RecordingMaxDays > 0 {
		recording.StartCleanupTicker(appCtx, cfg.RecordingsDir(), cfg.RecordingMaxDays, time.Hour)
	}
	if cfg.CallMaxDays > 0 {
		if hs, ok := store.(historyStore); ok {
			startHistoryCleanup(appCtx, hs, cfg.CallMaxDays)
		}
	}

	// Prometheus collector scraped through GET /metrics.
	var statusCounter metrics.CallStatusCounter
	if sc, ok := store.(metrics.CallStatusCounter); ok {
		statusCounter = sc
	}
	prometheus.MustRegister(metrics.NewCollector(
		&sessionCountAdapter{recorder: recorder},
		statusCounter,
		time.Now(),
	))

	// HTTP server using the api package.
	handler := api.NewServer(manager, recorder, cfg)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // stop waits on transcode and upload
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callcoord stopped")
}

// buildNotifier wires the push dispatcher from whichever transports are
// configured. Returns nil when no transport can deliver a push, in which
// case invites proceed with pushSent=false.
func buildNotifier(ctx context.Context, cfg *config.Config, fb *firebase.Service, logger *slog.Logger) call.Notifier {
	if fb == nil {
		slog.Warn("firebase not configured, call pushes disabled")
		return nil
	}

	var apns push.VoIPSender
	if cfg.APNSEnabled() {
		sender, err := push.NewAPNsSender(push.APNsConfig{
			KeyFile:  cfg.APNSKeyFile,
			KeyID:    cfg.APNSKeyID,
			TeamID:   cfg.APNSTeamID,
			BundleID: cfg.APNSBundleID,
			Sandbox:  cfg.APNSSandbox,
		})
		if err != nil {
			slog.Error("failed to initialize apns", "error", err)
			os.Exit(1)
		}
		apns = sender
		slog.Info("apns voip push enabled", "sandbox", cfg.APNSSandbox)
	}

	fcm, err := push.NewFCMSender(ctx, fb.App())
	if err != nil {
		slog.Error("failed to initialize fcm", "error", err)
		os.Exit(1)
	}

	return push.NewDispatcher(fb, apns, fcm, logger)
}

// sessionCountAdapter bridges the recorder with the metrics collector's
// ActiveSessionsProvider interface.
type sessionCountAdapter struct {
	recorder *recording.Recorder
}

func (a *sessionCountAdapter) ActiveSessionCount() int {
	return len(a.recorder.Sessions())
}

// startHistoryCleanup deletes terminal call records older than maxDays once
// a day. Pending and accepted calls are never touched.
func startHistoryCleanup(ctx context.Context, store historyStore, maxDays int) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -maxDays)
				deleted, err := store.DeleteTerminalBefore(ctx, cutoff)
				if err != nil {
					slog.Error("call history cleanup failed", "error", err)
				} else if deleted > 0 {
					slog.Info("call history cleanup removed records", "count", deleted)
				}
			}
		}
	}()
}
