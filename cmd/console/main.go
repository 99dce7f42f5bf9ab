package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/callsight/console/internal/api"
	"github.com/callsight/console/internal/batcher"
	"github.com/callsight/console/internal/config"
	"github.com/callsight/console/internal/events"
	"github.com/callsight/console/internal/gateway"
	"github.com/callsight/console/internal/ingester"
	"github.com/callsight/console/internal/session"
	slackalert "github.com/callsight/console/internal/slack"
	"github.com/callsight/console/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("console starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"flush_interval", cfg.BatchFlushInterval,
		"flush_threshold", cfg.BatchFlushThreshold,
		"echo_merge_window", cfg.EchoMergeWindow,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to the archive database, if configured. The console can
	// run without one; sessions then live in memory only.
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		pg, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		db = pg
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, running without archive")
		db = noopStore{}
	}

	// Step 2: Session manager with archive-on-teardown.
	var archive session.Archiver
	if _, ok := db.(noopStore); !ok {
		archive = db
	}
	sessions := session.NewManager(session.Config{
		InboxSize:  cfg.InboxSize,
		EchoWindow: cfg.EchoMergeWindow,
	}, archive)

	// Step 3: Audit batcher.
	bat := batcher.New(db, batcher.Config{
		FlushInterval:  cfg.BatchFlushInterval,
		FlushThreshold: cfg.BatchFlushThreshold,
		BufferMax:      cfg.BufferMaxSize,
	})
	bat.Start(ctx)

	// Step 4: Connect to NATS and start ingesting.
	ing, err := ingester.New(cfg.NatsURL, sessions, bat)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer ing.Close()

	// Conditionally create the Slack alerter for system alerts.
	var slackAlerter *slackalert.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		slackAlerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	ing.SetAlertHandler(func(ctx context.Context, subject string, data []byte) {
		if slackAlerter == nil {
			return
		}
		if err := slackAlerter.PostSystemAlert(ctx, subject, data); err != nil {
			slog.Warn("failed to post alert to Slack", "error", err)
		}
	})

	if err := ing.Start(); err != nil {
		slog.Error("failed to start ingester", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS ingester started")

	// Step 5: Websocket gateway and HTTP API.
	gw := gateway.New(sessions, bat)
	srv := api.NewServer(sessions, db, bat, gw, cfg.Port)
	sessions.SetOnChange(srv.PublishTranscript)

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Step 6: Announce availability.
	announcement, _ := json.Marshal(map[string]any{
		"type":      "service.registered",
		"source":    "console",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"metadata":  map[string]any{"port": cfg.Port},
	})
	if err := ing.Publish("assist.system.console.registered", announcement); err != nil {
		slog.Warn("failed to publish registration event", "error", err)
	}

	slog.Info("console ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	sessions.CloseAll(shutdownCtx)
	cancel()
	bat.Wait()
	slog.Info("console stopped")
}

// noopStore satisfies store.DataStore when no database is configured. Audit
// batches and archives are discarded.
type noopStore struct{}

func (noopStore) InsertEvents(context.Context, []events.Record) error { return nil }
func (noopStore) TranscriptExists(context.Context, string) (bool, error) {
	return false, nil
}
func (noopStore) InsertTranscript(_ context.Context, _ string, _ string, _ int, _ string, _, _ *time.Time) error {
	return nil
}
func (noopStore) GetTranscript(context.Context, string) (map[string]any, error) {
	return nil, errNoArchive
}
func (noopStore) QueryTranscripts(context.Context, int) ([]map[string]any, error) {
	return nil, errNoArchive
}
func (noopStore) Close() {}

var errNoArchive = errors.New("archive not configured")

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
