package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != 8600 {
		t.Errorf("Port: got %d", cfg.Port)
	}
	if cfg.NatsURL != "nats://localhost:4222" {
		t.Errorf("NatsURL: got %q", cfg.NatsURL)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL: got %q", cfg.DatabaseURL)
	}
	if cfg.BatchFlushInterval != 5*time.Second {
		t.Errorf("BatchFlushInterval: got %v", cfg.BatchFlushInterval)
	}
	if cfg.BatchFlushThreshold != 100 {
		t.Errorf("BatchFlushThreshold: got %d", cfg.BatchFlushThreshold)
	}
	if cfg.BufferMaxSize != 10000 {
		t.Errorf("BufferMaxSize: got %d", cfg.BufferMaxSize)
	}
	if cfg.InboxSize != 256 {
		t.Errorf("InboxSize: got %d", cfg.InboxSize)
	}
	if cfg.EchoMergeWindow != 5*time.Second {
		t.Errorf("EchoMergeWindow: got %v", cfg.EchoMergeWindow)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %q", cfg.LogLevel)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CONSOLE_PORT", "9100")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("DATABASE_URL", "postgres://localhost/console")
	t.Setenv("ECHO_MERGE_WINDOW_MS", "2500")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Port != 9100 {
		t.Errorf("Port: got %d", cfg.Port)
	}
	if cfg.NatsURL != "nats://broker:4222" {
		t.Errorf("NatsURL: got %q", cfg.NatsURL)
	}
	if cfg.DatabaseURL != "postgres://localhost/console" {
		t.Errorf("DatabaseURL: got %q", cfg.DatabaseURL)
	}
	if cfg.EchoMergeWindow != 2500*time.Millisecond {
		t.Errorf("EchoMergeWindow: got %v", cfg.EchoMergeWindow)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q", cfg.LogLevel)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("CONSOLE_PORT", "not-a-number")
	t.Setenv("BATCH_FLUSH_THRESHOLD", "")

	cfg := Load()

	if cfg.Port != 8600 {
		t.Errorf("Port: got %d, want default", cfg.Port)
	}
	if cfg.BatchFlushThreshold != 100 {
		t.Errorf("BatchFlushThreshold: got %d, want default", cfg.BatchFlushThreshold)
	}
}
