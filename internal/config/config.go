package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                int
	NatsURL             string
	DatabaseURL         string
	BatchFlushInterval  time.Duration
	BatchFlushThreshold int
	BufferMaxSize       int
	InboxSize           int
	EchoMergeWindow     time.Duration
	LogLevel            string
	SlackBotToken       string
	SlackAlertChannel   string
}

func Load() Config {
	return Config{
		Port:                envInt("CONSOLE_PORT", 8600),
		NatsURL:             envStr("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		BatchFlushInterval:  time.Duration(envInt("BATCH_FLUSH_INTERVAL_MS", 5000)) * time.Millisecond,
		BatchFlushThreshold: envInt("BATCH_FLUSH_THRESHOLD", 100),
		BufferMaxSize:       envInt("BUFFER_MAX_SIZE", 10000),
		InboxSize:           envInt("SESSION_INBOX_SIZE", 256),
		EchoMergeWindow:     time.Duration(envInt("ECHO_MERGE_WINDOW_MS", 5000)) * time.Millisecond,
		LogLevel:            envStr("LOG_LEVEL", "info"),
		SlackBotToken:       envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel:   envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
