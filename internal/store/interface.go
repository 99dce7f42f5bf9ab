package store

import (
	"context"
	"time"

	"github.com/callsight/console/internal/events"
)

// DataStore is the interface consumed by the batcher, the session manager,
// and the API. The concrete implementation is *Store (pgx-backed).
type DataStore interface {
	InsertEvents(ctx context.Context, recs []events.Record) error
	TranscriptExists(ctx context.Context, sessionID string) (bool, error)
	InsertTranscript(ctx context.Context, sessionID, transcript string, messageCount int, duration string, firstMessageAt, lastMessageAt *time.Time) error
	GetTranscript(ctx context.Context, sessionID string) (map[string]any, error)
	QueryTranscripts(ctx context.Context, limit int) ([]map[string]any, error)
	Close()
}
