package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callsight/console/internal/events"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InsertEvents batch-inserts raw event records into assist_events. The table
// uses event_id as PK so a redelivered batch is harmless.
func (s *Store) InsertEvents(ctx context.Context, recs []events.Record) error {
	if len(recs) == 0 {
		return nil
	}

	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{r.EventID, r.SessionID, string(r.Kind), r.Timestamp, r.Payload}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"assist_events"},
		[]string{"event_id", "session_id", "event_type", "timestamp", "payload"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy events: %w", err)
	}

	slog.Debug("inserted events", "count", len(recs))
	return nil
}

// TranscriptExists reports whether a session's transcript was already
// archived.
func (s *Store) TranscriptExists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM assist_transcripts WHERE session_id = $1)`,
		sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transcript: %w", err)
	}
	return exists, nil
}

// InsertTranscript archives one assembled transcript per session.
func (s *Store) InsertTranscript(ctx context.Context, sessionID, transcript string, messageCount int, duration string, firstMessageAt, lastMessageAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assist_transcripts (session_id, transcript, message_count, duration, first_message_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, transcript, messageCount, duration, firstMessageAt, lastMessageAt)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// GetTranscript returns a single archived transcript by session id.
func (s *Store) GetTranscript(ctx context.Context, sessionID string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, transcript, message_count, duration, first_message_at, last_message_at, created_at
		FROM assist_transcripts
		WHERE session_id = $1
	`, sessionID)

	var (
		sid, transcript, duration string
		messageCount              int
		firstAt, lastAt           *time.Time
		createdAt                 time.Time
	)
	if err := row.Scan(&sid, &transcript, &messageCount, &duration, &firstAt, &lastAt, &createdAt); err != nil {
		return nil, err
	}

	result := map[string]any{
		"session_id":    sid,
		"transcript":    transcript,
		"message_count": messageCount,
		"duration":      duration,
		"created_at":    createdAt,
	}
	if firstAt != nil {
		result["first_message_at"] = *firstAt
	}
	if lastAt != nil {
		result["last_message_at"] = *lastAt
	}
	return result, nil
}

// QueryTranscripts lists archived transcripts, newest first.
func (s *Store) QueryTranscripts(ctx context.Context, limit int) ([]map[string]any, error) {
	q := `
		SELECT session_id, message_count, duration, first_message_at, last_message_at, created_at
		FROM assist_transcripts
		ORDER BY created_at DESC
	`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var (
			sid, duration   string
			messageCount    int
			firstAt, lastAt *time.Time
			createdAt       time.Time
		)
		if err := rows.Scan(&sid, &messageCount, &duration, &firstAt, &lastAt, &createdAt); err != nil {
			return nil, err
		}
		r := map[string]any{
			"session_id":    sid,
			"message_count": messageCount,
			"duration":      duration,
			"created_at":    createdAt,
		}
		if firstAt != nil {
			r["first_message_at"] = *firstAt
		}
		if lastAt != nil {
			r["last_message_at"] = *lastAt
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
