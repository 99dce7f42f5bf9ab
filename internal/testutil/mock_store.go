// Package testutil provides an in-memory DataStore for tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/callsight/console/internal/events"
)

// MockStore is an in-memory store.DataStore implementation.
type MockStore struct {
	mu          sync.Mutex
	events      []events.Record
	insertCalls int
	transcripts map[string]map[string]any

	// InsertErr makes InsertEvents fail, for write-failure paths.
	InsertErr error
}

func NewMockStore() *MockStore {
	return &MockStore{transcripts: make(map[string]map[string]any)}
}

func (m *MockStore) InsertEvents(_ context.Context, recs []events.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.insertCalls++
	m.events = append(m.events, recs...)
	return nil
}

func (m *MockStore) TranscriptExists(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.transcripts[sessionID]
	return ok, nil
}

func (m *MockStore) InsertTranscript(_ context.Context, sessionID, transcript string, messageCount int, duration string, firstMessageAt, lastMessageAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transcripts[sessionID]; ok {
		return nil // ON CONFLICT DO NOTHING
	}
	row := map[string]any{
		"session_id":    sessionID,
		"transcript":    transcript,
		"message_count": messageCount,
		"duration":      duration,
		"created_at":    time.Now().UTC(),
	}
	if firstMessageAt != nil {
		row["first_message_at"] = *firstMessageAt
	}
	if lastMessageAt != nil {
		row["last_message_at"] = *lastMessageAt
	}
	m.transcripts[sessionID] = row
	return nil
}

func (m *MockStore) GetTranscript(_ context.Context, sessionID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.transcripts[sessionID]
	if !ok {
		return nil, fmt.Errorf("transcript %s not found", sessionID)
	}
	return row, nil
}

func (m *MockStore) QueryTranscripts(_ context.Context, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []map[string]any
	for _, row := range m.transcripts {
		results = append(results, row)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) Close() {}

// GetInsertCalls returns how many times InsertEvents succeeded.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCalls
}

// GetEventCount returns the number of stored event records.
func (m *MockStore) GetEventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// GetTranscriptText returns the archived transcript text for a session, or "".
func (m *MockStore) GetTranscriptText(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.transcripts[sessionID]
	if !ok {
		return ""
	}
	text, _ := row["transcript"].(string)
	return text
}
