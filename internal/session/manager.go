package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callsight/console/internal/events"
)

// Archiver persists the assembled transcript of a closed session. The
// concrete implementation is the pgx-backed store.
type Archiver interface {
	TranscriptExists(ctx context.Context, sessionID string) (bool, error)
	InsertTranscript(ctx context.Context, sessionID, transcript string, messageCount int, duration string, firstMessageAt, lastMessageAt *time.Time) error
}

// Config tunes per-session behavior.
type Config struct {
	InboxSize  int
	EchoWindow time.Duration
}

// Manager owns the live sessions. Each session gets one inbox and one
// consumer goroutine, so events are applied one at a time to completion no
// matter how many producers feed it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*running

	cfg      Config
	archive  Archiver
	onChange func(sessionID string)
}

type running struct {
	sess   *Session
	inbox  chan events.Event
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, archive Archiver) *Manager {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	return &Manager{
		sessions: make(map[string]*running),
		cfg:      cfg,
		archive:  archive,
	}
}

// SetOnChange registers a callback invoked after every applied event, used to
// push fresh projections to connected clients.
func (m *Manager) SetOnChange(fn func(sessionID string)) { m.onChange = fn }

// Create starts a new session and its consumer loop.
func (m *Manager) Create() *Session {
	sess := New(uuid.New().String())
	if m.cfg.EchoWindow > 0 {
		sess.SetEchoWindow(m.cfg.EchoWindow)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{
		sess:   sess,
		inbox:  make(chan events.Event, m.cfg.InboxSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = r
	m.mu.Unlock()

	go m.run(ctx, r)

	slog.Info("session: created", "session_id", sess.ID)
	return sess
}

// Get returns a live session by id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return r.sess, true
}

// Deliver queues an event onto the session's inbox. A full inbox drops the
// event with a warning rather than blocking the producer.
func (m *Manager) Deliver(sessionID string, e events.Event) error {
	m.mu.RLock()
	r, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}

	select {
	case r.inbox <- e:
		return nil
	default:
		slog.Warn("session: inbox full, dropping event",
			"session_id", sessionID,
			"kind", e.Kind(),
		)
		return fmt.Errorf("session %s inbox full", sessionID)
	}
}

// run is the single consumer loop: one event at a time, to completion.
func (m *Manager) run(ctx context.Context, r *running) {
	defer close(r.done)
	for {
		select {
		case e := <-r.inbox:
			if _, closed := e.(events.SessionClosed); closed {
				// Teardown runs off-loop; Close waits for this goroutine.
				go func() {
					if err := m.Close(context.Background(), r.sess.ID); err != nil {
						slog.Warn("session: close failed", "session_id", r.sess.ID, "error", err)
					}
				}()
				return
			}
			r.sess.Apply(e)
			if m.onChange != nil {
				m.onChange(r.sess.ID)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the session loop, archives the transcript, and discards the
// session state. Closing an unknown session is a no-op.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	r, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	r.cancel()
	<-r.done

	if err := m.archiveSession(ctx, r.sess); err != nil {
		return fmt.Errorf("archive session %s: %w", sessionID, err)
	}

	slog.Info("session: closed", "session_id", sessionID, "messages", r.sess.Len())
	return nil
}

// CloseAll tears down every live session, archiving each.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil {
			slog.Warn("session: close failed during shutdown", "session_id", id, "error", err)
		}
	}
}

// archiveSession assembles and persists the final transcript. Skips silently
// when no archiver is configured or the transcript is empty, and is
// idempotent across duplicate close signals.
func (m *Manager) archiveSession(ctx context.Context, sess *Session) error {
	if m.archive == nil {
		return nil
	}

	msgs := sess.Snapshot()
	if len(msgs) == 0 {
		return nil
	}

	exists, err := m.archive.TranscriptExists(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("check transcript existence: %w", err)
	}
	if exists {
		slog.Info("session: already archived, skipping", "session_id", sess.ID)
		return nil
	}

	var sb strings.Builder
	var first, last *time.Time
	for _, msg := range msgs {
		fmt.Fprintf(&sb, "[%s]: %s\n", msg.Role, msg.Content)

		if msg.Timestamp.IsZero() {
			continue
		}
		t := msg.Timestamp
		if first == nil || t.Before(*first) {
			first = &t
		}
		if last == nil || t.After(*last) {
			last = &t
		}
	}

	var duration string
	if first != nil && last != nil {
		duration = last.Sub(*first).String()
	}

	if err := m.archive.InsertTranscript(ctx, sess.ID, sb.String(), len(msgs), duration, first, last); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	slog.Info("session: transcript archived", "session_id", sess.ID, "messages", len(msgs))
	return nil
}
