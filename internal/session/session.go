// Package session implements the transcript reconciler: the state machine
// that folds the independent event streams of one live assist session into an
// ordered, deduplicated transcript.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callsight/console/internal/citations"
	"github.com/callsight/console/internal/envelope"
	"github.com/callsight/console/internal/events"
)

// Session owns the ordered message list, the active-stream pointer, and the
// session-scoped citation metadata. All mutation happens on the session loop,
// one event at a time; Snapshot gives readers a consistent copy.
type Session struct {
	ID string

	// mu guards the message list. The loop is the only writer; readers take
	// snapshots so they never observe a half-applied event.
	mu sync.RWMutex

	messages []*Message
	byID     map[string]*Message

	// activeStreamID points at the agent message currently receiving tokens.
	// Cleared on stop. At most one agent message streams at a time.
	activeStreamID string

	// telemetryTargetID is captured when a stream becomes active and survives
	// the stop event, so samples that originate during generation but arrive
	// after the stop still land on the right message.
	telemetryTargetID string

	citations *citations.Store

	echoWindow time.Duration
	now        func() time.Time
}

const defaultEchoWindow = 5 * time.Second

func New(id string) *Session {
	return &Session{
		ID:         id,
		byID:       make(map[string]*Message),
		citations:  citations.NewStore(),
		echoWindow: defaultEchoWindow,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetEchoWindow overrides the duplicate-merge time window. Zero disables the
// echo heuristic entirely.
func (s *Session) SetEchoWindow(d time.Duration) { s.echoWindow = d }

// Citations returns the session's citation metadata store.
func (s *Session) Citations() *citations.Store { return s.citations }

// Apply folds one event into the transcript. It never fails: a malformed or
// out-of-order event is absorbed, not propagated.
func (s *Session) Apply(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := e.(type) {
	case events.OperatorPartial:
		s.applyOperatorPartial(v)
	case events.GenerationStarted:
		s.applyGenerationStarted()
	case events.GenerationToken:
		s.applyGenerationToken(v)
	case events.GenerationStopped:
		s.applyGenerationStopped()
	case events.MetricsSample:
		s.applyMetricsSample(v)
	case events.RetrievalResults:
		s.citations.Merge(v.MetadataByChunk())
	case events.OperatorSubmit:
		s.applyOperatorSubmit(v)
	default:
		slog.Warn("session: unhandled event kind", "session_id", s.ID, "kind", e.Kind())
	}
}

// applyOperatorPartial merges a speech-to-text result into the transcript.
// Precedence: (1) the open streaming message for the same speaker key,
// (2) a recent locally-echoed message without a key (exact match before
// containment), (3) a fresh message.
func (s *Session) applyOperatorPartial(e events.OperatorPartial) {
	if m := s.openOperatorStream(e.SpeakerKey); m != nil {
		m.Content = e.Text
		m.Streaming = !e.Final
		if e.Final && m.Timestamp.IsZero() {
			m.Timestamp = s.now()
		}
		return
	}

	if m := findEchoCandidate(s.messages, e.Text, s.now(), s.echoWindow); m != nil {
		// Same utterance already present from a local echo or an unkeyed
		// partial: merge rather than double-render the turn.
		if len(e.Text) >= len(m.Content) {
			m.Content = e.Text
		}
		m.SpeakerKey = e.SpeakerKey
		m.Streaming = !e.Final
		if e.Final && m.Timestamp.IsZero() {
			m.Timestamp = s.now()
		}
		return
	}

	m := &Message{
		ID:         uuid.New().String(),
		Role:       RoleOperator,
		Content:    e.Text,
		Streaming:  !e.Final,
		SpeakerKey: e.SpeakerKey,
		created:    s.now(),
	}
	if e.Final {
		m.Timestamp = m.created
	}
	s.append(m)
}

// openOperatorStream finds the most recent streaming operator message with a
// matching speaker key.
func (s *Session) openOperatorStream(speakerKey string) *Message {
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Role == RoleOperator && m.Streaming && m.SpeakerKey == speakerKey {
			return m
		}
	}
	return nil
}

// applyGenerationStarted is idempotent: a redundant start while a stream is
// open resumes it, a start while idle just leaves message creation to the
// first token.
func (s *Session) applyGenerationStarted() {
	if m := s.latestAgent(); m != nil && m.Streaming {
		s.activeStreamID = m.ID
		s.telemetryTargetID = m.ID
		return
	}
	s.activeStreamID = ""
}

func (s *Session) applyGenerationToken(e events.GenerationToken) {
	if m, ok := s.byID[s.activeStreamID]; ok && m.Streaming {
		m.Content += e.Token
		return
	}

	m := &Message{
		ID:        uuid.New().String(),
		Role:      RoleAgent,
		Content:   e.Token,
		Streaming: true,
		created:   s.now(),
	}
	s.append(m)
	s.activeStreamID = m.ID
	s.telemetryTargetID = m.ID
}

// applyGenerationStopped finalizes the active stream: stamps the timestamp,
// decides once whether the content is a structured envelope, and clears the
// pointer. A stray stop while idle is a no-op.
func (s *Session) applyGenerationStopped() {
	m, ok := s.byID[s.activeStreamID]
	if !ok {
		return
	}
	m.Streaming = false
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	m.Envelope = envelope.TryParse(m.Content)
	s.activeStreamID = ""
}

// applyMetricsSample attaches the sample to the message captured as the
// telemetry target when generation last started. The target is not re-derived
// here: the sample may arrive after the stop event cleared the active
// pointer. With no target on record the sample is dropped; telemetry is
// best effort.
func (s *Session) applyMetricsSample(e events.MetricsSample) {
	m, ok := s.byID[s.telemetryTargetID]
	if !ok {
		slog.Debug("session: dropping orphan telemetry sample", "session_id", s.ID)
		return
	}
	m.Telemetry.Append(e.Samples)
}

// applyOperatorSubmit appends locally typed input as a complete message,
// bypassing the merge heuristics.
func (s *Session) applyOperatorSubmit(e events.OperatorSubmit) {
	now := s.now()
	s.append(&Message{
		ID:        uuid.New().String(),
		Role:      RoleOperator,
		Content:   e.Text,
		Streaming: false,
		Timestamp: now,
		created:   now,
	})
}

func (s *Session) latestAgent() *Message {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAgent {
			return s.messages[i]
		}
	}
	return nil
}

func (s *Session) append(m *Message) {
	s.messages = append(s.messages, m)
	s.byID[m.ID] = m
}

// Snapshot returns a consistent copy of the transcript in append order.
// Telemetry series are cloned; envelope pointers are shared, which is safe
// because an envelope is parsed once at finalization and never mutated.
func (s *Session) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
		out[i].Telemetry = m.Telemetry.Clone()
	}
	return out
}

// Len returns the number of transcript entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
