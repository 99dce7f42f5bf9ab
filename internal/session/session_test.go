package session

import (
	"strings"
	"testing"
	"time"

	"github.com/callsight/console/internal/citations"
	"github.com/callsight/console/internal/events"
	"github.com/callsight/console/internal/telemetry"
)

// newTestSession returns a session with a controllable clock.
func newTestSession(t *testing.T) (*Session, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := New("test-session")
	s.now = func() time.Time { return now }
	return s, &now
}

func assertSingleActiveAgentStream(t *testing.T, s *Session) {
	t.Helper()
	active := 0
	for _, m := range s.Snapshot() {
		if m.Role == RoleAgent && m.Streaming {
			active++
		}
	}
	if active > 1 {
		t.Fatalf("expected at most 1 active agent stream, got %d", active)
	}
}

func TestOperatorPartial_MergesPartialsBySpeakerKey(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.OperatorPartial{Text: "what is the", Final: false, SpeakerKey: "spk-0"})
	s.Apply(events.OperatorPartial{Text: "what is the return policy", Final: true, SpeakerKey: "spk-0"})

	msgs := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 operator message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Content != "what is the return policy" {
		t.Errorf("unexpected content: %q", m.Content)
	}
	if m.Streaming {
		t.Error("expected streaming=false after final partial")
	}
	if m.Timestamp.IsZero() {
		t.Error("expected timestamp stamped on final transition")
	}
}

func TestOperatorPartial_InterimHasNoTimestamp(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.OperatorPartial{Text: "hello", Final: false, SpeakerKey: "spk-0"})

	if ts := s.Snapshot()[0].Timestamp; !ts.IsZero() {
		t.Errorf("expected zero timestamp while streaming, got %v", ts)
	}
}

func TestOperatorPartial_DistinctSpeakersGetDistinctMessages(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.OperatorPartial{Text: "I ordered a laptop", Final: false, SpeakerKey: "spk-0"})
	s.Apply(events.OperatorPartial{Text: "let me check", Final: false, SpeakerKey: "spk-1"})
	s.Apply(events.OperatorPartial{Text: "I ordered a laptop yesterday", Final: true, SpeakerKey: "spk-0"})

	msgs := s.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "I ordered a laptop yesterday" {
		t.Errorf("unexpected content for spk-0: %q", msgs[0].Content)
	}
	if !msgs[1].Streaming {
		t.Error("expected spk-1 message still streaming")
	}
}

func TestOperatorPartial_MergesLocalEcho(t *testing.T) {
	s, _ := newTestSession(t)

	// Locally typed input, already complete.
	s.Apply(events.OperatorSubmit{Text: "Can I return my order?"})
	// The speech engine later confirms the same utterance with a speaker key.
	s.Apply(events.OperatorPartial{Text: "can i return my order?", Final: true, SpeakerKey: "spk-0"})

	msgs := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("expected the echoed turn to merge into 1 message, got %d", len(msgs))
	}
	if msgs[0].SpeakerKey != "spk-0" {
		t.Errorf("expected speaker key stamped on merge, got %q", msgs[0].SpeakerKey)
	}
}

func TestOperatorPartial_EchoOutsideWindowNotMerged(t *testing.T) {
	s, now := newTestSession(t)

	s.Apply(events.OperatorSubmit{Text: "hello there"})
	*now = now.Add(6 * time.Second)
	s.Apply(events.OperatorPartial{Text: "hello there", Final: true, SpeakerKey: "spk-0"})

	if got := s.Len(); got != 2 {
		t.Fatalf("expected 2 messages for stale echo, got %d", got)
	}
}

func TestOperatorSubmit_BypassesMergeAndIsStamped(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.OperatorSubmit{Text: "checking the account now"})
	s.Apply(events.OperatorSubmit{Text: "checking the account now"})

	msgs := s.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected local submits to never merge, got %d messages", len(msgs))
	}
	for _, m := range msgs {
		if m.Streaming {
			t.Error("expected local submit to be non-streaming")
		}
		if m.Timestamp.IsZero() {
			t.Error("expected local submit stamped at creation")
		}
	}
}

func TestAgentStream_TokensAccumulate(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.GenerationStarted{})
	var seen []string
	for _, tok := range []string{"The ", "policy ", "is..."} {
		s.Apply(events.GenerationToken{Token: tok})
		msgs := s.Snapshot()
		if len(msgs) != 1 {
			t.Fatalf("expected 1 agent message, got %d", len(msgs))
		}
		seen = append(seen, msgs[0].Content)
	}
	s.Apply(events.GenerationStopped{})

	msgs := s.Snapshot()
	if msgs[0].Content != "The policy is..." {
		t.Errorf("unexpected final content: %q", msgs[0].Content)
	}
	if msgs[0].Streaming {
		t.Error("expected streaming=false after stop")
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("expected timestamp stamped at finalization")
	}

	// Content observed earlier is always a prefix of content observed later.
	for i := 1; i < len(seen); i++ {
		if !strings.HasPrefix(seen[i], seen[i-1]) {
			t.Errorf("content not append-only: %q then %q", seen[i-1], seen[i])
		}
	}
}

func TestAgentStream_DuplicateStartResumesExisting(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.GenerationStarted{})
	s.Apply(events.GenerationToken{Token: "Hello"})
	// Redundant start mid-stream must not open a second stream.
	s.Apply(events.GenerationStarted{})
	s.Apply(events.GenerationToken{Token: " again"})
	assertSingleActiveAgentStream(t, s)

	msgs := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 agent message, got %d", len(msgs))
	}
	if msgs[0].Content != "Hello again" {
		t.Errorf("unexpected content: %q", msgs[0].Content)
	}
}

func TestAgentStream_StrayStopIsNoop(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.GenerationStopped{})
	if s.Len() != 0 {
		t.Fatalf("expected empty transcript after stray stop, got %d messages", s.Len())
	}

	s.Apply(events.GenerationToken{Token: "hi"})
	s.Apply(events.GenerationStopped{})
	s.Apply(events.GenerationStopped{})

	msgs := s.Snapshot()
	if len(msgs) != 1 || msgs[0].Streaming {
		t.Fatalf("expected 1 finalized message after duplicate stop, got %+v", msgs)
	}
}

func TestAgentStream_NewTurnAfterStopCreatesNewMessage(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.GenerationStarted{})
	s.Apply(events.GenerationToken{Token: "first"})
	s.Apply(events.GenerationStopped{})

	s.Apply(events.GenerationStarted{})
	s.Apply(events.GenerationToken{Token: "second"})
	assertSingleActiveAgentStream(t, s)
	s.Apply(events.GenerationStopped{})

	msgs := s.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 agent messages, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("unexpected contents: %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestAgentStream_OrderPreservedAcrossInterleavedEvents(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.OperatorPartial{Text: "question one", Final: true, SpeakerKey: "spk-0"})
	s.Apply(events.GenerationStarted{})
	s.Apply(events.GenerationToken{Token: "answer one"})
	s.Apply(events.OperatorPartial{Text: "question two", Final: false, SpeakerKey: "spk-0"})
	s.Apply(events.GenerationStopped{})
	s.Apply(events.OperatorPartial{Text: "question two, actually", Final: true, SpeakerKey: "spk-0"})

	before := s.Snapshot()
	ids := make([]string, len(before))
	for i, m := range before {
		ids[i] = m.ID
	}

	// In-place merges must not reorder existing entries.
	after := s.Snapshot()
	for i := range ids {
		if after[i].ID != ids[i] {
			t.Fatalf("message order changed at index %d", i)
		}
	}
	if len(after) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(after))
	}
}

func TestEnvelope_ParsedOnceAtFinalization(t *testing.T) {
	s, _ := newTestSession(t)

	payload := `{"sentiment":"neutral","intent":"refund","suggested_response":"Sure.","agent_guidance":"Confirm order id.","facts":[]}`
	s.Apply(events.GenerationStarted{})
	s.Apply(events.GenerationToken{Token: payload})

	if env := s.Snapshot()[0].Envelope; env != nil {
		t.Fatal("expected no envelope while streaming")
	}

	s.Apply(events.GenerationStopped{})

	env := s.Snapshot()[0].Envelope
	if env == nil {
		t.Fatal("expected envelope cached at finalization")
	}
	if env.Intent != "refund" {
		t.Errorf("unexpected intent: %q", env.Intent)
	}
}

func TestMetricsSample_AttachedToActiveStream(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.GenerationStarted{})
	s.Apply(events.GenerationToken{Token: "hi"})
	s.Apply(events.MetricsSample{Samples: telemetry.Samples{Processing: []float64{12.5}}})
	s.Apply(events.MetricsSample{Samples: telemetry.Samples{Processing: []float64{7.25}, Characters: []float64{2}}})

	m := s.Snapshot()[0]
	if got := m.Telemetry.Processing; len(got) != 2 || got[0] != 12.5 || got[1] != 7.25 {
		t.Errorf("unexpected processing series: %v", got)
	}
	if got := m.Telemetry.Characters; len(got) != 1 || got[0] != 2 {
		t.Errorf("unexpected characters series: %v", got)
	}
}

func TestMetricsSample_LateSampleAttachesAfterStop(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.GenerationStarted{})
	s.Apply(events.GenerationToken{Token: "done"})
	s.Apply(events.GenerationStopped{})

	// The sample originated during generation but arrived after the stop
	// cleared the active pointer. It must still land on the finalized turn.
	s.Apply(events.MetricsSample{Samples: telemetry.Samples{TimeToFirstByte: []float64{180}}})

	m := s.Snapshot()[0]
	if len(m.Telemetry.TimeToFirstByte) != 1 {
		t.Fatalf("expected late sample attached to finalized message, got %+v", m.Telemetry)
	}
}

func TestMetricsSample_OrphanDiscarded(t *testing.T) {
	s, _ := newTestSession(t)

	// No generation has ever started.
	s.Apply(events.MetricsSample{Samples: telemetry.Samples{Processing: []float64{5}}})

	if s.Len() != 0 {
		t.Fatalf("expected orphan sample to be dropped, got %d messages", s.Len())
	}
}

func TestRetrievalResults_MergeIntoCitationStore(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.RetrievalResults{Chunks: []events.RetrievedChunk{
		{ID: "c1", Text: "Returns allowed in 7 days.", Metadata: citations.Metadata{ChunkID: "c1", FileName: "policy.pdf", Score: 0.92}},
	}})

	meta, ok := s.Citations().Get("c1")
	if !ok {
		t.Fatal("expected chunk c1 in citation store")
	}
	if meta.FileName != "policy.pdf" {
		t.Errorf("unexpected file name: %q", meta.FileName)
	}
}

func TestSnapshot_IsolatedFromLaterMutation(t *testing.T) {
	s, _ := newTestSession(t)

	s.Apply(events.GenerationToken{Token: "first"})
	snap := s.Snapshot()
	s.Apply(events.GenerationToken{Token: " second"})

	if snap[0].Content != "first" {
		t.Errorf("snapshot mutated by later event: %q", snap[0].Content)
	}
}
