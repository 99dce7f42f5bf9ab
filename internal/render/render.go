// Package render projects a transcript snapshot into the display-ready view
// served to the presentation boundary. Projection is read-only: citations are
// resolved lazily here, never written back into stored content.
package render

import (
	"time"

	"github.com/callsight/console/internal/citations"
	"github.com/callsight/console/internal/envelope"
	"github.com/callsight/console/internal/session"
	"github.com/callsight/console/internal/telemetry"
)

const (
	KindText     = "text"
	KindEnvelope = "envelope"
)

// View is the rendered transcript for one session.
type View struct {
	SessionID string        `json:"session_id"`
	Messages  []MessageView `json:"messages"`
}

// MessageView is one rendered transcript entry: either literal text plus the
// streaming indicator, or a structured envelope with citations resolved.
type MessageView struct {
	ID        string            `json:"id"`
	Role      session.Role      `json:"role"`
	Streaming bool              `json:"streaming"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Kind      string            `json:"kind"`
	Text      string            `json:"text,omitempty"`
	Envelope  *EnvelopeView     `json:"envelope,omitempty"`
	Telemetry telemetry.Samples `json:"telemetry"`
}

// EnvelopeView is a structured result with per-fact citation segments.
type EnvelopeView struct {
	Sentiment         string            `json:"sentiment,omitempty"`
	Intent            string            `json:"intent,omitempty"`
	SuggestedResponse string            `json:"suggested_response,omitempty"`
	AgentGuidance     string            `json:"agent_guidance,omitempty"`
	Sarcasm           *envelope.Sarcasm `json:"sarcasm,omitempty"`
	Facts             []FactView        `json:"facts,omitempty"`
}

// FactView is one knowledge-base fact with its citation references resolved
// into segments.
type FactView struct {
	Text     string              `json:"text"`
	Segments []citations.Segment `json:"segments"`
}

// Project renders a transcript snapshot against the citation store.
func Project(sessionID string, msgs []session.Message, store *citations.Store) View {
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = projectMessage(m, store)
	}
	return View{SessionID: sessionID, Messages: views}
}

func projectMessage(m session.Message, store *citations.Store) MessageView {
	v := MessageView{
		ID:        m.ID,
		Role:      m.Role,
		Streaming: m.Streaming,
		Telemetry: m.Telemetry,
	}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		v.Timestamp = &ts
	}

	// The structured-vs-text decision was made once at finalization and
	// cached on the message; only citation resolution happens per render.
	if m.Envelope == nil {
		v.Kind = KindText
		v.Text = m.Content
		return v
	}

	env := m.Envelope
	ev := &EnvelopeView{
		Sentiment:         env.Sentiment,
		Intent:            env.Intent,
		SuggestedResponse: env.SuggestedResponse,
		AgentGuidance:     env.AgentGuidance,
		Sarcasm:           env.Sarcasm,
	}
	for _, fact := range env.Facts {
		ev.Facts = append(ev.Facts, FactView{
			Text:     fact,
			Segments: citations.Resolve(fact, store),
		})
	}

	v.Kind = KindEnvelope
	v.Envelope = ev
	return v
}
