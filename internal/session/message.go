package session

import (
	"time"

	"github.com/callsight/console/internal/envelope"
	"github.com/callsight/console/internal/telemetry"
)

type Role string

const (
	RoleOperator Role = "operator"
	RoleAgent    Role = "agent"
	RoleSystem   Role = "system"
)

// Message is a single transcript entry. While Streaming is true, Content only
// grows by concatenation; once Streaming flips to false the entry is
// immutable apart from late telemetry attachment.
type Message struct {
	ID         string             `json:"id"`
	Role       Role               `json:"role"`
	Content    string             `json:"content"`
	Streaming  bool               `json:"streaming"`
	Timestamp  time.Time          `json:"timestamp"`
	SpeakerKey string             `json:"speaker_key,omitempty"`
	Telemetry  telemetry.Samples  `json:"telemetry"`
	Envelope   *envelope.Envelope `json:"envelope,omitempty"`

	// created is the provisional arrival time, used only for the echo-merge
	// window. Timestamp is the stable stamp assigned at finalization.
	created time.Time
}

// Final reports whether the message has stopped accumulating content.
func (m *Message) Final() bool { return !m.Streaming }
