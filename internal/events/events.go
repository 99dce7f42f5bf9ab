// Package events defines the closed set of inbound event variants the
// session loop consumes, and the defensive decoding of wire frames into them.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/callsight/console/internal/citations"
	"github.com/callsight/console/internal/telemetry"
)

type Kind string

// Wire frame types. External sources are not guaranteed to deliver exactly
// one start/stop pair per turn, or in causal order; the session handlers
// absorb duplicates and stragglers.
const (
	KindOperatorPartial   Kind = "operator.partial"
	KindGenerationStarted Kind = "generation.started"
	KindGenerationToken   Kind = "generation.token"
	KindGenerationStopped Kind = "generation.stopped"
	KindMetricsSample     Kind = "metrics.sample"
	KindRetrievalResults  Kind = "search_knowledge_base"
	KindOperatorSubmit    Kind = "operator.submit"
	KindSessionClosed     Kind = "session.closed"
)

// Event is one variant of the session inbox's closed set.
type Event interface {
	Kind() Kind
}

// OperatorPartial is a speech-to-text result, interim or final, optionally
// tagged with a diarized speaker key.
type OperatorPartial struct {
	Text       string `json:"text"`
	Final      bool   `json:"final"`
	SpeakerKey string `json:"speaker_key,omitempty"`
}

func (OperatorPartial) Kind() Kind { return KindOperatorPartial }

// GenerationStarted signals the token source began (or resumed) a turn.
type GenerationStarted struct{}

func (GenerationStarted) Kind() Kind { return KindGenerationStarted }

// GenerationToken carries one increment of agent output.
type GenerationToken struct {
	Token string `json:"token"`
}

func (GenerationToken) Kind() Kind { return KindGenerationToken }

// GenerationStopped signals the end of the current agent turn.
type GenerationStopped struct{}

func (GenerationStopped) Kind() Kind { return KindGenerationStopped }

// MetricsSample is an out-of-band performance report for the turn that was
// generating when the sample originated. Delivery is best effort.
type MetricsSample struct {
	telemetry.Samples
}

func (MetricsSample) Kind() Kind { return KindMetricsSample }

// RetrievedChunk is one scored knowledge-base hit pushed by the retrieval
// service.
type RetrievedChunk struct {
	ID       string             `json:"id"`
	Text     string             `json:"text"`
	Metadata citations.Metadata `json:"metadata"`
}

// RetrievalResults is the retrieval service's metadata push.
type RetrievalResults struct {
	Chunks []RetrievedChunk `json:"chunks"`
}

func (RetrievalResults) Kind() Kind { return KindRetrievalResults }

// MetadataByChunk flattens the push into the store's merge shape, keyed by
// chunk id.
func (r RetrievalResults) MetadataByChunk() map[string]citations.Metadata {
	if len(r.Chunks) == 0 {
		return nil
	}
	out := make(map[string]citations.Metadata, len(r.Chunks))
	for _, c := range r.Chunks {
		m := c.Metadata
		if m.ChunkID == "" {
			m.ChunkID = c.ID
		}
		out[m.ChunkID] = m
	}
	return out
}

// OperatorSubmit is locally typed operator input, already complete. It
// bypasses the transcript merge heuristics.
type OperatorSubmit struct {
	Text string `json:"text"`
}

func (OperatorSubmit) Kind() Kind { return KindOperatorSubmit }

// SessionClosed tears the session down.
type SessionClosed struct{}

func (SessionClosed) Kind() Kind { return KindSessionClosed }

type frame struct {
	Type Kind `json:"type"`
}

// Decode turns a wire frame into its typed variant. Unknown types are an
// error the caller logs and skips; a malformed frame never halts the session.
func Decode(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var (
		e   Event
		err error
	)
	switch f.Type {
	case KindOperatorPartial:
		var v OperatorPartial
		err = json.Unmarshal(raw, &v)
		e = v
	case KindGenerationStarted:
		e = GenerationStarted{}
	case KindGenerationToken:
		var v GenerationToken
		err = json.Unmarshal(raw, &v)
		e = v
	case KindGenerationStopped:
		e = GenerationStopped{}
	case KindMetricsSample:
		var v MetricsSample
		err = json.Unmarshal(raw, &v)
		e = v
	case KindRetrievalResults:
		var v RetrievalResults
		err = json.Unmarshal(raw, &v)
		e = v
	case KindOperatorSubmit:
		var v OperatorSubmit
		err = json.Unmarshal(raw, &v)
		e = v
	case KindSessionClosed:
		e = SessionClosed{}
	default:
		return nil, fmt.Errorf("unknown event type %q", f.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return e, nil
}

// Record is the audit row for one raw inbound frame, persisted out of band
// for replay and debugging.
type Record struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Kind      Kind            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Normalize builds an audit Record from a raw frame, filling in missing
// fields with sensible defaults. It never drops a frame; it always returns a
// usable Record.
func Normalize(raw []byte, sessionID string) (Record, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, err
	}

	if r.EventID == "" {
		r.EventID = uuid.New().String()
	}
	if r.SessionID == "" {
		r.SessionID = sessionID
	}
	if r.Timestamp.IsZero() {
		slog.Warn("event missing timestamp, using ingestion time", "event_id", r.EventID)
		r.Timestamp = time.Now().UTC()
	}
	r.Payload = append(json.RawMessage(nil), raw...)

	return r, nil
}
