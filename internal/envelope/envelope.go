// Package envelope interprets finalized agent output as a structured assist
// result. Anything that does not strictly parse falls back to free text.
package envelope

import (
	"encoding/json"
	"strings"
)

// Sarcasm is the detector block the generation model emits alongside the
// assist fields.
type Sarcasm struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Type       string  `json:"type,omitempty"`
}

// Envelope is the fixed-schema assist result the generation model is prompted
// to produce: one-word sentiment, short intent, a ready-to-speak suggested
// response, guidance for the human agent, and knowledge-base facts with
// bracketed chunk citations.
type Envelope struct {
	Sentiment         string   `json:"sentiment,omitempty"`
	Intent            string   `json:"intent,omitempty"`
	SuggestedResponse string   `json:"suggested_response,omitempty"`
	AgentGuidance     string   `json:"agent_guidance,omitempty"`
	Facts             []string `json:"facts,omitempty"`
	Sarcasm           *Sarcasm `json:"sarcasm,omitempty"`
}

// expectedKeys gates shape-sniffing: a parsed object counts as structured
// only if at least one of these is present.
var expectedKeys = []string{"sentiment", "intent", "suggested_response", "agent_guidance", "facts"}

// TryParse attempts to interpret text as a structured envelope. It strips
// conventional code fences, requires a strict JSON object, and requires at
// least one expected key. Any failure returns nil: free-text rendering is
// always the safe fallback. Callers must only pass finalized content, since
// partial JSON from an in-flight stream would misparse.
func TryParse(text string) *Envelope {
	stripped := stripFences(strings.TrimSpace(text))
	if stripped == "" || stripped[0] != '{' {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripped), &fields); err != nil {
		return nil
	}

	recognized := false
	for _, key := range expectedKeys {
		if _, ok := fields[key]; ok {
			recognized = true
			break
		}
	}
	if !recognized {
		return nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(stripped), &env); err != nil {
		return nil
	}
	return &env
}

// stripFences removes a surrounding markdown code fence (``` or ```json) if
// present. Content without fences passes through unchanged.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the fence line itself, including any language tag.
		s = s[idx+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
