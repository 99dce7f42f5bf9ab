package session

import (
	"strings"
	"time"
)

// findEchoCandidate implements the duplicate-suppression heuristic for
// operator turns: the speech engine can resend an utterance that already
// exists from a locally echoed submission or an unkeyed partial. It scans
// recent operator messages lacking a speaker key, newest first, within the
// given window of their creation.
//
// Exact case-insensitive matches take precedence over containment matches.
// Containment (either direction) is an accepted approximation: two distinct
// short utterances that are textual prefixes of one another within the window
// will falsely merge. The rule is isolated here so it can be swapped or
// disabled (window <= 0) without touching the reconciler.
func findEchoCandidate(messages []*Message, text string, now time.Time, window time.Duration) *Message {
	if window <= 0 || text == "" {
		return nil
	}

	incoming := strings.ToLower(text)
	var containment *Message

	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != RoleOperator || m.SpeakerKey != "" {
			continue
		}
		if now.Sub(m.created) > window {
			break
		}

		existing := strings.ToLower(m.Content)
		if existing == incoming {
			return m
		}
		if containment == nil && existing != "" &&
			(strings.Contains(incoming, existing) || strings.Contains(existing, incoming)) {
			containment = m
		}
	}
	return containment
}
