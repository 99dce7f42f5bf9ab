package citations

import "regexp"

// Citation references are bracket-enclosed chunk ids: hex characters and
// hyphens, UUID-shaped. Anything else stays literal.
var citationPattern = regexp.MustCompile(`\[[0-9a-fA-F-]+\]`)

type SegmentKind string

const (
	SegmentLiteral  SegmentKind = "literal"
	SegmentCitation SegmentKind = "citation"
)

// Segment is one fragment of resolved text. Text always holds the raw input
// fragment, so concatenating Text across all segments reproduces the input
// exactly. For citation segments, Label carries the display name and ChunkID
// the identifier for metadata lookup.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Text    string      `json:"text"`
	ChunkID string      `json:"chunk_id,omitempty"`
	Label   string      `json:"label,omitempty"`
}

// Resolve splits text into literal and citation segments against the store.
// A bracketed id with no store entry is emitted as a literal segment carrying
// the raw bracketed text, never an error. Resolve is pure: it does not mutate
// the store and is safe to call repeatedly on the same text.
func Resolve(text string, store *Store) []Segment {
	if text == "" {
		return nil
	}

	var segments []Segment
	last := 0
	for _, loc := range citationPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		raw := text[start:end]
		chunkID := raw[1 : len(raw)-1]

		meta, known := store.Get(chunkID)
		if !known {
			// Unresolvable reference: leave the raw bracketed text alone.
			continue
		}

		if start > last {
			segments = append(segments, Segment{Kind: SegmentLiteral, Text: text[last:start]})
		}
		segments = append(segments, Segment{
			Kind:    SegmentCitation,
			Text:    raw,
			ChunkID: chunkID,
			Label:   meta.FileName,
		})
		last = end
	}
	if last < len(text) {
		segments = append(segments, Segment{Kind: SegmentLiteral, Text: text[last:]})
	}
	return segments
}
