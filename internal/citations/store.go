package citations

import "sync"

// Metadata describes a retrieved knowledge-base chunk. Field names mirror the
// retrieval service's push payload.
type Metadata struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	DepartmentID string  `json:"department_id"`
	TenantID     string  `json:"tenant_id,omitempty"`
	ChunkIndex   int     `json:"chunk_index"`
	Score        float64 `json:"score"`
	FileName     string  `json:"file_name"`
}

// Store holds citation metadata keyed by chunk id for the lifetime of a
// session. Merges are additive; a later push for the same key wins.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Metadata
}

func NewStore() *Store {
	return &Store{entries: make(map[string]Metadata)}
}

// Merge unions entries into the store. Existing keys are overwritten,
// unrelated keys are untouched.
func (s *Store) Merge(entries map[string]Metadata) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range entries {
		s.entries[id] = m
	}
}

// Get returns the metadata for a chunk id, if known.
func (s *Store) Get(chunkID string) (Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.entries[chunkID]
	return m, ok
}

// Len returns the number of known chunks (for health reporting).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
