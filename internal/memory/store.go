// Package memory provides the long-term-memory collaborator: an
// interface the decision dispatcher consumes, and an in-process store
// with importance-capped per-agent streams.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MaxEntries caps each agent's memory stream. When full, the
// lowest-importance entry is evicted.
const MaxEntries = 50

// Fetcher retrieves memory excerpts relevant to a query. The dispatcher
// proceeds without augmentation when no fetcher is configured.
type Fetcher interface {
	FetchRelevant(agentID uuid.UUID, query string, limit int) []string
}

// Entry records one notable experience in an agent's stream.
type Entry struct {
	Tick       uint64  `json:"tick"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"` // 0.0-1.0
}

// Store holds per-agent memory streams. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	streams map[uuid.UUID][]Entry
}

// NewStore creates an empty memory store.
func NewStore() *Store {
	return &Store{streams: make(map[uuid.UUID][]Entry)}
}

// Add appends a memory to the agent's stream. When the stream is full,
// the new entry replaces the lowest-importance one if it outranks it.
func (s *Store) Add(agentID uuid.UUID, tick uint64, content string, importance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{Tick: tick, Content: content, Importance: importance}
	stream := s.streams[agentID]

	if len(stream) < MaxEntries {
		s.streams[agentID] = append(stream, entry)
		return
	}

	minIdx := 0
	for i := 1; i < len(stream); i++ {
		if stream[i].Importance < stream[minIdx].Importance {
			minIdx = i
		}
	}
	if entry.Importance > stream[minIdx].Importance {
		stream[minIdx] = entry
	}
}

// FetchRelevant returns up to limit memory contents scored by term
// overlap with the query, weighted by importance, most recent first
// among ties.
func (s *Store) FetchRelevant(agentID uuid.UUID, query string, limit int) []string {
	s.mu.Lock()
	stream := append([]Entry(nil), s.streams[agentID]...)
	s.mu.Unlock()

	if len(stream) == 0 || limit <= 0 {
		return nil
	}

	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		entry Entry
		score float64
	}
	ranked := make([]scored, 0, len(stream))
	for _, e := range stream {
		overlap := 0
		lower := strings.ToLower(e.Content)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				overlap++
			}
		}
		// Importance keeps formative memories surfacing even with weak
		// term overlap.
		ranked = append(ranked, scored{e, float64(overlap) + e.Importance})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].entry.Tick > ranked[j].entry.Tick
	})

	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = ranked[i].entry.Content
	}
	return out
}
