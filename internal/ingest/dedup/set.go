// Package dedup holds the processed-ID set: the in-session registry of
// identifiers already offered to the writer. It stores identifiers only,
// never values, and a reset is the only way to shrink it.
package dedup

import (
	"context"
	"sync"
)

// Set is the processed-ID registry shared by all workers in a run.
type Set interface {
	// Seen reports whether id was already marked this session.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records ids as stored. Marking an id twice is harmless.
	Mark(ctx context.Context, ids ...string) error
	// Reset drops every member. Called at the configured boundary.
	Reset(ctx context.Context) error
	// Len returns the current member count.
	Len(ctx context.Context) (int64, error)
	// ApproxBytes estimates process-resident memory held by the set. Remote
	// backends return 0.
	ApproxBytes() int64
}

// entryOverhead approximates per-key map bookkeeping on a 64-bit platform.
const entryOverhead = 48

// MemorySet is the default mutex-guarded in-process implementation.
type MemorySet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	bytes int64
}

// NewMemorySet builds an empty in-process set.
func NewMemorySet() *MemorySet {
	return &MemorySet{ids: make(map[string]struct{})}
}

// Seen implements Set.
func (s *MemorySet) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok, nil
}

// Mark implements Set.
func (s *MemorySet) Mark(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		s.bytes += int64(len(id)) + entryOverhead
	}
	return nil
}

// Reset implements Set.
func (s *MemorySet) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
	s.bytes = 0
	return nil
}

// Len implements Set.
func (s *MemorySet) Len(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.ids)), nil
}

// ApproxBytes implements Set.
func (s *MemorySet) ApproxBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
