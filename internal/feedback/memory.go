// Package feedback holds the invalid-token sinks the dispatcher reports into
// and the device-token registry drains from.
package feedback

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

// DefaultCapacity bounds a MemorySink created with a non-positive capacity.
const DefaultCapacity = 100_000

// MemorySink is a bounded, concurrency-safe set of invalid tokens.
// Re-adding a token already held updates its record without using capacity.
type MemorySink struct {
	mu       sync.Mutex
	entries  map[string]dispatch.InvalidToken
	order    []string
	capacity int
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemorySink{
		entries:  make(map[string]dispatch.InvalidToken),
		capacity: capacity,
	}
}

func (s *MemorySink) Add(_ context.Context, token dispatch.InvalidToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[token.Token]; ok {
		s.entries[token.Token] = token
		return nil
	}
	if len(s.entries) >= s.capacity {
		return dispatch.ErrSinkFull
	}
	s.entries[token.Token] = token
	s.order = append(s.order, token.Token)
	return nil
}

// Drain returns entries oldest first.
func (s *MemorySink) Drain(_ context.Context, limit int) ([]dispatch.InvalidToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]dispatch.InvalidToken, 0, n)
	for _, tok := range s.order[:n] {
		out = append(out, s.entries[tok])
		delete(s.entries, tok)
	}
	s.order = append([]string(nil), s.order[n:]...)
	return out, nil
}

// Len reports how many tokens are waiting to be drained.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Contains reports whether token is waiting to be drained.
func (s *MemorySink) Contains(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[token]
	return ok
}
