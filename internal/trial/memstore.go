package trial

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for tests and local development without a
// database. Attempts are kept per user in insertion order.
// All methods are safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	byUser   map[string][]Attempt
	failWith error // when set, Record returns this error (test hook)
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byUser: make(map[string][]Attempt)}
}

// FailWith makes every subsequent Record return err. Pass nil to restore
// normal behaviour. Used to exercise persistence-failure paths in tests.
func (s *MemStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Record implements Store.
func (s *MemStore) Record(_ context.Context, a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.byUser[a.UserID] = append(s.byUser[a.UserID], a)
	return nil
}

// Summarize implements Store over the user's most recent SummaryWindow
// attempts.
func (s *MemStore) Summarize(_ context.Context, userID string) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summarize(s.recent(userID, SummaryWindow)), nil
}

// History implements Store, newest first.
func (s *MemStore) History(_ context.Context, userID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recent(userID, limit), nil
}

// Len returns the number of attempts stored for userID.
func (s *MemStore) Len(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID])
}

// recent returns up to n attempts for userID, newest first.
// Callers must hold at least the read lock.
func (s *MemStore) recent(userID string, n int) []Attempt {
	all := s.byUser[userID]
	if len(all) < n {
		n = len(all)
	}
	out := make([]Attempt, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	return out
}
