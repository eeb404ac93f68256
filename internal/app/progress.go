package app

import (
	"context"
	"sync"
)

// ProgressStore tracks each patient's current therapy day. Day 1 is the
// start of the programme; the pointer moves forward only when a full day
// of tasks has been verified.
type ProgressStore interface {
	// Day returns the patient's current day, defaulting to 1 for unknown
	// users.
	Day(ctx context.Context, userID string) (int, error)

	// SetDay moves the patient's day pointer.
	SetDay(ctx context.Context, userID string, day int) error
}

// MemProgress is an in-memory [ProgressStore] for tests and single-node
// development. Safe for concurrent use.
type MemProgress struct {
	mu   sync.Mutex
	days map[string]int
}

var _ ProgressStore = (*MemProgress)(nil)

// NewMemProgress returns an empty in-memory progress store.
func NewMemProgress() *MemProgress {
	return &MemProgress{days: make(map[string]int)}
}

// Day implements [ProgressStore].
func (p *MemProgress) Day(_ context.Context, userID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.days[userID]; ok {
		return d, nil
	}
	return 1, nil
}

// SetDay implements [ProgressStore].
func (p *MemProgress) SetDay(_ context.Context, userID string, day int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.days[userID] = day
	return nil
}
