package call

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Transition describes a guarded status change. Timestamp and duration
// fields are applied only when non-nil.
type Transition struct {
	To          Status
	AnsweredAt  *time.Time
	EndedAt     *time.Time
	DurationSec *int
}

// Store persists call records. Implementations must make TryTransition and
// ExpirePendingBefore atomic check-and-set operations: two concurrent
// callers racing the same record must observe exactly one winner.
type Store interface {
	// Insert adds a new record. Returns ErrDuplicateCall if the id exists.
	Insert(ctx context.Context, c *Call) error

	// Get returns the record for callID, or (nil, nil) if absent.
	Get(ctx context.Context, callID string) (*Call, error)

	// TryTransition applies tr only if the call is currently in the from
	// status. Returns false (and no error) when the guard fails, including
	// when the call does not exist.
	TryTransition(ctx context.Context, callID string, from Status, tr Transition) (bool, error)

	// UpdatePush records the outcome of a push dispatch attempt.
	UpdatePush(ctx context.Context, callID string, sent bool, platform string) error

	// ExpirePendingBefore transitions every Pending call created at or
	// before cutoff to Missed and returns the ids changed.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// MemoryStore is an in-process Store guarded by a single mutex. It backs
// tests and deployments that accept losing call history on restart.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]*Call
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]*Call)}
}

func (s *MemoryStore) Insert(_ context.Context, c *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[c.CallID]; exists {
		return ErrDuplicateCall
	}
	s.calls[c.CallID] = c.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, callID string) (*Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (s *MemoryStore) TryTransition(_ context.Context, callID string, from Status, tr Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok || c.Status != from {
		return false, nil
	}
	applyTransition(c, tr)
	return true, nil
}

func (s *MemoryStore) UpdatePush(_ context.Context, callID string, sent bool, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	c.PushSent = sent
	c.PushPlatform = platform
	return nil
}

func (s *MemoryStore) ExpirePendingBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, c := range s.calls {
		if c.Status == StatusPending && !c.CreatedAt.After(cutoff) {
			c.Status = StatusMissed
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired, nil
}

func applyTransition(c *Call, tr Transition) {
	c.Status = tr.To
	if tr.AnsweredAt != nil {
		t := *tr.AnsweredAt
		c.AnsweredAt = &t
	}
	if tr.EndedAt != nil {
		t := *tr.EndedAt
		c.EndedAt = &t
	}
	if tr.DurationSec != nil {
		d := *tr.DurationSec
		c.DurationSec = &d
	}
}
