package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements AttemptStore and SettingsStore with in-memory
// maps. Used when no database DSN is configured and throughout the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]Attempt
	order    []string
	settings map[string]AutomationSettings
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]Attempt),
		settings: make(map[string]AutomationSettings),
	}
}

// InsertAttempt appends a ledger record.
func (s *MemoryStore) InsertAttempt(_ context.Context, attempt Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = attempt
	s.order = append(s.order, attempt.ID)
	return nil
}

// ResolveAttempt finalises a pending attempt exactly once.
func (s *MemoryStore) ResolveAttempt(_ context.Context, id string, status AttemptStatus, reason, requestID string, completedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("resolve attempt %s: status %s is not terminal", id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	if attempt.CompletedAt != nil {
		return ErrAlreadyResolved
	}

	completed := completedAt.UTC()
	attempt.Status = status
	attempt.Reason = reason
	attempt.CompletedAt = &completed
	if requestID != "" {
		attempt.GatewayRequestID = requestID
	}
	s.attempts[id] = attempt
	return nil
}

// GetAttempt fetches a single ledger record by id.
func (s *MemoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return attempt, nil
}

// ListAttemptsByProduct lists the most recent attempts for one product.
func (s *MemoryStore) ListAttemptsByProduct(_ context.Context, productID string, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Attempt, 0)
	for _, attempt := range s.attempts {
		if attempt.ProductID == productID {
			out = append(out, attempt)
		}
	}
	sortAttemptsDesc(out)
	return truncate(out, limit), nil
}

// ListRecentAttempts lists the most recent attempts across all products.
func (s *MemoryStore) ListRecentAttempts(_ context.Context, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Attempt, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.attempts[id])
	}
	sortAttemptsDesc(out)
	return truncate(out, limit), nil
}

// CountAttempts counts ledger records.
func (s *MemoryStore) CountAttempts(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.attempts)), nil
}

// CountPendingAttempts counts attempts still awaiting resolution.
func (s *MemoryStore) CountPendingAttempts(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, attempt := range s.attempts {
		if attempt.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

// GetSettings fetches settings for a product.
func (s *MemoryStore) GetSettings(_ context.Context, productID string) (AutomationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[productID]
	if !ok {
		return AutomationSettings{}, ErrSettingsNotFound
	}
	return settings, nil
}

// UpsertSettings creates or replaces settings for a product.
func (s *MemoryStore) UpsertSettings(_ context.Context, settings AutomationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.ProductID] = settings
	return nil
}

// DeleteSettings removes settings for a product.
func (s *MemoryStore) DeleteSettings(_ context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, productID)
	return nil
}

// ListSettings lists settings for all products.
func (s *MemoryStore) ListSettings(_ context.Context) ([]AutomationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AutomationSettings, 0, len(s.settings))
	for _, settings := range s.settings {
		out = append(out, settings)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func sortAttemptsDesc(attempts []Attempt) {
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].AttemptedAt.After(attempts[j].AttemptedAt)
	})
}

func truncate(attempts []Attempt, limit int) []Attempt {
	if limit > 0 && len(attempts) > limit {
		return attempts[:limit]
	}
	return attempts
}

var (
	_ AttemptStore  = (*MemoryStore)(nil)
	_ SettingsStore = (*MemoryStore)(nil)
)
