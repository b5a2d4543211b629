// Package store provides Store implementations for quotaledger.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	ql "github.com/ineyio/quotaledger"
)

// MemoryStore is an in-memory Store. It is safe for concurrent use but
// holds state for a single process only.
type MemoryStore struct {
	mu      sync.RWMutex
	quotas  map[string]ql.UserQuota
	history map[historyKey]*ql.UsageHistory
}

type historyKey struct {
	userID string
	period string
}

var _ ql.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotas:  make(map[string]ql.UserQuota),
		history: make(map[historyKey]*ql.UsageHistory),
	}
}

// Get returns a copy of the user's document.
func (s *MemoryStore) Get(_ context.Context, userID string) (ql.UserQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotas[userID]
	if !ok {
		return ql.UserQuota{}, ql.ErrUserNotFound
	}
	return q.Clone(), nil
}

// Create inserts q unless a document already exists.
func (s *MemoryStore) Create(_ context.Context, q ql.UserQuota) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quotas[q.UserID]; ok {
		return false, nil
	}
	s.quotas[q.UserID] = q.Clone()
	return true, nil
}

// Apply commits m if the stored version equals expectedVersion.
func (s *MemoryStore) Apply(_ context.Context, expectedVersion int64, m ql.Mutation) error {
	if m.Quota.Version != expectedVersion+1 {
		return fmt.Errorf("store/memory: apply: version %d does not follow %d", m.Quota.Version, expectedVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.quotas[m.Quota.UserID]
	if !ok {
		return ql.ErrUserNotFound
	}
	if cur.Version != expectedVersion {
		return ql.ErrConflict
	}

	s.quotas[m.Quota.UserID] = m.Quota.Clone()
	if m.Record != nil {
		s.historyFor(m.Record.UserID, m.Record.Period).AddRecord(*m.Record)
	}
	if m.Seal != nil {
		h := s.historyFor(m.Seal.UserID, m.Seal.Period)
		if h.Summary == nil {
			summary := m.Seal.Summary
			h.Summary = &summary
		}
	}
	return nil
}

// historyFor must be called with the write lock held.
func (s *MemoryStore) historyFor(userID, period string) *ql.UsageHistory {
	k := historyKey{userID: userID, period: period}
	h, ok := s.history[k]
	if !ok {
		h = &ql.UsageHistory{UserID: userID, Period: period, Daily: make(map[string]int64)}
		s.history[k] = h
	}
	return h
}

// History returns a copy of one period's history.
func (s *MemoryStore) History(_ context.Context, userID, period string) (ql.UsageHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := ql.UsageHistory{UserID: userID, Period: period, Daily: make(map[string]int64)}
	h, ok := s.history[historyKey{userID: userID, period: period}]
	if !ok {
		return out, nil
	}
	out.Records = append([]ql.UsageRecord(nil), h.Records...)
	for d, n := range h.Daily {
		out.Daily[d] = n
	}
	if h.Summary != nil {
		summary := *h.Summary
		summary.ByResource = make(map[ql.ResourceType]int64, len(h.Summary.ByResource))
		for r, n := range h.Summary.ByResource {
			summary.ByResource[r] = n
		}
		out.Summary = &summary
	}
	return out, nil
}

// ListUsers returns matching user ids in ascending order.
func (s *MemoryStore) ListUsers(_ context.Context, filter ql.UserFilter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.quotas))
	for id, q := range s.quotas {
		if filter.Matches(q) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
