// Package memory provides an in-memory audit store for tests and local
// development. It mirrors the postgres store's semantics exactly: append-only
// writes, signature re-verification on Get, and the same filter predicate via
// audit.Filter.Matches.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	records  []audit.Record
	byID     map[string]int
	verifier audit.Signer
}

// New creates an empty store. verifier may be nil, in which case Get skips
// signature re-verification (only appropriate in diff/masking tests).
func New(verifier audit.Signer) *Store {
	return &Store{byID: make(map[string]int), verifier: verifier}
}

func (s *Store) Append(_ context.Context, record audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[record.ID]; exists {
		return sentinel.ErrAppendOnly
	}
	s.byID[record.ID] = len(s.records)
	s.records = append(s.records, record)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return audit.Record{}, sentinel.ErrNotFound
	}
	record := s.records[idx]
	if s.verifier != nil && !s.verifier.Verify(record) {
		return audit.Record{}, sentinel.ErrIntegrityViolation
	}
	return record, nil
}

func (s *Store) Search(_ context.Context, filter audit.Filter, limit, offset int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filtered(filter)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.After(matched[j].OccurredAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) Count(_ context.Context, filter audit.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filtered(filter))), nil
}

func (s *Store) CountByAction(_ context.Context, filter audit.Filter) (map[audit.Action]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[audit.Action]int64)
	for _, record := range s.filtered(filter) {
		counts[record.Action]++
	}
	return counts, nil
}

func (s *Store) ListAfter(_ context.Context, afterID string, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Record
	for _, record := range s.records {
		if record.ID > afterID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) filtered(filter audit.Filter) []audit.Record {
	var matched []audit.Record
	for _, record := range s.records {
		if filter.Matches(record) {
			matched = append(matched, record)
		}
	}
	return matched
}

// Tamper mutates a stored record in place, bypassing the append-only
// contract. Test support only: it simulates out-of-band storage tampering so
// integrity detection can be exercised without a database.
func (s *Store) Tamper(id string, mutate func(*audit.Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	mutate(&s.records[idx])
	return true
}
