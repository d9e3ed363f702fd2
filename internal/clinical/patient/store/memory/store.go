// Package memory is an in-memory patient store for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/whatnewads/safeshift-sub018/internal/clinical/patient"
	"github.com/whatnewads/safeshift-sub018/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	patients map[string]patient.Patient
}

func New() *Store {
	return &Store{patients: make(map[string]patient.Patient)}
}

func (s *Store) Create(_ context.Context, p *patient.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = *p
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*patient.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *Store) Update(_ context.Context, p *patient.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.patients[p.ID] = *p
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.patients, id)
	return nil
}
