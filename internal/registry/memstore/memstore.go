// Package memstore provides an in-memory implementation of registry.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/vitalwatch/internal/registry"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// Store holds subjects in memory. Suitable for dev/testing and single-node deployments.
type Store struct {
	mu       sync.RWMutex
	subjects map[string]*registry.Subject // subject ID -> subject
	now      func() time.Time
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		subjects: make(map[string]*registry.Subject),
		now:      time.Now,
	}
}

// Get retrieves a subject by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*registry.Subject, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subj, ok := s.subjects[id]
	if !ok {
		return nil, false, nil
	}
	return subj.Clone(), true, nil
}

// List returns copies of all subjects ordered by ID.
func (s *Store) List(_ context.Context) ([]*registry.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*registry.Subject, 0, len(s.subjects))
	for _, subj := range s.subjects {
		out = append(out, subj.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put stores a copy of the subject, replacing any previous registration.
// The current risk survives re-registration.
func (s *Store) Put(_ context.Context, subj *registry.Subject) error {
	cp := subj.Clone()
	if err := cp.Normalize(s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.subjects[cp.ID]; ok {
		cp.Risk = prev.Risk
		cp.RiskUpdatedAt = prev.RiskUpdatedAt
		cp.CreatedAt = prev.CreatedAt
	}
	s.subjects[cp.ID] = cp
	return nil
}

// SetRisk records the subject's aggregate risk.
func (s *Store) SetRisk(_ context.Context, id string, risk vitals.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subj, ok := s.subjects[id]
	if !ok {
		return registry.ErrNotFound
	}
	subj.Risk = risk
	subj.RiskUpdatedAt = s.now()
	return nil
}
