// Package registry defines the subject registry: which subjects may send
// readings, their normal-range overrides, and their current aggregate risk.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// ErrNotFound is returned by SetRisk for a subject that was never registered.
var ErrNotFound = xerrors.New("subject not found")

// Subject is one monitored subject.
type Subject struct {
	ID   string
	Name string

	// Ranges holds per-vital overrides; vitals not listed use the defaults.
	Ranges vitals.Ranges

	// Risk is the most urgent priority among the subject's unacknowledged
	// alerts, LOW when there are none.
	Risk          vitals.Priority
	RiskUpdatedAt time.Time
	CreatedAt     time.Time
}

// EffectiveRanges returns the defaults with this subject's overrides applied.
func (s *Subject) EffectiveRanges() vitals.Ranges {
	return vitals.DefaultRanges().Merge(s.Ranges)
}

// Normalize trims the ID, validates the overrides and fills defaults for a
// subject about to be stored.
func (s *Subject) Normalize(now time.Time) error {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return fmt.Errorf("subject id is required")
	}
	if err := s.Ranges.Validate(); err != nil {
		return fmt.Errorf("subject %s: %w", s.ID, err)
	}
	if !s.Risk.Valid() {
		s.Risk = vitals.Low
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	return nil
}

// Clone returns a deep copy.
func (s *Subject) Clone() *Subject {
	cp := *s
	if s.Ranges != nil {
		cp.Ranges = vitals.Ranges{}.Merge(s.Ranges)
	}
	return &cp
}

// Store is the persistence interface for subjects.
type Store interface {
	Get(ctx context.Context, id string) (*Subject, bool, error)
	List(ctx context.Context) ([]*Subject, error)
	Put(ctx context.Context, s *Subject) error
	SetRisk(ctx context.Context, id string, risk vitals.Priority) error
}
