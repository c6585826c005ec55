package registry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// profileFile is the on-disk layout of a subjects file:
//
//	subjects:
//	  - id: "1001"
//	    name: Jane Doe
//	    ranges:
//	      heart_rate: {min: 55, max: 95}
type profileFile struct {
	Subjects []struct {
		ID     string                  `yaml:"id"`
		Name   string                  `yaml:"name"`
		Ranges map[string]vitals.Range `yaml:"ranges"`
	} `yaml:"subjects"`
}

// ParseProfiles decodes a subjects document.
func ParseProfiles(r io.Reader) ([]*Subject, error) {
	var pf profileFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode profiles: %w", err)
	}

	seen := make(map[string]bool, len(pf.Subjects))
	out := make([]*Subject, 0, len(pf.Subjects))
	for i, ps := range pf.Subjects {
		s := &Subject{ID: ps.ID, Name: ps.Name}
		if len(ps.Ranges) > 0 {
			s.Ranges = make(vitals.Ranges, len(ps.Ranges))
			for name, rng := range ps.Ranges {
				k, err := vitals.ParseKind(name)
				if err != nil {
					return nil, fmt.Errorf("subject #%d (%s): %w", i, ps.ID, err)
				}
				s.Ranges[k] = rng
			}
		}
		if err := s.Normalize(time.Time{}); err != nil {
			return nil, fmt.Errorf("subject #%d: %w", i, err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("subject #%d: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out, nil
}

// LoadProfiles reads a subjects file and registers every subject in store.
// It returns the number of subjects registered.
func LoadProfiles(ctx context.Context, path string, store Store) (int, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return 0, fmt.Errorf("open subjects file: %w", err)
	}
	defer func() { _ = f.Close() }()

	subjects, err := ParseProfiles(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	now := time.Now()
	for _, s := range subjects {
		s.CreatedAt = now
		if err := store.Put(ctx, s); err != nil {
			return 0, fmt.Errorf("register subject %s: %w", s.ID, err)
		}
	}
	return len(subjects), nil
}
