// Package pgstore provides a PostgreSQL implementation of registry.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/vitalwatch/internal/registry"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

var tracer = otel.Tracer("github.com/linnemanlabs/vitalwatch/internal/registry/pgstore")

//go:embed schema.sql
var schema string

// Store persists subjects in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const subjectColumns = `id, name, ranges, risk, risk_updated_at, created_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves a subject by ID.
func (s *Store) Get(ctx context.Context, id string) (*registry.Subject, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	subj, err := scanSubject(s.pool.QueryRow(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if subj == nil {
		return nil, false, nil
	}
	return subj, true, nil
}

// List returns every subject ordered by ID.
func (s *Store) List(ctx context.Context) ([]*registry.Subject, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+subjectColumns+` FROM subjects ORDER BY id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query subjects: %w", err))
	}
	defer rows.Close()

	var out []*registry.Subject
	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate subjects: %w", err))
	}
	span.SetAttributes(attribute.Int("vitalwatch.subjects", len(out)))
	return out, nil
}

// Put registers or re-registers a subject. Name and ranges are replaced; risk
// and creation time survive re-registration.
func (s *Store) Put(ctx context.Context, subj *registry.Subject) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	cp := subj.Clone()
	if err := cp.Normalize(time.Now()); err != nil {
		return fail(span, err)
	}

	ranges := cp.Ranges
	if ranges == nil {
		ranges = vitals.Ranges{}
	}
	rangesJSON, err := json.Marshal(ranges)
	if err != nil {
		return fail(span, fmt.Errorf("marshal ranges: %w", err))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO subjects (id, name, ranges, risk, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			name   = EXCLUDED.name,
			ranges = EXCLUDED.ranges`,
		cp.ID, cp.Name, rangesJSON, int16(cp.Risk), cp.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert subject: %w", err))
	}
	return nil
}

// SetRisk records the subject's aggregate risk.
func (s *Store) SetRisk(ctx context.Context, id string, risk vitals.Priority) error {
	ctx, span := startSpan(ctx, "pgstore.SetRisk", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE subjects SET risk = $2, risk_updated_at = now() WHERE id = $1`,
		id, int16(risk),
	)
	if err != nil {
		return fail(span, fmt.Errorf("update risk: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// scanSubject scans one row. Returns (nil, nil) when no row is found.
func scanSubject(row pgx.Row) (*registry.Subject, error) {
	var (
		subj          registry.Subject
		rangesJSON    []byte
		risk          int16
		riskUpdatedAt *time.Time
	)
	err := row.Scan(&subj.ID, &subj.Name, &rangesJSON, &risk, &riskUpdatedAt, &subj.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	var ranges vitals.Ranges
	if err := json.Unmarshal(rangesJSON, &ranges); err != nil {
		return nil, fmt.Errorf("unmarshal ranges for %s: %w", subj.ID, err)
	}
	if len(ranges) > 0 {
		subj.Ranges = ranges
	}
	subj.Risk = vitals.Priority(risk)
	if riskUpdatedAt != nil {
		subj.RiskUpdatedAt = *riskUpdatedAt
	}
	return &subj, nil
}
