// Package redisstore provides a Redis implementation of registry.Store so
// several vitalwatch instances can share one subject registry.
//
// Each subject is a hash at <prefix>subject:<id>; the set <prefix>subjects
// indexes the IDs for List.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/vitalwatch/internal/registry"
	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "vitalwatch:"

var tracer = otel.Tracer("github.com/linnemanlabs/vitalwatch/internal/registry/redisstore")

const (
	fieldName          = "name"
	fieldRanges        = "ranges"
	fieldRisk          = "risk"
	fieldRiskUpdatedAt = "risk_updated_at_ms"
	fieldCreatedAt     = "created_at_ms"
)

// setRisk updates the risk fields only when the subject hash exists.
var setRisk = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'risk', ARGV[1], 'risk_updated_at_ms', ARGV[2])
return 1
`)

// Store keeps subjects in Redis hashes.
type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// New returns a Store on rdb. An empty prefix uses DefaultPrefix. The caller
// owns the client.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) subjectKey(id string) string { return s.prefix + "subject:" + id }
func (s *Store) indexKey() string            { return s.prefix + "subjects" }

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "redis"),
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
	ctx, span := startSpan(ctx, "redisstore.Get", "HGETALL")
	defer span.End()

	fields, err := s.rdb.HGetAll(ctx, s.subjectKey(id)).Result()
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("hgetall %s: %w", id, err))
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	subj, err := decodeSubject(id, fields)
	if err != nil {
		return nil, false, fail(span, err)
	}
	return subj, true, nil
}

// List returns every subject ordered by ID.
func (s *Store) List(ctx context.Context) ([]*registry.Subject, error) {
	ctx, span := startSpan(ctx, "redisstore.List", "SMEMBERS")
	defer span.End()

	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fail(span, fmt.Errorf("smembers: %w", err))
	}
	sort.Strings(ids)

	cmds := make([]*redis.StringStringMapCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.subjectKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("pipeline hgetall: %w", err))
	}

	out := make([]*registry.Subject, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // removed between SMEMBERS and HGETALL
		}
		subj, err := decodeSubject(ids[i], fields)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, subj)
	}
	span.SetAttributes(attribute.Int("vitalwatch.subjects", len(out)))
	return out, nil
}

// Put registers or re-registers a subject. Name and ranges are replaced; risk
// and creation time survive re-registration.
func (s *Store) Put(ctx context.Context, subj *registry.Subject) error {
	ctx, span := startSpan(ctx, "redisstore.Put", "HSET")
	defer span.End()

	cp := subj.Clone()
	if err := cp.Normalize(s.now()); err != nil {
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

	key := s.subjectKey(cp.ID)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fieldName, cp.Name, fieldRanges, string(rangesJSON))
		p.HSetNX(ctx, key, fieldRisk, int(cp.Risk))
		p.HSetNX(ctx, key, fieldCreatedAt, vitals.ToEpochMillis(cp.CreatedAt))
		p.SAdd(ctx, s.indexKey(), cp.ID)
		return nil
	})
	if err != nil {
		return fail(span, fmt.Errorf("put subject %s: %w", cp.ID, err))
	}
	return nil
}

// SetRisk records the subject's aggregate risk.
func (s *Store) SetRisk(ctx context.Context, id string, risk vitals.Priority) error {
	ctx, span := startSpan(ctx, "redisstore.SetRisk", "EVALSHA")
	defer span.End()

	n, err := setRisk.Run(ctx, s.rdb, []string{s.subjectKey(id)}, int(risk), s.now().UnixMilli()).Int()
	if err != nil {
		return fail(span, fmt.Errorf("set risk %s: %w", id, err))
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func decodeSubject(id string, fields map[string]string) (*registry.Subject, error) {
	subj := &registry.Subject{ID: id, Name: fields[fieldName], Risk: vitals.Low}

	if raw := fields[fieldRanges]; raw != "" {
		var ranges vitals.Ranges
		if err := json.Unmarshal([]byte(raw), &ranges); err != nil {
			return nil, fmt.Errorf("subject %s: decode ranges: %w", id, err)
		}
		if len(ranges) > 0 {
			subj.Ranges = ranges
		}
	}
	if raw := fields[fieldRisk]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("subject %s: decode risk: %w", id, err)
		}
		subj.Risk = vitals.Priority(n)
	}
	var err error
	if subj.RiskUpdatedAt, err = parseMillis(fields[fieldRiskUpdatedAt]); err != nil {
		return nil, fmt.Errorf("subject %s: decode risk time: %w", id, err)
	}
	if subj.CreatedAt, err = parseMillis(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("subject %s: decode created time: %w", id, err)
	}
	return subj, nil
}

func parseMillis(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return vitals.FromEpochMillis(ms), nil
}
