// Package redisstream stores change records in Redis. Each record body is
// written once under its own key and its ID is appended to two streams: one
// for all records and one per entity. Streams are append-only, which matches
// the record lifecycle.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"datachange/internal/changetrack/codec"
	"datachange/internal/changetrack/models"
	"datachange/pkg/platform/sentinel"
	"datachange/pkg/requestcontext"
)

const defaultPrefix = "datachange"

// appendScript writes the body only if the ID is new, then indexes it.
// Returns 0 for a duplicate ID.
var appendScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') == false then
	return 0
end
redis.call('XADD', KEYS[2], '*', 'id', ARGV[2])
redis.call('XADD', KEYS[3], '*', 'id', ARGV[2])
return 1
`)

// Store is a Redis-backed record store.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures the Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key, e.g. per environment.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New creates a Redis record store.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) recordKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:record:%s", s.prefix, id)
}

func (s *Store) allStream() string {
	return s.prefix + ":stream:all"
}

// entityStream escapes both identity parts so a separator inside either one
// cannot make two entities share a stream.
func (s *Store) entityStream(entityType, entityID string) string {
	return fmt.Sprintf("%s:stream:entity:%s:%s", s.prefix, url.QueryEscape(entityType), url.QueryEscape(entityID))
}

// Append stores a record. ID and CreatedAt are assigned when zero.
func (s *Store) Append(ctx context.Context, record *models.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = requestcontext.Now(ctx)
	}

	body, err := codec.EncodeRecord(record)
	if err != nil {
		return err
	}

	keys := []string{
		s.recordKey(record.ID),
		s.allStream(),
		s.entityStream(record.EntityType, record.EntityID),
	}
	created, err := appendScript.Run(ctx, s.client, keys, body, record.ID.String()).Int()
	if err != nil {
		return fmt.Errorf("append change record: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("change record %s: %w", record.ID, sentinel.ErrConflict)
	}
	return nil
}

// FindByID returns sentinel.ErrNotFound when no record matches.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	body, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("change record %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get change record: %w", err)
	}
	return codec.DecodeRecord(body)
}

// ListByEntity returns one entity's history in reverse append order.
func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.Record, error) {
	return s.listStream(ctx, s.entityStream(entityType, entityID), limit, func(r *models.Record) bool {
		return r.EntityType == entityType && r.EntityID == entityID
	})
}

// ListRecent returns the most recently appended records.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*models.Record, error) {
	return s.listStream(ctx, s.allStream(), limit, nil)
}

// listStream loads the records a stream points at. Records rejected by keep
// are dropped.
func (s *Store) listStream(ctx context.Context, stream string, limit int, keep func(*models.Record) bool) ([]*models.Record, error) {
	var (
		entries []redis.XMessage
		err     error
	)
	if limit > 0 {
		entries, err = s.client.XRevRangeN(ctx, stream, "+", "-", int64(limit)).Result()
	} else {
		entries, err = s.client.XRevRange(ctx, stream, "+", "-").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", stream, err)
	}

	records := make([]*models.Record, 0, len(entries))
	if len(entries) == 0 {
		return records, nil
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["id"].(string)
		if !ok {
			return nil, fmt.Errorf("stream entry %s has no record id", entry.ID)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("stream entry %s: %w", entry.ID, err)
		}
		keys = append(keys, s.recordKey(id))
	}

	bodies, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get change records: %w", err)
	}
	for i, body := range bodies {
		raw, ok := body.(string)
		if !ok {
			return nil, fmt.Errorf("change record %s missing from %s", keys[i], stream)
		}
		record, err := codec.DecodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		if keep != nil && !keep(record) {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
