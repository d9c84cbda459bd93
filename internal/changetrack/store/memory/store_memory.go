package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"datachange/internal/changetrack/models"
	"datachange/pkg/platform/sentinel"
	"datachange/pkg/requestcontext"
)

// InMemoryStore keeps records in insertion order. Callers always receive
// copies, so stored payloads cannot be altered after the fact.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*models.Record
	byID    map[uuid.UUID]*models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[uuid.UUID]*models.Record)}
}

// Clear drops every record. Test helper only.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.byID = make(map[uuid.UUID]*models.Record)
}

func (s *InMemoryStore) Append(ctx context.Context, record *models.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = requestcontext.Now(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[record.ID]; ok {
		return fmt.Errorf("record %s: %w", record.ID, sentinel.ErrConflict)
	}
	stored := record.Clone()
	s.records = append(s.records, stored)
	s.byID[stored.ID] = stored
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entityType, entityID string, limit int) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(limit, func(r *models.Record) bool {
		return r.EntityType == entityType && r.EntityID == entityID
	}), nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(limit, func(*models.Record) bool { return true }), nil
}

// newestFirst orders by CreatedAt descending; records created at the same
// instant keep reverse insertion order. Caller must hold the read lock.
func (s *InMemoryStore) newestFirst(limit int, match func(*models.Record) bool) []*models.Record {
	out := make([]*models.Record, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if match(s.records[i]) {
			out = append(out, s.records[i].Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
