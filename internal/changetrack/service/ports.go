package service

import (
	"context"

	"github.com/google/uuid"

	"datachange/internal/changetrack/models"
)

// Store persists change records. It is append-only: there is deliberately no
// update or delete operation.
//
// Append assigns ID and CreatedAt when they are zero and returns
// sentinel.ErrConflict for a duplicate ID. FindByID returns
// sentinel.ErrNotFound when absent. List calls return newest first; a limit
// of zero or less means no limit.
type Store interface {
	Append(ctx context.Context, record *models.Record) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.Record, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Record, error)
}

// Sink receives records after they are persisted, e.g. a message broker.
// Sink failures never fail the tracked operation.
type Sink interface {
	Name() string
	Publish(ctx context.Context, record *models.Record) error
}
