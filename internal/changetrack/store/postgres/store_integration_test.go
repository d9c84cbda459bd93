//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"datachange/internal/changetrack/codec"
	"datachange/internal/changetrack/models"
	"datachange/pkg/platform/sentinel"
	txcontext "datachange/pkg/platform/tx"
	"datachange/pkg/requestcontext"
	"datachange/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	db       *sql.DB
	store    *Store
	ctx      context.Context
	base     time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.db = s.postgres.DB
	s.Require().NoError(Migrate(context.Background(), s.db))
	s.store = New(s.db)
}

func (s *PostgresStoreSuite) SetupTest() {
	// Rows are immutable, so tests isolate by truncating (TRUNCATE bypasses row triggers).
	err := s.postgres.TruncateTables(context.Background(), "data_change_records")
	s.Require().NoError(err)
	s.base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.base)
}

func (s *PostgresStoreSuite) newRecord(entityID string, at time.Time) *models.Record {
	before, err := codec.EncodeFields(models.FieldMap{"Title": "Old"})
	s.Require().NoError(err)
	after, err := codec.EncodeFields(models.FieldMap{"Title": "New"})
	s.Require().NoError(err)
	return &models.Record{
		ChangeType:    models.ChangeTypeChange,
		EntityType:    "Article",
		EntityID:      entityID,
		EntityTitle:   "Hello",
		Stage:         models.StageDraft,
		Before:        before,
		After:         after,
		ActorID:       "7",
		ActorEmail:    "editor@example.com",
		RequestURL:    "https://cms.example.com:443/admin",
		RemoteAddress: "203.0.113.9",
		UserAgent:     "Mozilla/5.0",
		CreatedAt:     at,
	}
}

func (s *PostgresStoreSuite) TestAppendAndFind() {
	r := s.newRecord("42", time.Time{})
	s.Require().NoError(s.store.Append(s.ctx, r))
	s.NotEqual(uuid.Nil, r.ID)
	s.Equal(s.base, r.CreatedAt)

	got, err := s.store.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.True(r.CreatedAt.Equal(got.CreatedAt))
	got.CreatedAt = r.CreatedAt
	s.Equal(r, got)
}

func (s *PostgresStoreSuite) TestAbsentSideIsNull() {
	r := s.newRecord("42", s.base)
	r.ChangeType = models.ChangeTypePublish
	r.Before = nil
	s.Require().NoError(s.store.Append(s.ctx, r))

	got, err := s.store.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Nil(got.Before)
	s.NotEmpty(got.After)
}

func (s *PostgresStoreSuite) TestDuplicateIDConflicts() {
	r := s.newRecord("42", s.base)
	s.Require().NoError(s.store.Append(s.ctx, r))

	dup := s.newRecord("42", s.base)
	dup.ID = r.ID
	s.ErrorIs(s.store.Append(s.ctx, dup), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestFindMissing() {
	_, err := s.store.FindByID(s.ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListOrdering() {
	first := s.newRecord("42", s.base)
	second := s.newRecord("42", s.base.Add(time.Minute))
	sameInstant := s.newRecord("42", s.base.Add(time.Minute))
	other := s.newRecord("43", s.base.Add(time.Hour))
	for _, r := range []*models.Record{first, second, sameInstant, other} {
		s.Require().NoError(s.store.Append(s.ctx, r))
	}

	history, err := s.store.ListByEntity(s.ctx, "Article", "42", 0)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal(sameInstant.ID, history[0].ID)
	s.Equal(second.ID, history[1].ID)
	s.Equal(first.ID, history[2].ID)

	recent, err := s.store.ListRecent(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal(other.ID, recent[0].ID)
}

func (s *PostgresStoreSuite) TestRowsAreImmutable() {
	r := s.newRecord("42", s.base)
	s.Require().NoError(s.store.Append(s.ctx, r))

	_, err := s.db.Exec(`UPDATE data_change_records SET entity_title = 'x' WHERE id = $1`, r.ID)
	s.Error(err)
	_, err = s.db.Exec(`DELETE FROM data_change_records WHERE id = $1`, r.ID)
	s.Error(err)

	_, err = s.store.FindByID(s.ctx, r.ID)
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestAppendJoinsTransaction() {
	r := s.newRecord("42", s.base)

	err := txcontext.Run(s.ctx, s.db, func(ctx context.Context) error {
		if err := s.store.Append(ctx, r); err != nil {
			return err
		}
		return sql.ErrTxDone
	})
	s.ErrorIs(err, sql.ErrTxDone)

	_, err = s.store.FindByID(s.ctx, r.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
