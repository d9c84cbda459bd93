package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/lib/pq"

	"datachange/internal/changetrack/models"
	"datachange/migrations"
	"datachange/pkg/platform/sentinel"
	txcontext "datachange/pkg/platform/tx"
	"datachange/pkg/requestcontext"
)

// Supported database/sql driver names.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

const uniqueViolation = "23505"

// Store implements the record store on PostgreSQL. Appends join a
// transaction carried in the context (see pkg/platform/tx), so a record can
// commit atomically with the change it describes.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL record store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the named driver ("pgx" or "postgres") and pings.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "", DriverPgx:
		driver = DriverPgx
	case DriverPq:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema files in name order. Every file is
// idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, entry := range entries {
		script, err := fs.ReadFile(migrations.FS, entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := db.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts a record. ID and CreatedAt are assigned when zero.
func (s *Store) Append(ctx context.Context, record *models.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = requestcontext.Now(ctx)
	}

	query := `
		INSERT INTO data_change_records (
			id, change_type, entity_type, entity_id, entity_title, stage,
			before_fields, after_fields,
			actor_id, actor_email, request_url, referer, remote_address, user_agent,
			raw_get_params, raw_post_params, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		record.ID,
		string(record.ChangeType),
		record.EntityType,
		record.EntityID,
		record.EntityTitle,
		record.Stage,
		nullableBytes(record.Before),
		nullableBytes(record.After),
		record.ActorID,
		record.ActorEmail,
		record.RequestURL,
		record.Referer,
		record.RemoteAddress,
		record.UserAgent,
		record.RawGetParams,
		record.RawPostParams,
		record.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert change record %s: %w", record.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, change_type, entity_type, entity_id, entity_title, stage,
		   before_fields, after_fields,
		   actor_id, actor_email, request_url, referer, remote_address, user_agent,
		   raw_get_params, raw_post_params, created_at
	FROM data_change_records
`

// FindByID returns sentinel.ErrNotFound when no record matches.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`WHERE id = $1`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("change record %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListByEntity returns one entity's history, newest first.
func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.Record, error) {
	query := selectColumns + `
		WHERE entity_id = $1 AND entity_type = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, entityID, entityType, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListRecent returns the newest records across all entities.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*models.Record, error) {
	query := selectColumns + `
		ORDER BY created_at DESC, seq DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		record     models.Record
		changeType string
	)
	err := row.Scan(
		&record.ID,
		&changeType,
		&record.EntityType,
		&record.EntityID,
		&record.EntityTitle,
		&record.Stage,
		&record.Before,
		&record.After,
		&record.ActorID,
		&record.ActorEmail,
		&record.RequestURL,
		&record.Referer,
		&record.RemoteAddress,
		&record.UserAgent,
		&record.RawGetParams,
		&record.RawPostParams,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan change record: %w", err)
	}
	record.ChangeType = models.ChangeType(changeType)
	record.CreatedAt = record.CreatedAt.UTC()
	return &record, nil
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	records := make([]*models.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change records: %w", err)
	}
	return records, nil
}

// nullableBytes stores an absent side as NULL rather than an empty BYTEA.
func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// limitArg maps "no limit" onto LIMIT NULL.
func limitArg(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
