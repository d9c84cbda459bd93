// Package service runs the change tracking pipeline: filter the entity's
// changed fields, classify the operation, capture a snapshot or diff,
// assemble a record, and append it to the store.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"datachange/internal/changetrack/assembler"
	"datachange/internal/changetrack/capture"
	"datachange/internal/changetrack/classifier"
	"datachange/internal/changetrack/filter"
	"datachange/internal/changetrack/metrics"
	"datachange/internal/changetrack/models"
	"datachange/internal/changetrack/render"
	"datachange/pkg/requestcontext"
)

const tracerName = "datachange/changetrack"

// Config holds the process-wide tracking settings.
type Config struct {
	// FieldBlacklist names fields that are never recorded, whatever the entity.
	FieldBlacklist []string
	// SaveRequestParams enables storing GET/POST parameters on records.
	SaveRequestParams bool
	// RequestParamBlacklist keys are stripped before parameters are stored.
	RequestParamBlacklist []string
}

// DefaultConfig mirrors the out-of-the-box behaviour: passwords are never
// recorded and request parameters are not captured.
func DefaultConfig() Config {
	return Config{
		FieldBlacklist:        []string{"Password"},
		RequestParamBlacklist: []string{"url", filter.SecurityTokenField},
	}
}

type Service struct {
	store     Store
	filter    *filter.Filter
	assembler *assembler.Assembler
	sinks     []Sink
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func(ctx context.Context) time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithSinks adds sinks that receive every persisted record.
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) {
		s.sinks = append(s.sinks, sinks...)
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock overrides the creation timestamp source. By default the
// request-scoped time from requestcontext.Now is used.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = func(context.Context) time.Time { return now() }
		}
	}
}

func New(store Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}

	svc := &Service{
		store:  store,
		filter: filter.New(cfg.FieldBlacklist...),
		assembler: assembler.New(assembler.Options{
			SaveRequestParams:     cfg.SaveRequestParams,
			RequestParamBlacklist: cfg.RequestParamBlacklist,
		}),
		tracer: otel.Tracer(tracerName),
		now:    requestcontext.Now,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Track records one operation on entity. A skipped operation returns an
// Outcome with a nil Record and a nil error; the store is not touched.
// Store failures are returned and no record exists afterwards. Sink failures
// are logged and counted only.
func (s *Service) Track(ctx context.Context, entity models.Entity, changeType models.ChangeType, meta models.Metadata) (models.Outcome, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "changetrack.Track", trace.WithAttributes(
		attribute.String("change_type", changeType.String()),
		attribute.String("stage", meta.Stage),
	))
	defer span.End()

	out, err := s.track(ctx, entity, changeType, meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Outcome{}, err
	}

	span.SetAttributes(attribute.String("mode", out.Decision.Mode.String()))
	if out.Skipped() {
		span.SetAttributes(attribute.String("skip_reason", string(out.Decision.Reason)))
	} else {
		span.SetAttributes(attribute.String("record_id", out.Record.ID.String()))
	}
	s.metrics.ObserveTrackLatency(time.Since(start))
	return out, nil
}

func (s *Service) track(ctx context.Context, entity models.Entity, changeType models.ChangeType, meta models.Metadata) (models.Outcome, error) {
	if entity == nil || entity.TypeName() == "" || entity.ID() == "" {
		return models.Outcome{}, models.ErrInvalidEntity
	}

	changes, err := entity.ChangedFields()
	if err != nil {
		return models.Outcome{}, fmt.Errorf("read changed fields of %s #%s: %w", entity.TypeName(), entity.ID(), err)
	}

	var ignored []string
	if p, ok := entity.(models.IgnoredFieldsProvider); ok {
		ignored = p.IgnoredFields()
	}
	filtered := s.filter.Apply(changes, ignored)

	decision := classifier.Classify(changeType, filtered, meta.Stage)

	var before, after models.FieldMap
	switch decision.Mode {
	case models.ModeSkip:
		s.metrics.IncSkipped(string(decision.Reason))
		if s.logger != nil {
			s.logger.DebugContext(ctx, "change not recorded",
				"change_type", changeType,
				"entity_type", entity.TypeName(),
				"entity_id", entity.ID(),
				"reason", decision.Reason,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return models.Outcome{Decision: decision}, nil
	case models.ModeSnapshot:
		before, after, err = capture.BuildSnapshot(entity, decision.Direction)
		if err != nil {
			return models.Outcome{}, err
		}
	case models.ModeDiff:
		before, after = capture.BuildDiff(filtered)
	}

	out, err := s.assembler.Assemble(assembler.Input{
		ChangeType: changeType,
		Entity:     entity,
		Decision:   decision,
		Before:     before,
		After:      after,
		Metadata:   meta,
	})
	if err != nil {
		return models.Outcome{}, fmt.Errorf("assemble %s record for %s #%s: %w", changeType, entity.TypeName(), entity.ID(), err)
	}

	record := out.Record
	record.CreatedAt = s.now(ctx)
	if err := s.store.Append(ctx, record); err != nil {
		s.metrics.IncStoreFailures()
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to persist change record",
				"change_type", changeType,
				"entity_type", record.EntityType,
				"entity_id", record.EntityID,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return models.Outcome{}, fmt.Errorf("append change record: %w", err)
	}

	s.metrics.IncTracked(changeType.String(), decision.Mode.String())
	if s.logger != nil {
		s.logger.InfoContext(ctx, "change recorded",
			"record_id", record.ID,
			"change_type", changeType,
			"mode", decision.Mode,
			"entity_type", record.EntityType,
			"entity_id", record.EntityID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}

	s.forward(ctx, record)
	return out, nil
}

// forward hands a persisted record to every sink. Each sink sees its own copy.
func (s *Service) forward(ctx context.Context, record *models.Record) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, record.Clone()); err != nil {
			s.metrics.IncSinkFailures(sink.Name())
			if s.logger != nil {
				s.logger.WarnContext(ctx, "failed to forward change record",
					"sink", sink.Name(),
					"record_id", record.ID,
					"error", err,
				)
			}
		}
	}
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	record, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find change record %s: %w", id, err)
	}
	return record, nil
}

// ListByEntity returns the history of one entity, newest first.
func (s *Service) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*models.Record, error) {
	if entityType == "" || entityID == "" {
		return nil, models.ErrInvalidEntity
	}
	records, err := s.store.ListByEntity(ctx, entityType, entityID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("list change records for %s #%s: %w", entityType, entityID, err)
	}
	return records, nil
}

// ListRecent returns the newest records across all entities.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*models.Record, error) {
	records, err := s.store.ListRecent(ctx, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("list recent change records: %w", err)
	}
	return records, nil
}

// RenderDiff loads a record and renders its field comparison.
func (s *Service) RenderDiff(ctx context.Context, id uuid.UUID) ([]render.FieldDiff, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	diff, err := render.Render(record)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "stored change record cannot be rendered",
				"record_id", id,
				"error", err,
			)
		}
		return nil, fmt.Errorf("render change record %s: %w", id, err)
	}
	return diff, nil
}

// Delete always fails: change records are retained permanently.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "rejected change record deletion",
			"record_id", id,
			"actor_id", requestcontext.ActorID(ctx),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return fmt.Errorf("delete change record %s: %w", id, models.ErrDeleteForbidden)
}
