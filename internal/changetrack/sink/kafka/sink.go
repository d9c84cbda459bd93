// Package kafka forwards persisted change records to a Kafka topic so that
// downstream consumers (search indexing, notifications) can follow content
// history without polling the store.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"datachange/internal/changetrack/codec"
	"datachange/internal/changetrack/metrics"
	"datachange/internal/changetrack/models"
	"datachange/pkg/platform/circuit"
	"datachange/pkg/platform/sentinel"
)

const sinkName = "kafka"

// Message headers set on every produced record.
const (
	HeaderChangeType = "change_type"
	HeaderEntityType = "entity_type"
)

// Producer is the subset of *kgo.Client used by the sink.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Sink produces each record synchronously. A circuit breaker stops produce
// attempts while the broker is failing.
type Sink struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures the Sink.
type Option func(*Sink)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sink) {
		s.metrics = m
	}
}

// WithBreaker replaces the default breaker (5 failures, 30s cooldown).
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Sink) {
		if b != nil {
			s.breaker = b
		}
	}
}

// New creates a Kafka sink producing to topic.
func New(producer Producer, topic string, opts ...Option) (*Sink, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	s := &Sink{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New(sinkName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sink) Name() string { return sinkName }

// Publish produces one record keyed by entity, so an entity's history stays
// ordered within a partition.
func (s *Sink) Publish(ctx context.Context, record *models.Record) error {
	if !s.breaker.Allow() {
		return fmt.Errorf("kafka sink circuit open: %w", sentinel.ErrUnavailable)
	}

	msg, err := Encode(s.topic, record)
	if err != nil {
		return err
	}

	if err := s.producer.ProduceSync(ctx, msg).FirstErr(); err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.metrics.SetSinkCircuitState(sinkName, true)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "kafka sink circuit opened", "topic", s.topic, "error", err)
			}
		}
		return fmt.Errorf("produce change record %s: %w", record.ID, err)
	}

	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetSinkCircuitState(sinkName, false)
		if s.logger != nil {
			s.logger.InfoContext(ctx, "kafka sink circuit closed", "topic", s.topic)
		}
	}
	return nil
}

// Encode builds the Kafka message for a record.
func Encode(topic string, record *models.Record) (*kgo.Record, error) {
	body, err := codec.EncodeRecord(record)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic:     topic,
		Key:       []byte(record.EntityType + "#" + record.EntityID),
		Value:     body,
		Timestamp: record.CreatedAt,
		Headers: []kgo.RecordHeader{
			{Key: HeaderChangeType, Value: []byte(record.ChangeType)},
			{Key: HeaderEntityType, Value: []byte(record.EntityType)},
		},
	}, nil
}

// Decode is the inverse of Encode, for consumers.
func Decode(msg *kgo.Record) (*models.Record, error) {
	return codec.DecodeRecord(msg.Value)
}

// NewClient creates a franz-go client producing to topic by default.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if result, ok := resp[topic]; ok && result.Err != nil && !errors.Is(result.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, result.Err)
	}
	return nil
}
