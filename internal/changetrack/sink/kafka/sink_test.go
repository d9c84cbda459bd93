package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"datachange/internal/changetrack/metrics"
	"datachange/internal/changetrack/models"
	"datachange/pkg/platform/circuit"
	"datachange/pkg/platform/sentinel"
)

type fakeProducer struct {
	produced []*kgo.Record
	err      error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.err == nil {
			f.produced = append(f.produced, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

type SinkSuite struct {
	suite.Suite
	producer *fakeProducer
	metrics  *metrics.Metrics
	sink     *Sink
	record   *models.Record
}

func TestSinkSuite(t *testing.T) {
	suite.Run(t, new(SinkSuite))
}

func (s *SinkSuite) SetupTest() {
	s.producer = &fakeProducer{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	var err error
	s.sink, err = New(s.producer, "data-changes",
		WithMetrics(s.metrics),
		WithBreaker(circuit.New("kafka", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))),
	)
	s.Require().NoError(err)
	s.record = &models.Record{
		ID:         uuid.New(),
		ChangeType: models.ChangeTypePublish,
		EntityType: "Article",
		EntityID:   "42",
		After:      []byte{0xa0},
		CreatedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *SinkSuite) TestNewValidates() {
	_, err := New(nil, "topic")
	s.Error(err)
	_, err = New(s.producer, "")
	s.Error(err)
}

func (s *SinkSuite) TestPublishProducesKeyedMessage() {
	s.Require().NoError(s.sink.Publish(context.Background(), s.record))

	s.Require().Len(s.producer.produced, 1)
	msg := s.producer.produced[0]
	s.Equal("data-changes", msg.Topic)
	s.Equal("Article#42", string(msg.Key))
	s.Equal(s.record.CreatedAt, msg.Timestamp)
	s.Contains(msg.Headers, kgo.RecordHeader{Key: HeaderChangeType, Value: []byte("Publish")})

	decoded, err := Decode(msg)
	s.Require().NoError(err)
	s.Equal(s.record.ID, decoded.ID)
	s.Equal(s.record.After, decoded.After)
	s.Nil(decoded.Before)
}

func (s *SinkSuite) TestBreakerOpensAfterRepeatedFailures() {
	s.producer.err = errors.New("broker unreachable")

	s.Error(s.sink.Publish(context.Background(), s.record))
	s.Error(s.sink.Publish(context.Background(), s.record))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SinkCircuitState.WithLabelValues("kafka")))

	// Open circuit short-circuits without touching the broker.
	s.producer.err = nil
	err := s.sink.Publish(context.Background(), s.record)
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.Empty(s.producer.produced)
}

func (s *SinkSuite) TestBreakerClosesAfterSuccessfulProbe() {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sink, err := New(s.producer, "data-changes",
		WithMetrics(s.metrics),
		WithBreaker(circuit.New("kafka",
			circuit.WithFailureThreshold(1),
			circuit.WithCooldown(time.Minute),
			circuit.WithClock(func() time.Time { return now }),
		)),
	)
	s.Require().NoError(err)

	s.producer.err = errors.New("broker unreachable")
	s.Error(sink.Publish(context.Background(), s.record))

	now = now.Add(time.Minute)
	s.producer.err = nil
	s.NoError(sink.Publish(context.Background(), s.record))
	s.Equal(0.0, testutil.ToFloat64(s.metrics.SinkCircuitState.WithLabelValues("kafka")))
}
