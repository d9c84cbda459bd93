//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"datachange/internal/changetrack/models"
	"datachange/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	brokers []string
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
}

func (s *KafkaSinkSuite) TestPublishedRecordCanBeConsumed() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "data-changes-" + uuid.NewString()

	producer, err := NewClient(s.brokers, topic)
	s.Require().NoError(err)
	defer producer.Close()
	s.Require().NoError(EnsureTopic(ctx, producer, topic, 1, 1))
	// Creating an existing topic is not an error.
	s.Require().NoError(EnsureTopic(ctx, producer, topic, 1, 1))

	sink, err := New(producer, topic)
	s.Require().NoError(err)

	record := &models.Record{
		ID:         uuid.New(),
		ChangeType: models.ChangeTypeChange,
		EntityType: "Article",
		EntityID:   "42",
		Before:     []byte{0xa0},
		After:      []byte{0xa0},
		CreatedAt:  time.Now().UTC(),
	}
	s.Require().NoError(sink.Publish(ctx, record))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().Len(records, 1)

	got, err := Decode(records[0])
	s.Require().NoError(err)
	s.Equal(record.ID, got.ID)
	s.Equal("Article#42", string(records[0].Key))
}
