//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"dogfight/internal/person/events"
	"dogfight/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	client   *kgo.Client
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	client, err := events.NewKafkaClient(s.redpanda.Brokers)
	s.Require().NoError(err)
	s.client = client
}

func (s *KafkaPublisherSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *KafkaPublisherSuite) TestEnsureTopicIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(events.EnsureTopic(ctx, s.client, "pessoas.idempotent", 1, 1))
	s.Require().NoError(events.EnsureTopic(ctx, s.client, "pessoas.idempotent", 1, 1))
}

func (s *KafkaPublisherSuite) TestPublishProducesKeyedJSON() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "pessoas.publish"
	s.Require().NoError(events.EnsureTopic(ctx, s.client, topic, 1, 1))

	publisher := events.NewKafkaPublisher(s.client, topic)
	s.Require().NoError(publisher.Ping(ctx))

	event := newEvent("josé")
	s.Require().NoError(publisher.Publish(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())

	records := fetches.Records()
	s.Require().NotEmpty(records)
	record := records[0]
	s.Equal(event.PersonID.String(), string(record.Key))

	var decoded events.Event
	s.Require().NoError(json.Unmarshal(record.Value, &decoded))
	s.Equal(event.PersonID, decoded.PersonID)
	s.Equal("josé", decoded.Nickname)
	s.Equal(events.TypePersonCreated, decoded.Type)
}
