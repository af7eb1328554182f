package bridge

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes bridged frames as Kafka records via franz-go, keyed
// by subject so a consumer group can partition by stream.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// DialKafka builds a franz-go client seeded with brokers, publishing every
// frame to topic.
func DialKafka(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("bridge: new Kafka client for brokers %v: %w", brokers, err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

// Publish produces one record synchronously, keyed by subject.
func (s *KafkaSink) Publish(ctx context.Context, subject string, data []byte) error {
	record := &kgo.Record{Topic: s.topic, Key: []byte(subject), Value: data}
	return s.client.ProduceSync(ctx, record).FirstErr()
}

// Close flushes pending records and closes the client.
func (s *KafkaSink) Close() error {
	s.client.Close()
	return nil
}
