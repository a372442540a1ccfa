// Package kafka publishes status notifications to a Kafka topic. Records are
// keyed by permission id, so partition order matches append order per
// aggregate, mirroring the bus's per-key guarantee.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"gridpass/internal/notification"
)

type Sink struct {
	client *kgo.Client
	topic  string
}

func New(brokers []string, topic string) (*Sink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Sink{client: client, topic: topic}, nil
}

func (s *Sink) Send(ctx context.Context, msg notification.StatusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(msg.PermissionID),
		Value: payload,
	}
	// Synchronous produce: the relay retries via redelivery, so buffering
	// failures here would only hide them.
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce status message: %w", err)
	}
	return nil
}

func (s *Sink) Close() {
	s.client.Close()
}
