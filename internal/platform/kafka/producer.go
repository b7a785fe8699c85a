// Package kafka wraps the franz-go client behind the small producer surface
// the rest of the service needs.
package kafka

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

func NewProducer(brokers []string, logger *slog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{client: client, logger: logger}, nil
}

// Produce sends asynchronously. Delivery failures are logged; producers of
// best-effort streams must not block request handling on broker health.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("kafka produce failed", "topic", r.Topic, "error", err)
		}
	})
}

func (p *Producer) Close() {
	p.client.Close()
}
