package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"fitgate/internal/platform/kafka"
)

// KafkaSink mirrors events onto the audit topic, keyed by identity so all
// events for one identity land on the same partition in order.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaSink(producer *kafka.Producer, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

func (s *KafkaSink) Produce(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "audit event marshal failed", "action", event.Action, "error", err)
		return
	}
	s.producer.Produce(ctx, s.topic, []byte(event.IdentityKey), payload)
}
