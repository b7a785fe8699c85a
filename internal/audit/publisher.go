// Package audit captures structured admission events. The primary store is
// pluggable so tests can read events back; an optional Kafka mirror fans the
// same events out to the stream downstream jobs consume.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the append-only event sink. It must never block a request for
// long; slow sinks belong behind the Kafka mirror instead.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByIdentity(ctx context.Context, identityKey string) ([]Event, error)
}

type Publisher struct {
	store  Store
	mirror *KafkaSink
	logger *slog.Logger
}

type Option func(*Publisher)

// WithKafkaMirror duplicates every emitted event onto the audit topic.
func WithKafkaMirror(sink *KafkaSink) Option {
	return func(p *Publisher) {
		p.mirror = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit appends the event to the primary store and mirrors it when a mirror
// is configured. Mirror failures are logged, never surfaced: audit must not
// take down the admission path.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	if p.mirror != nil {
		p.mirror.Produce(ctx, event)
	}
	return nil
}

func (p *Publisher) List(ctx context.Context, identityKey string) ([]Event, error) {
	return p.store.ListByIdentity(ctx, identityKey)
}
