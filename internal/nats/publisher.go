package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishUsageEvent publishes a usage event on vatbot.usage.{event_type}.
// The event id doubles as the JetStream message id so retried publishes
// are deduplicated by the server.
func (p *Publisher) PublishUsageEvent(ctx context.Context, event UsageEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return p.publish(ctx, UsageSubject(event.EventType), event, jetstream.WithMsgID(event.ID.String()))
}

// UsageSubject returns the subject for a usage event type.
func UsageSubject(eventType string) string {
	return fmt.Sprintf("%s.%s", SubjectUsagePrefix, eventType)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any, opts ...jetstream.PublishOpt) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload, opts...)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
