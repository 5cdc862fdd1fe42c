package bus

import "context"

// EventSink mirrors published events to an external broker (RabbitMQ, Kafka, ...).
// The body is the already-encoded event envelope.
type EventSink interface {
	PublishEvent(ctx context.Context, subject string, body []byte, headers map[string]string) error
}
