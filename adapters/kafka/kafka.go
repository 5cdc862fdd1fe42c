package kafka

import (
	"context"
	"errors"
	"fmt"
	"maps"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// DefaultTopic receives mirrored events when no topic is configured.
const DefaultTopic = "scg.events"

// SubjectHeader carries the original event subject on every record.
const SubjectHeader = "subject"

// Record is the broker-neutral shape handed to a Producer.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer is a minimal Kafka-like producer interface.
// The franz-go client is adapted to it by NewWithKgo.
type Producer interface {
	Produce(ctx context.Context, r Record) error
}

// Adapter implements cbus.EventSink using an injected Producer.
// Events are keyed by subject so one subject keeps its order within a partition.
type Adapter struct {
	Producer   Producer
	Topic      string
	Propagator cbus.HeaderPropagator
}

var _ cbus.EventSink = (*Adapter)(nil)

// New creates a new Kafka adapter instance with the provided producer.
func New(p Producer) *Adapter { return &Adapter{Producer: p, Topic: DefaultTopic} }

func (a *Adapter) PublishEvent(ctx context.Context, subj string, body []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Producer == nil {
		return fmt.Errorf("kafka publish: %w", errors.Join(berr.ErrPublishFailed, berr.ErrTransportNotConfigured))
	}

	hdrs := make(map[string]string, len(headers)+1)
	maps.Copy(hdrs, headers)
	hdrs[SubjectHeader] = subj

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	rec := Record{Topic: a.topic(), Key: []byte(subj), Value: body, Headers: hdrs}

	if err := a.Producer.Produce(ctx, rec); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// separate return from preceding multi-line block (wsl)
		return fmt.Errorf("kafka publish %s: %w", subj, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) topic() string {
	if a.Topic == "" {
		return DefaultTopic
	}

	return a.Topic
}
