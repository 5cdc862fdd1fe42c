package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// DefaultExchange receives mirrored events when no exchange is configured.
const DefaultExchange = "scg.events"

const defaultContentType = "application/json"

type PubMsg struct {
	Exchange    string
	RoutingKey  string
	ContentType string
	Body        []byte
	Headers     map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Adapter implements cbus.EventSink over a Publisher.
type Adapter struct {
	Publisher  Publisher
	Exchange   string
	Propagator cbus.HeaderPropagator // optional, for context propagation into headers
}

var _ cbus.EventSink = (*Adapter)(nil)

func New(p Publisher) *Adapter { return &Adapter{Publisher: p, Exchange: DefaultExchange} }

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp cbus.HeaderPropagator) *Adapter {
	return &Adapter{Publisher: p, Exchange: DefaultExchange, Propagator: hp}
}

// PublishEvent publishes the encoded event with subj as routing key.
func (a *Adapter) PublishEvent(ctx context.Context, subj string, body []byte, headers map[string]string) error {
	if err := a.ready(ctx); err != nil {
		return err
	}

	// copy headers to avoid mutating caller-provided map
	hdrs := make(map[string]string, len(headers)+4)
	maps.Copy(hdrs, headers)

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, hdrs)
	}

	msg := PubMsg{
		Exchange:    a.Exchange,
		RoutingKey:  subj,
		ContentType: contentType(hdrs),
		Body:        body,
		Headers:     hdrs,
	}

	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %s: %w", subj, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", errors.Join(berr.ErrPublishFailed, berr.ErrTransportNotConfigured))
	}

	return nil
}

func contentType(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "content-type") && v != "" {
			return v
		}
	}

	return defaultContentType
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}

	h := make(amqp.Table, len(headers))
	for k, v := range headers {
		h[k] = v
	}

	return h
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			Headers:     toTable(m.Headers),
			Body:        m.Body,
			ContentType: m.ContentType,
		},
	)
}

// NewWithAMQPChannel publishes on an existing channel. The exchange must already exist.
func NewWithAMQPChannel(ch *amqp.Channel, exchange string) *Adapter {
	ad := New(amqpChannelPublisher{ch: ch})
	if exchange != "" {
		ad.Exchange = exchange
	}

	return ad
}
