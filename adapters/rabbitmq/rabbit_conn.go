package rabbitmq

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// Concrete AMQP connection-backed constructor and publisher wrapper with auto-reconnect.

const (
	exchangeKind = "topic"
	minBackoff   = time.Second
	maxBackoff   = 30 * time.Second
)

type Config struct {
	URL         string
	Exchange    string
	ConnTimeout time.Duration
}

type reconnectingPublisher struct {
	cfg Config

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel

	closed    chan struct{}
	ready     chan struct{} // closed once the first channel is up
	readyOnce sync.Once
	closeOnce sync.Once
}

func newReconnectingPublisher(cfg Config) *reconnectingPublisher {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}

	go rp.run()

	return rp
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	select {
	case <-rp.ready:
	case <-rp.closed:
		return fmt.Errorf("rabbitmq: %w", berr.ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}

	rp.mu.RLock()
	ch := rp.ch
	rp.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("%w: rabbitmq not connected", berr.ErrPublishFailed)
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      toTable(m.Headers),
			ContentType:  m.ContentType,
			Body:         m.Body,
			Timestamp:    time.Now(),
		},
	)
}

func (rp *reconnectingPublisher) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(rp.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-service-runtime"},
		Dial:       amqp.DefaultDial(rp.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(rp.cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

func (rp *reconnectingPublisher) run() {
	backoff := minBackoff

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, err := rp.dial()
		if err != nil {
			if !rp.wait(jitter(backoff)) {
				return
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		backoff = minBackoff

		rp.mu.Lock()
		rp.conn, rp.ch = conn, ch
		rp.mu.Unlock()

		rp.readyOnce.Do(func() { close(rp.ready) })

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-rp.closed:
			_ = ch.Close()
			_ = conn.Close()

			return
		case <-notify:
			rp.mu.Lock()
			rp.conn, rp.ch = nil, nil
			rp.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rp *reconnectingPublisher) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-rp.closed:
		return false
	case <-t.C:
		return true
	}
}

func (rp *reconnectingPublisher) close() {
	rp.closeOnce.Do(func() {
		close(rp.closed)

		rp.mu.Lock()
		defer rp.mu.Unlock()

		if rp.ch != nil {
			_ = rp.ch.Close()
			rp.ch = nil
		}

		if rp.conn != nil {
			_ = rp.conn.Close()
			rp.conn = nil
		}
	})
}

// jitter spreads reconnect attempts by up to a quarter of d.
func jitter(d time.Duration) time.Duration {
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	return min(d+rand.N(d/4+1), maxBackoff) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, declares the event exchange and
// returns an Adapter and cleanup. Publishing waits for the first connection.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransportNotConfigured)
	}

	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	pub := newReconnectingPublisher(cfg)
	ad := New(pub)
	ad.Exchange = cfg.Exchange

	return ad, pub.close, nil
}
