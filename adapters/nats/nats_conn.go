package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	if err := c.nc.PublishMsg(toNATS(subject, data, headers)); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Request(ctx context.Context, subject string, data []byte, headers map[string]string) (*cbus.Msg, error) {
	reply, err := c.nc.RequestMsgWithContext(ctx, toNATS(subject, data, headers))
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, errors.Join(berr.ErrNoResponders, err)
		case errors.Is(err, nats.ErrTimeout):
			return nil, errors.Join(berr.ErrRemoteTimeout, err)
		default:
			return nil, err
		}
	}

	return fromNATS(reply), nil
}

func (c natsClient) Subscribe(pattern string, cb func(*cbus.Msg)) (cbus.Subscription, error) { //nolint:ireturn
	sub, err := c.nc.Subscribe(pattern, func(m *nats.Msg) { cb(fromNATS(m)) })
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func toNATS(subject string, data []byte, headers map[string]string) *nats.Msg {
	msg := &nats.Msg{Subject: subject, Data: data}

	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}

	return msg
}

func fromNATS(m *nats.Msg) *cbus.Msg {
	out := &cbus.Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data}

	if len(m.Header) > 0 {
		out.Header = make(map[string]string, len(m.Header))
		for k := range m.Header {
			out.Header[k] = m.Header.Get(k)
		}
	}

	return out
}

// NewWithNATS creates a real NATS connection and returns an Adapter and a cleanup.
// Closing the adapter also drains the connection.
func NewWithNATS(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrTransportNotConfigured)
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrTransportNotConfigured, err)
	}

	ad := New(natsClient{nc: nc})
	ad.cleanup = func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return ad, func() { _ = ad.Close() }, nil
}
