// Package nats provides a cbus.Transport over NATS core subjects. NATS wildcards
// (`*`, `>`) have the same meaning as dispatcher patterns, so patterns are passed through.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/subject"
)

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Request publishes with a private reply subject and returns the first reply.
	// It must return when ctx is done.
	Request(ctx context.Context, subject string, data []byte, headers map[string]string) (*cbus.Msg, error)
	// Subscribe calls cb for every message on subjects matching pattern.
	Subscribe(pattern string, cb func(*cbus.Msg)) (cbus.Subscription, error)
}

// Adapter implements cbus.Transport using an injected NATS-like Client.
// Every delivery runs on its own goroutine with a context detached from the connection.
type Adapter struct {
	Client Client

	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	base    context.Context //nolint:containedctx
	cancel  context.CancelFunc
	cleanup func()
}

// Ensure Adapter implements the contract.
var _ cbus.Transport = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())

	return &Adapter{Client: c, base: ctx, cancel: cancel}
}

func (a *Adapter) Publish(ctx context.Context, subj string, data []byte, headers map[string]string) error {
	if err := a.ready(ctx, berr.ErrPublishFailed, "publish"); err != nil {
		return err
	}

	if err := subject.ValidateSubject(subj); err != nil {
		return fmt.Errorf("nats publish %s: %w", subj, err)
	}

	if err := a.Client.Publish(subj, data, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish %s: %w", subj, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Request sends data to subj and waits up to timeout for a reply. An elapsed timeout
// yields ErrRemoteTimeout; cancellation of ctx is returned as is.
func (a *Adapter) Request(
	ctx context.Context,
	subj string,
	data []byte,
	headers map[string]string,
	timeout time.Duration,
) (*cbus.Msg, error) {
	if err := a.ready(ctx, berr.ErrRequestFailed, "request"); err != nil {
		return nil, err
	}

	if err := subject.ValidateSubject(subj); err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subj, err)
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := a.Client.Request(rctx, subj, data, headers)
	if err == nil {
		return msg, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, berr.ErrRemoteTimeout):
		return nil, fmt.Errorf("nats request %s: %w", subj, berr.ErrRemoteTimeout)
	case errors.Is(err, berr.ErrNoResponders):
		return nil, fmt.Errorf("nats request %s: %w", subj, err)
	default:
		return nil, fmt.Errorf("nats request %s: %w", subj, errors.Join(berr.ErrRequestFailed, err))
	}
}

func (a *Adapter) Subscribe(pattern string, h cbus.MsgHandler) (cbus.Subscription, error) { //nolint:ireturn
	if a.Client == nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", pattern, berr.ErrTransportNotConfigured)
	}

	if err := subject.ValidatePattern(pattern); err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", pattern, err)
	}

	sub, err := a.Client.Subscribe(pattern, func(m *cbus.Msg) {
		a.mu.RLock()
		defer a.mu.RUnlock()

		if a.closed {
			return
		}

		a.wg.Go(func() { h(a.base, m) })
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", pattern, err)
	}

	return sub, nil
}

// Close stops deliveries, waits for running handlers and releases the connection
// when the adapter owns it.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()

		return nil
	}

	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()

	if a.cleanup != nil {
		a.cleanup()
	}

	return nil
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, errors.Join(base, berr.ErrTransportNotConfigured))
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return fmt.Errorf("nats %s: %w", label, berr.ErrClosed)
	}

	return nil
}
