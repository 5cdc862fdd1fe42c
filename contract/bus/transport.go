package bus

import (
	"context"
	"time"
)

// Msg is a transport-level message. Reply is set by Request-style sends and names
// the subject a responder must publish its answer to.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
	Header  map[string]string
}

// MsgHandler receives inbound messages. Transports invoke it on its own goroutine
// per delivery, so handlers may block.
type MsgHandler func(ctx context.Context, msg *Msg)

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// Transport abstracts the message broker shared by all services.
// Library users provide an implementation backed by their broker (NATS, in-memory, ...).
//
// Subjects are dot-delimited; subscription patterns may use `*` (one segment) and
// `>` (one or more trailing segments).
type Transport interface {
	// Publish sends data to subject without waiting for any reply.
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
	// Request sends data to subject and waits up to timeout for a single reply.
	// Timeouts are reported as errors matching errors.ErrRemoteTimeout.
	Request(ctx context.Context, subject string, data []byte, headers map[string]string, timeout time.Duration) (*Msg, error)
	// Subscribe registers handler for every subject matching pattern.
	Subscribe(pattern string, handler MsgHandler) (Subscription, error)
	// Close releases broker resources.
	Close() error
}
