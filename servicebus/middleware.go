package servicebus

import (
	"context"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
)

// Kind classifies an inbound invocation or outbound call.
type Kind string

const (
	KindRPC   Kind = "rpc"
	KindAsync Kind = "async"
	KindEvent Kind = "event"
)

// Invocation describes one inbound message routed to a handler.
// Method holds the method name for rpc/async invocations and the matched pattern for events.
type Invocation struct {
	Kind          Kind
	Service       string
	Method        string
	Subject       string
	CorrelationID string
	Header        map[string]string
	Body          []byte

	codec cbus.Codec
}

// Decode decodes the request envelope into v using the codec the caller encoded it with.
func (inv *Invocation) Decode(v any) error {
	return inv.codec.Unmarshal(inv.Body, v)
}

// Args decodes the request envelope into keyword arguments. The correlation_id
// envelope field is removed; it is available as CorrelationID.
func (inv *Invocation) Args() (map[string]any, error) {
	var args map[string]any
	if err := inv.Decode(&args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	if args == nil {
		args = map[string]any{}
	}

	delete(args, envelopeCorrelationID)

	return args, nil
}

// HandlerFunc is the uniform shape every registered handler is adapted to.
// Event handlers return a nil result.
type HandlerFunc func(ctx context.Context, inv *Invocation) (any, error)

// Middleware wraps handler execution. Middlewares are executed in registration order.
type Middleware func(next HandlerFunc) HandlerFunc

// Observer receives timing and outcome of every handled message and outbound call.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveHandled(kind Kind, method string, elapsed time.Duration, err error)
	ObserveCall(kind Kind, target string, elapsed time.Duration, err error)
}

// NopObserver discards observations.
type NopObserver struct{}

func (NopObserver) ObserveHandled(Kind, string, time.Duration, error) {}
func (NopObserver) ObserveCall(Kind, string, time.Duration, error)    {}

func chain(h HandlerFunc, mws []Middleware) HandlerFunc {
	// Build chain so the first registered middleware runs first
	final := h
	for i := len(mws) - 1; i >= 0; i-- {
		final = mws[i](final)
	}

	return final
}
