package servicebus

import (
	"context"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// RPCHandlerFunc adapts a function to cbus.RPCHandler.
type RPCHandlerFunc[A any, R any] func(ctx context.Context, args A) (R, error)

// Handle calls f(ctx, args).
func (f RPCHandlerFunc[A, R]) Handle(ctx context.Context, args A) (R, error) { return f(ctx, args) }

// EventHandlerFunc adapts a function to cbus.EventHandler.
type EventHandlerFunc[E any] func(ctx context.Context, subj string, e E) error

// Handle calls f(ctx, subj, e).
func (f EventHandlerFunc[E]) Handle(ctx context.Context, subj string, e E) error { return f(ctx, subj, e) }

// BindRPC registers h for method, decoding the request envelope into A.
// Unknown envelope fields, the correlation ID included, are ignored by the decoder.
// Duplicate bindings are rejected.
func BindRPC[A any, R any](d *Dispatcher, method string, h cbus.RPCHandler[A, R]) error {
	return d.Handle(method, func(ctx context.Context, inv *Invocation) (any, error) {
		var args A
		if err := inv.Decode(&args); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", method, errors.Join(berr.ErrSerializationFailed, err))
		}

		return h.Handle(ctx, args)
	})
}

// BindEvent registers h for events matching pattern, decoding each event into E.
func BindEvent[E any](d *Dispatcher, pattern string, h cbus.EventHandler[E]) error {
	return d.HandleEvents(pattern, func(ctx context.Context, inv *Invocation) (any, error) {
		var e E
		if err := inv.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", inv.Subject, errors.Join(berr.ErrSerializationFailed, err))
		}

		return nil, h.Handle(ctx, inv.Subject, e)
	})
}
