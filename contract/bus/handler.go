package bus

import "context"

// RPCHandler handles requests decoded into A and returns a result of type R.
// Implementations must be safe for concurrent use by multiple goroutines.
type RPCHandler[A any, R any] interface {
	Handle(ctx context.Context, args A) (R, error)
}

// EventHandler handles events decoded into E. subject is the concrete subject the
// event was published on, which matters when the handler is bound to a wildcard pattern.
type EventHandler[E any] interface {
	Handle(ctx context.Context, subject string, e E) error
}
