package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
)

// Propagator carries W3C trace context and baggage in message headers.
type Propagator struct {
	tm propagation.TextMapPropagator
}

var _ cbus.HeaderPropagator = Propagator{}

// NewPropagator returns a trace-context plus baggage propagator.
func NewPropagator() Propagator {
	return Propagator{tm: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})}
}

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.textMap().Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	return p.textMap().Extract(ctx, propagation.MapCarrier(headers))
}

// TextMap returns the wrapped otel propagator, for otel.SetTextMapPropagator.
func (p Propagator) TextMap() propagation.TextMapPropagator { return p.textMap() }

func (p Propagator) textMap() propagation.TextMapPropagator {
	if p.tm == nil {
		return propagation.TraceContext{}
	}

	return p.tm
}
