package servicebus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-service-runtime/codec"
	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/correlation"
	"github.com/next-trace/scg-service-runtime/subject"
)

// HandleRPCRequest serves one synchronous request and replies on msg.Reply.
// Handler errors and panics are answered with an error envelope.
func (d *Dispatcher) HandleRPCRequest(ctx context.Context, msg *cbus.Msg) {
	d.serve(ctx, KindRPC, msg)
}

// HandleAsyncRequest serves one fire-and-forget request. No reply is sent;
// failures are logged only.
func (d *Dispatcher) HandleAsyncRequest(ctx context.Context, msg *cbus.Msg) {
	d.serve(ctx, KindAsync, msg)
}

// HandleEvent delivers msg to every handler whose pattern matches its subject.
func (d *Dispatcher) HandleEvent(ctx context.Context, msg *cbus.Msg) {
	d.deliverEvent(ctx, msg, d.matchingPatterns(msg.Subject))
}

func (d *Dispatcher) serve(ctx context.Context, kind Kind, msg *cbus.Msg) {
	start := d.now()
	method := subject.Method(msg.Subject)
	c := d.codecFor(msg.Header)

	ctx, corrID := d.scope(ctx, msg, c)
	ctx, span := d.tracer.Start(ctx, "servicebus."+string(kind)+" "+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Subject),
			attribute.String("scg.service", d.service),
			attribute.String("scg.correlation_id", corrID),
		),
	)
	defer span.End()

	logger := d.logger.With("kind", string(kind), "method", method, "correlation_id", corrID)

	h, mws, ok := d.lookupRPC(method)
	if !ok {
		logger.WarnContext(ctx, "dispatcher.unknown_method", "subject", msg.Subject)
		span.SetStatus(codes.Error, "unknown method")

		d.observer.ObserveHandled(kind, method, d.now().Sub(start), berr.ErrUnknownMethod)

		if kind == KindRPC {
			d.reply(ctx, msg, c, d.failure("Unknown method: "+method, "", corrID))
		}

		return
	}

	inv := &Invocation{
		Kind:          kind,
		Service:       d.service,
		Method:        method,
		Subject:       msg.Subject,
		CorrelationID: corrID,
		Header:        msg.Header,
		Body:          msg.Data,
		codec:         c,
	}

	result, tb, err := invoke(ctx, chain(h, mws), inv)
	d.observer.ObserveHandled(kind, method, d.now().Sub(start), err)

	if err != nil {
		logger.ErrorContext(ctx, "dispatcher.handler_failed", "error", err, "panicked", tb != "")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if kind == KindRPC {
			d.reply(ctx, msg, c, d.failure(err.Error(), tb, corrID))
		}

		return
	}

	logger.DebugContext(ctx, "dispatcher.handled")

	if kind == KindRPC {
		d.reply(ctx, msg, c, d.success(result, corrID))
	}
}

func (d *Dispatcher) deliverEvent(ctx context.Context, msg *cbus.Msg, patterns []string) {
	targets, mws := d.lookupEvents(patterns)
	if len(targets) == 0 {
		return
	}

	c := d.codecFor(msg.Header)
	ctx, corrID := d.scope(ctx, msg, c)

	var wg sync.WaitGroup

	for _, t := range targets {
		wg.Go(func() {
			start := d.now()

			hctx, span := d.tracer.Start(ctx, "servicebus.event "+t.pattern,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.destination.name", msg.Subject),
					attribute.String("scg.correlation_id", corrID),
				),
			)
			defer span.End()

			inv := &Invocation{
				Kind:          KindEvent,
				Service:       d.service,
				Method:        t.pattern,
				Subject:       msg.Subject,
				CorrelationID: corrID,
				Header:        msg.Header,
				Body:          msg.Data,
				codec:         c,
			}

			_, tb, err := invoke(hctx, chain(t.handler, mws), inv)
			if err != nil {
				d.logger.ErrorContext(hctx, "dispatcher.event_handler_failed",
					"pattern", t.pattern,
					"subject", msg.Subject,
					"correlation_id", corrID,
					"error", err,
					"panicked", tb != "",
				)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}

			d.observer.ObserveHandled(KindEvent, t.pattern, d.now().Sub(start), err)
		})
	}

	wg.Wait()
}

// scope derives the per-message context: the correlation ID comes from the envelope,
// then the headers, and is generated otherwise. Any ID carried by ctx is replaced.
func (d *Dispatcher) scope(ctx context.Context, msg *cbus.Msg, c cbus.Codec) (context.Context, string) {
	ctx = d.propagator.Extract(ctx, msg.Header)

	id, ok := correlation.Normalize(probeCorrelationID(c, msg.Data))
	if !ok {
		id, ok = correlation.ExtractFromHeaders(msg.Header)
	}

	if !ok {
		id = correlation.Generate()
	}

	return correlation.With(ctx, id), id
}

func (d *Dispatcher) reply(ctx context.Context, msg *cbus.Msg, c cbus.Codec, env any) {
	if msg.Reply == "" {
		d.logger.DebugContext(ctx, "dispatcher.no_reply_subject", "subject", msg.Subject)

		return
	}

	corrID := correlation.ID(ctx)

	body, err := c.Marshal(env)
	if err != nil {
		d.logger.ErrorContext(ctx, "dispatcher.encode_reply_failed", "error", err, "correlation_id", corrID)

		body, err = c.Marshal(d.failure(fmt.Sprintf("serialize result: %v", err), "", corrID))
		if err != nil {
			return
		}
	}

	headers := d.headers(ctx, c, corrID)

	if err := d.transport.Publish(ctx, msg.Reply, body, headers); err != nil {
		d.logger.ErrorContext(ctx, "dispatcher.reply_failed", "error", err, "correlation_id", corrID)
	}
}

func (d *Dispatcher) headers(ctx context.Context, c cbus.Codec, correlationID string) map[string]string {
	h := map[string]string{codec.ContentTypeHeader: c.ContentType()}
	h = correlation.InjectIntoHeaders(ctx, h, correlationID)
	d.propagator.Inject(ctx, h)

	return h
}

// invoke runs h, converting a panic into an error carrying the stack trace.
func invoke(ctx context.Context, h HandlerFunc, inv *Invocation) (result any, traceback string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			traceback = string(debug.Stack())
			result = nil
		}
	}()

	result, err = h(ctx, inv)

	return result, "", err
}
