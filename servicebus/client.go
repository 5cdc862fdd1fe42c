package servicebus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-service-runtime/codec"
	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/correlation"
	"github.com/next-trace/scg-service-runtime/subject"
)

// CallRPC invokes method on service and waits up to timeout for the reply.
// A non-positive timeout uses the dispatcher default. The correlation ID carried
// by ctx is propagated, or a new one is generated.
//
// A missing reply yields *errors.TimeoutError; an error envelope yields *errors.RemoteError.
func (d *Dispatcher) CallRPC(ctx context.Context, service, method string, args any, timeout time.Duration) (any, error) {
	resp, _, err := d.request(ctx, service, method, args, timeout)
	if err != nil {
		return nil, err
	}

	return resp.Result, nil
}

// Call is the typed form of CallRPC: the reply result is decoded into R.
func Call[R any](
	ctx context.Context,
	d *Dispatcher,
	service, method string,
	args any,
	timeout time.Duration,
) (R, error) {
	var out R

	resp, c, err := d.request(ctx, service, method, args, timeout)
	if err != nil {
		return out, err
	}

	if resp.Result == nil {
		return out, nil
	}

	if err := codec.Convert(c, resp.Result, &out); err != nil {
		return out, fmt.Errorf("call %s.%s decode result: %w", service, method, errors.Join(berr.ErrSerializationFailed, err))
	}

	return out, nil
}

// CallAsync publishes a fire-and-forget request to method on service.
// Only local encoding or publish failures are reported.
func (d *Dispatcher) CallAsync(ctx context.Context, service, method string, args any) error {
	if d.transport == nil {
		return fmt.Errorf("call async %s.%s: %w", service, method, berr.ErrTransportNotConfigured)
	}

	ctx, corrID := correlation.GetOrCreate(ctx, "")
	subj := subject.Async(service, method)

	ctx, span := d.tracer.Start(ctx, "servicebus.call_async "+service+"."+method,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", subj),
			attribute.String("scg.correlation_id", corrID),
		),
	)
	defer span.End()

	start := d.now()

	err := d.publish(ctx, subj, args, corrID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = fmt.Errorf("call async %s: %w", subj, err)
	}

	d.observer.ObserveCall(KindAsync, service+"."+method, d.now().Sub(start), err)

	return err
}

// PublishEvent publishes args on subj through the transport, then mirrors the encoded
// event to every configured sink. All failures are joined.
func (d *Dispatcher) PublishEvent(ctx context.Context, subj string, args any) error {
	if err := subject.ValidateSubject(subj); err != nil {
		return fmt.Errorf("publish event %s: %w", subj, err)
	}

	if d.transport == nil && len(d.sinks) == 0 {
		return fmt.Errorf("publish event %s: %w", subj, berr.ErrTransportNotConfigured)
	}

	ctx, corrID := correlation.GetOrCreate(ctx, "")

	ctx, span := d.tracer.Start(ctx, "servicebus.publish "+subj,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", subj),
			attribute.String("scg.correlation_id", corrID),
		),
	)
	defer span.End()

	start := d.now()

	body, err := encodeRequest(d.codec, args, corrID)
	if err != nil {
		err = fmt.Errorf("publish event %s: %w", subj, err)
		d.observer.ObserveCall(KindEvent, subj, d.now().Sub(start), err)

		return err
	}

	headers := d.headers(ctx, d.codec, corrID)

	var errs []error

	if d.transport != nil {
		if err := d.transport.Publish(ctx, subj, body, headers); err != nil {
			errs = append(errs, fmt.Errorf("publish event %s: %w", subj, errors.Join(berr.ErrPublishFailed, err)))
		}
	}

	for _, sink := range d.sinks {
		if err := sink.PublishEvent(ctx, subj, body, maps.Clone(headers)); err != nil {
			errs = append(errs, fmt.Errorf("sink event %s: %w", subj, err))
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.WarnContext(ctx, "dispatcher.publish_failed", "subject", subj, "correlation_id", corrID, "error", err)
	}

	d.observer.ObserveCall(KindEvent, subj, d.now().Sub(start), err)

	return err
}

func (d *Dispatcher) publish(ctx context.Context, subj string, args any, corrID string) error {
	body, err := encodeRequest(d.codec, args, corrID)
	if err != nil {
		return err
	}

	if err := d.transport.Publish(ctx, subj, body, d.headers(ctx, d.codec, corrID)); err != nil {
		return errors.Join(berr.ErrPublishFailed, err)
	}

	return nil
}

func (d *Dispatcher) request(
	ctx context.Context,
	service, method string,
	args any,
	timeout time.Duration,
) (*responseEnvelope, cbus.Codec, error) {
	if d.transport == nil {
		return nil, nil, fmt.Errorf("call %s.%s: %w", service, method, berr.ErrTransportNotConfigured)
	}

	if timeout <= 0 {
		timeout = d.callTimeout
	}

	ctx, corrID := correlation.GetOrCreate(ctx, "")
	subj := subject.RPC(service, method)

	ctx, span := d.tracer.Start(ctx, "servicebus.call "+service+"."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", subj),
			attribute.String("scg.correlation_id", corrID),
		),
	)
	defer span.End()

	start := d.now()

	resp, c, err := d.roundTrip(ctx, service, method, subj, args, corrID, timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	d.observer.ObserveCall(KindRPC, service+"."+method, d.now().Sub(start), err)

	return resp, c, err
}

func (d *Dispatcher) roundTrip(
	ctx context.Context,
	service, method, subj string,
	args any,
	corrID string,
	timeout time.Duration,
) (*responseEnvelope, cbus.Codec, error) {
	body, err := encodeRequest(d.codec, args, corrID)
	if err != nil {
		return nil, nil, fmt.Errorf("call %s: %w", subj, err)
	}

	msg, err := d.transport.Request(ctx, subj, body, d.headers(ctx, d.codec, corrID), timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}

		if errors.Is(err, berr.ErrRemoteTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, &berr.TimeoutError{Service: service, Method: method, Timeout: timeout}
		}

		return nil, nil, fmt.Errorf("call %s: %w", subj, err)
	}

	c := d.codecFor(msg.Header)

	var resp responseEnvelope
	if err := c.Unmarshal(msg.Data, &resp); err != nil {
		return nil, nil, fmt.Errorf("call %s decode reply: %w", subj, errors.Join(berr.ErrSerializationFailed, err))
	}

	if resp.Error != nil {
		remote := &berr.RemoteError{
			Service:       service,
			Method:        method,
			Message:       *resp.Error,
			CorrelationID: resp.CorrelationID,
		}
		if resp.Traceback != nil {
			remote.Traceback = *resp.Traceback
		}

		return nil, nil, remote
	}

	return &resp, c, nil
}
