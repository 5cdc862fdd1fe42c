package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-service-runtime/codec"
	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/subject"
)

// DefaultCallTimeout bounds outbound RPC calls issued without an explicit timeout.
const DefaultCallTimeout = 30 * time.Second

const tracerName = "github.com/next-trace/scg-service-runtime/servicebus"

// Dispatcher routes inbound messages of one named service to its registered handlers
// and issues outbound calls on behalf of that service.
//
// Handlers are registered explicitly before Start; event patterns registered after
// Start are subscribed immediately. Dispatcher is concurrency-safe and contains no global state.
type Dispatcher struct {
	mu sync.RWMutex

	service  string
	instance string

	rpc      map[string]HandlerFunc
	events   map[string][]HandlerFunc
	patterns []string // registration order

	// global middleware executed in registration order
	mw []Middleware

	transport   cbus.Transport
	codec       cbus.Codec
	sinks       []cbus.EventSink
	propagator  cbus.HeaderPropagator
	observer    Observer
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	callTimeout time.Duration

	subs      []cbus.Subscription
	eventSubs map[string]cbus.Subscription
	started   bool
	closed    bool
}

// Option configures a Dispatcher instance.
type Option func(*Dispatcher)

// WithMiddleware registers global middleware wrapping every inbound handler.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *Dispatcher) { d.mw = append(d.mw, mw...) }
}

// WithCodec selects the codec used for outbound envelopes. Inbound messages are
// decoded with the codec named by their content-type header.
func WithCodec(c cbus.Codec) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.codec = c
		}
	}
}

// WithEventSink mirrors every published event to sink after the transport publish.
func WithEventSink(sink cbus.EventSink) Option {
	return func(d *Dispatcher) {
		if sink != nil {
			d.sinks = append(d.sinks, sink)
		}
	}
}

// WithPropagator injects and extracts trace context on message headers.
func WithPropagator(p cbus.HeaderPropagator) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.propagator = p
		}
	}
}

// WithObserver reports handled messages and outbound calls to o.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithCallTimeout sets the timeout used by calls that pass a non-positive timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.callTimeout = timeout
		}
	}
}

// WithClock overrides the clock used for envelope timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a Dispatcher for service over transport.
// A nil logger discards logs.
func New(service string, transport cbus.Transport, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Dispatcher{
		service:     service,
		instance:    xid.New().String(),
		rpc:         make(map[string]HandlerFunc),
		events:      make(map[string][]HandlerFunc),
		transport:   transport,
		codec:       codec.Default(),
		propagator:  cbus.NopHeaderPropagator{},
		observer:    NopObserver{},
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
		callTimeout: DefaultCallTimeout,
		eventSubs:   make(map[string]cbus.Subscription),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.logger = logger.With("service", service, "instance", d.instance)

	return d
}

// Service returns the service name the dispatcher serves.
func (d *Dispatcher) Service() string { return d.service }

// Logger returns the dispatcher logger, already scoped to the service.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Methods returns the registered RPC method names, sorted.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.rpc))
	for name := range d.rpc {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Patterns returns the registered event patterns in registration order.
func (d *Dispatcher) Patterns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return slices.Clone(d.patterns)
}

// RegisterRPC registers fn as the handler of method. The handler receives the request
// keyword arguments; its result must be serializable by the reply codec.
// The same handler serves synchronous and fire-and-forget requests.
func (d *Dispatcher) RegisterRPC(method string, fn func(ctx context.Context, args map[string]any) (any, error)) error {
	return d.Handle(method, func(ctx context.Context, inv *Invocation) (any, error) {
		args, err := inv.Args()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method, errors.Join(berr.ErrSerializationFailed, err))
		}

		return fn(ctx, args)
	})
}

// RegisterEvent registers fn for every event whose subject matches pattern.
// Multiple handlers may share a pattern; each runs independently.
func (d *Dispatcher) RegisterEvent(pattern string, fn func(ctx context.Context, subj string, args map[string]any) error) error {
	return d.HandleEvents(pattern, func(ctx context.Context, inv *Invocation) (any, error) {
		args, err := inv.Args()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pattern, errors.Join(berr.ErrSerializationFailed, err))
		}

		return nil, fn(ctx, inv.Subject, args)
	})
}

// Handle registers a raw handler for method. Duplicate registrations are rejected.
func (d *Dispatcher) Handle(method string, h HandlerFunc) error {
	if err := validateMethod(method); err != nil {
		return fmt.Errorf("register rpc %s: %w", method, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.rpc[method]; exists {
		return fmt.Errorf("register rpc %s.%s: %w", d.service, method, berr.ErrHandlerExists)
	}

	d.rpc[method] = h

	return nil
}

// HandleEvents registers a raw event handler for pattern.
func (d *Dispatcher) HandleEvents(pattern string, h HandlerFunc) error {
	if err := subject.ValidatePattern(pattern); err != nil {
		return fmt.Errorf("register event %s: %w", pattern, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("register event %s: %w", pattern, berr.ErrClosed)
	}

	if d.started {
		if err := d.subscribeEventLocked(pattern); err != nil {
			return fmt.Errorf("register event %s: %w", pattern, err)
		}
	}

	if _, known := d.events[pattern]; !known {
		d.patterns = append(d.patterns, pattern)
	}

	d.events[pattern] = append(d.events[pattern], h)

	return nil
}

// Start subscribes the dispatcher to its RPC and async wildcard subjects and to every
// registered event pattern. Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("start %s: %w", d.service, berr.ErrClosed)
	}

	if d.started {
		return nil
	}

	if d.transport == nil {
		return fmt.Errorf("start %s: %w", d.service, berr.ErrTransportNotConfigured)
	}

	rpcSub, err := d.transport.Subscribe(subject.RPCPattern(d.service), d.HandleRPCRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject.RPCPattern(d.service), err)
	}

	d.subs = append(d.subs, rpcSub)

	asyncSub, err := d.transport.Subscribe(subject.AsyncPattern(d.service), d.HandleAsyncRequest)
	if err != nil {
		return errors.Join(fmt.Errorf("subscribe %s: %w", subject.AsyncPattern(d.service), err), d.unsubscribeLocked())
	}

	d.subs = append(d.subs, asyncSub)

	for _, pattern := range d.patterns {
		if err := d.subscribeEventLocked(pattern); err != nil {
			return errors.Join(err, d.unsubscribeLocked())
		}
	}

	d.started = true

	d.logger.InfoContext(ctx, "dispatcher.started",
		"rpc_methods", len(d.rpc),
		"event_patterns", len(d.patterns),
		"codec", d.codec.Name(),
	)

	return nil
}

// Close unsubscribes every subscription. The transport is owned by the caller and stays open.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true
	d.started = false

	return d.unsubscribeLocked()
}

func (d *Dispatcher) subscribeEventLocked(pattern string) error {
	if _, ok := d.eventSubs[pattern]; ok {
		return nil
	}

	sub, err := d.transport.Subscribe(pattern, func(ctx context.Context, msg *cbus.Msg) {
		d.deliverEvent(ctx, msg, []string{pattern})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	d.eventSubs[pattern] = sub

	return nil
}

func (d *Dispatcher) unsubscribeLocked() error {
	var errs []error

	for _, s := range d.subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}

	for pattern, s := range d.eventSubs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", pattern, err))
		}
	}

	d.subs = nil
	d.eventSubs = make(map[string]cbus.Subscription)

	return errors.Join(errs...)
}

func (d *Dispatcher) lookupRPC(method string) (HandlerFunc, []Middleware, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.rpc[method]

	return h, d.mw, ok
}

func (d *Dispatcher) lookupEvents(patterns []string) ([]eventTarget, []Middleware) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []eventTarget

	for _, p := range patterns {
		for _, h := range d.events[p] {
			out = append(out, eventTarget{pattern: p, handler: h})
		}
	}

	return out, d.mw
}

func (d *Dispatcher) matchingPatterns(subj string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string

	for _, p := range d.patterns {
		if subject.Match(p, subj) {
			out = append(out, p)
		}
	}

	return out
}

type eventTarget struct {
	pattern string
	handler HandlerFunc
}

func validateMethod(method string) error {
	if method == "" || strings.ContainsAny(method, ". \t\r\n*>") {
		return berr.ErrInvalidSubject
	}

	return nil
}
