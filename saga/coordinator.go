package saga

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/correlation"
)

// Caller issues the RPC calls that execute and compensate steps.
// *servicebus.Dispatcher implements it.
type Caller interface {
	CallRPC(ctx context.Context, service, method string, args any, timeout time.Duration) (any, error)
}

// Observer receives saga outcomes. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveStep(sagaType, step string, elapsed time.Duration, err error)
	ObserveCompensation(sagaType, step string, err error)
	ObserveSaga(sagaType string, state State, elapsed time.Duration)
}

// NopObserver discards observations.
type NopObserver struct{}

func (NopObserver) ObserveStep(string, string, time.Duration, error) {}
func (NopObserver) ObserveCompensation(string, string, error)        {}
func (NopObserver) ObserveSaga(string, State, time.Duration)         {}

// Coordinator defines saga templates and drives their executions.
// It is concurrency-safe; executions of the same saga type never share runtime state.
type Coordinator struct {
	mu sync.RWMutex

	caller      Caller
	logger      *slog.Logger
	definitions map[string][]StepDefinition
	active      map[string]*execution
	journal     Journal
	observer    Observer
	now         func() time.Time
	newID       func() string

	wg     sync.WaitGroup
	base   context.Context //nolint:containedctx
	cancel context.CancelFunc
	closed bool
}

// Option configures a Coordinator instance.
type Option func(*Coordinator)

// WithJournal archives terminal snapshots to j instead of the in-memory journal.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithObserver reports step, compensation and saga outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides saga id generation.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// New constructs a Coordinator issuing step calls through caller.
// A nil logger discards logs.
func New(caller Caller, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	base, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		caller:      caller,
		logger:      logger,
		definitions: make(map[string][]StepDefinition),
		active:      make(map[string]*execution),
		journal:     NewMemoryJournal(0),
		observer:    NopObserver{},
		now:         time.Now,
		newID:       newSagaID,
		base:        base,
		cancel:      cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DefineSaga registers steps under sagaType. Re-registering a type replaces it;
// executions already started keep the template they started with.
func (c *Coordinator) DefineSaga(sagaType string, steps []StepDefinition) error {
	normalized, err := normalize(sagaType, steps)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.definitions[sagaType] = normalized
	c.mu.Unlock()

	c.logger.Info("saga.defined", "saga_type", sagaType, "steps", len(normalized))

	return nil
}

// Definition returns a copy of the steps registered under sagaType.
func (c *Coordinator) Definition(sagaType string) ([]StepDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	steps, ok := c.definitions[sagaType]

	return slices.Clone(steps), ok
}

// Types returns the registered saga types, sorted.
func (c *Coordinator) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Sorted(maps.Keys(c.definitions))
}

// StartSaga creates a PENDING execution of sagaType with a copy of initial as its data,
// schedules it and returns immediately. The correlation ID carried by ctx is reused,
// or a new one is generated. Cancelling ctx does not cancel the execution.
func (c *Coordinator) StartSaga(ctx context.Context, sagaType string, initial map[string]any) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return StartResult{}, fmt.Errorf("start saga %s: %w", sagaType, berr.ErrClosed)
	}

	steps, ok := c.definitions[sagaType]
	if !ok {
		return StartResult{}, fmt.Errorf("start saga %s: %w", sagaType, berr.ErrUnknownSaga)
	}

	ctx, corrID := correlation.GetOrCreate(ctx, "")
	exec := newExecution(c.newID(), corrID, sagaType, steps, maps.Clone(initial), c.now().UTC())
	c.active[exec.id] = exec

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.base, cancel)

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer cancel()
		defer stop()

		c.run(runCtx, exec)
	}()

	c.logger.InfoContext(ctx, "saga.started",
		"saga_id", exec.id,
		"saga_type", sagaType,
		"correlation_id", corrID,
	)

	return StartResult{SagaID: exec.id, CorrelationID: corrID}, nil
}

// GetSagaStatus returns the snapshot of a running execution, or of a finished one
// from the journal. Unknown ids yield ErrSagaNotFound.
func (c *Coordinator) GetSagaStatus(ctx context.Context, sagaID string) (Status, error) {
	c.mu.RLock()
	exec, ok := c.active[sagaID]
	c.mu.RUnlock()

	if ok {
		return exec.snapshot(), nil
	}

	s, err := c.journal.Lookup(ctx, sagaID)
	if err != nil {
		return Status{}, fmt.Errorf("saga status %s: %w", sagaID, err)
	}

	return s, nil
}

// Await blocks until the execution reaches a terminal state or ctx is done.
func (c *Coordinator) Await(ctx context.Context, sagaID string) (Status, error) {
	c.mu.RLock()
	exec, ok := c.active[sagaID]
	c.mu.RUnlock()

	if ok {
		select {
		case <-exec.done:
			return exec.snapshot(), nil
		case <-ctx.Done():
			return exec.snapshot(), ctx.Err()
		}
	}

	return c.GetSagaStatus(ctx, sagaID)
}

// List returns running executions, oldest first, followed by up to limit
// of the most recently finished ones.
func (c *Coordinator) List(ctx context.Context, limit int) ([]Status, error) {
	c.mu.RLock()
	running := make([]*execution, 0, len(c.active))
	for _, exec := range c.active {
		running = append(running, exec)
	}
	c.mu.RUnlock()

	out := make([]Status, 0, len(running))
	for _, exec := range running {
		out = append(out, exec.snapshot())
	}

	slices.SortFunc(out, func(a, b Status) int { return a.CreatedAt.Compare(b.CreatedAt) })

	finished, err := c.journal.Recent(ctx, limit)
	if err != nil {
		return out, fmt.Errorf("list sagas: %w", err)
	}

	for _, s := range finished {
		if !slices.ContainsFunc(out, func(o Status) bool { return o.SagaID == s.SagaID }) {
			out = append(out, s)
		}
	}

	return out, nil
}

// Close stops accepting new sagas and waits for running executions to finish.
// When ctx ends first, running executions are cancelled and Close returns ctx.Err()
// once they have unwound.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()

		return nil
	case <-ctx.Done():
		c.cancel()
		<-done

		return ctx.Err()
	}
}

func (c *Coordinator) finish(ctx context.Context, exec *execution) {
	exec.mu.Lock()
	if exec.completedAt.IsZero() {
		exec.completedAt = c.now().UTC()
	}
	elapsed := exec.completedAt.Sub(exec.createdAt)
	exec.mu.Unlock()

	status := exec.snapshot()

	if err := c.journal.Record(context.WithoutCancel(ctx), status); err != nil {
		c.logger.ErrorContext(ctx, "saga.journal_failed", "saga_id", exec.id, "error", err)
	}

	c.mu.Lock()
	delete(c.active, exec.id)
	c.mu.Unlock()

	close(exec.done)

	c.observer.ObserveSaga(exec.sagaType, status.State, elapsed)
	c.logger.InfoContext(ctx, "saga.finished",
		"saga_id", exec.id,
		"saga_type", exec.sagaType,
		"state", string(status.State),
		"elapsed", elapsed,
	)
}

func normalize(sagaType string, steps []StepDefinition) ([]StepDefinition, error) {
	if sagaType == "" {
		return nil, fmt.Errorf("define saga: empty type: %w", berr.ErrInvalidSaga)
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("define saga %s: no steps: %w", sagaType, berr.ErrInvalidSaga)
	}

	out := make([]StepDefinition, len(steps))
	seen := make(map[string]struct{}, len(steps))

	for i, s := range steps {
		if s.Name == "" || s.Service == "" || s.Action == "" {
			return nil, fmt.Errorf("define saga %s: step %d needs name, service and action: %w", sagaType, i, berr.ErrInvalidSaga)
		}

		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("define saga %s: duplicate step %q: %w", sagaType, s.Name, berr.ErrInvalidSaga)
		}

		if s.RetryCount < 0 || s.Timeout < 0 || s.RetryDelay < 0 {
			return nil, fmt.Errorf("define saga %s: step %q has a negative policy: %w", sagaType, s.Name, berr.ErrInvalidSaga)
		}

		seen[s.Name] = struct{}{}

		s.Timeout = cmp.Or(s.Timeout, DefaultStepTimeout)
		s.RetryCount = cmp.Or(s.RetryCount, DefaultRetryCount)
		s.RetryDelay = cmp.Or(s.RetryDelay, DefaultRetryDelay)
		out[i] = s
	}

	return out, nil
}

func newSagaID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
