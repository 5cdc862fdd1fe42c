package saga

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// run drives one execution to a terminal state. An orchestration panic compensates
// whatever had completed and marks the saga FAILED.
func (c *Coordinator) run(ctx context.Context, exec *execution) {
	defer c.finish(ctx, exec)
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "saga.panic",
				"saga_id", exec.id,
				"saga_type", exec.sagaType,
				"panic", r,
				"stack", string(debug.Stack()),
			)

			exec.mu.Lock()
			exec.err = fmt.Sprintf("orchestration panic: %v", r)
			exec.mu.Unlock()

			c.compensate(ctx, exec, StateFailed)
		}
	}()

	exec.setState(StateRunning)

	for i := range exec.steps {
		exec.advance(i)

		if err := c.executeStep(ctx, exec, i); err != nil {
			exec.mu.Lock()
			exec.err = err.Error()
			exec.mu.Unlock()

			final := StateCompensated
			if ctx.Err() != nil {
				final = StateFailed
			}

			c.compensate(ctx, exec, final)

			return
		}
	}

	exec.mu.Lock()
	exec.state = StateCompleted
	exec.completedAt = c.now().UTC()
	exec.mu.Unlock()
}

// executeStep attempts step i up to its retry count, sleeping RetryDelay between attempts.
// A timeout counts as one failed attempt.
func (c *Coordinator) executeStep(ctx context.Context, exec *execution, i int) error {
	def := exec.steps[i]
	logger := c.logger.With(
		"saga_id", exec.id,
		"saga_type", exec.sagaType,
		"correlation_id", exec.correlationID,
		"step", def.Name,
	)

	exec.mu.Lock()
	exec.runtime[i].state = StepExecuting
	exec.runtime[i].startedAt = c.now().UTC()
	exec.mu.Unlock()

	var lastErr error

	attempts := 0

	for attempt := 1; attempt <= def.RetryCount; attempt++ {
		exec.mu.Lock()
		exec.runtime[i].attempts = attempt
		exec.mu.Unlock()

		attempts = attempt
		start := c.now()

		result, err := c.caller.CallRPC(ctx, def.Service, def.Action, exec.request(i), def.Timeout)
		c.observer.ObserveStep(exec.sagaType, def.Name, c.now().Sub(start), err)

		if err == nil {
			exec.mu.Lock()
			rt := &exec.runtime[i]
			rt.state = StepCompleted
			rt.result = result
			rt.err = ""
			rt.endedAt = c.now().UTC()
			exec.data[def.Name+"_result"] = result
			exec.mu.Unlock()

			logger.InfoContext(ctx, "saga.step_completed", "attempt", attempt)

			return nil
		}

		lastErr = err
		logger.WarnContext(ctx, "saga.step_attempt_failed", "attempt", attempt, "of", def.RetryCount, "error", err)

		if attempt == def.RetryCount {
			break
		}

		if err := sleep(ctx, def.RetryDelay); err != nil {
			lastErr = err

			break
		}
	}

	exec.mu.Lock()
	rt := &exec.runtime[i]
	rt.state = StepFailed
	rt.err = lastErr.Error()
	rt.endedAt = c.now().UTC()
	exec.mu.Unlock()

	logger.ErrorContext(ctx, "saga.step_failed", "attempts", attempts, "error", lastErr)

	return fmt.Errorf("step %s failed after %d attempt(s): %w: %w", def.Name, attempts, berr.ErrStepFailed, lastErr)
}

// compensate sweeps from current_step down to 0, undoing every COMPLETED step that
// defines a compensation, then moves the saga to final. The sweep ignores cancellation
// of ctx; each compensation call is bounded by its step timeout only.
func (c *Coordinator) compensate(ctx context.Context, exec *execution, final State) {
	ctx = context.WithoutCancel(ctx)

	exec.mu.Lock()
	exec.state = StateCompensating
	from := exec.currentStep
	exec.mu.Unlock()

	c.logger.InfoContext(ctx, "saga.compensating", "saga_id", exec.id, "saga_type", exec.sagaType, "from_step", from)

	for i := from; i >= 0; i-- {
		exec.mu.Lock()
		state := exec.runtime[i].state
		exec.mu.Unlock()

		if state != StepCompleted || exec.steps[i].Compensation == "" {
			continue
		}

		c.compensateStep(ctx, exec, i)
	}

	exec.mu.Lock()
	exec.state = final
	exec.completedAt = c.now().UTC()
	exec.mu.Unlock()
}

// compensateStep issues one compensation call. A failure is logged and recorded on
// the step, which stays COMPENSATING.
func (c *Coordinator) compensateStep(ctx context.Context, exec *execution, i int) {
	def := exec.steps[i]

	exec.mu.Lock()
	exec.runtime[i].state = StepCompensating
	original := exec.runtime[i].result
	exec.mu.Unlock()

	req := CompensationRequest{StepRequest: exec.request(i), OriginalResult: original}

	_, err := c.caller.CallRPC(ctx, def.Service, def.Compensation, req, def.Timeout)
	c.observer.ObserveCompensation(exec.sagaType, def.Name, err)

	exec.mu.Lock()
	defer exec.mu.Unlock()

	if err != nil {
		exec.runtime[i].err = "compensation failed: " + err.Error()

		c.logger.ErrorContext(ctx, "saga.compensation_failed",
			"saga_id", exec.id,
			"saga_type", exec.sagaType,
			"correlation_id", exec.correlationID,
			"step", def.Name,
			"error", err,
		)

		return
	}

	exec.runtime[i].state = StepCompensated
	exec.runtime[i].endedAt = c.now().UTC()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
