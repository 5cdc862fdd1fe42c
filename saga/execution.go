package saga

import (
	"maps"
	"sync"
	"time"
)

// stepRuntime holds the mutable state of one step in one execution. Runtimes are
// allocated per execution and indexed like the definition slice.
type stepRuntime struct {
	state     StepState
	result    any
	err       string
	attempts  int
	startedAt time.Time
	endedAt   time.Time
}

type execution struct {
	mu sync.Mutex

	id            string
	correlationID string
	sagaType      string

	steps   []StepDefinition // shared template, never written
	runtime []stepRuntime

	state       State
	currentStep int
	data        map[string]any
	createdAt   time.Time
	completedAt time.Time
	err         string

	done chan struct{}
}

func newExecution(id, correlationID, sagaType string, steps []StepDefinition, data map[string]any, now time.Time) *execution {
	runtime := make([]stepRuntime, len(steps))
	for i := range runtime {
		runtime[i].state = StepPending
	}

	if data == nil {
		data = map[string]any{}
	}

	return &execution{
		id:            id,
		correlationID: correlationID,
		sagaType:      sagaType,
		steps:         steps,
		runtime:       runtime,
		state:         StatePending,
		data:          data,
		createdAt:     now,
		done:          make(chan struct{}),
	}
}

func (e *execution) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// advance moves current_step forward; it never decreases.
func (e *execution) advance(i int) {
	e.mu.Lock()
	if i > e.currentStep {
		e.currentStep = i
	}
	e.mu.Unlock()
}

func (e *execution) request(i int) StepRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	return StepRequest{
		SagaID:        e.id,
		CorrelationID: e.correlationID,
		Step:          e.steps[i].Name,
		Data:          maps.Clone(e.data),
	}
}

func (e *execution) snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		SagaID:        e.id,
		CorrelationID: e.correlationID,
		SagaType:      e.sagaType,
		State:         e.state,
		CurrentStep:   e.currentStep,
		Data:          maps.Clone(e.data),
		CreatedAt:     e.createdAt,
		Steps:         make([]StepStatus, len(e.steps)),
	}

	if !e.completedAt.IsZero() {
		t := e.completedAt
		s.CompletedAt = &t
	}

	if e.err != "" {
		msg := e.err
		s.Error = &msg
	}

	for i, def := range e.steps {
		rt := e.runtime[i]
		st := StepStatus{
			Name:     def.Name,
			Service:  def.Service,
			Action:   def.Action,
			State:    rt.state,
			Result:   rt.result,
			Attempts: rt.attempts,
		}

		if def.Compensation != "" {
			comp := def.Compensation
			st.Compensation = &comp
		}

		if rt.err != "" {
			msg := rt.err
			st.Error = &msg
		}

		s.Steps[i] = st
	}

	return s
}
