package saga

import (
	"time"
)

const (
	DefaultStepTimeout = 30 * time.Second
	DefaultRetryCount  = 3
	DefaultRetryDelay  = time.Second
)

// State is the overall state of a saga execution.
type State string

const (
	StatePending      State = "PENDING"
	StateRunning      State = "RUNNING"
	StateCompensating State = "COMPENSATING"
	StateCompensated  State = "COMPENSATED"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
)

// Terminal reports whether s is one of COMPLETED, COMPENSATED or FAILED.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCompensated || s == StateFailed
}

// StepState is the state of one step within one execution.
type StepState string

const (
	StepPending      StepState = "PENDING"
	StepExecuting    StepState = "EXECUTING"
	StepCompleted    StepState = "COMPLETED"
	StepFailed       StepState = "FAILED"
	StepCompensating StepState = "COMPENSATING"
	StepCompensated  StepState = "COMPENSATED"
)

// StepDefinition is an immutable step template. RetryCount is the total number of
// attempts; zero values take the package defaults.
type StepDefinition struct {
	Name         string        `json:"name"                   yaml:"name"`
	Service      string        `json:"service"                yaml:"service"`
	Action       string        `json:"action"                 yaml:"action"`
	Compensation string        `json:"compensation,omitempty" yaml:"compensation"`
	Timeout      time.Duration `json:"timeout"                yaml:"timeout"`
	RetryCount   int           `json:"retry_count"            yaml:"retry_count"`
	RetryDelay   time.Duration `json:"retry_delay"            yaml:"retry_delay"`
}

// StartResult identifies a started execution.
type StartResult struct {
	SagaID        string `json:"saga_id"`
	CorrelationID string `json:"correlation_id"`
}

// StepRequest is the payload sent to a step action.
type StepRequest struct {
	SagaID        string         `json:"saga_id"`
	CorrelationID string         `json:"correlation_id"`
	Step          string         `json:"step"`
	Data          map[string]any `json:"data"`
}

// CompensationRequest is the payload sent to a compensation action.
type CompensationRequest struct {
	StepRequest

	OriginalResult any `json:"original_result"`
}

// Status is a point-in-time snapshot of an execution.
type Status struct {
	SagaID        string         `json:"saga_id"`
	CorrelationID string         `json:"correlation_id"`
	SagaType      string         `json:"saga_type"`
	State         State          `json:"state"`
	CurrentStep   int            `json:"current_step"`
	Data          map[string]any `json:"data"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at"`
	Error         *string        `json:"error"`
	Steps         []StepStatus   `json:"steps"`
}

// StepStatus is the snapshot of one step runtime.
type StepStatus struct {
	Name         string    `json:"name"`
	Service      string    `json:"service"`
	Action       string    `json:"action"`
	Compensation *string   `json:"compensation"`
	State        StepState `json:"state"`
	Result       any       `json:"result"`
	Error        *string   `json:"error"`
	Attempts     int       `json:"attempts"`
}

// Step returns the status of the named step.
func (s Status) Step(name string) (StepStatus, bool) {
	for _, st := range s.Steps {
		if st.Name == name {
			return st, true
		}
	}

	return StepStatus{}, false
}
