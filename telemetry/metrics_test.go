package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/saga"
	"github.com/next-trace/scg-service-runtime/servicebus"
)

// counterValue sums the counter family name over series carrying every label in want.
func counterValue(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var total float64

	for _, f := range families {
		if f.GetName() != name {
			continue
		}

		for _, metric := range f.GetMetric() {
			if matches(metric, want) {
				total += metric.GetCounter().GetValue()
			}
		}
	}

	return total
}

func matches(metric *dto.Metric, want map[string]string) bool {
	found := 0

	for _, lp := range metric.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}

	return found == len(want)
}

func TestMetrics_DispatcherOutcomes(t *testing.T) {
	m := NewMetrics()

	m.ObserveHandled(servicebus.KindRPC, "add", time.Millisecond, nil)
	m.ObserveHandled(servicebus.KindRPC, "add", time.Millisecond, errors.New("boom"))
	m.ObserveCall(servicebus.KindRPC, "calc.add", time.Second, &berr.TimeoutError{Service: "calc", Method: "add"})

	if v := counterValue(t, m, "scg_messages_handled_total", map[string]string{"method": "add", "outcome": "ok"}); v != 1 {
		t.Fatalf("ok=%v", v)
	}

	if v := counterValue(t, m, "scg_messages_handled_total", map[string]string{"method": "add", "outcome": "error"}); v != 1 {
		t.Fatalf("error=%v", v)
	}

	if v := counterValue(t, m, "scg_calls_total", map[string]string{"target": "calc.add", "outcome": "timeout"}); v != 1 {
		t.Fatalf("timeout=%v", v)
	}
}

func TestMetrics_SagaOutcomes(t *testing.T) {
	m := NewMetrics()

	m.ObserveStep("transfer", "debit", time.Millisecond, nil)
	m.ObserveStep("transfer", "credit", time.Millisecond, fmt.Errorf("wrap: %w", berr.ErrRemote))
	m.ObserveCompensation("transfer", "debit", nil)
	m.ObserveSaga("transfer", saga.StateCompensated, time.Second)

	if v := counterValue(t, m, "scg_saga_step_attempts_total", map[string]string{"step": "credit", "outcome": "error"}); v != 1 {
		t.Fatalf("step=%v", v)
	}

	if v := counterValue(t, m, "scg_saga_compensations_total", map[string]string{"step": "debit"}); v != 1 {
		t.Fatalf("compensations=%v", v)
	}

	if v := counterValue(t, m, "scg_sagas_finished_total", map[string]string{"state": "COMPENSATED"}); v != 1 {
		t.Fatalf("sagas=%v", v)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveSaga("transfer", saga.StateCompleted, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `scg_sagas_finished_total{saga_type="transfer",state="COMPLETED"} 1`) {
		t.Fatalf("exposition: %d %s", rec.Code, rec.Body.String())
	}
}
