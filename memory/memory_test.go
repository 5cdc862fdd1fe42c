package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/correlation"
)

func TestMesh_BasicFlow(t *testing.T) {
	m, cleanup := New(nil)
	defer cleanup()

	calc := m.Service("calc")
	if m.Service("calc") != calc {
		t.Fatalf("Service must return the existing dispatcher")
	}

	if err := calc.RegisterRPC("add", func(_ context.Context, args map[string]any) (any, error) {
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)

		return a + b, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	got := make(chan string, 1)

	audit := m.Service("audit")
	if err := audit.RegisterEvent("calc.*", func(ctx context.Context, subj string, _ map[string]any) error {
		got <- subj + "|" + correlation.ID(ctx)

		return nil
	}); err != nil {
		t.Fatalf("register event: %v", err)
	}

	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client := m.Service("client")

	ctx := correlation.With(t.Context(), "corr_mesh")

	res, err := client.CallRPC(ctx, "calc", "add", map[string]any{"a": 2, "b": 3}, time.Second)
	if err != nil || res != float64(5) {
		t.Fatalf("call: %v %v", res, err)
	}

	if err := client.PublishEvent(ctx, "calc.added", map[string]any{"sum": 5}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case v := <-got:
		if v != "calc.added|corr_mesh" {
			t.Fatalf("event: %s", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestMesh_CloseStopsServices(t *testing.T) {
	m, _ := New(nil)

	_ = m.Service("calc").RegisterRPC("noop", func(context.Context, map[string]any) (any, error) { return nil, nil })

	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := m.Service("late").CallRPC(t.Context(), "calc", "noop", nil, 100*time.Millisecond)
	if err == nil || errors.Is(err, berr.ErrRemote) {
		t.Fatalf("expected transport failure after close, got %v", err)
	}
}
