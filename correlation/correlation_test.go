package correlation

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
)

var generatedPattern = regexp.MustCompile(`^corr_[0-9a-f]{16}$`)

func TestNormalize(t *testing.T) {
	valid := "abc-123"
	if got, ok := Normalize(valid); !ok || got != valid {
		t.Fatalf("expected %q to normalize, got %q ok=%v", valid, got, ok)
	}
	trimmed := "  xyz  "
	if got, ok := Normalize(trimmed); !ok || got != "xyz" {
		t.Fatalf("expected trimmed normalize to xyz, got %q ok=%v", got, ok)
	}
	if _, ok := Normalize(""); ok {
		t.Fatal("empty id should be invalid")
	}
	if _, ok := Normalize(strings.Repeat("a", MaxIDLength+1)); ok {
		t.Fatal("overlong id should be invalid")
	}
	if _, ok := Normalize("bad\x01suffix"); ok {
		t.Fatal("non-printable should be invalid")
	}
}

func TestWithAndClear(t *testing.T) {
	ctx := context.Background()
	if Has(ctx) {
		t.Fatalf("expected empty context to have no correlation id")
	}
	ctx = With(ctx, "foo")
	if got := ID(ctx); got != "foo" {
		t.Fatalf("expected foo, got %q", got)
	}
	ctx = With(ctx, "bar")
	if got := ID(ctx); got != "bar" {
		t.Fatalf("expected bar after replace, got %q", got)
	}
	ctx = Clear(ctx)
	if Has(ctx) {
		t.Fatalf("expected cleared context, got %q", ID(ctx))
	}
	var nilCtx context.Context
	if ID(nilCtx) != "" {
		t.Fatalf("nil context should carry nothing")
	}
}

func TestGetOrCreate(t *testing.T) {
	ctx, id := GetOrCreate(context.Background(), "given")
	if id != "given" || ID(ctx) != "given" {
		t.Fatalf("explicit id: got %q ctx=%q", id, ID(ctx))
	}

	existing := With(context.Background(), "existing")
	ctx, id = GetOrCreate(existing, "")
	if id != "existing" || ctx != existing {
		t.Fatalf("existing id should be reused unchanged, got %q", id)
	}

	ctx, id = GetOrCreate(context.Background(), "")
	if !generatedPattern.MatchString(id) {
		t.Fatalf("generated id %q does not match %s", id, generatedPattern)
	}
	if ID(ctx) != id {
		t.Fatalf("generated id should be installed, got %q", ID(ctx))
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if !generatedPattern.MatchString(id) {
			t.Fatalf("bad id %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGenerateUsesEveryHexDigit(t *testing.T) {
	var varied [16]bool

	first := Generate()[len(Prefix):]
	for i := 0; i < 200; i++ {
		id := Generate()[len(Prefix):]
		for j := range id {
			if id[j] != first[j] {
				varied[j] = true
			}
		}
	}

	for j, ok := range varied {
		if !ok {
			t.Fatalf("hex digit %d is fixed across generated ids", j)
		}
	}
}

func TestConcurrentScopesDoNotLeak(t *testing.T) {
	base := context.Background()

	var wg sync.WaitGroup
	errs := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, id := GetOrCreate(base, "")
			for j := 0; j < 50; j++ {
				if got := ID(ctx); got != id {
					errs <- got
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for got := range errs {
		t.Fatalf("observed foreign id %q", got)
	}
	if Has(base) {
		t.Fatalf("base context must stay clean")
	}
}

func TestExtractFromHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
		ok      bool
	}{
		{"canonical", map[string]string{"X-Correlation-ID": "c1"}, "c1", true},
		{"lowercase request id", map[string]string{"x-request-id": "r1"}, "r1", true},
		{"trace id upper", map[string]string{"X-TRACE-ID": "t1"}, "t1", true},
		{"underscore", map[string]string{"x_correlation_id": "u1"}, "u1", true},
		{"no prefix", map[string]string{"Correlation-Id": "p1"}, "p1", true},
		{"priority", map[string]string{"x-trace-id": "t", "x-correlation-id": "c"}, "c", true},
		{"invalid skipped", map[string]string{"x-correlation-id": " ", "x-request-id": "r"}, "r", true},
		{"absent", map[string]string{"content-type": "application/json"}, "", false},
		{"nil", nil, "", false},
	}

	for _, tc := range tests {
		got, ok := ExtractFromHeaders(tc.headers)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: got %q ok=%v, want %q ok=%v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestInjectIntoHeaders(t *testing.T) {
	h := InjectIntoHeaders(With(context.Background(), "ctx-id"), nil, "")
	if h[Header] != "ctx-id" {
		t.Fatalf("expected ctx id injected, got %+v", h)
	}

	h = InjectIntoHeaders(context.Background(), map[string]string{"x-correlation-id": "old", "k": "v"}, "explicit")
	if h[Header] != "explicit" || h["k"] != "v" {
		t.Fatalf("explicit inject: %+v", h)
	}
	if _, stale := h["x-correlation-id"]; stale {
		t.Fatalf("stale differently-cased header should be replaced: %+v", h)
	}

	h = InjectIntoHeaders(context.Background(), nil, "")
	if len(h) != 0 {
		t.Fatalf("nothing to inject, got %+v", h)
	}
}
