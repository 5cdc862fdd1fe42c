// Package correlation carries the correlation identifier of one logical request
// through a context.Context.
//
// The context is the only carrier: there is no goroutine-local or process-global
// state, so two requests served concurrently never observe each other's identifier.
// Every inbound unit of work (RPC request, event delivery, HTTP request) derives its
// own context from a base that carries no identifier and installs the inbound one.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// Prefix starts every generated identifier.
const Prefix = "corr_"

// MaxIDLength defines the maximum number of characters accepted for external identifiers.
const MaxIDLength = 128

type contextKey struct{}

// ID retrieves the correlation ID stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

// Has reports whether ctx carries a correlation ID.
func Has(ctx context.Context) bool {
	return ID(ctx) != ""
}

// With returns a context carrying id. An empty id yields a context without one.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// Clear returns a context that no longer carries a correlation ID.
func Clear(ctx context.Context) context.Context {
	if !Has(ctx) {
		return ctx
	}
	return With(ctx, "")
}

// GetOrCreate resolves the identifier for ctx: id when non-empty, otherwise the one
// already carried by ctx, otherwise a freshly generated one. The returned context
// carries the resolved identifier.
func GetOrCreate(ctx context.Context, id string) (context.Context, string) {
	if id == "" {
		id = ID(ctx)
	}
	if id == "" {
		id = Generate()
	}
	if ID(ctx) == id {
		return ctx, id
	}
	return With(ctx, id), id
}

// Generate produces a new identifier of the form corr_ followed by 16 lowercase hex digits.
func Generate() string {
	var b [8]byte
	_, _ = rand.Read(b[:])

	return Prefix + hex.EncodeToString(b[:])
}

// Normalize validates and canonicalizes an external correlation identifier.
// It returns the normalized ID and true if the input is acceptable.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	if len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}
