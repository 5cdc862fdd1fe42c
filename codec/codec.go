/*
Package codec provides the envelope codecs understood by the dispatcher.

JSON is the default wire format. CBOR (deterministic encoding) is available for
fleets that prefer a compact binary form; requests carry their content type so a
server always answers in the codec the caller used.
*/
package codec

import (
	"fmt"
	"strings"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// ContentTypeHeader names the header carrying the envelope content type.
const ContentTypeHeader = "content-type"

var known = []cbus.Codec{JSON{}, CBOR{}}

// Default returns the JSON codec.
func Default() cbus.Codec { return JSON{} } //nolint:ireturn

// ByName resolves a codec by its short name ("json", "cbor").
func ByName(name string) (cbus.Codec, error) { //nolint:ireturn
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Default(), nil
	}

	for _, c := range known {
		if c.Name() == name {
			return c, nil
		}
	}

	return nil, fmt.Errorf("codec %q: %w", name, berr.ErrSerializationFailed)
}

// ForContentType resolves a codec by content type, returning fallback when the
// content type is empty or unknown.
func ForContentType(contentType string, fallback cbus.Codec) cbus.Codec { //nolint:ireturn
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	for _, c := range known {
		if c.ContentType() == ct {
			return c
		}
	}

	return fallback
}

// Convert re-encodes src into dst through c. It turns loosely typed decoded values
// (maps, slices) into typed Go values and vice versa.
func Convert(c cbus.Codec, src, dst any) error {
	b, err := c.Marshal(src)
	if err != nil {
		return fmt.Errorf("convert encode: %w", err)
	}

	if err := c.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("convert decode: %w", err)
	}

	return nil
}
