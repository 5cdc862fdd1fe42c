package servicebus

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/next-trace/scg-service-runtime/codec"
	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

const envelopeCorrelationID = "correlation_id"

// timestampLayout renders envelope timestamps (ISO-8601, UTC).
const timestampLayout = time.RFC3339Nano

type successEnvelope struct {
	Result        any    `cbor:"result"         json:"result"`
	Timestamp     string `cbor:"timestamp"      json:"timestamp"`
	CorrelationID string `cbor:"correlation_id" json:"correlation_id"`
}

type errorEnvelope struct {
	Error         string  `cbor:"error"          json:"error"`
	Traceback     *string `cbor:"traceback"      json:"traceback"`
	Timestamp     string  `cbor:"timestamp"      json:"timestamp"`
	CorrelationID string  `cbor:"correlation_id" json:"correlation_id"`
}

// responseEnvelope decodes either reply shape. A non-nil Error marks a failure.
type responseEnvelope struct {
	Result        any     `cbor:"result"         json:"result"`
	Error         *string `cbor:"error"          json:"error"`
	Traceback     *string `cbor:"traceback"      json:"traceback"`
	Timestamp     string  `cbor:"timestamp"      json:"timestamp"`
	CorrelationID string  `cbor:"correlation_id" json:"correlation_id"`
}

// correlationProbe reads only the correlation field of a request envelope.
type correlationProbe struct {
	CorrelationID any `cbor:"correlation_id" json:"correlation_id"`
}

// encodeRequest flattens args into an object and stamps the correlation ID on it.
func encodeRequest(c cbus.Codec, args any, correlationID string) ([]byte, error) {
	fields, err := toFields(c, args)
	if err != nil {
		return nil, err
	}

	fields[envelopeCorrelationID] = correlationID

	b, err := c.Marshal(fields)
	if err != nil {
		return nil, errors.Join(berr.ErrSerializationFailed, err)
	}

	return b, nil
}

func toFields(c cbus.Codec, args any) (map[string]any, error) {
	switch v := args.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(v)+1)
		maps.Copy(out, v)

		return out, nil
	default:
		var out map[string]any
		if err := codec.Convert(c, v, &out); err != nil {
			return nil, fmt.Errorf("arguments must encode to an object: %w", errors.Join(berr.ErrSerializationFailed, err))
		}

		if out == nil {
			out = map[string]any{}
		}

		return out, nil
	}
}

func (d *Dispatcher) success(result any, correlationID string) successEnvelope {
	return successEnvelope{
		Result:        result,
		Timestamp:     d.timestamp(),
		CorrelationID: correlationID,
	}
}

func (d *Dispatcher) failure(msg, traceback, correlationID string) errorEnvelope {
	env := errorEnvelope{
		Error:         msg,
		Timestamp:     d.timestamp(),
		CorrelationID: correlationID,
	}

	if traceback != "" {
		env.Traceback = &traceback
	}

	return env
}

func (d *Dispatcher) timestamp() string {
	return d.now().UTC().Format(timestampLayout)
}

// codecFor returns the codec named by the message content type, falling back to the
// dispatcher codec.
func (d *Dispatcher) codecFor(header map[string]string) cbus.Codec { //nolint:ireturn
	return codec.ForContentType(headerValue(header, codec.ContentTypeHeader), d.codec)
}

func headerValue(header map[string]string, name string) string {
	if v, ok := header[name]; ok {
		return v
	}

	for k, v := range header {
		if strings.EqualFold(k, name) {
			return v
		}
	}

	return ""
}

func probeCorrelationID(c cbus.Codec, body []byte) string {
	var p correlationProbe
	if err := c.Unmarshal(body, &p); err != nil {
		return ""
	}

	s, _ := p.CorrelationID.(string)

	return s
}
