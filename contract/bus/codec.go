package bus

// Codec serializes envelopes for the wire.
// Implementations must be safe for concurrent use.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
