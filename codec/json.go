package codec

import (
	"bytes"
	"encoding/json"
)

// JSON encodes envelopes with encoding/json. Numbers decoded into `any` become float64.
type JSON struct{}

func (JSON) Name() string        { return "json" }
func (JSON) ContentType() string { return "application/json" }

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	}

	return json.Unmarshal(data, v)
}
