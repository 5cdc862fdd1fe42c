package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding: the same logical envelope always
// produces identical bytes.
var encMode cbor.EncMode

// decMode decodes maps held in `any` as map[string]any so CBOR envelopes look
// the same to handlers as JSON ones.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR encodes envelopes as deterministic CBOR. Struct fields fall back to their
// json tags, so envelope types need no extra annotations.
type CBOR struct{}

func (CBOR) Name() string        { return "cbor" }
func (CBOR) ContentType() string { return "application/cbor" }

func (CBOR) Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func (CBOR) Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }
