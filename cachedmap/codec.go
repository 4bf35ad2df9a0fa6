package cachedmap

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec controls how outputs are encoded into the store. The cache itself
// treats the encoded bytes as opaque; inputs are always keyed by their JSON
// serialization regardless of the output codec.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default output encoding.
var JSONCodec Codec = jsonCodec{}

// MsgpackCodec trades readability of the cache file for compact binary
// entries. Useful for bulky outputs like fetched feed content.
var MsgpackCodec Codec = msgpackCodec{}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
