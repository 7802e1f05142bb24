package rpcpb

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with grpc's encoding package and selected via
// grpc.CallContentSubtype/grpc.ForceServerCodec so every RPC in this module
// uses it instead of the default proto codec.
const CodecName = "gob"

// gobCodec implements encoding.Codec (Marshal/Unmarshal/Name) over
// encoding/gob. It exists because protoc is unavailable here; gob still
// gives every message type a stable, self-describing wire encoding and
// keeps the actual RPC plumbing (ServiceDesc, streaming, interceptors)
// indistinguishable from a protobuf-backed service.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
