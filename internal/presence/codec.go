// Package presence implements the Presence Client Pool (§4.6) and the
// backend RPC surface of §6.4. The wire codec of the RPC channel is
// explicitly out of scope per spec.md §1 ("assumed to be a generated stub
// exposing the methods listed in §6.3") — rather than hand-authoring
// protoc-gen-go boilerplate for a schema this repo doesn't own, we register
// a small JSON codec on the grpc channel and invoke methods directly via
// grpc.ClientConn.Invoke, a supported and idiomatic way to talk to a gRPC
// service without generated stubs.
package presence

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const jsonCodecName = "gateway-json"

// jsonCodec implements encoding.Codec by marshaling with encoding/json for
// plain Go structs, falling back to protojson for proto.Message values so
// the same channel could still interoperate with a real protobuf-schema
// service if one were substituted in.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	if pm, ok := v.(proto.Message); ok {
		return protojson.Marshal(pm)
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if pm, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, pm)
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
