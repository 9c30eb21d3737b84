package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the grpc content-subtype this codec registers under.
// Clients and servers must both dial/serve with
// grpc.CallContentSubtype(codecName) or grpc.ForceServerCodec to agree
// on it; see Dial/NewServer in dial.go.
const codecName = "json"

// jsonCodec implements encoding.Codec by delegating to encoding/json.
// grpc-go ships only a protobuf codec by default; registering a named
// codec is the supported extension point for non-protobuf payloads.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
