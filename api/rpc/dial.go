package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a plaintext grpc.ClientConn to addr configured to use the
// JSON codec for every call. Agents run on a trusted internal network
// (spec.md carries no transport-security requirement), matching the
// Rust prototype's plaintext tonic channel.
func Dial(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(CallOption()),
	)
}

// NewServer builds a *grpc.Server that dispatches the Agent service
// through the JSON codec.
func NewServer() *grpc.Server {
	return grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
}
