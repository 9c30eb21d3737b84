// Package rpc defines the Agent gRPC service contract: Deploy, DoAction,
// and GetPorts (spec.md §6). Because protoc is not available, wire
// messages are plain Go structs carried by a JSON grpc codec (see
// codec.go) instead of protobuf-generated types.
package rpc

import "github.com/haste-cluster/haste/pkg/htypes"

// CacheInfo is the per-host Deploy payload.
type CacheInfo struct {
	CacheType  htypes.CacheType         `json:"cache_type"`
	Version    string                   `json:"version"`
	FileServer string                   `json:"file_server"`
	Instances  []htypes.InstanceBundle  `json:"instances"`
}

// CacheInfoFromHTypes converts the planner/driver's htypes.CacheInfo
// into the wire message.
func CacheInfoFromHTypes(c htypes.CacheInfo) *CacheInfo {
	return &CacheInfo{
		CacheType:  c.CacheType,
		Version:    c.Version,
		FileServer: c.FileServer,
		Instances:  c.Instances,
	}
}

// ToHTypes converts a wire CacheInfo back into the domain type, used
// agent-side to hand the Deploy payload to pkg/deployer.
func (c *CacheInfo) ToHTypes() htypes.CacheInfo {
	return htypes.CacheInfo{
		CacheType:  c.CacheType,
		Version:    c.Version,
		FileServer: c.FileServer,
		Instances:  c.Instances,
	}
}

// CacheState is the agent's response to Deploy and DoAction: one entry
// per instance port the request touched.
type CacheState struct {
	Instances []InstanceState `json:"instances"`
}

// InstanceState reports one instance's outcome.
type InstanceState struct {
	Port    int    `json:"port"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// ActionKind enumerates DoAction's operations.
type ActionKind string

const (
	ActionSetup   ActionKind = "setup"
	ActionRemove  ActionKind = "remove"
	ActionStart   ActionKind = "start"
	ActionStop    ActionKind = "stop"
	ActionRestart ActionKind = "restart"
)

// Action is the DoAction request.
type Action struct {
	Kind ActionKind `json:"kind"`
	Port int        `json:"port"`
}

// PortAcquire is the GetPorts request: how many free ports the caller
// wants reported back.
type PortAcquire struct {
	Count int `json:"count"`
}

// Ports is the GetPorts response.
type Ports struct {
	Ports []int `json:"ports"`
}
