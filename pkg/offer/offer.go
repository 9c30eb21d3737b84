// Package offer implements the C1 offer source spec.md §4.1 takes as
// a planner input: a function from the known host set to a current
// resource snapshot.
package offer

import (
	"context"

	"github.com/haste-cluster/haste/pkg/herrors"
	"github.com/haste-cluster/haste/pkg/htypes"
)

// Source produces the current resource offers for a planning call.
// Grounded on original_source/haste-core/src/offer.rs's fetch_offer,
// which the Rust prototype left unimplemented.
type Source interface {
	Offers(ctx context.Context) ([]htypes.Offer, error)
}

// Static is a fixed-list Source, useful for tests and for operators who
// maintain the offer list by hand in config.
type Static []htypes.Offer

func (s Static) Offers(ctx context.Context) ([]htypes.Offer, error) {
	return []htypes.Offer(s), nil
}

// agentPortSource is the ports portion of an agent stub needed to
// build an offer: GetPorts(ctx, count) → free ports. It is an alias of
// the interface literal, so callers outside this package can pass a
// dial func whose result type spells out the same method set.
type agentPortSource = interface {
	GetPorts(ctx context.Context, count int) ([]int, error)
}

// hostResources is the static part of an offer the operator configures
// per host (cpu/memory capacity); ports are filled in live via GetPorts.
type hostResources struct {
	Host   string
	CPU    int
	Memory int64
}

// agentDial opens a per-host RPC stub. This package does not import
// pkg/agentclient; callers inject a func that wraps pkg/agentclient.New
// (or a fake in tests).
type agentDial func(ctx context.Context, addr string) (agentPortSource, error)

// AgentBacked is the default Source: cpu/memory come from static
// per-host config, and ports come from each host's agent via GetPorts,
// giving that otherwise-uncalled RPC a concrete caller (SPEC_FULL.md §3
// "GetPorts RPC").
type AgentBacked struct {
	Hosts       []hostResources
	AgentAddrs  map[string]string // host -> grpc address
	PortsWanted int
	Dial        agentDial
}

// NewAgentBacked builds an AgentBacked source. hosts maps host name to
// its cpu/memory capacity; agentAddrs maps host name to its agent's
// grpc address (cmd/haste-server and cmd/haste-ctl build it from the
// config's hosts list); portsWanted
// is how many free ports each agent is asked to report.
func NewAgentBacked(hosts map[string]struct {
	CPU    int
	Memory int64
}, agentAddrs map[string]string, portsWanted int, dial agentDial) *AgentBacked {
	list := make([]hostResources, 0, len(hosts))
	for host, r := range hosts {
		list = append(list, hostResources{Host: host, CPU: r.CPU, Memory: r.Memory})
	}
	return &AgentBacked{Hosts: list, AgentAddrs: agentAddrs, PortsWanted: portsWanted, Dial: dial}
}

// Offers queries every configured host's agent for free ports and
// assembles the offer list. A host whose agent cannot be reached is
// dropped with a wrapped TransportError rather than failing the whole
// call, since the planner's Stage A already tolerates missing hosts.
func (a *AgentBacked) Offers(ctx context.Context) ([]htypes.Offer, error) {
	offers := make([]htypes.Offer, 0, len(a.Hosts))
	var lastErr error
	for _, h := range a.Hosts {
		addr, ok := a.AgentAddrs[h.Host]
		if !ok {
			lastErr = herrors.Transport("no agent address for host "+h.Host, nil)
			continue
		}

		client, err := a.Dial(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}

		ports, err := client.GetPorts(ctx, a.PortsWanted)
		if err != nil {
			lastErr = err
			continue
		}

		offers = append(offers, htypes.Offer{
			Host:   h.Host,
			CPU:    h.CPU,
			Memory: h.Memory,
			Ports:  ports,
		})
	}

	if len(offers) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return offers, nil
}
