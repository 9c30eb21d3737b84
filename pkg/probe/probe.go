// Package probe is the C4 cluster probe (spec.md §4.4): thin,
// per-node Redis commands used by the convergence driver's health and
// balance phases. Grounded on
// original_source/haste-core/src/myredis.rs's MyRedis/Node (one client
// per host:port, kept in a map) with the REDESIGN FLAGS §9 fix applied:
// instead of the original's dynamic `cmds.split(' ')` dispatch, each
// operation is an explicit typed method.
package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/haste-cluster/haste/pkg/herrors"
)

const totalSlots = 16384

// Probe keeps one *redis.Client per host:port, opened lazily and
// reused, mirroring myredis.rs's nodes map.
type Probe struct {
	clients map[string]*redis.Client
}

// New builds an empty Probe.
func New() *Probe {
	return &Probe{clients: make(map[string]*redis.Client)}
}

func (p *Probe) client(addr string) *redis.Client {
	if c, ok := p.clients[addr]; ok {
		return c
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	p.clients[addr] = c
	return c
}

// Close closes every opened connection.
func (p *Probe) Close() error {
	var lastErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Ping opens a client to host:port and issues PING.
func (p *Probe) Ping(ctx context.Context, host string, port int) error {
	c := p.client(addr(host, port))
	if err := c.Ping(ctx).Err(); err != nil {
		return herrors.Transport(fmt.Sprintf("ping %s:%d", host, port), err)
	}
	return nil
}

// ClusterNodes returns the node's CLUSTER NODES text view.
func (p *Probe) ClusterNodes(ctx context.Context, host string, port int) (string, error) {
	c := p.client(addr(host, port))
	out, err := c.ClusterNodes(ctx).Result()
	if err != nil {
		return "", herrors.Transport(fmt.Sprintf("cluster nodes %s:%d", host, port), err)
	}
	return out, nil
}

// BumpEpoch issues CLUSTER BUMPEPOCH to a master.
func (p *Probe) BumpEpoch(ctx context.Context, host string, port int) error {
	c := p.client(addr(host, port))
	if err := c.Do(ctx, "CLUSTER", "BUMPEPOCH").Err(); err != nil {
		return herrors.Transport(fmt.Sprintf("cluster bumpepoch %s:%d", host, port), err)
	}
	return nil
}

// Failover issues CLUSTER FAILOVER to a slave node.
func (p *Probe) Failover(ctx context.Context, host string, port int) error {
	c := p.client(addr(host, port))
	if err := c.ClusterFailover(ctx).Err(); err != nil {
		return herrors.Transport(fmt.Sprintf("cluster failover %s:%d", host, port), err)
	}
	return nil
}

// InfoReplication returns the node's INFO replication section text.
func (p *Probe) InfoReplication(ctx context.Context, host string, port int) (string, error) {
	c := p.client(addr(host, port))
	out, err := c.Info(ctx, "replication").Result()
	if err != nil {
		return "", herrors.Transport(fmt.Sprintf("info replication %s:%d", host, port), err)
	}
	return out, nil
}

// SlotVector parses a CLUSTER NODES text view into a length-16384 slice
// of owning-node addresses (blank entries are unowned slots), per
// spec.md §4.2's parse rules.
func SlotVector(clusterNodes string) []string {
	vec := make([]string, totalSlots)

	for _, line := range strings.Split(clusterNodes, "\n") {
		if line == "" {
			continue
		}
		if strings.Contains(line, "slave") || strings.Contains(line, "fail") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}

		addr := fields[1]
		if at := strings.Index(addr, "@"); at >= 0 {
			addr = addr[:at]
		}

		for _, tok := range fields[8:] {
			switch {
			case strings.Contains(tok, "-<-"):
				// importing, skip
			case strings.Contains(tok, "->-"):
				slotPart := tok[1:strings.Index(tok, "->-")]
				if slot, err := strconv.Atoi(slotPart); err == nil && slot >= 0 && slot < totalSlots {
					vec[slot] = addr
				}
			default:
				fillRange(vec, tok, addr)
			}
		}
	}

	return vec
}

func fillRange(vec []string, tok, addr string) {
	begin, end := tok, tok
	if dash := strings.IndexByte(tok, '-'); dash > 0 {
		begin, end = tok[:dash], tok[dash+1:]
	}

	b, err := strconv.Atoi(begin)
	if err != nil {
		return
	}
	e, err := strconv.Atoi(end)
	if err != nil {
		return
	}
	for s := b; s <= e && s < totalSlots; s++ {
		vec[s] = addr
	}
}
