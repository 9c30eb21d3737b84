// Package htypes holds the data model shared by the planner, the
// convergence driver, and the agent deployer: offers, plans, instances,
// and the wire bundle sent to an agent.
package htypes

// Offer is an immutable snapshot of one host's free resources, produced
// by the offer source for a single planning call.
type Offer struct {
	Host   string
	CPU    int // percent, e.g. 200 = two cores
	Memory int64
	Ports  []int
}

// Role is the replication role of a planned instance.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// NoSlaveOf is the sentinel slave_of value for a master instance.
const NoSlaveOf = "-"

// Slot is an inclusive hash-slot range.
type Slot struct {
	Begin int
	End   int
}

// Instance is one planned cache process: a port on a host, its role,
// the run-id of the master it replicates (for slaves), and the slot
// ranges Stage F of the planner assigned it.
type Instance struct {
	Host    string
	Port    int
	Role    Role
	SlaveOf string // run-id of the master, or NoSlaveOf for masters
	RunID   string // 40-char zero-padded decimal
	Slots   []Slot
}

// Plan is the planner's output: an ordered, immutable sequence of
// instances. Every instance, master or slave, holds one contiguous slot
// range; the ranges are disjoint and together cover [0, 16383], so the
// masters' ranges alone do not cover every slot.
type Plan struct {
	Instances []Instance
}

// ByHost groups the plan's instances by host, preserving the planner's
// emission order within each host.
func (p Plan) ByHost() map[string][]Instance {
	out := make(map[string][]Instance)
	for _, inst := range p.Instances {
		out[inst.Host] = append(out[inst.Host], inst)
	}
	return out
}

// Masters returns every master instance in the plan.
func (p Plan) Masters() []Instance {
	var out []Instance
	for _, inst := range p.Instances {
		if inst.Role == RoleMaster {
			out = append(out, inst)
		}
	}
	return out
}

// ByRunID indexes the plan's instances by run-id for O(1) lookup, used
// to resolve a slave's SlaveOf pointer back to its master's host:port.
func (p Plan) ByRunID() map[string]Instance {
	out := make(map[string]Instance, len(p.Instances))
	for _, inst := range p.Instances {
		out[inst.RunID] = inst
	}
	return out
}

// CacheType tags the kind of cache cluster being deployed.
type CacheType string

const (
	CacheTypeMemcache     CacheType = "memcache"
	CacheTypeRedis        CacheType = "redis"
	CacheTypeRedisCluster CacheType = "redis_cluster"
)

// BinaryName returns the executable name the agent installs for this
// cache type.
func (c CacheType) BinaryName() string {
	if c == CacheTypeMemcache {
		return "memcached"
	}
	return "redis-server"
}

// BinaryKind returns the short kind string used in lib-dir paths and
// binary download URLs.
func (c CacheType) BinaryKind() string {
	if c == CacheTypeMemcache {
		return "memcache"
	}
	return "redis"
}

// RenderedFile is one config file an agent must write to disk for an
// instance.
type RenderedFile struct {
	Path    string
	Content string
}

// InstanceBundle is the per-instance sub-bundle inside a CacheInfo.
type InstanceBundle struct {
	Port  int
	Files []RenderedFile
}

// CacheInfo is the per-host bundle sent to an agent's Deploy RPC.
type CacheInfo struct {
	CacheType  CacheType
	Version    string
	FileServer string
	Instances  []InstanceBundle
}
