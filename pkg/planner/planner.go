// Package planner computes a master/replica placement for a cache
// cluster from a set of host resource offers, per spec.md §4.1. It
// ports original_source/haste-core/src/chunk.rs's chunk_it stage by
// stage, with the find_min_link fix from the REDESIGN FLAGS applied.
package planner

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/haste-cluster/haste/pkg/herrors"
	"github.com/haste-cluster/haste/pkg/htypes"
	"github.com/haste-cluster/haste/pkg/metrics"
)

const totalSlots = 16384

// Plan computes a placement for numMasters masters from offers, where
// cpuPer and memPer are the per-instance cpu-percent and memory-byte
// requirements. It returns a ValidationError or ResourceError for
// infeasible inputs, per spec.md §4.1's pre-conditions.
func Plan(numMasters int, cpuPer int, memPer int64, offers []htypes.Offer) (htypes.Plan, error) {
	timer := metrics.NewTimer()
	result, err := plan(numMasters, cpuPer, memPer, offers)

	outcome := "ok"
	if kind, ok := herrors.KindOf(err); ok {
		outcome = string(kind)
	}
	metrics.PlansTotal.WithLabelValues(outcome).Inc()
	timer.ObserveDuration(metrics.PlanDuration)

	return result, err
}

func plan(numMasters int, cpuPer int, memPer int64, offers []htypes.Offer) (htypes.Plan, error) {
	if numMasters%2 != 0 || numMasters < 2 {
		return htypes.Plan{}, herrors.Validation("master number must be even and at least 2")
	}
	if len(offers) < 3 {
		return htypes.Plan{}, herrors.Validation("agent must more than 3")
	}
	if len(offers) == 3 && numMasters == 4 {
		return htypes.Plan{}, herrors.Validation("can not deploy 4 master node with 3 host")
	}

	ics := intoCount(cpuPer, memPer, offers)
	ports := portQueues(offers)

	total := 0
	for _, ic := range ics {
		total += ic.count
	}
	target := numMasters * 2
	if total < target {
		return htypes.Plan{}, herrors.Resource("not enough resource. plz call administractor")
	}

	sort.Slice(ics, func(i, j int) bool { return ics[i].count < ics[j].count })
	allocated := dpFill(ics, target, 2)

	if checkDist(allocated, target) {
		return htypes.Plan{}, herrors.Resource("max instance is more than half nodes of the cluster")
	}

	links := assembleLinks(allocated)
	return linksToPlan(links, ports), nil
}

type instanceCount struct {
	host  string
	count int
}

// intoCount is Stage A: normalize each offer to an even instance
// capacity and drop hosts with zero capacity.
func intoCount(cpuPer int, memPer int64, offers []htypes.Offer) []instanceCount {
	ics := make([]instanceCount, 0, len(offers))
	for _, o := range offers {
		c := o.CPU / cpuPer
		m := int(o.Memory / memPer)
		p := len(o.Ports)
		raw := min3(c, m, p)
		count := (raw / 2) * 2
		if count < 1 {
			continue
		}
		ics = append(ics, instanceCount{host: o.Host, count: count})
	}
	return ics
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func portQueues(offers []htypes.Offer) map[string][]int {
	out := make(map[string][]int, len(offers))
	for _, o := range offers {
		p := append([]int(nil), o.Ports...)
		sort.Ints(p)
		out[o.Host] = p
	}
	return out
}

// dpFill is Stage B: distribute target instances in units of scale
// across hosts, always adding the next unit to the currently
// least-allocated host that still has capacity.
func dpFill(ics []instanceCount, target int, scale int) []instanceCount {
	capacity := make(map[string]int, len(ics))
	order := make([]string, 0, len(ics))
	counter := make(map[string]int, len(ics))
	for _, ic := range ics {
		capacity[ic.host] = ic.count
		counter[ic.host] = 0
		order = append(order, ic.host)
	}

	remaining := target
	for remaining > 0 {
		host, ok := findMin(order, counter, capacity, scale)
		if !ok {
			break
		}
		counter[host] += scale
		remaining -= scale
	}

	out := make([]instanceCount, 0, len(order))
	for _, host := range order {
		out = append(out, instanceCount{host: host, count: counter[host]})
	}
	return out
}

// findMin picks the host with the smallest current allocation that has
// room for one more unit of scale, preferring any host at zero first
// (mirrors the Rust source's find_min: a host with count==0 returns
// immediately).
func findMin(order []string, counter map[string]int, capacity map[string]int, scale int) (string, bool) {
	best := ""
	bestCount := -1
	for _, host := range order {
		count := counter[host]
		if count+scale > capacity[host] {
			continue
		}
		if count == 0 {
			return host, true
		}
		if bestCount == -1 || count < bestCount {
			bestCount = count
			best = host
		}
	}
	if bestCount == -1 {
		return "", false
	}
	return best, true
}

// checkDist is Stage C: no host may hold ≥ target/2 instances.
func checkDist(ics []instanceCount, target int) bool {
	for _, ic := range ics {
		if ic.count >= target/2 {
			return true
		}
	}
	return false
}

type link struct {
	base   string
	linkTo string
}

// assembleLinks is Stage D: repeatedly pair the host with the most
// remaining allocation against the partner with the fewest existing
// links to it, until every host's remaining allocation is exhausted.
func assembleLinks(allocated []instanceCount) []link {
	n := len(allocated)
	remaining := make([]int, n)
	for i, ic := range allocated {
		remaining[i] = ic.count
	}

	linkTable := make([][]int, n)
	for i := range linkTable {
		linkTable[i] = make([]int, n)
	}

	var links []link
	for {
		pos := maxRemaining(remaining)
		if pos == -1 || remaining[pos] == 0 {
			break
		}

		partner := findMinLink(linkTable, pos)
		if remaining[partner] < 2 {
			linkTable[partner][pos]++
			linkTable[pos][partner]++
			continue
		}

		links = append(links, link{base: allocated[pos].host, linkTo: allocated[partner].host})
		linkTable[partner][pos]++
		linkTable[pos][partner]++
		remaining[pos] -= 2
		remaining[partner] -= 2
	}
	return links
}

// maxRemaining returns the index of the largest remaining count, or -1
// if every remaining count is zero.
func maxRemaining(remaining []int) int {
	best := -1
	bestCount := 0
	for i, c := range remaining {
		if c > bestCount {
			bestCount = c
			best = i
		}
	}
	return best
}

// findMinLink returns the index (other than pos) of the row's minimum
// entry in linkTable[pos], i.e. the partner host pos has linked with
// least so far. Ties break toward the lowest index. This is the fixed
// semantics for the Rust source's buggy find_min_link (REDESIGN FLAGS
// §9 / SPEC_FULL.md §4).
func findMinLink(linkTable [][]int, pos int) int {
	row := linkTable[pos]
	best := -1
	bestVal := 0
	for i, v := range row {
		if i == pos {
			continue
		}
		if best == -1 || v < bestVal {
			best = i
			bestVal = v
		}
	}
	return best
}

// linksToPlan is Stages E and F: materialize four instances per link
// with monotone run-ids and cross-host replication, then assign slot
// ranges across the full ordered instance list.
func linksToPlan(links []link, ports map[string][]int) htypes.Plan {
	var instances []htypes.Instance
	runID := nextRunIDSeed()

	for _, l := range links {
		p1 := popFront(ports, l.base)
		p2 := popFront(ports, l.base)
		p3 := popFront(ports, l.linkTo)
		p4 := popFront(ports, l.linkTo)

		r1 := nextRunID(&runID)
		r2 := nextRunID(&runID)
		r3 := nextRunID(&runID)
		r4 := nextRunID(&runID)

		instances = append(instances,
			htypes.Instance{Host: l.base, Port: p1, Role: htypes.RoleMaster, SlaveOf: htypes.NoSlaveOf, RunID: r1},
			htypes.Instance{Host: l.base, Port: p2, Role: htypes.RoleSlave, SlaveOf: r3, RunID: r2},
			htypes.Instance{Host: l.linkTo, Port: p3, Role: htypes.RoleMaster, SlaveOf: htypes.NoSlaveOf, RunID: r3},
			htypes.Instance{Host: l.linkTo, Port: p4, Role: htypes.RoleSlave, SlaveOf: r1, RunID: r4},
		)
	}

	assignSlots(instances)
	return htypes.Plan{Instances: instances}
}

func popFront(ports map[string][]int, host string) int {
	q := ports[host]
	p := q[0]
	ports[host] = q[1:]
	return p
}

// nextRunIDSeed seeds the monotone run-id counter at
// (seconds_since_epoch << 20), per spec.md §4.1 Stage E.
func nextRunIDSeed() uint64 {
	return uint64(time.Now().Unix()) << 20
}

func nextRunID(seed *uint64) string {
	*seed++
	return padRunID(*seed)
}

// padRunID renders a run-id as a 40-character zero-padded decimal.
func padRunID(v uint64) string {
	const width = 40
	s := strconv.FormatUint(v, 10)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// assignSlots is Stage F: walk the full ordered instance list (length
// 2*numMasters, masters and slaves alike) and assign contiguous slot
// ranges so their union is [0, 16383]. Slave slot ranges are carried in
// the Plan (per SPEC_FULL.md's Open Question decision) but omitted when
// rendering nodes.conf.
func assignSlots(instances []htypes.Instance) {
	n := len(instances)
	if n == 0 {
		return
	}
	per := totalSlots / n
	left := totalSlots % n
	base := 0
	for i := range instances {
		count := per
		if i < left {
			count++
		}
		end := base + count - 1
		if base+count >= totalSlots {
			end = totalSlots - 1
		}
		instances[i].Slots = []htypes.Slot{{Begin: base, End: end}}
		base = end + 1
	}
}
