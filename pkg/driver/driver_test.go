package driver

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haste-cluster/haste/api/rpc"
	"github.com/haste-cluster/haste/pkg/config"
	"github.com/haste-cluster/haste/pkg/htypes"
	"github.com/haste-cluster/haste/pkg/probe"
	"github.com/haste-cluster/haste/pkg/render"
)

type fakeAgentClient struct {
	deployErr error
	deployed  htypes.CacheInfo
	cleaned   []int
	closed    bool
}

func (f *fakeAgentClient) Deploy(ctx context.Context, info htypes.CacheInfo) (*rpc.CacheState, error) {
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	f.deployed = info
	return &rpc.CacheState{}, nil
}

func (f *fakeAgentClient) Clean(ctx context.Context, ports []int) []error {
	f.cleaned = ports
	return nil
}

func (f *fakeAgentClient) Close() error {
	f.closed = true
	return nil
}

func testPlan() htypes.Plan {
	return htypes.Plan{Instances: []htypes.Instance{
		{Host: "h1", Port: 7000, Role: htypes.RoleMaster, SlaveOf: htypes.NoSlaveOf, RunID: "r1", Slots: []htypes.Slot{{Begin: 0, End: 8191}}},
		{Host: "h1", Port: 7001, Role: htypes.RoleSlave, SlaveOf: "r3", RunID: "r2"},
		{Host: "h2", Port: 7002, Role: htypes.RoleMaster, SlaveOf: htypes.NoSlaveOf, RunID: "r3", Slots: []htypes.Slot{{Begin: 8192, End: 16383}}},
		{Host: "h2", Port: 7003, Role: htypes.RoleSlave, SlaveOf: "r1", RunID: "r4"},
	}}
}

func testParams() Params {
	return Params{
		ClusterName: "test",
		CacheType:   htypes.CacheTypeRedisCluster,
		Version:     "7.2.4",
		FileServer:  "http://files.local",
		AgentDirs: config.AgentConfig{
			InstanceDir: "/data/haste/instance",
			LibDir:      "/data/haste/lib",
			SystemdDir:  "/etc/systemd/system",
		},
		ConfVars: map[string]any{"max_memory": "512mb"},
	}
}

func testRenderer(t *testing.T) render.Renderer {
	t.Helper()
	r := render.NewTextTemplateRenderer()
	require.NoError(t, r.Register("redis_cluster.conf", "port {{.port}}\nmaxmemory {{.max_memory}}\n"))
	return r
}

func TestBuildCacheInfo_GroupsByHostAndRendersFiles(t *testing.T) {
	d := New(nil, nil, nil, testRenderer(t), config.DeployConfig{})
	out, err := d.BuildCacheInfo(testPlan(), testParams())
	require.NoError(t, err)

	require.Len(t, out, 2)
	h1 := out["h1"]
	require.Len(t, h1.Instances, 2)

	var found bool
	for _, inst := range h1.Instances {
		if inst.Port == 7000 {
			found = true
			require.Len(t, inst.Files, 3) // conf, nodes.conf, unit
		}
	}
	assert.True(t, found)
}

func TestDeployFanOut_AllHostsSucceed(t *testing.T) {
	clients := map[string]*fakeAgentClient{"h1": {}, "h2": {}}
	dial := func(ctx context.Context, host string) (AgentClient, error) {
		return clients[host], nil
	}
	d := New(nil, nil, dial, testRenderer(t), config.DeployConfig{Retry: 1})

	info, err := d.BuildCacheInfo(testPlan(), testParams())
	require.NoError(t, err)

	err = d.deployFanOut(context.Background(), info)
	require.NoError(t, err)
	assert.NotEmpty(t, clients["h1"].deployed.Instances)
	assert.NotEmpty(t, clients["h2"].deployed.Instances)
}

func TestDeployFanOut_OneHostFailsSurfacesError(t *testing.T) {
	clients := map[string]*fakeAgentClient{"h1": {}, "h2": {deployErr: assert.AnError}}
	dial := func(ctx context.Context, host string) (AgentClient, error) {
		return clients[host], nil
	}
	d := New(nil, nil, dial, testRenderer(t), config.DeployConfig{Retry: 1})

	info, err := d.BuildCacheInfo(testPlan(), testParams())
	require.NoError(t, err)

	err = d.deployFanOut(context.Background(), info)
	require.Error(t, err)
}

func TestCleanAll_CallsCleanOnEveryHost(t *testing.T) {
	clients := map[string]*fakeAgentClient{"h1": {}, "h2": {}}
	dial := func(ctx context.Context, host string) (AgentClient, error) {
		return clients[host], nil
	}
	d := New(nil, nil, dial, testRenderer(t), config.DeployConfig{})

	info, err := d.BuildCacheInfo(testPlan(), testParams())
	require.NoError(t, err)

	d.cleanAll(context.Background(), info)
	assert.NotEmpty(t, clients["h1"].cleaned)
	assert.NotEmpty(t, clients["h2"].cleaned)
	assert.True(t, clients["h1"].closed)
}

func TestParseRole_ExtractsMasterAndSlave(t *testing.T) {
	assert.Equal(t, "master", parseRole("# Replication\r\nrole:master\r\nconnected_slaves:1\r\n"))
	assert.Equal(t, "slave", parseRole("role:slave\nmaster_host:10.0.0.1\n"))
	assert.Equal(t, "", parseRole("no role line here"))
}

func TestCheckConsistent_AgreesWhenSlotsFullyCoveredAndHashesMatch(t *testing.T) {
	nodes1 := "abc h1:7000@17000 master - 0 0 1 connected 0-8191\n" +
		"def h2:7002@17002 master - 0 0 1 connected 8192-16383\n"
	nodes3 := nodes1

	prb := probe.New()
	d := New(nil, prb, nil, testRenderer(t), config.DeployConfig{})

	vec1 := probe.SlotVector(nodes1)
	vec3 := probe.SlotVector(nodes3)
	assert.Equal(t, hashSlotVector(vec1), hashSlotVector(vec3))
	for _, addr := range vec1 {
		assert.NotEmpty(t, addr)
	}
	_ = d
}

func TestCheckConsistent_DetectsBlankSlot(t *testing.T) {
	nodes := "abc h1:7000@17000 master - 0 0 1 connected 0-8190\n"
	vec := probe.SlotVector(nodes)
	blank := false
	for _, addr := range vec {
		if addr == "" {
			blank = true
		}
	}
	assert.True(t, blank)
}

func TestBalanceLoop_TimesOutReturnsNilWhenNeverConsistent(t *testing.T) {
	d := New(nil, probe.New(), nil, testRenderer(t), config.DeployConfig{
		BalanceTimeout: 10 * time.Millisecond,
		BalanceTick:    5 * time.Millisecond,
	})
	// an unreachable loopback port fails fast (connection refused)
	// rather than stalling on DNS resolution, so the loop reaches its
	// deadline quickly and returns nil instead of blocking forever.
	plan := htypes.Plan{Instances: []htypes.Instance{
		{Host: "127.0.0.1", Port: 1, Role: htypes.RoleMaster, SlaveOf: htypes.NoSlaveOf, RunID: "r1"},
	}}
	_, err := d.balance(context.Background(), plan, zerolog.Nop())
	assert.NoError(t, err)
}
