package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haste-cluster/haste/pkg/htypes"
)

func TestNodesConfLine_MasterWithSlots(t *testing.T) {
	inst := htypes.Instance{
		Host: "10.0.0.1", Port: 7000,
		Role: htypes.RoleMaster, SlaveOf: htypes.NoSlaveOf,
		RunID: strings.Repeat("0", 39) + "1",
		Slots: []htypes.Slot{{Begin: 0, End: 8191}},
	}

	line := NodesConfLine(inst, "10.0.0.1:7000")
	assert.Contains(t, line, "myself,master")
	assert.Contains(t, line, "10.0.0.1:7000@17000")
	assert.Contains(t, line, "0-8191")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestNodesConfLine_SlaveOmitsSlots(t *testing.T) {
	inst := htypes.Instance{
		Host: "10.0.0.2", Port: 7001,
		Role: htypes.RoleSlave, SlaveOf: strings.Repeat("0", 39) + "1",
		RunID: strings.Repeat("0", 39) + "2",
		Slots: []htypes.Slot{{Begin: 8192, End: 16383}},
	}

	line := NodesConfLine(inst, "10.0.0.1:7000")
	assert.NotContains(t, line, "myself")
	assert.NotContains(t, line, "8192-16383")
	assert.Contains(t, line, "slave")
}

func TestNodesConfLine_SingleSlotNoRange(t *testing.T) {
	inst := htypes.Instance{
		Host: "10.0.0.1", Port: 7000,
		Role: htypes.RoleMaster, SlaveOf: htypes.NoSlaveOf,
		RunID: strings.Repeat("0", 40),
		Slots: []htypes.Slot{{Begin: 42, End: 42}},
	}
	line := NodesConfLine(inst, "10.0.0.1:7000")
	assert.Contains(t, line, "connected 42\n")
	assert.NotContains(t, line, "42-42")
}

func TestNodesConf_OneLinePerInstance(t *testing.T) {
	instances := []htypes.Instance{
		{Host: "h1", Port: 7000, Role: htypes.RoleMaster, SlaveOf: htypes.NoSlaveOf, RunID: "r1", Slots: []htypes.Slot{{Begin: 0, End: 100}}},
		{Host: "h2", Port: 7001, Role: htypes.RoleSlave, SlaveOf: "r1", RunID: "r2"},
	}
	conf := NodesConf(instances, "h1:7000")
	lines := strings.Split(strings.TrimRight(conf, "\n"), "\n")
	require.Len(t, lines, 2)
}

func TestSystemdUnit_IncludesPortAndExecStart(t *testing.T) {
	unit, err := SystemdUnit(7000, "/data/haste/lib/redis/7.2.4/redis-server", []string{"/data/cache/7000/redis.conf"})
	require.NoError(t, err)
	assert.Contains(t, unit, "port 7000")
	assert.Contains(t, unit, "ExecStart=/data/haste/lib/redis/7.2.4/redis-server /data/cache/7000/redis.conf")
}

func TestTextTemplateRenderer_RegisterAndRender(t *testing.T) {
	r := NewTextTemplateRenderer()
	require.NoError(t, r.Register("redis.conf", "port {{.port}}\nmaxmemory {{.max_memory}}\n"))

	out, err := r.Render("redis.conf", map[string]any{"port": 7000, "max_memory": "512mb"})
	require.NoError(t, err)
	assert.Equal(t, "port 7000\nmaxmemory 512mb\n", out)
}

func TestTextTemplateRenderer_UnknownTemplate(t *testing.T) {
	r := NewTextTemplateRenderer()
	_, err := r.Render("missing", nil)
	assert.Error(t, err)
}
