package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPaths(t *testing.T) {
	assert.Equal(t, "/haste/clusters/prod/cache_type", ClusterCacheType("prod"))
	assert.Equal(t, "/haste/clusters/prod/feport", ClusterFEPort("prod"))
	assert.Equal(t, "/haste/clusters/prod/config/dial_timeout", ClusterConfig("prod", "dial_timeout"))
	assert.Equal(t, "/haste/clusters/prod/appids/app1", ClusterAppID("prod", "app1"))
	assert.Equal(t, "/haste/clusters/prod/instances/10.0.0.1:7000/role", InstanceField("prod", "10.0.0.1:7000", "role"))
	assert.Equal(t, "/haste/clusters/prod/audit/t1/checkpoint", AuditCheckpoint("prod", "t1"))
	assert.Equal(t, "/haste/clusters/prod/audit/t1/state", AuditState("prod", "t1"))
	assert.Equal(t, "/haste/agent/host1", AgentAddr("host1"))
	assert.Equal(t, "/haste/templates/redis_cluster/nodes.conf", Template("redis_cluster", "nodes.conf"))
}
