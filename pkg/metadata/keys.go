package metadata

import "fmt"

// Key-path helpers for the /haste/... layout, spec.md §6.

func ClusterCacheType(cluster string) string {
	return fmt.Sprintf("/haste/clusters/%s/cache_type", cluster)
}

func ClusterFEPort(cluster string) string {
	return fmt.Sprintf("/haste/clusters/%s/feport", cluster)
}

func ClusterConfig(cluster, field string) string {
	return fmt.Sprintf("/haste/clusters/%s/config/%s", cluster, field)
}

func ClusterAppID(cluster, appID string) string {
	return fmt.Sprintf("/haste/clusters/%s/appids/%s", cluster, appID)
}

func InstanceField(cluster, hostPort, field string) string {
	return fmt.Sprintf("/haste/clusters/%s/instances/%s/%s", cluster, hostPort, field)
}

func AuditCheckpoint(cluster, taskID string) string {
	return fmt.Sprintf("/haste/clusters/%s/audit/%s/checkpoint", cluster, taskID)
}

func AuditState(cluster, taskID string) string {
	return fmt.Sprintf("/haste/clusters/%s/audit/%s/state", cluster, taskID)
}

func AgentAddr(host string) string {
	return fmt.Sprintf("/haste/agent/%s", host)
}

func Template(cacheType, name string) string {
	return fmt.Sprintf("/haste/templates/%s/%s", cacheType, name)
}
