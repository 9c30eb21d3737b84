// Package driver is the C5 convergence driver (spec.md §4.2): builds
// CacheInfo bundles from a Plan, fans a retrying Deploy out to every
// host's agent, waits for the cluster to settle, probes health, and
// for Redis Cluster drives a bounded consistency/balance loop. Grounded
// on original_source/haste-core/src/deploy/server.rs's DeployTask
// control flow (create_chunks → save_into_etcd → retry_deploy →
// check_all_done → balance) and on
// cuemby-warren/pkg/scheduler/scheduler.go's ticker-driven loop idiom
// for the balance phase.
package driver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/haste-cluster/haste/api/rpc"
	"github.com/haste-cluster/haste/pkg/config"
	"github.com/haste-cluster/haste/pkg/herrors"
	"github.com/haste-cluster/haste/pkg/htypes"
	"github.com/haste-cluster/haste/pkg/log"
	"github.com/haste-cluster/haste/pkg/metadata"
	"github.com/haste-cluster/haste/pkg/metrics"
	"github.com/haste-cluster/haste/pkg/probe"
	"github.com/haste-cluster/haste/pkg/render"
	"github.com/haste-cluster/haste/pkg/servicemgr"
)

// AgentClient is the minimal per-host RPC surface the driver needs.
// Kept as a local interface (rather than importing pkg/agentclient's
// concrete type) so tests can inject a fake, matching pkg/offer's
// agentDial pattern.
type AgentClient interface {
	Deploy(ctx context.Context, info htypes.CacheInfo) (*rpc.CacheState, error)
	Clean(ctx context.Context, ports []int) []error
	Close() error
}

// AgentDialer resolves a host's agent RPC address and opens a client.
type AgentDialer func(ctx context.Context, host string) (AgentClient, error)

// Params is the operator-supplied deployment request, grounded on
// original_source/haste-core/src/deploy/server.rs's DeployParm.
type Params struct {
	ClusterName string
	CacheType   htypes.CacheType
	Version     string
	FileServer  string
	AgentDirs   config.AgentConfig
	ConfVars    map[string]any

	// TaskID correlates this deploy_cluster call's audit checkpoints
	// with checkpoints the caller already wrote for earlier phases
	// (offers-acquired, plan-computed). A fresh id is generated when
	// empty, so existing callers keep working unchanged.
	TaskID string
}

// Driver owns one deploy_cluster call's collaborators.
type Driver struct {
	meta     *metadata.Store
	probe    *probe.Probe
	dial     AgentDialer
	renderer render.Renderer
	cfg      config.DeployConfig
}

// New builds a Driver.
func New(meta *metadata.Store, prb *probe.Probe, dial AgentDialer, renderer render.Renderer, cfg config.DeployConfig) *Driver {
	return &Driver{meta: meta, probe: prb, dial: dial, renderer: renderer, cfg: cfg}
}

// BuildCacheInfo groups plan's instances by host and renders every
// file an agent needs to write, per spec.md §4.2 step 1.
func (d *Driver) BuildCacheInfo(plan htypes.Plan, params Params) (map[string]htypes.CacheInfo, error) {
	byHost := plan.ByHost()
	out := make(map[string]htypes.CacheInfo, len(byHost))

	for host, instances := range byHost {
		bundles := make([]htypes.InstanceBundle, 0, len(instances))
		for _, inst := range instances {
			files, err := d.renderInstanceFiles(inst, plan, params)
			if err != nil {
				return nil, err
			}
			bundles = append(bundles, htypes.InstanceBundle{Port: inst.Port, Files: files})
		}
		out[host] = htypes.CacheInfo{
			CacheType:  params.CacheType,
			Version:    params.Version,
			FileServer: params.FileServer,
			Instances:  bundles,
		}
	}
	return out, nil
}

func (d *Driver) renderInstanceFiles(inst htypes.Instance, plan htypes.Plan, params Params) ([]htypes.RenderedFile, error) {
	instanceDir := filepath.Join(params.AgentDirs.InstanceDir, strconv.Itoa(inst.Port))
	confName := string(params.CacheType) + ".conf"

	vars := make(map[string]any, len(params.ConfVars)+2)
	for k, v := range params.ConfVars {
		vars[k] = v
	}
	vars["port"] = inst.Port

	confBody, err := d.renderer.Render(confName, vars)
	if err != nil {
		return nil, err
	}

	files := []htypes.RenderedFile{
		{Path: filepath.Join(instanceDir, confName), Content: confBody},
	}

	if params.CacheType == htypes.CacheTypeRedisCluster {
		selfHostPort := fmt.Sprintf("%s:%d", inst.Host, inst.Port)
		files = append(files, htypes.RenderedFile{
			Path:    filepath.Join(instanceDir, "nodes.conf"),
			Content: render.NodesConf(plan.Instances, selfHostPort),
		})
	}

	binaryPath := filepath.Join(params.AgentDirs.LibDir, params.CacheType.BinaryKind(), params.Version, params.CacheType.BinaryName())
	unitBody, err := render.SystemdUnit(inst.Port, binaryPath, []string{filepath.Join(instanceDir, confName)})
	if err != nil {
		return nil, err
	}
	files = append(files, htypes.RenderedFile{
		Path:    filepath.Join(params.AgentDirs.SystemdDir, servicemgr.ServiceName(inst.Port)),
		Content: unitBody,
	})

	return files, nil
}

// Deploy runs spec.md §4.2's full deploy_cluster operation.
func (d *Driver) Deploy(ctx context.Context, plan htypes.Plan, params Params) error {
	taskID := params.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	logger := log.WithClusterTask(params.ClusterName, taskID)
	timer := metrics.NewTimer()

	outcome := "ok"
	defer func() { timer.ObserveDurationVec(metrics.DeployClusterDuration, outcome) }()

	fail := func(outcomeLabel string, err error) error {
		outcome = outcomeLabel
		return err
	}

	cacheInfo, err := d.BuildCacheInfo(plan, params)
	if err != nil {
		return fail("build_failed", err)
	}

	if err := d.checkpoint(ctx, params.ClusterName, taskID, "building"); err != nil {
		logger.Warn().Err(err).Msg("failed to write audit checkpoint")
	}

	if err := d.retryDeploy(ctx, params.ClusterName, taskID, cacheInfo, logger); err != nil {
		return fail("deploy_failed", herrors.Transport("fail to create cluster", err))
	}

	time.Sleep(d.cfg.SettleWait)

	if err := d.healthCheck(ctx, plan); err != nil {
		logger.Warn().Err(err).Msg("fail to check all cluster done, cleaning")
		d.cleanAll(ctx, cacheInfo)
		return fail("unhealthy", herrors.Convergence("cluster never became healthy", err))
	}
	if err := d.checkpoint(ctx, params.ClusterName, taskID, "health-settled"); err != nil {
		logger.Warn().Err(err).Msg("failed to write audit checkpoint")
	}

	if params.CacheType == htypes.CacheTypeRedisCluster {
		converged, balanceErr := d.balance(ctx, plan, logger)
		balanceState := "balance-converged"
		if balanceErr != nil || !converged {
			balanceState = "balance-timed-out"
			logger.Warn().Err(balanceErr).Msg("balance loop did not converge before timeout")
		}
		if err := d.checkpoint(ctx, params.ClusterName, taskID, balanceState); err != nil {
			logger.Warn().Err(err).Msg("failed to write audit checkpoint")
		}
	}

	if err := d.saveFinal(ctx, params.ClusterName, plan, params); err != nil {
		return fail("save_failed", err)
	}
	return d.checkpoint(ctx, params.ClusterName, taskID, "done")
}

// retryDeploy is spec.md §4.2 step 2: up to cfg.Retry attempts of a
// per-host fan-out, with a best-effort clean and 1s sleep between
// attempts.
func (d *Driver) retryDeploy(ctx context.Context, cluster, taskID string, cacheInfo map[string]htypes.CacheInfo, logger zerolog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.Retry; attempt++ {
		if err := d.checkpoint(ctx, cluster, taskID, fmt.Sprintf("deploy-attempt-%d", attempt)); err != nil {
			logger.Warn().Err(err).Msg("failed to write audit checkpoint")
		}
		if err := d.deployFanOut(ctx, cacheInfo); err != nil {
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt).Msg("fail to create cluster, cleaning and retrying")
			d.cleanAll(ctx, cacheInfo)
			if attempt < d.cfg.Retry {
				metrics.DeployRetriesTotal.Inc()
				time.Sleep(time.Second)
			}
			continue
		}
		return nil
	}
	return lastErr
}

type deployResult struct {
	host string
	err  error
}

func (d *Driver) deployFanOut(ctx context.Context, cacheInfo map[string]htypes.CacheInfo) error {
	var wg sync.WaitGroup
	results := make(chan deployResult, len(cacheInfo))

	for host, info := range cacheInfo {
		wg.Add(1)
		go func(host string, info htypes.CacheInfo) {
			defer wg.Done()
			client, err := d.dial(ctx, host)
			if err != nil {
				metrics.DeployAttemptsTotal.WithLabelValues(host, "dial_failed").Inc()
				results <- deployResult{host: host, err: err}
				return
			}
			defer client.Close()

			if _, err := client.Deploy(ctx, info); err != nil {
				metrics.DeployAttemptsTotal.WithLabelValues(host, "failed").Inc()
				results <- deployResult{host: host, err: err}
				return
			}
			metrics.DeployAttemptsTotal.WithLabelValues(host, "ok").Inc()
			results <- deployResult{host: host}
		}(host, info)
	}

	wg.Wait()
	close(results)

	var firstErr error
	for r := range results {
		if r.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("host %s: %w", r.host, r.err)
		}
	}
	return firstErr
}

// cleanAll issues a best-effort Clean fan-out; failures are logged
// only, per spec.md §4.2 step 2.
func (d *Driver) cleanAll(ctx context.Context, cacheInfo map[string]htypes.CacheInfo) {
	var wg sync.WaitGroup
	for host, info := range cacheInfo {
		ports := make([]int, 0, len(info.Instances))
		for _, inst := range info.Instances {
			ports = append(ports, inst.Port)
		}

		wg.Add(1)
		go func(host string, ports []int) {
			defer wg.Done()
			client, err := d.dial(ctx, host)
			if err != nil {
				log.Warn(fmt.Sprintf("clean: dial %s: %v", host, err))
				return
			}
			defer client.Close()
			cleanErrs := client.Clean(ctx, ports)
			for _, err := range cleanErrs {
				log.Warn(fmt.Sprintf("clean: %s: %v", host, err))
			}
			if len(cleanErrs) > 0 {
				metrics.CleanCallsTotal.WithLabelValues(host, "partial_failure").Inc()
			} else {
				metrics.CleanCallsTotal.WithLabelValues(host, "ok").Inc()
			}
		}(host, ports)
	}
	wg.Wait()
}

// healthCheck is spec.md §4.2 step 4: every planned instance must
// answer a ping.
func (d *Driver) healthCheck(ctx context.Context, plan htypes.Plan) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(plan.Instances))

	for _, inst := range plan.Instances {
		wg.Add(1)
		go func(inst htypes.Instance) {
			defer wg.Done()
			if err := d.probe.Ping(ctx, inst.Host, inst.Port); err != nil {
				metrics.HealthProbesTotal.WithLabelValues("failed").Inc()
				errs <- fmt.Errorf("%s:%d: %w", inst.Host, inst.Port, err)
				return
			}
			metrics.HealthProbesTotal.WithLabelValues("ok").Inc()
		}(inst)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}

// balance is spec.md §4.2 step 5: a bounded consistency/balance loop,
// only reached for redis_cluster deployments. It reports whether the
// cluster converged; reaching the deadline is not an error and returns
// (false, nil).
func (d *Driver) balance(ctx context.Context, plan htypes.Plan, logger zerolog.Logger) (bool, error) {
	deadline := time.Now().Add(d.cfg.BalanceTimeout)
	ticker := time.NewTicker(d.cfg.BalanceTick)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return false, nil
		}
		metrics.BalanceIterationsTotal.Inc()

		consistent, err := d.checkConsistent(ctx, plan)
		if err != nil {
			logger.Warn().Err(err).Msg("balance: consistency check failed")
		} else if !consistent {
			for _, m := range plan.Masters() {
				metrics.BumpEpochTotal.Inc()
				if err := d.probe.BumpEpoch(ctx, m.Host, m.Port); err != nil {
					logger.Warn().Err(err).Str("host", m.Host).Int("port", m.Port).Msg("balance: bump epoch failed")
				}
			}
		} else if balanced, err := d.checkBalanced(ctx, plan); err == nil && balanced {
			return true, nil
		} else if err == nil {
			for _, inst := range plan.Instances {
				if inst.Role != htypes.RoleSlave {
					continue
				}
				role, infoErr := d.liveRole(ctx, inst)
				if infoErr == nil && role != "slave" {
					metrics.FailoverTotal.Inc()
					if err := d.probe.Failover(ctx, inst.Host, inst.Port); err != nil {
						logger.Warn().Err(err).Str("host", inst.Host).Int("port", inst.Port).Msg("balance: failover failed")
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkConsistent implements spec.md §4.2's consistency check: parse
// every master's CLUSTER NODES view into a slot vector, hash it, and
// require every node's hash to agree with no blank slot.
func (d *Driver) checkConsistent(ctx context.Context, plan htypes.Plan) (bool, error) {
	var firstHash [sha256.Size]byte
	for i, m := range plan.Masters() {
		text, err := d.probe.ClusterNodes(ctx, m.Host, m.Port)
		if err != nil {
			return false, err
		}

		vec := probe.SlotVector(text)
		for _, addr := range vec {
			if addr == "" {
				return false, nil
			}
		}

		h := hashSlotVector(vec)
		if i == 0 {
			firstHash = h
		} else if h != firstHash {
			return false, nil
		}
	}
	return true, nil
}

func hashSlotVector(vec []string) [sha256.Size]byte {
	hasher := sha256.New()
	for _, addr := range vec {
		hasher.Write([]byte(addr))
		hasher.Write([]byte{0})
	}
	var out [sha256.Size]byte
	copy(out[:], hasher.Sum(nil))
	return out
}

// checkBalanced implements spec.md §4.2's balance check: every planned
// instance's live INFO REPLICATION role must match its planned role.
func (d *Driver) checkBalanced(ctx context.Context, plan htypes.Plan) (bool, error) {
	for _, inst := range plan.Instances {
		role, err := d.liveRole(ctx, inst)
		if err != nil {
			return false, err
		}
		want := "master"
		if inst.Role == htypes.RoleSlave {
			want = "slave"
		}
		if role != want {
			return false, nil
		}
	}
	return true, nil
}

func (d *Driver) liveRole(ctx context.Context, inst htypes.Instance) (string, error) {
	text, err := d.probe.InfoReplication(ctx, inst.Host, inst.Port)
	if err != nil {
		return "", err
	}
	return parseRole(text), nil
}

// parseRole reads "role:master" / "role:slave" out of an INFO
// replication text block.
func parseRole(info string) string {
	const marker = "role:"
	idx := strings.Index(info, marker)
	if idx < 0 {
		return ""
	}
	rest := info[idx+len(marker):]
	end := strings.IndexAny(rest, "\r\n")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// checkpoint best-effort writes an audit checkpoint, per the
// /haste/clusters/<name>/audit/<task_id>/state key (spec.md §6).
func (d *Driver) checkpoint(ctx context.Context, cluster, taskID, state string) error {
	log.CheckpointLogged(cluster, taskID, state)
	if d.meta == nil {
		return nil
	}
	return d.meta.Set(ctx, metadata.AuditState(cluster, taskID), state)
}

// saveFinal persists the final Plan and params into etcd on success,
// spec.md §4.2 step 6's save_into_etcd.
func (d *Driver) saveFinal(ctx context.Context, cluster string, plan htypes.Plan, params Params) error {
	if d.meta == nil {
		return nil
	}
	if err := d.meta.Set(ctx, metadata.ClusterCacheType(cluster), string(params.CacheType)); err != nil {
		return err
	}
	for _, inst := range plan.Instances {
		hostPort := fmt.Sprintf("%s:%d", inst.Host, inst.Port)
		if err := d.meta.Set(ctx, metadata.InstanceField(cluster, hostPort, "role"), string(inst.Role)); err != nil {
			return err
		}
		if err := d.meta.Set(ctx, metadata.InstanceField(cluster, hostPort, "slaveof"), inst.SlaveOf); err != nil {
			return err
		}
	}
	return nil
}
