// Command haste-server runs a single planning+deploy operation: it
// gathers offers from the configured host fleet, computes a Plan, and
// drives it to convergence across every host's agent. Grounded on
// cuemby-warren/cmd/warren/main.go's manager-join command (cobra root +
// persistent log flags + a subcommand that assembles its collaborators
// from flags and config and runs to completion).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haste-cluster/haste/pkg/agentclient"
	"github.com/haste-cluster/haste/pkg/config"
	"github.com/haste-cluster/haste/pkg/driver"
	"github.com/haste-cluster/haste/pkg/htypes"
	"github.com/haste-cluster/haste/pkg/log"
	"github.com/haste-cluster/haste/pkg/metadata"
	"github.com/haste-cluster/haste/pkg/offer"
	"github.com/haste-cluster/haste/pkg/planner"
	"github.com/haste-cluster/haste/pkg/probe"
	"github.com/haste-cluster/haste/pkg/render"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "haste-server",
	Short:   "haste-server plans and deploys cache clusters",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("haste-server version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(deployCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Plan and deploy a cache cluster across the configured host fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		clusterName, _ := cmd.Flags().GetString("cluster")
		numMasters, _ := cmd.Flags().GetInt("num-masters")
		cacheType, _ := cmd.Flags().GetString("cache-type")
		version, _ := cmd.Flags().GetString("version")
		portsWanted, _ := cmd.Flags().GetInt("ports-per-host")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if len(cfg.Hosts) == 0 {
			return fmt.Errorf("no hosts configured; set hosts: in %s", configPath)
		}

		fileServer := cfg.FileServer
		if v, _ := cmd.Flags().GetString("file-server"); v != "" {
			fileServer = v
		}

		ctx := context.Background()

		meta, err := metadata.Open(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			return fmt.Errorf("open etcd: %w", err)
		}
		defer meta.Close()

		taskID := uuid.NewString()

		hosts := make(map[string]struct {
			CPU    int
			Memory int64
		}, len(cfg.Hosts))
		agentAddrs := make(map[string]string, len(cfg.Hosts))
		for _, h := range cfg.Hosts {
			hosts[h.Host] = struct {
				CPU    int
				Memory int64
			}{CPU: h.CPU, Memory: h.Memory}
			agentAddrs[h.Host] = h.AgentAddr

			// Publish each host's agent RPC address under
			// /haste/agent/<host> (spec.md §6) so resolution during
			// the deploy fan-out goes through the key-value store
			// rather than a closure captured over this call's config.
			if err := meta.Set(ctx, metadata.AgentAddr(h.Host), h.AgentAddr); err != nil {
				return fmt.Errorf("publish agent address for %s: %w", h.Host, err)
			}
		}

		// dial resolves a plan's host label to its agent RPC address by
		// looking up /haste/agent/<host>, per spec.md §4.2 step 2.
		dial := func(ctx context.Context, host string) (driver.AgentClient, error) {
			addr, found, err := meta.Get(ctx, metadata.AgentAddr(host))
			if err != nil {
				return nil, fmt.Errorf("resolve agent address for %s: %w", host, err)
			}
			if !found {
				return nil, fmt.Errorf("no agent address recorded for host %s", host)
			}
			return agentclient.New(ctx, addr)
		}

		offerSource := offer.NewAgentBacked(hosts, agentAddrs, portsWanted, func(ctx context.Context, addr string) (interface {
			GetPorts(ctx context.Context, count int) ([]int, error)
		}, error) {
			return agentclient.New(ctx, addr)
		})

		offers, err := offerSource.Offers(ctx)
		if err != nil {
			return fmt.Errorf("gather offers: %w", err)
		}
		if err := meta.Set(ctx, metadata.AuditState(clusterName, taskID), "offers-acquired"); err != nil {
			log.Warn(fmt.Sprintf("failed to write audit checkpoint: %v", err))
		}

		plan, err := planner.Plan(numMasters, cfg.Planner.CPUPer, cfg.Planner.MemPer, offers)
		if err != nil {
			return fmt.Errorf("plan cluster: %w", err)
		}
		if err := meta.Set(ctx, metadata.AuditState(clusterName, taskID), "plan-computed"); err != nil {
			log.Warn(fmt.Sprintf("failed to write audit checkpoint: %v", err))
		}

		prb := probe.New()
		defer prb.Close()

		confName := cacheType + ".conf"
		templateKey := metadata.Template(cacheType, confName)
		templateBody, found, err := meta.Get(ctx, templateKey)
		if err != nil {
			return fmt.Errorf("load template %s: %w", templateKey, err)
		}
		if !found {
			return fmt.Errorf("no template recorded at %s", templateKey)
		}

		renderer := render.NewTextTemplateRenderer()
		if err := renderer.Register(confName, templateBody); err != nil {
			return fmt.Errorf("parse template %s: %w", templateKey, err)
		}

		drv := driver.New(meta, prb, dial, renderer, cfg.Deploy)

		maxMemory, _ := cmd.Flags().GetString("max-memory")
		thread, _ := cmd.Flags().GetInt("thread")

		params := driver.Params{
			ClusterName: clusterName,
			CacheType:   htypes.CacheType(cacheType),
			Version:     version,
			FileServer:  fileServer,
			AgentDirs:   cfg.Agent,
			ConfVars: map[string]any{
				"version":    version,
				"max_memory": maxMemory,
				"thread":     thread,
			},
			TaskID: taskID,
		}

		if err := drv.Deploy(ctx, plan, params); err != nil {
			return fmt.Errorf("deploy cluster: %w", err)
		}

		fmt.Printf("cluster %s deployed across %d instances\n", clusterName, len(plan.Instances))
		return nil
	},
}

func init() {
	deployCmd.Flags().String("cluster", "", "Cluster name (required)")
	deployCmd.Flags().Int("num-masters", 2, "Number of masters (even, >= 2)")
	deployCmd.Flags().String("cache-type", string(htypes.CacheTypeRedisCluster), "Cache type (redis, redis_cluster, memcache)")
	deployCmd.Flags().String("version", "", "Cache binary version (required)")
	deployCmd.Flags().String("file-server", "", "Binary file server URL, overrides config's file_server")
	deployCmd.Flags().Int("ports-per-host", 4, "Free ports to request per host")
	deployCmd.Flags().String("max-memory", "512mb", "max_memory template variable")
	deployCmd.Flags().Int("thread", 4, "thread template variable")
	deployCmd.MarkFlagRequired("cluster")
	deployCmd.MarkFlagRequired("version")
}
