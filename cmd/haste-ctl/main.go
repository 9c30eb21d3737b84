// Command haste-ctl is the operator CLI: ad-hoc lifecycle actions
// against one agent, and read-only queries against a cluster's etcd
// state (spec.md §6). Grounded on cuemby-warren/cmd/warren/main.go's
// node/service subcommands (a thin cobra wrapper that dials a single
// remote collaborator per invocation and prints the result).
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haste-cluster/haste/api/rpc"
	"github.com/haste-cluster/haste/pkg/agentclient"
	"github.com/haste-cluster/haste/pkg/config"
	"github.com/haste-cluster/haste/pkg/metadata"
	"github.com/haste-cluster/haste/pkg/offer"
	"github.com/haste-cluster/haste/pkg/planner"
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
	Use:     "haste-ctl",
	Short:   "haste-ctl is the haste operator CLI",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("haste-ctl version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.AddCommand(actionCmd, statusCmd, planCmd)
}

var actionCmd = &cobra.Command{
	Use:   "action [setup|remove|start|stop|restart]",
	Short: "Run a single lifecycle action against one agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("agent")
		port, _ := cmd.Flags().GetInt("port")
		if addr == "" {
			return fmt.Errorf("--agent is required")
		}

		kind := rpc.ActionKind(args[0])
		switch kind {
		case rpc.ActionSetup, rpc.ActionRemove, rpc.ActionStart, rpc.ActionStop, rpc.ActionRestart:
		default:
			return fmt.Errorf("unknown action %q", args[0])
		}

		ctx := context.Background()
		client, err := agentclient.New(ctx, addr)
		if err != nil {
			return fmt.Errorf("dial agent %s: %w", addr, err)
		}
		defer client.Close()

		ctx, cancel := agentclient.WithTimeout(ctx)
		defer cancel()

		state, err := client.DoAction(ctx, kind, port)
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}

		for _, inst := range state.Instances {
			fmt.Printf("port=%d running=%v error=%q\n", inst.Port, inst.Running, inst.Error)
		}
		return nil
	},
}

func init() {
	actionCmd.Flags().String("agent", "", "Agent RPC address (host:port)")
	actionCmd.Flags().Int("port", 0, "Instance port (ignored for setup)")
}

var statusCmd = &cobra.Command{
	Use:   "status <cluster>",
	Short: "Print a cluster's recorded state from etcd",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cluster := args[0]

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		meta, err := metadata.Open(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			return fmt.Errorf("open etcd: %w", err)
		}
		defer meta.Close()

		ctx := context.Background()
		prefix := fmt.Sprintf("/haste/clusters/%s/", cluster)
		kvs, err := meta.GetPrefix(ctx, prefix)
		if err != nil {
			return fmt.Errorf("read cluster state: %w", err)
		}
		if len(kvs) == 0 {
			return fmt.Errorf("no state recorded for cluster %q", cluster)
		}

		keys := make([]string, 0, len(kvs))
		for k := range kvs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s = %s\n", k, kvs[k])
		}
		return nil
	},
}

// planCmd runs Plan() against the configured host fleet's current
// offers without deploying anything, so an operator can inspect a
// placement before committing to it with haste-server deploy.
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview a placement plan for the configured host fleet without deploying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		numMasters, _ := cmd.Flags().GetInt("num-masters")
		portsWanted, _ := cmd.Flags().GetInt("ports-per-host")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if len(cfg.Hosts) == 0 {
			return fmt.Errorf("no hosts configured; set hosts: in %s", configPath)
		}

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
		}

		offerSource := offer.NewAgentBacked(hosts, agentAddrs, portsWanted, func(ctx context.Context, addr string) (interface {
			GetPorts(ctx context.Context, count int) ([]int, error)
		}, error) {
			return agentclient.New(ctx, addr)
		})

		ctx := context.Background()
		offers, err := offerSource.Offers(ctx)
		if err != nil {
			return fmt.Errorf("gather offers: %w", err)
		}

		result, err := planner.Plan(numMasters, cfg.Planner.CPUPer, cfg.Planner.MemPer, offers)
		if err != nil {
			return fmt.Errorf("plan: %w", err)
		}

		for _, inst := range result.Instances {
			slotRange := "-"
			if len(inst.Slots) > 0 {
				slotRange = fmt.Sprintf("%d-%d", inst.Slots[0].Begin, inst.Slots[0].End)
			}
			fmt.Printf("%s:%-5d role=%-6s slaveof=%-40s slots=%s\n", inst.Host, inst.Port, inst.Role, inst.SlaveOf, slotRange)
		}
		return nil
	},
}

func init() {
	planCmd.Flags().Int("num-masters", 2, "Number of masters (even, >= 2)")
	planCmd.Flags().Int("ports-per-host", 4, "Free ports to request per host")
}
