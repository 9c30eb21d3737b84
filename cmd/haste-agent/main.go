// Command haste-agent is the per-host daemon that implements the
// Agent RPC contract (spec.md §4.3): it deploys, starts, stops, and
// removes cache instances on the host it runs on. Grounded on
// cuemby-warren/cmd/warren/main.go's worker command (cobra root +
// persistent log flags + a start subcommand that builds its
// collaborators and blocks on an interrupt signal).
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haste-cluster/haste/api/rpc"
	"github.com/haste-cluster/haste/pkg/config"
	"github.com/haste-cluster/haste/pkg/deployer"
	"github.com/haste-cluster/haste/pkg/log"
	"github.com/haste-cluster/haste/pkg/metrics"
	"github.com/haste-cluster/haste/pkg/servicemgr"
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
	Use:     "haste-agent",
	Short:   "haste-agent runs cache instances on this host",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("haste-agent version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent RPC server and block until terminated",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		svc := servicemgr.New(cfg.Agent.SystemdDir)
		dep, err := deployer.New(cfg.Agent.InstanceDir, cfg.Agent.LibDir, dataDir, svc)
		if err != nil {
			return fmt.Errorf("create deployer: %w", err)
		}
		defer dep.Close()

		listener, err := net.Listen("tcp", cfg.Agent.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Agent.ListenAddr, err)
		}

		server := rpc.NewServer()
		rpc.RegisterAgentServer(server, dep)

		if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					log.Errorf("metrics server error", err)
				}
			}()
			log.Info(fmt.Sprintf("metrics endpoint: http://%s/metrics", metricsAddr))
		}

		log.Info(fmt.Sprintf("haste-agent listening on %s", cfg.Agent.ListenAddr))

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Serve(listener)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("agent server: %w", err)
			}
		case <-sigCh:
			log.Info("shutting down haste-agent")
			server.GracefulStop()
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("data-dir", "/var/lib/haste-agent", "Directory for the agent's binary-install ledger")
	serveCmd.Flags().String("metrics-addr", "", "Address to serve /metrics on, empty disables it")
}
