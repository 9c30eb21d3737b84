// Package config loads the YAML configuration shared by the server,
// agent, and ctl binaries.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haste-cluster/haste/pkg/herrors"
)

// Config is the on-disk shape loaded from --config. Zero values are
// filled in by Defaults before use.
type Config struct {
	Etcd       EtcdConfig    `yaml:"etcd"`
	Planner    PlannerConfig `yaml:"planner"`
	Deploy     DeployConfig  `yaml:"deploy"`
	Agent      AgentConfig   `yaml:"agent"`
	Hosts      []HostConfig  `yaml:"hosts"`
	FileServer string        `yaml:"file_server"`
}

// HostConfig is one entry in the server's static fleet list: a host's
// agent address and resource capacity, the pair pkg/offer.AgentBacked
// needs per host (port capacity comes live from the agent's GetPorts
// RPC instead, per SPEC_FULL.md §3).
type HostConfig struct {
	Host      string `yaml:"host"`
	AgentAddr string `yaml:"agent_addr"`
	CPU       int    `yaml:"cpu"`
	Memory    int64  `yaml:"memory"`
}

// EtcdConfig configures the metadata-store client.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// PlannerConfig holds the per-instance resource defaults plan() uses
// when a caller doesn't override them.
type PlannerConfig struct {
	CPUPer int   `yaml:"cpu_per"`
	MemPer int64 `yaml:"mem_per"`
}

// DeployConfig configures the convergence driver's deploy fan-out.
type DeployConfig struct {
	Retry          int           `yaml:"retry"`
	FetchInterval  time.Duration `yaml:"fetch_interval"`
	SettleWait     time.Duration `yaml:"settle_wait"`
	BalanceTimeout time.Duration `yaml:"balance_timeout"`
	BalanceTick    time.Duration `yaml:"balance_tick"`
}

// AgentConfig configures the agent daemon.
type AgentConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	InstanceDir string `yaml:"instance_dir"`
	LibDir      string `yaml:"lib_dir"`
	SystemdDir  string `yaml:"systemd_dir"`
}

// Defaults returns the baseline configuration, matching spec.md §4.2/§6's
// named defaults (3-minute balance timeout, 3-second tick, 1-second
// settle wait).
func Defaults() Config {
	return Config{
		Etcd: EtcdConfig{
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
		},
		Planner: PlannerConfig{
			CPUPer: 200,
			MemPer: 1 << 30,
		},
		Deploy: DeployConfig{
			Retry:          3,
			FetchInterval:  30 * time.Second,
			SettleWait:     time.Second,
			BalanceTimeout: 3 * time.Minute,
			BalanceTick:    3 * time.Second,
		},
		Agent: AgentConfig{
			ListenAddr:  ":7777",
			InstanceDir: "/data/haste/instance",
			LibDir:      "/data/haste/lib",
			SystemdDir:  "/etc/systemd/system",
		},
	}
}

// Load reads and merges a YAML file at path over Defaults. A missing
// path is not an error; Defaults() is returned unchanged.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, herrors.FatalIO("read config file", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, herrors.Validation("parse config file: " + err.Error())
	}
	return cfg, nil
}
