// Package servicemgr is the agent's systemd shim (spec.md §4.5),
// grounded on original_source/haste-core/src/systemd.rs's do_action/
// call_systemd, which shells out to systemctl directly with no D-Bus
// binding.
package servicemgr

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/haste-cluster/haste/pkg/herrors"
	"github.com/haste-cluster/haste/pkg/log"
)

const execTimeout = 15 * time.Second

// Manager drives systemctl for a configured unit directory.
type Manager struct {
	SystemdDir string
}

// New builds a Manager rooted at systemdDir (e.g. /etc/systemd/system).
func New(systemdDir string) *Manager {
	return &Manager{SystemdDir: systemdDir}
}

// ServiceName returns "cache-<port>.service", spec.md §4.3's naming rule.
func ServiceName(port int) string {
	return "cache-" + strconv.Itoa(port) + ".service"
}

// DaemonReload runs "systemctl daemon-reload".
func (m *Manager) DaemonReload(ctx context.Context) error {
	return m.call(ctx, "daemon-reload")
}

// Setup reloads unit files. Port-agnostic, per spec.md §4.5.
func (m *Manager) Setup(ctx context.Context) error {
	return m.DaemonReload(ctx)
}

// Start runs "systemctl start <service-name(port)>". Fails if port < 0.
func (m *Manager) Start(ctx context.Context, port int) error {
	if port < 0 {
		return herrors.Validation("start requires port >= 0")
	}
	return m.call(ctx, "start", ServiceName(port))
}

// Stop runs "systemctl stop <service-name(port)>". Fails if port < 0.
func (m *Manager) Stop(ctx context.Context, port int) error {
	if port < 0 {
		return herrors.Validation("stop requires port >= 0")
	}
	return m.call(ctx, "stop", ServiceName(port))
}

// Restart runs "systemctl restart <service-name(port)>". Fails if port < 0.
func (m *Manager) Restart(ctx context.Context, port int) error {
	if port < 0 {
		return herrors.Validation("restart requires port >= 0")
	}
	return m.call(ctx, "restart", ServiceName(port))
}

// Remove best-effort stops the unit, deletes its unit file, then
// reloads. Port-agnostic, like Setup. Failures in the stop/delete steps
// are logged, never fatal, matching the Rust source's
// do_action(Remove).
func (m *Manager) Remove(ctx context.Context, port int) error {
	name := ServiceName(port)
	if err := m.call(ctx, "stop", name); err != nil {
		log.Warn("stop before remove failed for " + name + ": " + err.Error())
	}

	path := filepath.Join(m.SystemdDir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("remove unit file failed for " + name + ": " + err.Error())
	}

	return m.DaemonReload(ctx)
}

func (m *Manager) call(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "systemctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return herrors.Transport("systemctl "+strings.Join(args, " ")+": "+string(out), err)
	}
	return nil
}
