// Package deployer is the agent-side C6 state machine (spec.md §4.3):
// clean dirty state, fetch the cache binary if missing, render config
// files, reload and start the service units. Grounded on
// original_source/haste-core/src/deploy/agent.rs's CacheDeployer, with
// a bbolt ledger tracking both binary-install completion and, per
// port, the SHA-256 of the last-applied instance file bundle, so a
// retried Deploy call skips a binary download that already completed,
// and render skips a port whose bundle is unchanged and whose files are
// all still on disk.
package deployer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/haste-cluster/haste/api/rpc"
	"github.com/haste-cluster/haste/pkg/herrors"
	"github.com/haste-cluster/haste/pkg/htypes"
	"github.com/haste-cluster/haste/pkg/log"
	"github.com/haste-cluster/haste/pkg/metrics"
	"github.com/haste-cluster/haste/pkg/servicemgr"
)

const downloadTimeout = 2 * time.Minute

// Deployer runs the agent Deploy/DoAction state machine for one host.
type Deployer struct {
	instanceDir string
	libDir      string
	svc         *servicemgr.Manager
	ledger      *ledger
	httpClient  *http.Client

	// mu serializes binary-install renames and service-manager
	// daemon-reload, spec.md §4.3's single process-wide mutex.
	mu sync.Mutex
}

// New builds a Deployer rooted at instanceDir/libDir, using svc for
// service-unit lifecycle and a bbolt ledger under dataDir for
// binary-install idempotency.
func New(instanceDir, libDir, dataDir string, svc *servicemgr.Manager) (*Deployer, error) {
	l, err := openLedger(dataDir)
	if err != nil {
		return nil, err
	}
	return &Deployer{
		instanceDir: instanceDir,
		libDir:      libDir,
		svc:         svc,
		ledger:      l,
		httpClient:  &http.Client{Timeout: downloadTimeout},
	}, nil
}

// Close releases the ledger.
func (d *Deployer) Close() error {
	return d.ledger.Close()
}

// Deploy runs the full state machine for req: clean, binary-check,
// render, reload, start. Per spec.md §4.3, clean/render/start errors
// surface directly; binary-check errors also surface since a torn
// download is never promoted into place. Satisfies rpc.AgentServer.
func (d *Deployer) Deploy(ctx context.Context, req *rpc.CacheInfo) (*rpc.CacheState, error) {
	info := req.ToHTypes()
	ports := make([]int, 0, len(info.Instances))
	for _, inst := range info.Instances {
		ports = append(ports, inst.Port)
	}

	if err := d.cleanDirty(ctx, ports); err != nil {
		metrics.AgentDeploysTotal.WithLabelValues("clean_failed").Inc()
		return nil, err
	}

	if err := d.ensureBinary(ctx, info.CacheType, info.Version, info.FileServer); err != nil {
		metrics.AgentDeploysTotal.WithLabelValues("binary_failed").Inc()
		return nil, err
	}

	if err := d.render(info.Instances); err != nil {
		metrics.AgentDeploysTotal.WithLabelValues("render_failed").Inc()
		return nil, err
	}

	d.mu.Lock()
	reloadErr := d.svc.Setup(ctx)
	d.mu.Unlock()
	if reloadErr != nil {
		metrics.AgentDeploysTotal.WithLabelValues("reload_failed").Inc()
		return nil, reloadErr
	}

	state := &rpc.CacheState{Instances: make([]rpc.InstanceState, 0, len(ports))}
	for _, port := range ports {
		if err := d.svc.Start(ctx, port); err != nil {
			state.Instances = append(state.Instances, rpc.InstanceState{Port: port, Running: false, Error: err.Error()})
			metrics.AgentDeploysTotal.WithLabelValues("start_failed").Inc()
			return state, err
		}
		state.Instances = append(state.Instances, rpc.InstanceState{Port: port, Running: true})
	}
	metrics.AgentDeploysTotal.WithLabelValues("ok").Inc()
	return state, nil
}

// cleanDirty removes any previous instance directory and systemd unit
// for each target port. Best-effort: failures are logged, never fatal,
// per spec.md §4.3 step 1 — EXCEPT the recursive directory removal,
// which surfaces since a half-cleaned instance dir would corrupt the
// render step.
func (d *Deployer) cleanDirty(ctx context.Context, ports []int) error {
	for _, port := range ports {
		dir := filepath.Join(d.instanceDir, strconv.Itoa(port))
		if _, err := os.Stat(dir); err == nil {
			if err := os.RemoveAll(dir); err != nil {
				return herrors.FatalIO(fmt.Sprintf("clean instance dir %s", dir), err)
			}
		}

		d.mu.Lock()
		err := d.svc.Remove(ctx, port)
		d.mu.Unlock()
		if err != nil {
			log.Warn(fmt.Sprintf("clean dirty: remove unit for port %d: %v", port, err))
		}
	}
	return nil
}

// ensureBinary downloads and installs the cache binary if the ledger
// doesn't already have it recorded, per spec.md §4.3 step 2.
func (d *Deployer) ensureBinary(ctx context.Context, cacheType htypes.CacheType, version, fileServer string) error {
	kind := cacheType.BinaryKind()
	binaryName := cacheType.BinaryName()

	installed, err := d.ledger.isInstalled(kind, version, binaryName)
	if err != nil {
		return herrors.FatalIO("check binary ledger", err)
	}
	destDir := filepath.Join(d.libDir, kind, version)
	dest := filepath.Join(destDir, binaryName)
	if installed {
		if _, statErr := os.Stat(dest); statErr == nil {
			return nil
		}
	}

	url := fmt.Sprintf("%s/%s-%s-%s", fileServer, kind, version, binaryName)
	tmp, err := d.download(ctx, url)
	if err != nil {
		metrics.AgentBinaryDownloadsTotal.WithLabelValues(kind, "failed").Inc()
		return err
	}
	defer os.Remove(tmp)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return herrors.FatalIO("create lib dir "+destDir, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return herrors.FatalIO("install binary into "+dest, err)
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return herrors.FatalIO("chmod binary "+dest, err)
	}

	metrics.AgentBinaryDownloadsTotal.WithLabelValues(kind, "ok").Inc()
	return d.ledger.markInstalled(kind, version, binaryName)
}

func (d *Deployer) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", herrors.Transport("build binary download request", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", herrors.Transport("download binary from "+url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", herrors.Transport(fmt.Sprintf("download binary from %s: status %d", url, resp.StatusCode), nil)
	}

	f, err := os.CreateTemp("", "haste-binary-*")
	if err != nil {
		return "", herrors.FatalIO("create temp file for binary download", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", herrors.FatalIO("write binary download to temp file", err)
	}
	return f.Name(), nil
}

// render writes every rendered file for every instance, creating
// parent directories and truncating existing files, per spec.md §4.3
// step 3. Per port, the SHA-256 of the bundle is compared against the
// ledger's last-applied hash first: when it is unchanged and every file
// of the bundle is still on disk, the port is skipped. Deploy's clean
// step removes the instance dir and unit file before render runs, so
// within Deploy those files are rewritten.
func (d *Deployer) render(instances []htypes.InstanceBundle) error {
	for _, inst := range instances {
		hash := bundleHash(inst)

		lastHash, found, err := d.ledger.bundleHash(inst.Port)
		if err != nil {
			return herrors.FatalIO(fmt.Sprintf("read bundle ledger for port %d", inst.Port), err)
		}
		if found && lastHash == hash {
			present := true
			for _, file := range inst.Files {
				if _, statErr := os.Stat(file.Path); statErr != nil {
					present = false
					break
				}
			}
			if present {
				continue
			}
		}

		for _, file := range inst.Files {
			if err := os.MkdirAll(filepath.Dir(file.Path), 0o755); err != nil {
				return herrors.FatalIO("create parent dir for "+file.Path, err)
			}
			if err := os.WriteFile(file.Path, []byte(file.Content), 0o644); err != nil {
				return herrors.FatalIO("write rendered file "+file.Path, err)
			}
		}

		if found && lastHash != hash {
			log.Info(fmt.Sprintf("render: port %d bundle changed, rewrote %d files", inst.Port, len(inst.Files)))
		}
		if err := d.ledger.setBundleHash(inst.Port, hash); err != nil {
			return herrors.FatalIO(fmt.Sprintf("record bundle hash for port %d", inst.Port), err)
		}
	}
	return nil
}

// bundleHash hashes an instance's rendered files in their given order
// (the driver's renderInstanceFiles always emits them in the same order for the same
// Instance, so order-sensitivity doesn't cause spurious rewrites).
func bundleHash(inst htypes.InstanceBundle) string {
	h := sha256.New()
	for _, file := range inst.Files {
		h.Write([]byte(file.Path))
		h.Write([]byte{0})
		h.Write([]byte(file.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DoAction dispatches a single lifecycle action to the service
// manager, per spec.md §4.5.
func (d *Deployer) DoAction(ctx context.Context, action *rpc.Action) (*rpc.CacheState, error) {
	var err error
	switch action.Kind {
	case rpc.ActionSetup:
		d.mu.Lock()
		err = d.svc.Setup(ctx)
		d.mu.Unlock()
	case rpc.ActionRemove:
		d.mu.Lock()
		err = d.svc.Remove(ctx, action.Port)
		d.mu.Unlock()
	case rpc.ActionStart:
		err = d.svc.Start(ctx, action.Port)
	case rpc.ActionStop:
		err = d.svc.Stop(ctx, action.Port)
	case rpc.ActionRestart:
		err = d.svc.Restart(ctx, action.Port)
	default:
		err = herrors.Validation("unknown action kind " + string(action.Kind))
	}

	running := err == nil && (action.Kind == rpc.ActionStart || action.Kind == rpc.ActionRestart)
	state := &rpc.CacheState{Instances: []rpc.InstanceState{{Port: action.Port, Running: running}}}
	if err != nil {
		state.Instances[0].Error = err.Error()
		return state, err
	}
	return state, nil
}

// GetPorts reports count OS-assigned free ports on this host. original_
// source/haste-core/src/offer.rs's fetch_offer is an unimplemented
// stub, so this discovery strategy (bind to :0, read the assigned
// port, close) is new: the offer source (C1) relies on it through the
// agent RPC rather than guessing at a free-port range.
func (d *Deployer) GetPorts(ctx context.Context, req *rpc.PortAcquire) (*rpc.Ports, error) {
	ports := make([]int, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, herrors.Transport("acquire free port", err)
		}
		port := l.Addr().(*net.TCPAddr).Port
		l.Close()
		ports = append(ports, port)
	}
	return &rpc.Ports{Ports: ports}, nil
}
