package deployer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haste-cluster/haste/api/rpc"
	"github.com/haste-cluster/haste/pkg/htypes"
	"github.com/haste-cluster/haste/pkg/servicemgr"
)

func fakeSystemctl(t *testing.T) *servicemgr.Manager {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell stub")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "systemctl")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return servicemgr.New(t.TempDir())
}

func newTestDeployer(t *testing.T) *Deployer {
	t.Helper()
	d, err := New(t.TempDir(), t.TempDir(), t.TempDir(), fakeSystemctl(t))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRender_WritesFilesAndCreatesParents(t *testing.T) {
	d := newTestDeployer(t)
	base := t.TempDir()
	path := filepath.Join(base, "nested", "redis.conf")

	err := d.render([]htypes.InstanceBundle{
		{Port: 7000, Files: []htypes.RenderedFile{{Path: path, Content: "port 7000\n"}}},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "port 7000\n", string(data))
}

func TestRender_SkipsRewriteWhenBundleUnchanged(t *testing.T) {
	d := newTestDeployer(t)
	base := t.TempDir()
	path := filepath.Join(base, "redis.conf")
	bundle := []htypes.InstanceBundle{
		{Port: 7001, Files: []htypes.RenderedFile{{Path: path, Content: "port 7001\n"}}},
	}

	require.NoError(t, d.render(bundle))

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))
	require.NoError(t, d.render(bundle))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tampered", string(data), "unchanged bundle hash should skip rewriting the file")
}

func TestRender_RewritesWhenBundleChanges(t *testing.T) {
	d := newTestDeployer(t)
	base := t.TempDir()
	path := filepath.Join(base, "redis.conf")

	require.NoError(t, d.render([]htypes.InstanceBundle{
		{Port: 7002, Files: []htypes.RenderedFile{{Path: path, Content: "port 7002\n"}}},
	}))

	require.NoError(t, d.render([]htypes.InstanceBundle{
		{Port: 7002, Files: []htypes.RenderedFile{{Path: path, Content: "port 7002\nmaxmemory 100mb\n"}}},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "port 7002\nmaxmemory 100mb\n", string(data))
}

func TestEnsureBinary_DownloadsAndMarksInstalled(t *testing.T) {
	d := newTestDeployer(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-binary-bytes"))
	}))
	defer srv.Close()

	err := d.ensureBinary(context.Background(), htypes.CacheTypeRedis, "7.2.4", srv.URL)
	require.NoError(t, err)

	dest := filepath.Join(d.libDir, "redis", "7.2.4", "redis-server")
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.Mode()&0o100 != 0)

	installed, err := d.ledger.isInstalled("redis", "7.2.4", "redis-server")
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestEnsureBinary_SkipsDownloadWhenAlreadyInstalled(t *testing.T) {
	d := newTestDeployer(t)
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	require.NoError(t, d.ensureBinary(context.Background(), htypes.CacheTypeRedis, "7.2.4", srv.URL))
	called = false

	require.NoError(t, d.ensureBinary(context.Background(), htypes.CacheTypeRedis, "7.2.4", srv.URL))
	assert.False(t, called)
}

func TestEnsureBinary_PropagatesDownloadFailure(t *testing.T) {
	d := newTestDeployer(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := d.ensureBinary(context.Background(), htypes.CacheTypeMemcache, "1.6.0", srv.URL)
	require.Error(t, err)
}

func TestGetPorts_ReturnsDistinctFreePorts(t *testing.T) {
	d := newTestDeployer(t)
	resp, err := d.GetPorts(context.Background(), &rpc.PortAcquire{Count: 3})
	require.NoError(t, err)
	require.Len(t, resp.Ports, 3)

	seen := map[int]bool{}
	for _, p := range resp.Ports {
		assert.False(t, seen[p], "duplicate port %d", p)
		seen[p] = true
		assert.Greater(t, p, 0)
	}
}

func TestDoAction_UnknownKindIsValidationError(t *testing.T) {
	d := newTestDeployer(t)
	_, err := d.DoAction(context.Background(), &rpc.Action{Kind: rpc.ActionKind("bogus"), Port: 7000})
	require.Error(t, err)
}

func TestDoAction_StartReportsRunning(t *testing.T) {
	d := newTestDeployer(t)
	state, err := d.DoAction(context.Background(), &rpc.Action{Kind: rpc.ActionStart, Port: 7000})
	require.NoError(t, err)
	require.Len(t, state.Instances, 1)
	assert.True(t, state.Instances[0].Running)
}
