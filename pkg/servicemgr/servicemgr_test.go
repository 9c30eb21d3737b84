package servicemgr

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haste-cluster/haste/pkg/herrors"
)

// withFakeSystemctl prepends a directory holding a stub "systemctl"
// script to PATH, so call() exercises a real exec.CommandContext
// without touching the host's actual service manager. exitCode
// controls the stub's exit status.
func withFakeSystemctl(t *testing.T, exitCode int) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell stub")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "systemctl")
	body := "#!/bin/sh\necho \"$@\"\nexit " + strconv.Itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "cache-7000.service", ServiceName(7000))
}

func TestStart_Succeeds(t *testing.T) {
	withFakeSystemctl(t, 0)
	m := New(t.TempDir())
	require.NoError(t, m.Start(context.Background(), 7000))
}

func TestStart_RejectsNegativePort(t *testing.T) {
	m := New(t.TempDir())
	err := m.Start(context.Background(), -1)
	require.Error(t, err)
	kind, ok := herrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, herrors.ValidationError, kind)
}

func TestStop_PropagatesSystemctlFailure(t *testing.T) {
	withFakeSystemctl(t, 1)
	m := New(t.TempDir())
	err := m.Stop(context.Background(), 7000)
	require.Error(t, err)
	kind, ok := herrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, herrors.TransportError, kind)
}

func TestSetup_IsPortAgnostic(t *testing.T) {
	withFakeSystemctl(t, 0)
	m := New(t.TempDir())
	require.NoError(t, m.Setup(context.Background()))
}

func TestRemove_BestEffortNeverFailsOnMissingUnit(t *testing.T) {
	withFakeSystemctl(t, 0)
	m := New(t.TempDir())
	require.NoError(t, m.Remove(context.Background(), 7000))
}
