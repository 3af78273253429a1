package driver

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	shaveerrors "github.com/root4loot/shave/internal/errors"
)

func requireExecutable(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available", name)
	}
	return path
}

func TestManagerLifecycle(t *testing.T) {
	sleep := requireExecutable(t, "sleep")

	m, err := NewManager()
	require.NoError(t, err)
	assert.DirExists(t, m.ProfileDir())
	assert.True(t, strings.HasPrefix(filepath.Base(m.ProfileDir()), profilePrefix))

	proc, err := m.Spawn(sleep, "60")
	require.NoError(t, err)
	require.Positive(t, proc.PID())
	assert.Equal(t, sleep, proc.Executable())
	assert.Same(t, proc, m.Process())

	require.NoError(t, m.Teardown())

	assert.NoDirExists(t, m.ProfileDir())
	assert.ErrorIs(t, unix.Kill(proc.PID(), 0), unix.ESRCH, "driver must be reaped")
}

func TestManagerKillsProcessGroup(t *testing.T) {
	sh := requireExecutable(t, "sh")
	requireExecutable(t, "sleep")

	m, err := NewManager()
	require.NoError(t, err)

	// The grandchild holds the output pipe open. Reaping only finishes
	// early if it died together with the driver.
	_, err = m.Spawn(sh, "-c", "sleep 60 & wait")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, m.Teardown())
	assert.Less(t, time.Since(start), waitDelay)
}

func TestManagerTeardownIdempotent(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	// Nothing spawned, as after a failed discovery.
	assert.NotPanics(t, func() {
		require.NoError(t, m.Teardown())
		require.NoError(t, m.Teardown())
	})
	assert.NoDirExists(t, m.ProfileDir())

	_, err = m.Spawn("sleep", "60")
	assert.ErrorIs(t, err, shaveerrors.ErrAlreadySpawned, "spawning after teardown must fail")
}

func TestManagerSpawnOnce(t *testing.T) {
	sleep := requireExecutable(t, "sleep")

	m, err := NewManager()
	require.NoError(t, err)
	defer m.Teardown()

	_, err = m.Spawn(sleep, "60")
	require.NoError(t, err)

	_, err = m.Spawn(sleep, "60")
	assert.ErrorIs(t, err, shaveerrors.ErrAlreadySpawned)
}

func TestManagerLaunchError(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)
	defer m.Teardown()

	_, err = m.Spawn("/nonexistent/shave-driver", "--port=0")
	require.Error(t, err)

	var launchErr *shaveerrors.LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Equal(t, "/nonexistent/shave-driver", launchErr.Executable)
	assert.Contains(t, err.Error(), "failed to launch `/nonexistent/shave-driver` instance")
	assert.Nil(t, m.Process())
}

func TestManagerCapturesOutput(t *testing.T) {
	sh := requireExecutable(t, "sh")
	requireExecutable(t, "sleep")

	m, err := NewManager()
	require.NoError(t, err)
	defer m.Teardown()

	// The driver stays alive until teardown, so the kill never races the writes.
	proc, err := m.Spawn(sh, "-c", "echo out; echo err >&2; exec sleep 60")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		out := string(proc.Output())
		return strings.Contains(out, "out") && strings.Contains(out, "err")
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Teardown())
	out := string(proc.Output())
	assert.Contains(t, out, "out", "output must survive teardown")
	assert.Contains(t, out, "err")
}

func TestManagerTeardownReportsRemoveFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	m, err := NewManager()
	require.NoError(t, err)

	inner := filepath.Join(m.ProfileDir(), "locked")
	require.NoError(t, os.MkdirAll(filepath.Join(inner, "sub"), 0o755))
	require.NoError(t, os.Chmod(inner, 0o500))
	defer func() {
		_ = os.Chmod(inner, 0o755)
		_ = os.RemoveAll(m.ProfileDir())
	}()

	err = m.Teardown()
	require.Error(t, err)

	var te *shaveerrors.TeardownError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "remove", te.Op)
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)

	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defgh"))
	assert.Equal(t, "abcdefgh", string(b.Bytes()))

	_, _ = b.Write([]byte("ij"))
	assert.Equal(t, "cdefghij", string(b.Bytes()))

	n, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789", string(b.Bytes()))
}
