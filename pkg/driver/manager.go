// Package driver owns the browser driver process of a single capture run
// and the throwaway profile directory handed to the browser.
package driver

import (
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/root4loot/goutils/log"
	"golang.org/x/sys/unix"

	"github.com/root4loot/shave/internal/errors"
)

// DefaultExecutable is the driver binary spawned when none is configured.
const DefaultExecutable = "chromedriver"

const (
	profilePrefix = "shave-profile-"
	outputLimit   = 64 << 10
	waitDelay     = 5 * time.Second
)

// Manager spawns at most one driver process and releases it together
// with the profile directory on Teardown.
type Manager struct {
	profileDir string

	mu     sync.Mutex
	proc   *Process
	closed bool

	once        sync.Once
	teardownErr error
}

// Process is a running driver started by a Manager.
type Process struct {
	cmd        *exec.Cmd
	executable string
	output     *tailBuffer
}

// NewManager creates the per-run profile directory.
func NewManager() (*Manager, error) {
	dir, err := os.MkdirTemp("", profilePrefix)
	if err != nil {
		return nil, &errors.IOError{Op: "mkdir", Path: os.TempDir(), Err: err}
	}
	log.Debugf("Created profile directory %s", dir)
	return &Manager{profileDir: dir}, nil
}

// ProfileDir is the isolated browser profile path owned by m.
func (m *Manager) ProfileDir() string { return m.profileDir }

// Spawn starts executable in its own process group. Its standard output
// and error are kept in a bounded buffer and never interpreted.
func (m *Manager) Spawn(executable string, args ...string) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc != nil || m.closed {
		return nil, errors.ErrAlreadySpawned
	}

	out := newTailBuffer(outputLimit)
	cmd := exec.Command(executable, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, &errors.LaunchError{Executable: executable, Err: err}
	}

	log.Debugf("Spawned %s with pid %d", executable, cmd.Process.Pid)
	m.proc = &Process{cmd: cmd, executable: executable, output: out}
	return m.proc, nil
}

// Process returns the spawned driver, or nil.
func (m *Manager) Process() *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc
}

// Teardown kills the driver's process group, reaps the driver and removes
// the profile directory. Only the first call does any work; later calls
// return the same result. It is safe to call when nothing was spawned.
func (m *Manager) Teardown() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		proc := m.proc
		m.mu.Unlock()

		var errs []error
		if proc != nil {
			errs = append(errs, proc.stop()...)
		}
		if err := os.RemoveAll(m.profileDir); err != nil {
			errs = append(errs, &errors.TeardownError{Op: "remove", Target: m.profileDir, Err: err})
		}
		m.teardownErr = errors.Join(errs...)
	})
	return m.teardownErr
}

func (p *Process) stop() []error {
	var errs []error
	pid := p.PID()
	target := strconv.Itoa(pid)

	// The browser started by the driver shares its process group.
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		errs = append(errs, &errors.TeardownError{Op: "kill", Target: target, Err: err})
	}

	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			errs = append(errs, &errors.TeardownError{Op: "wait", Target: target, Err: err})
		}
	}

	if out := p.Output(); len(out) > 0 {
		log.Debugf("%s (pid %d) output:\n%s", p.executable, pid, out)
	}
	return errs
}

// PID of the driver process.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Executable is the name the process was started with.
func (p *Process) Executable() string { return p.executable }

// Output returns the most recent combined stdout and stderr of the driver.
func (p *Process) Output() []byte { return p.output.Bytes() }
