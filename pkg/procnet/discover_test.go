package procnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shaveerrors "github.com/root4loot/shave/internal/errors"
	"github.com/root4loot/shave/internal/retry"
)

const helperEnv = "SHAVE_WANT_HELPER_PROCESS"

// TestHelperProcess is not a real test. It is re-executed as a child by
// startHelper and either idles or binds an ephemeral loopback port and
// prints it.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) == "" {
		return
	}

	if os.Getenv(helperEnv) == "listen" {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		defer ln.Close()
		fmt.Println(ln.Addr().(*net.TCPAddr).Port)
	}

	time.Sleep(time.Minute)
	os.Exit(0)
}

func startHelper(t *testing.T, mode string) (*exec.Cmd, *bufio.Reader) {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), helperEnv+"="+mode)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd, bufio.NewReader(stdout)
}

// fakeClock moves forward by whatever duration After is asked for.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	c.mu.Unlock()
	return ch
}

func TestDiscoverPortOwnListener(t *testing.T) {
	requireProcFS(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port, err := DiscoverPort(context.Background(), os.Getpid(), DefaultDiscoverOptions())
	require.NoError(t, err)
	assert.Equal(t, uint16(ln.Addr().(*net.TCPAddr).Port), port)
}

func TestDiscoverPortSpawnedProcess(t *testing.T) {
	requireProcFS(t)

	cmd, stdout := startHelper(t, "listen")

	// Discovery starts right after spawn, before the child has reported
	// anything.
	port, err := DiscoverPort(context.Background(), cmd.Process.Pid, DiscoverOptions{
		Timeout:  5 * time.Second,
		Interval: time.Millisecond,
	})
	require.NoError(t, err)

	line, err := stdout.ReadString('\n')
	require.NoError(t, err)
	reported, err := strconv.Atoi(strings.TrimSpace(line))
	require.NoError(t, err)

	assert.Equal(t, uint16(reported), port)
}

func TestDiscoverPortTimeout(t *testing.T) {
	requireProcFS(t)

	cmd, _ := startHelper(t, "idle")
	pid := cmd.Process.Pid

	clock := &fakeClock{now: time.Unix(0, 0)}
	start := clock.Now()

	_, err := DiscoverPort(context.Background(), pid, DiscoverOptions{
		Timeout:  DefaultDiscoverTimeout,
		Interval: time.Second,
		Clock:    clock,
	})
	require.Error(t, err)

	var te *shaveerrors.TimeoutError
	require.True(t, errors.As(err, &te), "got %T: %v", err, err)
	assert.Equal(t, pid, te.PID)
	assert.ErrorIs(t, err, shaveerrors.ErrTimeout)
	assert.Contains(t, err.Error(), fmt.Sprintf("failed to find local host port for process %d", pid))
	assert.GreaterOrEqual(t, clock.Now().Sub(start), DefaultDiscoverTimeout)
}

func TestDiscoverPortMissingProcess(t *testing.T) {
	_, err := DiscoverPort(context.Background(), -1, DiscoverOptions{Timeout: time.Hour})
	require.Error(t, err)

	var ioErr *shaveerrors.IOError
	assert.True(t, errors.As(err, &ioErr), "missing process must abort, got %v", err)
}

func TestDiscoverPortCancelled(t *testing.T) {
	requireProcFS(t)

	cmd, _ := startHelper(t, "idle")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := DiscoverPort(ctx, cmd.Process.Pid, DiscoverOptions{Timeout: time.Hour, Interval: time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type row struct {
	entry TCPEntry
	err   error
}

func seqOf[T any](items []T, errs []error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for i, item := range items {
			if !yield(item, errs[i]) {
				return
			}
		}
	}
}

func sockets(inodes ...uint64) iter.Seq2[uint64, error] {
	return seqOf(inodes, make([]error, len(inodes)))
}

func table(rows ...row) iter.Seq2[TCPEntry, error] {
	entries := make([]TCPEntry, len(rows))
	errs := make([]error, len(rows))
	for i, r := range rows {
		entries[i], errs[i] = r.entry, r.err
	}
	return seqOf(entries, errs)
}

func TestAttemptPort(t *testing.T) {
	other := netip.AddrFrom4([4]byte{10, 0, 0, 1})
	match := row{entry: TCPEntry{Addr: loopback, Port: 9515, Inode: 42}}
	malformed := row{err: &shaveerrors.ParseError{Field: "port number", Line: "0: 0100007F:ZZZZ"}}

	tests := []struct {
		name      string
		sockets   iter.Seq2[uint64, error]
		table     iter.Seq2[TCPEntry, error]
		wantPort  uint16
		wantOK    bool
		wantParse bool
		permanent bool
	}{
		{
			name:     "match",
			sockets:  sockets(7, 42),
			table:    table(row{entry: TCPEntry{Addr: loopback, Port: 80, Inode: 1}}, match),
			wantPort: 9515,
			wantOK:   true,
		},
		{
			name:      "malformed row ahead of match",
			sockets:   sockets(42),
			table:     table(malformed, match),
			wantParse: true,
		},
		{
			name:     "malformed row after match",
			sockets:  sockets(42),
			table:    table(match, malformed),
			wantPort: 9515,
			wantOK:   true,
		},
		{
			name:      "table read failure",
			sockets:   sockets(42),
			table:     table(row{err: &shaveerrors.IOError{Op: "read", Path: "proc tcp table", Err: os.ErrClosed}}),
			permanent: true,
		},
		{
			name:      "fd read failure",
			sockets:   seqOf([]uint64{0}, []error{&shaveerrors.IOError{Op: "readdir", Path: "/proc/1/fd", Err: os.ErrPermission}}),
			table:     table(match),
			permanent: true,
		},
		{
			name:    "matching inode on non-loopback address",
			sockets: sockets(42),
			table:   table(row{entry: TCPEntry{Addr: other, Port: 9515, Inode: 42}}),
		},
		{
			name:    "loopback row owned by another process",
			sockets: sockets(7),
			table:   table(match),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok, err := attemptPort(tt.sockets, tt.table)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPort, port)

			switch {
			case tt.permanent:
				require.Error(t, err)
				assert.True(t, retry.IsPermanent(err))
				var ioErr *shaveerrors.IOError
				assert.True(t, errors.As(err, &ioErr))
			case tt.wantParse:
				require.Error(t, err)
				assert.False(t, retry.IsPermanent(err), "malformed rows only fail the attempt")
				var parseErr *shaveerrors.ParseError
				assert.True(t, errors.As(err, &parseErr))
			default:
				assert.NoError(t, err)
			}
		})
	}
}
