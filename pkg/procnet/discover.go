package procnet

import (
	"context"
	"iter"
	"net/netip"
	"time"

	"github.com/root4loot/shave/internal/errors"
	"github.com/root4loot/shave/internal/retry"
)

const (
	// DefaultDiscoverTimeout bounds the wait for a driver to bind its port.
	DefaultDiscoverTimeout = 30 * time.Second
	// DefaultDiscoverInterval is the pause between two discovery attempts.
	DefaultDiscoverInterval = time.Millisecond
)

var loopback = netip.AddrFrom4([4]byte{127, 0, 0, 1})

// DiscoverOptions bounds DiscoverPort.
type DiscoverOptions struct {
	// Timeout of zero makes a single attempt.
	Timeout  time.Duration
	Interval time.Duration
	Clock    retry.Clock // nil means wall clock
}

// DefaultDiscoverOptions returns the stock 30s / 1ms polling policy.
func DefaultDiscoverOptions() DiscoverOptions {
	return DiscoverOptions{
		Timeout:  DefaultDiscoverTimeout,
		Interval: DefaultDiscoverInterval,
		Clock:    retry.WallClock,
	}
}

// DiscoverPort polls the kernel tables until pid owns a socket bound to
// 127.0.0.1 and returns that socket's port.
//
// A port is only accepted when the table row's inode is one of pid's
// open socket descriptors, so a port bound by another process is never
// returned. The timeout runs from the first attempt; call DiscoverPort
// right after spawning the process. Failing to read pid's fd directory
// or connection table aborts immediately with a *errors.IOError.
func DiscoverPort(ctx context.Context, pid int, opts DiscoverOptions) (uint16, error) {
	var last error

	port, err := retry.Until(ctx, retry.Policy{
		Timeout:  opts.Timeout,
		Interval: opts.Interval,
		Clock:    opts.Clock,
	}, func() (uint16, bool, error) {
		port, ok, err := attemptPort(SocketInodes(pid), Table(pid))
		if err != nil && !retry.IsPermanent(err) {
			last = err
		}
		return port, ok, err
	})
	if errors.Is(err, errors.ErrTimeout) {
		if last == nil {
			last = errors.ErrTimeout
		}
		return 0, &errors.TimeoutError{PID: pid, Timeout: opts.Timeout, Err: last}
	}
	if err != nil {
		return 0, err
	}
	return port, nil
}

// attemptPort performs one discovery pass. The table is scanned in
// order and the first row that either matches or fails to parse decides
// the attempt: a malformed row ahead of the match fails this attempt
// only, and the caller retries. Read failures are permanent.
func attemptPort(sockets iter.Seq2[uint64, error], table iter.Seq2[TCPEntry, error]) (uint16, bool, error) {
	inodes := make(map[uint64]struct{})
	for inode, err := range sockets {
		if err != nil {
			return 0, false, retry.Permanent(err)
		}
		inodes[inode] = struct{}{}
	}

	for entry, err := range table {
		if err != nil {
			var ioErr *errors.IOError
			if errors.As(err, &ioErr) {
				return 0, false, retry.Permanent(err)
			}
			return 0, false, err
		}
		if _, ok := inodes[entry.Inode]; ok && entry.Addr == loopback {
			return entry.Port, true, nil
		}
	}

	return 0, false, nil
}
