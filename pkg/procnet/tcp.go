// Package procnet reads the Linux /proc connection table and
// file-descriptor listing to find the TCP port a process has bound.
package procnet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/root4loot/shave/internal/errors"
)

const procRoot = "/proc"

// TCPEntry is one row of a /proc/<pid>/net/tcp table.
type TCPEntry struct {
	Addr  netip.Addr // local address
	Port  uint16     // local port
	Inode uint64     // socket inode
}

// Table parses the IPv4 TCP table as seen by pid. Whether the global
// /proc/net/tcp or the per-process copy is read makes no difference;
// the latter is a snapshot of the former for the process's namespace.
//
// The file is opened when iteration starts and closed when it ends. A
// failure to open it is the single, terminal item of the sequence.
func Table(pid int) iter.Seq2[TCPEntry, error] {
	path := filepath.Join(procRoot, strconv.Itoa(pid), "net", "tcp")

	return func(yield func(TCPEntry, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(TCPEntry{}, &errors.IOError{Op: "open", Path: path, Err: err})
			return
		}
		defer f.Close()

		for entry, err := range ParseTable(f) {
			if !yield(entry, err) {
				return
			}
		}
	}
}

// ParseTable parses a proc tcp table from r.
//
// The first non-blank line is the header and is skipped. Blank lines are
// ignored. A malformed line yields a *errors.ParseError for that line and
// parsing continues; a read error from r yields a *errors.IOError and
// ends the sequence.
func ParseTable(r io.Reader) iter.Seq2[TCPEntry, error] {
	return func(yield func(TCPEntry, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 16*1024), 1024*1024)

		skippedHeader := false
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !skippedHeader {
				skippedHeader = true
				continue
			}
			if !yield(parseLine(line)) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(TCPEntry{}, &errors.IOError{Op: "read", Path: "proc tcp table", Err: err})
		}
	}
}

// parseLine parses one data line. Lines look like:
//
//	sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
//	 0: 0100007F:252B 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 1000734 1 ...
func parseLine(line string) (TCPEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return TCPEntry{}, &errors.ParseError{Field: "local address", Line: line}
	}

	addrStr, portStr, ok := strings.Cut(fields[1], ":")
	if !ok {
		return TCPEntry{}, &errors.ParseError{Field: "local address", Line: line}
	}

	addr, err := parseAddr(addrStr)
	if err != nil {
		return TCPEntry{}, &errors.ParseError{Field: "address", Line: line, Err: err}
	}

	port, err := strconv.ParseUint(portStr, 16, 16)
	if err != nil {
		return TCPEntry{}, &errors.ParseError{Field: "port number", Line: line, Err: err}
	}

	// The inode sits seven fields past the local address.
	if len(fields) < 10 {
		return TCPEntry{}, &errors.ParseError{Field: "inode", Line: line}
	}
	inode, err := strconv.ParseUint(fields[9], 10, 64)
	if err != nil {
		return TCPEntry{}, &errors.ParseError{Field: "inode", Line: line, Err: err}
	}

	return TCPEntry{Addr: addr, Port: uint16(port), Inode: inode}, nil
}

// parseAddr decodes the kernel's hex rendering of an IPv4 address. The
// kernel prints the 32-bit word in host (little-endian) order, so the
// textual bytes are reversed relative to network order.
func parseAddr(s string) (netip.Addr, error) {
	if len(s) != 8 {
		return netip.Addr{}, fmt.Errorf("expected 8 hex digits, got %d", len(s))
	}
	word, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return netip.Addr{}, err
	}

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(word))
	return netip.AddrFrom4(b), nil
}
