package procnet

import (
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/root4loot/shave/internal/errors"
)

// readDirBatch bounds how many fd entries are read per getdents round.
const readDirBatch = 64

// SocketInodes lists the inodes of the socket file descriptors pid has
// open, in directory order.
//
// Descriptors that are not sockets, or that vanish or cannot be stat-ed
// while the listing is read, are skipped. Only a failure to read the fd
// directory itself is reported, once, as a *errors.IOError.
func SocketInodes(pid int) iter.Seq2[uint64, error] {
	dir := filepath.Join(procRoot, strconv.Itoa(pid), "fd")

	return func(yield func(uint64, error) bool) {
		f, err := os.Open(dir)
		if err != nil {
			yield(0, &errors.IOError{Op: "open", Path: dir, Err: err})
			return
		}
		defer f.Close()

		for {
			entries, err := f.ReadDir(readDirBatch)
			for _, entry := range entries {
				inode, ok := socketInode(filepath.Join(dir, entry.Name()))
				if !ok {
					continue
				}
				if !yield(inode, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(0, &errors.IOError{Op: "readdir", Path: dir, Err: err})
				return
			}
		}
	}
}

// socketInode stats path (following the fd symlink) and returns its
// inode if it refers to a socket.
func socketInode(path string) (uint64, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, false
	}
	if uint32(st.Mode)&unix.S_IFMT != unix.S_IFSOCK {
		return 0, false
	}
	return uint64(st.Ino), true
}
