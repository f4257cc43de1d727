package tee

import (
	"os"

	"golang.org/x/sys/unix"
)

// punchHole frees the disk space backing [off, off+size) of f when the
// filesystem supports it (per spec.md §4.4.1's "freeing is by
// hole-punching when supported"); a failure is not fatal, since the
// data is already unreachable from the pool's own bookkeeping either
// way — the spill file simply retains its size until removal.
func punchHole(f *os.File, off, size int64) {
	if f == nil || size <= 0 {
		return
	}
	_ = unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, size)
}
