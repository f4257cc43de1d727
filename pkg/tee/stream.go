package tee

import (
	"io"
	"os"
)

// Source is one input stream: a file descriptor feeding a Pool.
type Source struct {
	Name string
	file *os.File
	pool *Pool
	eof  bool

	// active is false for a not-yet-started member of a cat-like chain.
	active bool
}

// NewSource wraps f with a dedicated pool, per spec.md §4.4.1's "each
// source owns a pool of fixed-size pages".
func NewSource(name string, f *os.File, pageSize, memCeiling int, spillDir string, spillEnabled bool) *Source {
	return &Source{
		Name:   name,
		file:   f,
		pool:   NewPool(pageSize, memCeiling, spillDir, spillEnabled),
		active: true,
	}
}

func (s *Source) fd() int { return int(s.file.Fd()) }

// pump reads one chunk from the source fd into its pool. At end of file
// it marks the source exhausted (eof) and returns a nil error.
func (s *Source) pump() (int, error) {
	buf := make([]byte, s.pool.PageSize())
	n, err := s.file.Read(buf)
	if n > 0 {
		if _, werr := s.pool.Append(buf[:n]); werr != nil {
			return n, werr
		}
	}
	if err == io.EOF {
		s.eof = true
		return n, nil
	}
	return n, err
}

func (s *Source) close() {
	s.pool.Close()
	s.file.Close()
}

// Sink is one output stream: a file descriptor draining some source's
// pool, starting at srcIdx (the source it is statically bound to for
// copy/permute/multipipe topologies; ignored in scatter mode, where
// byte ranges are assigned dynamically).
type Sink struct {
	Name   string
	file   *os.File
	srcIdx int

	posWritten int64 // bytes this sink has successfully written
	posToWrite int64 // bytes assigned to this sink so far (>= posWritten)

	active bool // false once EPIPE deactivates this sink
}

// NewSink wraps f as a drain for the source at srcIdx.
func NewSink(name string, f *os.File, srcIdx int) *Sink {
	return &Sink{Name: name, file: f, srcIdx: srcIdx, active: true}
}

func (s *Sink) fd() int { return int(s.file.Fd()) }

// pending reports whether this sink has unwritten assigned bytes.
func (s *Sink) pending() bool { return s.active && s.posToWrite > s.posWritten }

func (s *Sink) close() { s.file.Close() }
