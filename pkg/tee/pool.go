// Package tee implements the buffered data engine of spec.md §4.4: a
// paged, memory-bounded, optionally disk-backed byte pool feeding a
// five-state scheduler that copies, scatters or permutes bytes from a
// set of sources to a set of sinks without letting a slow sink stall
// the source or growing memory without bound.
//
// Grounded on gocanopen's internal/fifo.Fifo circular-buffer idiom,
// generalized from one fixed-size ring to a pool of fixed-size pages
// that can individually be resident, spilled to disk, or both.
package tee

import (
	"fmt"
	"os"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
)

var errResourceExhausted = dgsherr.ErrResourceExhausted

// PageState is the state of one pool entry, per spec.md §4.4.1.
type PageState int

const (
	PageNone PageState = iota
	PageMemory
	PageFile
	PageMemoryBacked
)

func (s PageState) String() string {
	switch s {
	case PageNone:
		return "none"
	case PageMemory:
		return "memory"
	case PageFile:
		return "file"
	case PageMemoryBacked:
		return "memory-backed"
	default:
		return "unknown"
	}
}

// page is one fixed-size unit of a source's byte stream.
type page struct {
	state    PageState
	data     []byte // nil unless state is Memory or MemoryBacked
	fileOff  int64  // valid offset into the spill file when state is File or MemoryBacked
	filled   int    // bytes actually written into this page (== pageSize except the last)
}

// Pool is one source's paged byte buffer: an append-only sequence of
// fixed-size pages, addressed by byte offset, with a soft memory
// ceiling enforced by paging the oldest resident pages out to disk.
type Pool struct {
	pageSize   int
	memCeiling int // bytes; 0 disables the ceiling check (still spills on -f is absent => OOM)
	spillDir   string
	spillEnabled bool

	pages      []page
	spillFile  *os.File
	spillSize  int64 // bytes appended so far to spillFile

	residentBytes int
	lowWater      int64 // byte offset: everything below this has been consumed by every active sink

	stats Stats
}

// Stats is the per-source counter block emitted by -M.
type Stats struct {
	BytesRead     int64
	PagesResident int
	PagesSpilled  int
	PageOuts      int
}

// NewPool creates a pool with the given page size (bytes), soft memory
// ceiling (bytes, 0 for unbounded), disk-spill directory (empty for the
// system temp directory) and spill switch (when spillEnabled is false,
// exceeding the ceiling is an error instead of a page-out).
func NewPool(pageSize, memCeiling int, spillDir string, spillEnabled bool) *Pool {
	if pageSize <= 0 {
		pageSize = 1 << 20
	}
	return &Pool{
		pageSize:     pageSize,
		memCeiling:   memCeiling,
		spillDir:     spillDir,
		spillEnabled: spillEnabled,
	}
}

// PageSize reports the pool's fixed page size.
func (p *Pool) PageSize() int { return p.pageSize }

func (p *Pool) pageIndex(offset int64) int { return int(offset / int64(p.pageSize)) }

// Append writes buf to the pool at the current end-of-stream offset,
// creating new pages as needed and paging out the oldest resident
// pages if the soft memory ceiling is exceeded. Returns the number of
// bytes appended (always len(buf) unless an unrecoverable spill error
// occurs).
func (p *Pool) Append(buf []byte) (int, error) {
	written := 0
	for len(buf) > 0 {
		idx := len(p.pages) - 1
		if idx < 0 || p.pages[idx].filled == p.pageSize {
			p.pages = append(p.pages, page{state: PageMemory, data: make([]byte, p.pageSize)})
			idx = len(p.pages) - 1
		}
		pg := &p.pages[idx]
		n := copy(pg.data[pg.filled:], buf)
		pg.filled += n
		p.residentBytes += n
		buf = buf[n:]
		written += n
	}
	p.stats.BytesRead += int64(written)

	if p.memCeiling > 0 && p.residentBytes > p.memCeiling {
		if err := p.pageOutOldest(); err != nil {
			return written, err
		}
	}
	return written, nil
}

// pageOutOldest spills the oldest still-resident page to disk,
// freeing its in-memory copy. It is a no-op once every resident page
// has already been spilled at least once.
func (p *Pool) pageOutOldest() error {
	if !p.spillEnabled {
		return fmt.Errorf("%w: memory ceiling exceeded and disk spill disabled", errResourceExhausted)
	}
	for i := range p.pages {
		pg := &p.pages[i]
		if pg.state != PageMemory {
			continue
		}
		if err := p.spillPage(pg); err != nil {
			return err
		}
		p.residentBytes -= pg.filled
		pg.data = nil
		pg.state = PageFile
		p.stats.PageOuts++
		return nil
	}
	return nil // nothing left resident-only to spill
}

func (p *Pool) spillPage(pg *page) error {
	if p.spillFile == nil {
		f, err := os.CreateTemp(p.spillDir, "dgsh-tee-*")
		if err != nil {
			return fmt.Errorf("%w: %v", errResourceExhausted, err)
		}
		p.spillFile = f
	}
	off := p.spillSize
	if _, err := p.spillFile.WriteAt(pg.data[:pg.filled], off); err != nil {
		return fmt.Errorf("%w: spill write: %v", errResourceExhausted, err)
	}
	pg.fileOff = off
	p.spillSize += int64(pg.filled)
	return nil
}

// ReadAt copies into dst the bytes available starting at the given
// stream offset, paging the data back in from disk if it was spilled.
// Returns the number of bytes copied, which may be less than len(dst)
// if the stream hasn't produced that much data yet.
func (p *Pool) ReadAt(offset int64, dst []byte) (int, error) {
	copied := 0
	for copied < len(dst) {
		idx := p.pageIndex(offset)
		if idx >= len(p.pages) {
			break
		}
		pg := &p.pages[idx]
		within := int(offset % int64(p.pageSize))
		if within >= pg.filled {
			break
		}

		var src []byte
		switch pg.state {
		case PageMemory, PageMemoryBacked:
			src = pg.data
		case PageFile:
			buf := make([]byte, pg.filled)
			if _, err := p.spillFile.ReadAt(buf, pg.fileOff); err != nil {
				return copied, fmt.Errorf("%w: spill read: %v", errResourceExhausted, err)
			}
			src = buf
		default:
			return copied, fmt.Errorf("%w: read of already-released page", errResourceExhausted)
		}

		n := copy(dst[copied:], src[within:pg.filled])
		copied += n
		offset += int64(n)
	}
	return copied, nil
}

// End returns the total number of bytes appended so far (the stream's
// current write offset).
func (p *Pool) End() int64 {
	if len(p.pages) == 0 {
		return 0
	}
	last := p.pages[len(p.pages)-1]
	return int64((len(p.pages)-1)*p.pageSize + last.filled)
}

// Release advances the low-water mark to newMark (the minimum consumed
// offset across every active sink) and frees any page that falls
// entirely below it, hole-punching the spill file region when the page
// was spilled.
func (p *Pool) Release(newMark int64) {
	if newMark <= p.lowWater {
		return
	}
	p.lowWater = newMark
	for i := range p.pages {
		pg := &p.pages[i]
		pageEnd := int64(i+1) * int64(p.pageSize)
		if pageEnd > newMark || pg.state == PageNone {
			continue
		}
		if pg.data != nil {
			p.residentBytes -= pg.filled
		}
		if pg.state == PageFile || pg.state == PageMemoryBacked {
			punchHole(p.spillFile, pg.fileOff, int64(pg.filled))
		}
		pg.data = nil
		pg.state = PageNone
	}
}

// Close releases the spill file, if one was created.
func (p *Pool) Close() error {
	if p.spillFile == nil {
		return nil
	}
	name := p.spillFile.Name()
	err := p.spillFile.Close()
	os.Remove(name)
	return err
}

// StatsSnapshot returns a snapshot of this pool's bookkeeping counters.
func (p *Pool) StatsSnapshot() Stats {
	s := p.stats
	for _, pg := range p.pages {
		switch pg.state {
		case PageMemory, PageMemoryBacked:
			s.PagesResident++
		}
		if pg.state == PageFile || pg.state == PageMemoryBacked {
			s.PagesSpilled++
		}
	}
	return s
}
