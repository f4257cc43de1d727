package tee

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
	"github.com/dgsh-project/dgsh/internal/readypoll"
)

// Mode selects how bytes are distributed from sources to sinks, per
// spec.md §4.4.3.
type Mode int

const (
	ModeCopy Mode = iota
	ModeScatter
	ModePermute
)

// Topology selects the pipelining shape of spec.md §4.4.4.
type Topology int

const (
	TopologyTeeLike   Topology = iota // one source, many sinks
	TopologyCatLike                   // many sources, one sink, chained
	TopologyMultipipe                 // M sources, N sinks, column-major grouping
)

// schedState is the engine's five-state scheduler, per spec.md §4.4.2.
type schedState int

const (
	stateReadOB schedState = iota
	stateReadIB
	stateDrainIB
	stateDrainOB
	stateWriteOB
)

// Options configures one Engine.
type Options struct {
	Mode              Mode
	Topology          Topology
	RecordTerminator  byte // default '\n'
	InfiniteBuffering bool // -I: start in read-ib, never decline to read
	StatsOut          io.Writer // non-nil enables -M per-source stats on close
}

// Engine is the buffered copy/scatter/permute data-phase driver.
type Engine struct {
	log *log.Entry

	sources []*Source
	sinks   []*Sink
	opts    Options

	state      schedState
	chainIdx   int     // TopologyCatLike: index of the currently-active source
	chainStart []int64 // TopologyCatLike: cumulative bytes preceding sources[i]
	scatterPos int64   // ModeScatter: byte offset up to which assignment has happened
}

// New builds an Engine from already-bound sources and sinks (each
// Sink carries the source index it statically reads from, set via
// NewSink — ignored in ModeScatter, where assignment is dynamic).
func New(sources []*Source, sinks []*Sink, opts Options) (*Engine, error) {
	if len(sources) == 0 || len(sinks) == 0 {
		return nil, fmt.Errorf("%w: tee requires at least one source and one sink", dgsherr.ErrIllegalArgument)
	}
	if opts.RecordTerminator == 0 {
		opts.RecordTerminator = '\n'
	}
	if opts.Mode == ModeScatter && len(sources) != 1 {
		return nil, fmt.Errorf("%w: scatter mode requires exactly one source", dgsherr.ErrIllegalArgument)
	}

	e := &Engine{
		log:     log.WithField("component", "tee"),
		sources: sources,
		sinks:   sinks,
		opts:    opts,
		state:   stateReadOB,
	}
	if opts.InfiniteBuffering {
		e.state = stateReadIB
	}
	if opts.Topology == TopologyCatLike {
		for i, s := range e.sources {
			s.active = i == 0
		}
		e.chainStart = make([]int64, len(e.sources))
	}
	return e, nil
}

func (e *Engine) allSourcesEOF() bool {
	for _, s := range e.sources {
		if !s.eof {
			return false
		}
	}
	return true
}

func (e *Engine) anyPending() bool {
	for _, sk := range e.sinks {
		if sk.pending() {
			return true
		}
	}
	return false
}

// activeChainSource returns the source a chained (cat-like) read
// should currently target, advancing the chain past any exhausted
// sources and recording each segment's cumulative starting offset as
// it goes.
func (e *Engine) activeChainSource() *Source {
	for e.chainIdx < len(e.sources)-1 && e.sources[e.chainIdx].eof {
		e.sources[e.chainIdx].active = false
		e.chainStart[e.chainIdx+1] = e.chainStart[e.chainIdx] + e.sources[e.chainIdx].pool.End()
		e.chainIdx++
		e.sources[e.chainIdx].active = true
	}
	return e.sources[e.chainIdx]
}

// resolveChainOffset maps a cumulative cat-like stream offset back to
// the underlying source and the local offset within it.
func (e *Engine) resolveChainOffset(offset int64) (*Source, int64) {
	idx := e.chainIdx
	for idx > 0 && offset < e.chainStart[idx] {
		idx--
	}
	return e.sources[idx], offset - e.chainStart[idx]
}

// Run drives the scheduler until every source is exhausted and every
// active sink has written everything assigned to it, or ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.closeAll()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.allSourcesEOF() && !e.anyPending() {
			return nil
		}
		if e.opts.Topology == TopologyCatLike {
			e.activeChainSource()
		}

		wants := e.readyWants()
		timeout := 200 * time.Millisecond
		if d, ok := ctx.Deadline(); ok {
			if r := time.Until(d); r < timeout {
				timeout = r
			}
		}
		ready, err := readypoll.Wait(wants, timeout)
		if err != nil {
			return fmt.Errorf("%w: %v", dgsherr.ErrProtocol, err)
		}

		for _, rd := range ready {
			if rd.Read {
				if src := e.sourceForFd(rd.Fd); src != nil {
					if err := e.readOne(src); err != nil {
						return err
					}
				}
			}
			if rd.Write {
				if sk := e.sinkForFd(rd.Fd); sk != nil {
					if err := e.writeOne(sk); err != nil {
						return err
					}
				}
			}
		}

		e.advanceState()
		e.releaseConsumed()
	}
}

func (e *Engine) sourceForFd(fd int) *Source {
	for _, s := range e.sources {
		if s.fd() == fd {
			return s
		}
	}
	return nil
}

func (e *Engine) sinkForFd(fd int) *Sink {
	for _, sk := range e.sinks {
		if sk.fd() == fd {
			return sk
		}
	}
	return nil
}

// readyWants builds the poll set for the current scheduler state.
func (e *Engine) readyWants() []readypoll.Want {
	var wants []readypoll.Want
	wantRead := e.shouldRead()
	if wantRead {
		for _, s := range e.sources {
			if s.eof || !s.active {
				continue
			}
			wants = append(wants, readypoll.Want{Fd: s.fd(), Read: true})
		}
	}
	for _, sk := range e.sinks {
		if sk.pending() {
			wants = append(wants, readypoll.Want{Fd: sk.fd(), Write: true})
		}
	}
	return wants
}

// shouldRead implements the read half of the state table: read-ib
// always wants to read; read-ob only wants to read while at least one
// active sink has no pending data; drain states never read.
func (e *Engine) shouldRead() bool {
	switch e.state {
	case stateReadIB:
		return true
	case stateReadOB:
		for _, sk := range e.sinks {
			if sk.active && !sk.pending() {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (e *Engine) readOne(src *Source) error {
	if e.opts.Topology == TopologyCatLike {
		src = e.activeChainSource()
	}
	_, err := src.pump()
	if err != nil {
		if errors.Is(err, dgsherr.ErrResourceExhausted) && e.state == stateReadOB {
			// read-ob declines further reads on page-pool exhaustion
			// and drains what's already assigned instead of erroring.
			e.state = stateDrainOB
			return nil
		}
		return fmt.Errorf("%w: read: %v", dgsherr.ErrProtocol, err)
	}
	e.assign(src)
	if e.state == stateReadOB {
		e.state = stateWriteOB
	}
	return nil
}

// assign widens each bound sink's posToWrite to reflect newly-arrived
// bytes on src, per the engine's mode.
func (e *Engine) assign(src *Source) {
	switch {
	case e.opts.Topology == TopologyCatLike:
		// A cat-like chain feeds a single sink a cumulative stream
		// spanning every source in sequence.
		cum := e.chainStart[e.chainIdx] + src.pool.End()
		for _, sk := range e.sinks {
			sk.posToWrite = cum
		}
	case e.opts.Mode == ModeScatter:
		e.assignScatter()
	default: // copy, permute, multipipe: each sink statically bound
		for _, sk := range e.sinks {
			if e.sources[sk.srcIdx] == src {
				sk.posToWrite = src.pool.End()
			}
		}
	}
}

func (e *Engine) writeOne(sk *Sink) error {
	if !sk.pending() {
		return nil
	}

	var src *Source
	var localPos int64
	if e.opts.Topology == TopologyCatLike {
		src, localPos = e.resolveChainOffset(sk.posWritten)
	} else {
		src = e.sources[sk.srcIdx]
		localPos = sk.posWritten
	}

	n := sk.posToWrite - sk.posWritten
	// Never write across a chain-segment boundary in one call: clamp
	// to what remains in the resolved source's own stream.
	if e.opts.Topology == TopologyCatLike {
		if remain := src.pool.End() - localPos; remain < n {
			n = remain
		}
	}
	if n > int64(src.pool.PageSize()) {
		n = int64(src.pool.PageSize())
	}
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	got, err := src.pool.ReadAt(localPos, buf)
	if err != nil {
		return err
	}
	written, werr := sk.file.Write(buf[:got])
	if werr != nil {
		if errors.Is(werr, unix.EPIPE) {
			e.log.WithField("sink", sk.Name).Debug("sink closed, deactivating")
			sk.active = false
			return nil
		}
		if errors.Is(werr, unix.EAGAIN) {
			return nil // retried on next readiness
		}
		return fmt.Errorf("%w: write to %s: %v", dgsherr.ErrDownstreamClosed, sk.Name, werr)
	}
	sk.posWritten += int64(written)
	return nil
}

// advanceState applies the remaining transitions of spec.md §4.4.2's
// table that aren't already handled inline in readOne/writeOne.
func (e *Engine) advanceState() {
	switch e.state {
	case stateReadIB:
		if e.allSourcesEOF() {
			e.state = stateDrainIB
		}
	case stateReadOB:
		// Page-pool exhaustion is handled in readOne, which moves
		// read-ob to drain-ob.
		if e.allSourcesEOF() {
			e.state = stateDrainIB
		}
	case stateDrainIB:
		if !e.anyPending() {
			e.state = stateWriteOB
		}
	case stateDrainOB:
		if !e.anyPending() {
			if e.allSourcesEOF() {
				e.state = stateWriteOB
			} else {
				e.state = stateReadOB
			}
		}
	case stateWriteOB:
		if !e.allSourcesEOF() {
			e.state = stateReadOB
		}
	}
}

// releaseConsumed advances each source's pool low-water mark to the
// minimum posWritten across its active sinks, per spec.md §4.4.1.
func (e *Engine) releaseConsumed() {
	if e.opts.Topology == TopologyCatLike {
		e.releaseConsumedChain()
		return
	}
	for si, src := range e.sources {
		mark := int64(-1)
		for _, sk := range e.sinks {
			if sk.srcIdx != si || !sk.active {
				continue
			}
			if mark < 0 || sk.posWritten < mark {
				mark = sk.posWritten
			}
		}
		if mark > 0 {
			src.pool.Release(mark)
		}
	}
}

// releaseConsumedChain is releaseConsumed's cat-like variant: the
// single logical stream position (the minimum posWritten across
// sinks) is translated per-source via the chain's cumulative offsets.
func (e *Engine) releaseConsumedChain() {
	mark := int64(-1)
	for _, sk := range e.sinks {
		if !sk.active {
			continue
		}
		if mark < 0 || sk.posWritten < mark {
			mark = sk.posWritten
		}
	}
	if mark <= 0 {
		return
	}
	for i, src := range e.sources {
		segEnd := src.pool.End()
		if i < len(e.sources)-1 && e.chainStart[i+1] > 0 {
			segEnd = e.chainStart[i+1] - e.chainStart[i]
		}
		local := mark - e.chainStart[i]
		if local <= 0 {
			continue
		}
		if local > segEnd {
			local = segEnd
		}
		src.pool.Release(local)
	}
}

func (e *Engine) closeAll() {
	for _, s := range e.sources {
		s.close()
	}
	for _, sk := range e.sinks {
		sk.close()
	}
	if e.opts.StatsOut != nil {
		for _, s := range e.sources {
			st := s.pool.StatsSnapshot()
			fmt.Fprintf(e.opts.StatsOut, "%s: read=%d resident_pages=%d spilled_pages=%d page_outs=%d\n",
				s.Name, st.BytesRead, st.PagesResident, st.PagesSpilled, st.PageOuts)
		}
	}
}
