// Package conc implements the concentrator relay of spec.md §4.3: a
// passive process that shuttles negotiation message blocks among peers
// attached at a multi-way graph junction (a gather or a scatter) until
// every peer is run-ready, then performs a one-shot fd hand-off and
// exits.
//
// Grounded on dgsh-conc.c's pass_message_blocks()/next_fd()/
// set_io_channels(), translated line-for-line where the port-table
// shape allows, and on gocanopen's BusManager subscriber-table idiom
// (bus_manager.go) for the fd-indexed port bookkeeping.
package conc

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
	"github.com/dgsh-project/dgsh/internal/dgshenv"
	"github.com/dgsh-project/dgsh/internal/dgshlog"
	"github.com/dgsh-project/dgsh/internal/graph"
	"github.com/dgsh-project/dgsh/internal/readypoll"
	"github.com/dgsh-project/dgsh/internal/wire"
)

const (
	stdinPort  = 0
	stdoutPort = 1
	stderrPort = 2 // reserved, never polled
	freeFileno = 3

	protocolVersion = 1
)

// Kind distinguishes a gather concentrator (many producers, one
// consumer) from a scatter concentrator (one producer, many
// consumers).
type Kind int

const (
	KindGather Kind = iota
	KindScatter
)

// port mirrors the C implementation's struct portinfo: per-fd
// bookkeeping the relay loop consults every iteration.
type port struct {
	file     *os.File
	pid      int32
	seen     bool
	written  bool
	runReady bool
	toWrite  *graph.Block
}

// Relay is one concentrator instance.
type Relay struct {
	log  *log.Entry
	cfg  dgshenv.Config
	pid  int32
	kind Kind
	// noInput marks a scatter concentrator that takes no stdin (spec.md
	// §4.3's "root scatterer"): it manufactures its own block at start
	// instead of waiting to read one.
	noInput bool
	nfd     int
	ports   []port

	chosenMB *graph.Block
}

// New builds a concentrator relay. arity is N, the peer count on the
// "multi" side; stdin/stdout are the process's own fd 0/1; peerFiles
// are the N-1 additional fds 3..N+1, in order (the remaining multi-side
// peer sits on stdin for a gather and on stdout for a scatter).
func New(kind Kind, noInput bool, arity int, stdin, stdout *os.File, peerFiles []*os.File, cfg dgshenv.Config) (*Relay, error) {
	if arity < 1 {
		return nil, fmt.Errorf("%w: concentrator arity must be >= 1", dgsherr.ErrIllegalArgument)
	}
	if kind == KindGather && noInput {
		return nil, fmt.Errorf("%w: -n is only valid for a scatter concentrator", dgsherr.ErrIllegalArgument)
	}

	pid := int32(os.Getpid())
	nfd := 2
	if arity != 1 {
		nfd = arity + 2
	}

	r := &Relay{
		cfg:     cfg,
		pid:     pid,
		kind:    kind,
		noInput: noInput,
		nfd:     nfd,
		ports:   make([]port, nfd),
	}
	r.log = dgshlog.New(dgshlog.Level(cfg.DebugLevel), "dgsh-conc", int(pid))

	r.ports[stdinPort].file = stdin
	r.ports[stdoutPort].file = stdout
	for i, f := range peerFiles {
		idx := freeFileno + i
		if idx >= nfd {
			break
		}
		r.ports[idx].file = f
	}
	return r, nil
}

// nextFd is the Go rendering of next_fd(): given the port a block was
// just read from, returns the port it should be staged for writing on,
// and whether the block's origin fields must be restored to the value
// recorded at the start of this round (ro, "restore origin") rather
// than the ones this read just stamped.
func (r *Relay) nextFd(fd int) (next int, ro bool) {
	if r.kind == KindGather {
		switch fd {
		case stdinPort:
			return stdoutPort, false
		case stdoutPort:
			return stdinPort, false
		default:
			return fd, true
		}
	}

	switch fd {
	case stdinPort:
		if !r.noInput {
			return stdoutPort, false
		}
		fallthrough
	case stdoutPort:
		if !r.noInput {
			ro = true
		}
		if r.nfd > 2 {
			return freeFileno, ro
		}
		fallthrough
	default:
		if fd == r.nfd-1 {
			if !r.noInput {
				return stdinPort, false
			}
			return stdoutPort, false
		}
		if !r.noInput {
			ro = true
		}
		return fd + 1, ro
	}
}

func (r *Relay) isReady(i int) bool {
	return r.ports[i].seen && r.ports[i].written
}

func originPid(b *graph.Block) int32 {
	if b.OriginIndex >= 0 && int(b.OriginIndex) < len(b.Nodes) {
		return b.Nodes[b.OriginIndex].Pid
	}
	return 0
}

// selfRegister is the Go rendering of set_io_channels(): once every
// peer pid on both sides of this relay is known, add a ConcRecord for
// this concentrator to the circulating block (a no-op if already
// present, or if some peer pid is still undiscovered).
func (r *Relay) selfRegister(b *graph.Block) {
	if _, ok := b.FindConc(r.pid); ok {
		return
	}

	rec := graph.ConcRecord{Pid: r.pid, InputFds: -1, OutputFds: -1}

	if r.kind == KindGather {
		rec.Kind = graph.ConcInput
		rec.SinglePid = r.ports[stdoutPort].pid
		if rec.SinglePid == 0 {
			return
		}
		for i := stdinPort; i < r.nfd; {
			if r.ports[i].pid == 0 {
				return
			}
			rec.MultiPids = append(rec.MultiPids, r.ports[i].pid)
			if i == stdinPort {
				i = freeFileno
			} else {
				i++
			}
		}
	} else {
		rec.Kind = graph.ConcOutput
		rec.SinglePid = r.ports[stdinPort].pid
		if rec.SinglePid == 0 {
			return
		}
		for i := stdoutPort; i != stdinPort; {
			if r.ports[i].pid == 0 {
				return
			}
			rec.MultiPids = append(rec.MultiPids, r.ports[i].pid)
			i, _ = r.nextFd(i)
		}
	}

	b.Concs = append(b.Concs, rec)
}

// Outcome is the concentrator's own terminal state, returned by Run.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeDrawExit
)

func encodeTo(f *os.File, b *graph.Block) error {
	return wire.Encode(f, b)
}

func decodeFrom(f *os.File) (*graph.Block, error) {
	return wire.Decode(f)
}

// readyWants builds the poll set: every port not yet seen is a read
// candidate, every port with a pending write and not yet written is a
// write candidate.
func (r *Relay) readyWants() []readypoll.Want {
	var wants []readypoll.Want
	for i := 0; i < r.nfd; i++ {
		if i == stderrPort {
			continue
		}
		p := &r.ports[i]
		var w readypoll.Want
		w.Fd = int(p.file.Fd())
		if !p.seen {
			w.Read = true
		}
		if p.toWrite != nil && !p.written {
			w.Write = true
		}
		if w.Read || w.Write {
			wants = append(wants, w)
		}
	}
	return wants
}

func (r *Relay) portIndexForFd(fd int) int {
	for i := 0; i < r.nfd; i++ {
		if i == stderrPort {
			continue
		}
		if int(r.ports[i].file.Fd()) == fd {
			return i
		}
	}
	return -1
}
