package negotiate

import (
	"fmt"
	"os"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
	"github.com/dgsh-project/dgsh/internal/fdpass"
)

// allocIOFds is the Go rendering of alloc_io_fds()/read_input_fds()/
// write_output_fds(): turn the solved instance counts on this node's
// (at most one) incoming and (at most one) outgoing edge into concrete
// fds.
//
// A negotiate session only ever sees degree <= 2 in the solved graph —
// any node with more neighbours than that necessarily sits behind a
// concentrator (pkg/conc), which presents itself to negotiate as a
// single ordinary neighbour. So the first channel on each side is
// always the already-connected stdin/stdout socket; any additional
// instances are fresh pipes whose ends are exchanged with the neighbour
// over that same socket via SCM_RIGHTS, producer to consumer.
func (s *session) allocIOFds() (inFds, outFds []int, err error) {
	if idx := s.incomingEdge(); idx >= 0 {
		inFds, err = s.allocSide(idx, false)
		if err != nil {
			return nil, nil, err
		}
	}
	if idx := s.outgoingEdge(); idx >= 0 {
		outFds, err = s.allocSide(idx, true)
		if err != nil {
			return nil, nil, err
		}
	}
	return inFds, outFds, nil
}

func (s *session) incomingEdge() int32 {
	sol := s.mb.Solution[s.selfIndex]
	if len(sol.Incoming) == 0 {
		return -1
	}
	return sol.Incoming[0]
}

func (s *session) outgoingEdge() int32 {
	sol := s.mb.Solution[s.selfIndex]
	if len(sol.Outgoing) == 0 {
		return -1
	}
	return sol.Outgoing[0]
}

// allocSide builds the fd list for one side of this node. isProducer is
// true when this node is the edge's From endpoint (it creates the extra
// pipes and sends read-ends downstream); false means it is the To
// endpoint (it receives read-ends from upstream).
func (s *session) allocSide(edgeIdx int32, isProducer bool) ([]int, error) {
	e := s.mb.Edges[edgeIdx]
	n := int(e.Instances)
	if n < 1 {
		return nil, nil
	}

	var first int
	if isProducer {
		first = int(s.stdout.Fd())
	} else {
		first = int(s.stdin.Fd())
	}
	fds := make([]int, 0, n)
	fds = append(fds, first)

	ctlFd := int(s.stdout.Fd())
	if !isProducer {
		ctlFd = int(s.stdin.Fd())
	}

	for i := 1; i < n; i++ {
		if isProducer {
			r, w, err := os.Pipe()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", dgsherr.ErrResourceExhausted, err)
			}
			if err := fdpass.SendFd(ctlFd, int(r.Fd())); err != nil {
				return nil, err
			}
			r.Close()
			fds = append(fds, int(w.Fd()))
		} else {
			fd, err := fdpass.RecvFd(ctlFd)
			if err != nil {
				return nil, err
			}
			fds = append(fds, fd)
		}
	}
	return fds, nil
}

// clampSingleProcess implements the "dgsh-in and dgsh-out are both
// false" short circuit of spec.md §4.2.1: a tool run standalone (not
// inside a dgsh pipeline) sees its own stdio pass straight through,
// clamped to at most one channel per side regardless of what it asked
// for.
func clampSingleProcess(opts Options) Result {
	var in, out []int
	if opts.Input.Implicit || opts.Input.Flexible || opts.Input.Count >= 1 {
		in = []int{0}
	}
	if opts.Output.Implicit || opts.Output.Flexible || opts.Output.Count >= 1 {
		out = []int{1}
	}
	return Result{Outcome: OutcomeComplete, InputFds: in, OutputFds: out}
}
