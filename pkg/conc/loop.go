package conc

import (
	"fmt"
	"time"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
	"github.com/dgsh-project/dgsh/internal/graph"
	"github.com/dgsh-project/dgsh/internal/readypoll"
)

// Run drives the relay loop until every port is run-ready, then
// performs the one-shot fd hand-off and returns the concentrator's
// terminal outcome. It is the Go rendering of pass_message_blocks()
// plus the post-loop dispatch in dgsh-conc.c's main().
func (r *Relay) Run(deadline time.Time) (Outcome, error) {
	if r.noInput {
		b := graph.New(protocolVersion, r.pid)
		b.OriginFdDirection = graph.DirStdout
		b.IsOriginConc = true
		b.ConcPid = r.pid
		r.chosenMB = b
		r.ports[stdoutPort].toWrite = b
	}

	var originIndex int32 = -1
	var originDir graph.FdDirection
	haveOrigin := false

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, dgsherr.ErrTimeout
		}

		wants := r.readyWants()
		ready, err := readypoll.Wait(wants, remaining)
		if err != nil {
			return 0, fmt.Errorf("%w: poll: %v", dgsherr.ErrProtocol, err)
		}
		if ready == nil {
			continue
		}

		for _, rd := range ready {
			i := r.portIndexForFd(rd.Fd)
			if i < 0 {
				continue
			}
			p := &r.ports[i]

			if rd.Write && p.toWrite != nil && !p.written {
				r.chosenMB = p.toWrite
				if err := encodeTo(p.file, p.toWrite); err != nil {
					return 0, fmt.Errorf("%w: %v", dgsherr.ErrProtocol, err)
				}
				switch p.toWrite.State {
				case graph.StateRun:
					p.written = true
				case graph.StateDrawExit:
					if p.toWrite.DrawExitConfirmed {
						p.written = true
					}
				case graph.StateError:
					if p.toWrite.ErrorConfirmed {
						p.written = true
					}
				}
				if r.isReady(i) {
					p.runReady = true
				}
				p.toWrite = nil
			}

			if rd.Read && !p.seen {
				next, ro := r.nextFd(i)
				rb, err := decodeFrom(p.file)
				if err != nil {
					return 0, fmt.Errorf("%w: %v", dgsherr.ErrProtocol, err)
				}
				if rb.Version != protocolVersion {
					return 0, fmt.Errorf("%w: version mismatch", dgsherr.ErrProtocol)
				}
				r.ports[next].toWrite = rb

				if !haveOrigin {
					if (r.kind == KindGather && i == stdoutPort) || (r.kind == KindScatter && i == stdinPort) {
						originIndex = rb.OriginIndex
						originDir = rb.OriginFdDirection
						haveOrigin = true
					}
				}

				if rb.IsOriginConc {
					p.pid = rb.ConcPid
				} else {
					p.pid = originPid(rb)
				}

				if ro {
					rb.OriginIndex = originIndex
					rb.OriginFdDirection = originDir
				} else if r.noInput {
					rb.OriginIndex = -1
					rb.OriginFdDirection = graph.DirStdout
				}

				if !r.noInput {
					r.selfRegister(rb)
				}

				r.applyReadState(i, rb)

				if p.seen && p.written {
					r.chosenMB = r.ports[next].toWrite
					p.runReady = true
				}
			}
		}

		if r.checkExit() {
			return r.finish()
		}
	}
}

// applyReadState is the Go rendering of the big if/else-if chain that
// follows read_message_block() in pass_message_blocks(): it decides
// whether this port counts as "seen" yet, and — for the root scatterer
// — whether enough peers have now been seen to solve the graph.
func (r *Relay) applyReadState(i int, rb *graph.Block) {
	p := &r.ports[i]

	switch {
	case rb.State == graph.StateNegotiation && r.noInput:
		p.seen = true
		seen := 0
		for j := 1; j < r.nfd; j++ {
			if j == stderrPort {
				continue
			}
			if r.ports[j].seen {
				seen++
			}
		}
		full := r.nfd - 1
		if r.nfd > 2 {
			full = r.nfd - 2
		}
		if seen != full {
			return
		}

		r.chosenMB = rb
		if err := graph.Solve(rb); err != nil {
			rb.State = graph.StateError
			rb.ErrorConfirmed = true
		} else if r.cfg.DrawExit {
			rb.State = graph.StateDrawExit
			rb.DrawExitConfirmed = true
		} else {
			rb.State = graph.StateRun
		}
		for j := 1; j < r.nfd; j++ {
			if j == stderrPort {
				continue
			}
			r.ports[j].seen = false
		}
		r.chosenMB = nil

	case rb.State == graph.StateRun,
		rb.State == graph.StateDrawExit && rb.DrawExitConfirmed,
		rb.State == graph.StateError && rb.ErrorConfirmed:
		p.seen = true

	case rb.State == graph.StateError:
		rb.ErrorConfirmed = true

	case rb.State == graph.StateDrawExit:
		rb.DrawExitConfirmed = true
	}
}

func (r *Relay) checkExit() bool {
	runReady := 0
	for i := 0; i < r.nfd; i++ {
		if i == stderrPort {
			continue
		}
		if r.ports[i].runReady {
			runReady++
		}
	}
	if r.nfd > 2 && (runReady == r.nfd-1 || (r.noInput && runReady == r.nfd-2)) {
		return true
	}
	if runReady == r.nfd || (r.noInput && runReady == r.nfd-1) {
		return true
	}
	return false
}

func (r *Relay) finish() (Outcome, error) {
	if r.chosenMB == nil {
		return 0, fmt.Errorf("%w: concentrator exited without a final block", dgsherr.ErrProtocol)
	}
	switch r.chosenMB.State {
	case graph.StateRun:
		var err error
		if r.kind == KindGather {
			err = r.gatherInputFds(r.chosenMB)
		} else if !r.noInput {
			err = r.scatterInputFds(r.chosenMB)
		}
		if err != nil {
			return 0, err
		}
		return OutcomeComplete, nil
	case graph.StateDrawExit:
		return OutcomeDrawExit, nil
	case graph.StateError:
		return 0, dgsherr.ErrUnsatisfiable
	default:
		return 0, fmt.Errorf("%w: unexpected terminal state %s", dgsherr.ErrProtocol, r.chosenMB.State)
	}
}
