package negotiate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
	"github.com/dgsh-project/dgsh/internal/dgshenv"
	"github.com/dgsh-project/dgsh/internal/dgshlog"
	"github.com/dgsh-project/dgsh/internal/graph"
	"github.com/dgsh-project/dgsh/internal/readypoll"
	"github.com/dgsh-project/dgsh/internal/wire"
)

// Negotiate runs the negotiation phase for one dgsh participant and
// returns the file descriptors it should read/write during the data
// phase. It is the entry point a dgsh participant tool (such as
// dgsh-echo and dgsh-enumerate) calls before touching stdin/stdout; the
// dgsh-conc and dgsh-tee binaries do not call it.
func Negotiate(ctx context.Context, opts Options) (Result, error) {
	return negotiate(ctx, opts, dgshenv.Load(), int32(os.Getpid()), os.Stdin, os.Stdout)
}

// negotiate is the testable core of Negotiate: cfg, pid and the two
// stdio files are passed explicitly rather than read from the
// process-global environment, os.Getpid and os.Stdin/os.Stdout, so
// tests can wire several sessions together over socketpairs within a
// single test process (where every goroutine would otherwise share one
// real pid) without touching real process state.
func negotiate(ctx context.Context, opts Options, cfg dgshenv.Config, pid int32, stdin, stdout *os.File) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}

	if !cfg.In && !cfg.Out {
		return clampSingleProcess(opts), nil
	}

	logger := dgshlog.New(dgshlog.Level(cfg.DebugLevel), opts.ToolName, int(pid))
	logger.Debug("negotiation starting")

	s := newSession(cfg, opts, pid, logger)
	s.stdin = stdin
	s.stdout = stdout

	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	outcome, err := s.run(ctx, deadline)
	if err != nil {
		logger.WithError(err).Debug("negotiation failed")
		return Result{}, err
	}

	// DGSH_DOT_DRAW and DGSH_DRAW_EXIT are independent (spec.md §4.2.1):
	// the initiator writes the solved graph whenever a solve succeeds,
	// whether or not it then also exits without running.
	if cfg.DotDrawPrefix != "" {
		if werr := s.writeDotFiles(); werr != nil {
			logger.WithError(werr).Error("failed to write DOT files")
		}
	}

	if outcome == OutcomeDrawExit {
		return Result{Outcome: OutcomeDrawExit}, nil
	}

	inFds, outFds, err := s.allocIOFds()
	if err != nil {
		return Result{}, err
	}
	logger.WithField("in", inFds).WithField("out", outFds).Debug("negotiation complete")
	return Result{Outcome: OutcomeComplete, InputFds: inFds, OutputFds: outFds}, nil
}

// run drives the protocol loop described in spec.md §4.2.2: the message
// block alternates between being read and being forwarded until either
// this node observes the RUN/DRAW_EXIT/ERROR state circulate back the
// number of times its own degree requires, or (for the initiator) the
// block returns having visited the whole graph.
func (s *session) run(ctx context.Context, deadline time.Time) (Outcome, error) {
	isRead := true
	if s.sourceOnly {
		b := graph.New(protocolVersion, s.pid)
		s.registerSelf(b)
		s.mb = b
		isRead = false
	}

	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %v", dgsherr.ErrTimeout, ctx.Err())
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, dgsherr.ErrTimeout
		}

		var wants []readypoll.Want
		if isRead {
			wants = s.readWants()
		} else {
			wants = s.writeWants()
		}

		ready, err := readypoll.Wait(wants, remaining)
		if err != nil {
			return 0, fmt.Errorf("%w: poll: %v", dgsherr.ErrProtocol, err)
		}
		if ready == nil {
			continue // will hit the deadline check above next iteration
		}

		if isRead {
			outcome, done, err := s.handleRead(ready[0].Fd)
			if err != nil || done {
				return outcome, err
			}
			isRead = false
			continue
		}

		outcome, done, err := s.handleWrite()
		if err != nil || done {
			return outcome, err
		}
		isRead = true
	}
}

// handleRead decodes one incoming block, updates the graph (if still in
// NEGOTIATION), and applies the initiator's state-transition logic. It
// returns done=true once the negotiation has reached a terminal
// verdict for this process.
func (s *session) handleRead(fd int) (Outcome, bool, error) {
	f := s.stdin
	if fd == int(s.stdout.Fd()) {
		f = s.stdout
	}

	fresh, err := wire.Decode(f)
	if err != nil {
		return 0, true, fmt.Errorf("%w: %v", dgsherr.ErrProtocol, err)
	}
	if fresh.Version != protocolVersion {
		return 0, true, fmt.Errorf("%w: version mismatch", dgsherr.ErrProtocol)
	}

	incoming := fresh.State
	if incoming == graph.StateNegotiation {
		if err := s.fillEdge(fresh); err != nil {
			return 0, true, fmt.Errorf("%w: %v", dgsherr.ErrProtocol, err)
		}
	}
	s.mb = fresh

	if s.pid == fresh.InitiatorPid {
		switch incoming {
		case graph.StateNegotiation:
			s.solveGraph()
		case graph.StateRun:
			s.mb.State = graph.StateComplete
			return OutcomeComplete, true, nil
		case graph.StateDrawExit:
			s.mb.State = graph.StateComplete
			return OutcomeDrawExit, true, nil
		case graph.StateError:
			return 0, true, s.unsatisfiableErr()
		}
		return 0, false, nil
	}

	switch incoming {
	case graph.StateRun:
		s.seenRun++
	case graph.StateError:
		s.seenError++
	case graph.StateDrawExit:
		s.seenDrawExit++
	}
	return 0, false, nil
}

// solveGraph runs the two-phase solver once the negotiation block has
// completed its round trip through every participant, and picks the
// next state to circulate.
func (s *session) solveGraph() {
	s.mb.State = graph.StateNegotiationEnd
	if err := graph.Solve(s.mb); err != nil {
		var uerr *graph.UnsatisfiableError
		if errors.As(err, &uerr) {
			s.solveErr = uerr
			s.mb.State = graph.StateError
			return
		}
		s.mb.State = graph.StateError
		return
	}
	if s.cfg.DrawExit {
		s.mb.State = graph.StateDrawExit
	} else {
		s.mb.State = graph.StateRun
	}
}

// handleWrite stamps the origin on the current block and forwards it,
// then checks whether this node's own degree requirement for exiting
// the loop has now been met.
func (s *session) handleWrite() (Outcome, bool, error) {
	s.stampOrigin(s.mb)

	f := s.fdFor(s.selfFdDir)
	if err := wire.Encode(f, s.mb); err != nil {
		return 0, true, fmt.Errorf("%w: %v", dgsherr.ErrProtocol, err)
	}

	switch s.mb.State {
	case graph.StateRun:
		if s.seenRun == s.nIOSides {
			s.mb.State = graph.StateComplete
			return OutcomeComplete, true, nil
		}
	case graph.StateDrawExit:
		if s.seenDrawExit == s.nIOSides {
			s.mb.State = graph.StateComplete
			return OutcomeDrawExit, true, nil
		}
	case graph.StateError:
		if s.seenError == s.nIOSides {
			return 0, true, s.unsatisfiableErr()
		}
	}
	return 0, false, nil
}

func (s *session) unsatisfiableErr() error {
	if s.solveErr != nil {
		return fmt.Errorf("%w: %v", dgsherr.ErrUnsatisfiable, s.solveErr)
	}
	return dgsherr.ErrUnsatisfiable
}
