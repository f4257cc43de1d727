package negotiate

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dgsh-project/dgsh/internal/dgshenv"
	"github.com/dgsh-project/dgsh/internal/graph"
	"github.com/dgsh-project/dgsh/internal/readypoll"
)

// protocolVersion is bumped whenever the wire layout changes; handleRead
// rejects a decoded block whose version differs (the codec itself does
// not check it).
const protocolVersion = 1

// session holds one participant's negotiation state. Unlike the C
// implementation's file-scope statics, every field a negotiation round
// touches lives here so a process could (in principle, e.g. in tests)
// run more than one session concurrently.
type session struct {
	log  *log.Entry
	cfg  dgshenv.Config
	opts Options
	pid  int32

	stdin  *os.File
	stdout *os.File

	sourceOnly bool
	sinkOnly   bool
	nIOSides   int

	mb        *graph.Block
	selfIndex int32
	selfFdDir graph.FdDirection

	seenRun      int
	seenError    int
	seenDrawExit int
	solveErr     *graph.UnsatisfiableError
}

func newSession(cfg dgshenv.Config, opts Options, pid int32, logger *log.Entry) *session {
	s := &session{
		log:        logger,
		cfg:        cfg,
		opts:       opts,
		pid:        pid,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		sourceOnly: cfg.Out && !cfg.In,
		sinkOnly:   cfg.In && !cfg.Out,
		selfIndex:  -1,
	}
	if cfg.In {
		s.nIOSides++
	}
	if cfg.Out {
		s.nIOSides++
	}
	return s
}

func (s *session) fdFor(dir graph.FdDirection) *os.File {
	if dir == graph.DirStdin {
		return s.stdin
	}
	return s.stdout
}

// readWants returns the fds the next read should multiplex over: the
// single active side for a one-sided participant, both for a transit
// node (spec.md §4.2.2: "waits on whichever fd(s) are part of its own
// negotiated role").
func (s *session) readWants() []readypoll.Want {
	if s.sourceOnly {
		return []readypoll.Want{{Fd: int(s.stdout.Fd()), Read: true}}
	}
	if s.sinkOnly {
		return []readypoll.Want{{Fd: int(s.stdin.Fd()), Read: true}}
	}
	return []readypoll.Want{
		{Fd: int(s.stdin.Fd()), Read: true},
		{Fd: int(s.stdout.Fd()), Read: true},
	}
}

// writeWants always targets the side this node last settled on: fixed
// for one-sided participants, and whichever side fillEdge last computed
// for a transit node (the value it would also stamp into the block's
// origin_fd_direction field right before sending).
func (s *session) writeWants() []readypoll.Want {
	return []readypoll.Want{{Fd: int(s.fdFor(s.selfFdDir).Fd()), Write: true}}
}

// registerSelf adds this participant as the graph's own originating
// node: used only by a source-only participant, which is the lone kind
// that manufactures the very first negotiation block rather than
// receiving one (spec.md §4.2.1's "implicit initiator election").
func (s *session) registerSelf(b *graph.Block) {
	idx := b.AddNode(s.pid, s.opts.ToolName, s.opts.Input.constraint(), s.opts.Output.constraint(), s.cfg.In, s.cfg.Out)
	s.selfIndex = idx
	s.selfFdDir = graph.DirStdout
}

// fillEdge is the Go rendering of the C fill_dgsh_edge()/add_edge() pair:
// on receipt of a NEGOTIATION-state block, register this node (if not
// already present) and the edge to whichever neighbour last touched the
// block, then record which of this node's own sides now faces that
// neighbour — the side used for every subsequent write until a new
// neighbour is discovered.
func (s *session) fillEdge(b *graph.Block) error {
	if s.selfIndex < 0 {
		s.selfIndex = b.AddNode(s.pid, s.opts.ToolName, s.opts.Input.constraint(), s.opts.Output.constraint(), s.cfg.In, s.cfg.Out)
	}

	if b.OriginIndex < 0 {
		// The block was just created by its initiator and carries no
		// neighbour yet; nothing to connect to.
		if s.sourceOnly {
			s.selfFdDir = graph.DirStdout
		} else if s.sinkOnly {
			s.selfFdDir = graph.DirStdin
		}
		return nil
	}

	switch b.OriginFdDirection {
	case graph.DirStdin:
		if _, err := b.AddEdge(s.selfIndex, b.OriginIndex); err != nil {
			return err
		}
		if s.cfg.In {
			s.selfFdDir = graph.DirStdin
		} else {
			s.selfFdDir = graph.DirStdout
		}
	case graph.DirStdout:
		if _, err := b.AddEdge(b.OriginIndex, s.selfIndex); err != nil {
			return err
		}
		if s.cfg.Out {
			s.selfFdDir = graph.DirStdout
		} else {
			s.selfFdDir = graph.DirStdin
		}
	}
	return nil
}

// stampOrigin is the Go rendering of set_dispatcher(): record, on the
// block about to be sent, which node and which of that node's sides is
// doing the sending.
func (s *session) stampOrigin(b *graph.Block) {
	b.OriginIndex = s.selfIndex
	b.OriginFdDirection = s.selfFdDir
	b.IsOriginConc = false
}
