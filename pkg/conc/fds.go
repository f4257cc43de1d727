package conc

import (
	"fmt"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
	"github.com/dgsh-project/dgsh/internal/fdpass"
	"github.com/dgsh-project/dgsh/internal/graph"
)

// edgeInstances returns the solved instance count of the edge between
// the nodes owning aPid and bPid, or 0 if no such edge exists (the
// concentrator itself is never a graph node: its multi-side peers are
// the real neighbours of its single-side endpoint in the solved
// graph).
func edgeInstances(b *graph.Block, aPid, bPid int32) int32 {
	ai, ok := b.FindNode(aPid)
	if !ok {
		return 0
	}
	bi, ok := b.FindNode(bPid)
	if !ok {
		return 0
	}
	for _, e := range b.Edges {
		if (e.From == ai && e.To == bi) || (e.From == bi && e.To == ai) {
			return e.Instances
		}
	}
	return 0
}

// scatterInputFds is the Go rendering of scatter_input_fds(): read the
// producer's fds off stdin and redistribute them across the peer ports
// according to each peer's solved share.
func (r *Relay) scatterInputFds(b *graph.Block) error {
	ci, ok := b.FindConc(r.pid)
	if !ok {
		return fmt.Errorf("%w: concentrator %d not registered", dgsherr.ErrProtocol, r.pid)
	}
	c := b.Concs[ci]

	stdinFd := int(r.ports[stdinPort].file.Fd())
	readFds := make([]int, 0, c.InputFds)
	for i := int32(0); i < c.InputFds; i++ {
		fd, err := fdpass.RecvFd(stdinFd)
		if err != nil {
			return err
		}
		readFds = append(readFds, fd)
	}

	writeIndex := 0
	for i := stdoutPort; i != stdinPort; {
		n := int(edgeInstances(b, c.SinglePid, r.ports[i].pid))
		fd := int(r.ports[i].file.Fd())
		for j := writeIndex; j < writeIndex+n; j++ {
			if err := fdpass.SendFd(fd, readFds[j]); err != nil {
				return err
			}
		}
		writeIndex += n
		i, _ = r.nextFd(i)
	}
	if writeIndex != len(readFds) {
		return fmt.Errorf("%w: scatter fd count mismatch", dgsherr.ErrProtocol)
	}
	return nil
}

// gatherInputFds is the Go rendering of gather_input_fds(): collect
// each peer's share of fds and hand the whole set to the single
// downstream consumer on stdout.
func (r *Relay) gatherInputFds(b *graph.Block) error {
	ci, ok := b.FindConc(r.pid)
	if !ok {
		return fmt.Errorf("%w: concentrator %d not registered", dgsherr.ErrProtocol, r.pid)
	}
	c := b.Concs[ci]

	readFds := make([]int, 0, c.OutputFds)
	for i := stdinPort; i < r.nfd; {
		n := int(edgeInstances(b, c.SinglePid, r.ports[i].pid))
		fd := int(r.ports[i].file.Fd())
		for j := 0; j < n; j++ {
			got, err := fdpass.RecvFd(fd)
			if err != nil {
				return err
			}
			readFds = append(readFds, got)
		}
		if i == stdinPort {
			i = freeFileno
		} else {
			i++
		}
	}
	if int32(len(readFds)) != c.OutputFds {
		return fmt.Errorf("%w: gather fd count mismatch", dgsherr.ErrProtocol)
	}

	stdoutFd := int(r.ports[stdoutPort].file.Fd())
	for _, fd := range readFds {
		if err := fdpass.SendFd(stdoutFd, fd); err != nil {
			return err
		}
	}
	return nil
}
