package negotiate

import (
	"fmt"
	"os"

	"github.com/dgsh-project/dgsh/internal/graph"
)

// writeDotFiles implements DGSH_DOT_DRAW: the initiator, having just
// solved the graph, writes both the full candidate graph and the
// solved-only graph as Graphviz files named from the configured prefix.
func (s *session) writeDotFiles() error {
	if s.pid != s.mb.InitiatorPid {
		return nil
	}
	if err := s.writeDot(s.cfg.DotDrawPrefix+"-ngt.dot", false); err != nil {
		return err
	}
	return s.writeDot(s.cfg.DotDrawPrefix+".dot", true)
}

func (s *session) writeDot(path string, onlyActive bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("negotiate: dot: %w", err)
	}
	defer f.Close()
	return graph.WriteDOT(f, s.mb, onlyActive)
}
