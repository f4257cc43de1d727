package graph

import (
	"fmt"
	"io"
)

// WriteDOT renders the block's graph in Graphviz DOT format. When
// onlyActive is true, only edges that survived solving (Instances > 0)
// are drawn and their multiplicity is labeled; otherwise every candidate
// edge recorded during negotiation is drawn, which is how
// DGSH_DOT_DRAW's "<value>-ngt.dot" candidate-graph file is produced.
//
// This is restored from original_source/negotiate.c, whose DOT export
// the distilled spec mentions only as an environment-variable effect.
func WriteDOT(w io.Writer, b *Block, onlyActive bool) error {
	if _, err := fmt.Fprintln(w, "digraph dgsh {"); err != nil {
		return err
	}
	for _, n := range b.Nodes {
		if _, err := fmt.Fprintf(w, "\t%q [label=%q];\n", nodeID(n), fmt.Sprintf("%s\\npid=%d", n.Name, n.Pid)); err != nil {
			return err
		}
	}
	for _, e := range b.Edges {
		if onlyActive && e.Instances < 1 {
			continue
		}
		label := fmt.Sprintf("%d", e.Instances)
		if e.Instances == 0 && !onlyActive {
			label = "?"
		}
		from := b.Nodes[e.From]
		to := b.Nodes[e.To]
		if _, err := fmt.Fprintf(w, "\t%q -> %q [label=%q];\n", nodeID(from), nodeID(to), label); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func nodeID(n Node) string {
	return fmt.Sprintf("n%d_%s", n.Pid, n.Name)
}
