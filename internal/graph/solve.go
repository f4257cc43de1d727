package graph

import (
	"fmt"
	"strings"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
)

// maxCrossMatchRetries bounds the cross-match loop (spec.md §4.2.3).
const maxCrossMatchRetries = 10

// UnsatisfiedNode describes one node the solver could not match within
// the retry budget, for the human-readable diagnostic line required by
// spec.md §7.
type UnsatisfiedNode struct {
	Pid      int32
	Name     string
	Side     string // "n_in" or "n_out"
	Required int32  // Flexible (-1) renders as "flex"
}

func (u UnsatisfiedNode) String() string {
	return fmt.Sprintf("%s (%s=%s)", u.Name, u.Side, ConstraintString(u.Required))
}

// UnsatisfiableError is returned by Solve when one or more nodes cannot
// be matched.
type UnsatisfiableError struct {
	Nodes []UnsatisfiedNode
}

func (e *UnsatisfiableError) Error() string {
	lines := make([]string, len(e.Nodes))
	for i, n := range e.Nodes {
		lines[i] = n.String()
	}
	return "unsatisfiable channel constraints: " + strings.Join(lines, "; ")
}

// NodeMatchConstraints is Phase A: for each node, distribute its fixed
// channel constraint evenly across the edges on that side (ceil for the
// first k%n edges, floor for the rest), or leave the working value
// Flexible if the node's constraint is Flexible. It is idempotent:
// calling it twice produces the same working values, since it always
// starts the distribution from the node's constraint rather than from
// the edges' current values.
func NodeMatchConstraints(b *Block) {
	for i := range b.Nodes {
		node := &b.Nodes[i]
		idx := int32(i)

		in := b.IncomingEdges(idx)
		distribute(b, in, node.RequiredInputs, false)

		out := b.OutgoingEdges(idx)
		distribute(b, out, node.ProvidedOutputs, true)
	}
}

// distribute assigns working instance counts across edgeIdxs for one
// node side. fromSide selects whether the edge's FromInstances (true) or
// ToInstances (false) field is written.
func distribute(b *Block, edgeIdxs []int32, constraint int32, fromSide bool) {
	n := len(edgeIdxs)
	if n == 0 {
		return
	}
	if constraint == Flexible {
		for _, ei := range edgeIdxs {
			setWorking(b, ei, fromSide, Flexible)
		}
		return
	}
	if constraint == 0 {
		for _, ei := range edgeIdxs {
			setWorking(b, ei, fromSide, 0)
		}
		return
	}
	base := constraint / int32(n)
	rem := constraint % int32(n)
	for i, ei := range edgeIdxs {
		v := base
		if int32(i) < rem {
			v++
		}
		setWorking(b, ei, fromSide, v)
	}
}

func setWorking(b *Block, edgeIdx int32, fromSide bool, v int32) {
	if fromSide {
		b.Edges[edgeIdx].FromInstances = v
	} else {
		b.Edges[edgeIdx].ToInstances = v
	}
}

func getWorking(b *Block, edgeIdx int32, fromSide bool) int32 {
	if fromSide {
		return b.Edges[edgeIdx].FromInstances
	}
	return b.Edges[edgeIdx].ToInstances
}

// CrossMatchConstraints is Phase B: reconcile each edge's two
// working-instance values until every edge is matched or the retry
// budget is exhausted.
func CrossMatchConstraints(b *Block) error {
	matched := make([]bool, len(b.Edges))

	for attempt := 0; attempt < maxCrossMatchRetries; attempt++ {
		progress := false
		allMatched := true

		for ei := range b.Edges {
			if matched[ei] {
				continue
			}
			e := &b.Edges[ei]

			switch {
			case e.FromInstances == Flexible && e.ToInstances == Flexible:
				e.FromInstances, e.ToInstances, e.Instances = 1, 1, 1
				matched[ei] = true
				progress = true

			case e.FromInstances == Flexible:
				e.FromInstances = e.ToInstances
				e.Instances = e.ToInstances
				matched[ei] = true
				progress = true

			case e.ToInstances == Flexible:
				e.ToInstances = e.FromInstances
				e.Instances = e.FromInstances
				matched[ei] = true
				progress = true

			case e.FromInstances == e.ToInstances:
				e.Instances = e.FromInstances
				matched[ei] = true
				progress = true

			default:
				// Both fixed and unequal: try to move the difference to
				// or from a sibling edge on the same node side.
				if moveDifference(b, int32(ei)) {
					progress = true
					if e.FromInstances == e.ToInstances {
						e.Instances = e.FromInstances
						matched[ei] = true
					} else {
						allMatched = false
					}
				} else {
					allMatched = false
				}
			}

			if !matched[ei] {
				allMatched = false
			}
		}

		if allMatched {
			return nil
		}
		if !progress {
			break
		}
	}

	return unsatisfiableError(b, matched)
}

// moveDifference attempts to transfer the gap between e.FromInstances
// and e.ToInstances to or from another edge on the same node side that
// has slack: an edge whose pair node's opposite-side working value
// still differs from its current value (so it hasn't settled), or,
// failing that, one whose pair side is Flexible with at least one
// instance to spare. Subtraction never drives an edge below 1.
func moveDifference(b *Block, edgeIdx int32) bool {
	e := &b.Edges[edgeIdx]
	diff := e.FromInstances - e.ToInstances
	if diff == 0 {
		return true
	}

	// Try the "from" node's other outgoing edges first, then the "to"
	// node's other incoming edges; either can absorb the difference.
	if tryMoveOnSide(b, b.OutgoingEdges(e.From), edgeIdx, true, diff) {
		return true
	}
	if tryMoveOnSide(b, b.IncomingEdges(e.To), edgeIdx, false, -diff) {
		return true
	}
	return false
}

// tryMoveOnSide looks for a sibling edge (not edgeIdx) on the same node
// side that can absorb amount (positive: sibling gains; this edge's own
// matching field must shrink toward the peer by the same amount so the
// two sides reconcile).
func tryMoveOnSide(b *Block, siblings []int32, edgeIdx int32, fromSide bool, amount int32) bool {
	if amount == 0 {
		return true
	}
	for _, sib := range siblings {
		if sib == edgeIdx {
			continue
		}
		cur := getWorking(b, sib, fromSide)
		peer := getWorking(b, sib, !fromSide)

		hasSlack := (cur != peer) || (peer == Flexible)
		if !hasSlack {
			continue
		}

		newVal := cur + amount
		if newVal < 1 {
			continue
		}
		setWorking(b, sib, fromSide, newVal)

		e := &b.Edges[edgeIdx]
		if fromSide {
			e.FromInstances -= amount
		} else {
			e.ToInstances -= amount
		}
		return true
	}
	return false
}

func unsatisfiableError(b *Block, matched []bool) error {
	seen := map[int32]bool{}
	var nodes []UnsatisfiedNode
	for ei, ok := range matched {
		if ok {
			continue
		}
		e := b.Edges[ei]
		for _, ni := range []int32{e.From, e.To} {
			if seen[ni] {
				continue
			}
			seen[ni] = true
			node := b.Nodes[ni]
			side := "n_in"
			req := node.RequiredInputs
			if ni == e.From {
				side = "n_out"
				req = node.ProvidedOutputs
			}
			nodes = append(nodes, UnsatisfiedNode{
				Pid:      node.Pid,
				Name:     node.Name,
				Side:     side,
				Required: req,
			})
		}
	}
	return &UnsatisfiableError{Nodes: nodes}
}

// Solve runs Phase A and Phase B, then compactifies each node's
// incoming/outgoing edge indices into the block's solution.
func Solve(b *Block) error {
	NodeMatchConstraints(b)
	if err := CrossMatchConstraints(b); err != nil {
		return err
	}

	solution := make([]NodeSolution, len(b.Nodes))
	for i := range b.Nodes {
		idx := int32(i)
		solution[i] = NodeSolution{
			Incoming: b.IncomingEdges(idx),
			Outgoing: b.OutgoingEdges(idx),
		}
	}
	b.Solution = solution

	return computeConcFds(b)
}

// computeConcFds is the Go rendering of calculate_conc_fds(): resolve
// each concentrator's total input-side and output-side fd count by
// summing the solved instances at its single-side endpoint node plus,
// across its multi-side peers, either that peer's own edge instances
// (a real node) or that peer concentrator's already-resolved total (a
// directly attached concentrator). A peer concentrator not yet
// resolved defers the whole computation for this concentrator to a
// later pass, so the retry loop below — bounded by the concentrator
// count, per spec.md §4.2.3 — makes real progress each time some
// concentrator's dependency becomes available, rather than being a
// no-op.
func computeConcFds(b *Block) error {
	n := len(b.Concs)
	if n == 0 {
		return nil
	}

	calculated := 0
	for retries := 0; retries <= n; retries++ {
		calculated = 0
		for ci := range b.Concs {
			c := &b.Concs[ci]
			if c.InputFds >= 0 && c.OutputFds >= 0 {
				calculated++
				continue
			}
			resolveConcFds(b, c)
			if c.InputFds >= 0 && c.OutputFds >= 0 {
				calculated++
			}
		}
		if calculated == n {
			return nil
		}
	}

	return fmt.Errorf("%w: could not resolve fd counts for %d of %d concentrators",
		dgsherr.ErrProtocol, n-calculated, n)
}

// resolveConcFds attempts one resolution pass for a single concentrator,
// mirroring calculate_conc_fds()'s per-conc loop body. It sums the
// multi-side peers' fd counts (get_provided_fds_n/get_expected_fds_n's
// "belongs to another conc" fallback is expectedFds/providedFds's own
// FindConc branch) and derives the single-side total from the endpoint
// node. A peer that is itself an unresolved concentrator resets both
// fields to -1 so a later pass retries; an endpoint that is an
// unresolved concentrator takes the multi-side total for its own side.
func resolveConcFds(b *Block, c *ConcRecord) {
	c.InputFds, c.OutputFds = -1, -1

	if c.Kind == ConcInput {
		c.OutputFds = expectedFds(b, c.SinglePid)
	} else {
		c.InputFds = providedFds(b, c.SinglePid)
	}

	var total int32
	for _, peer := range c.MultiPids {
		var fds int32
		if c.Kind == ConcInput {
			fds = providedFds(b, peer)
		} else {
			fds = expectedFds(b, peer)
		}
		if fds < 0 {
			c.InputFds, c.OutputFds = -1, -1
			return
		}
		total += fds
	}

	if c.Kind == ConcInput {
		c.InputFds = total
	} else {
		c.OutputFds = total
	}

	// Use what's known on one side to fill in the other when the
	// endpoint lookup above came back unresolved (the endpoint was
	// itself a not-yet-resolved concentrator).
	if c.Kind == ConcInput && c.InputFds >= 0 && c.OutputFds < 0 {
		c.OutputFds = c.InputFds
	} else if c.Kind == ConcOutput && c.OutputFds >= 0 && c.InputFds < 0 {
		c.InputFds = c.OutputFds
	}
}

// expectedFds returns the total incoming-edge instances of the graph
// node named by pid, or — when pid names a concentrator instead — that
// concentrator's own (possibly still-unresolved, -1) InputFds, or -1 if
// pid names neither.
func expectedFds(b *Block, pid int32) int32 {
	if idx, ok := b.FindNode(pid); ok {
		var n int32
		for _, ei := range b.IncomingEdges(idx) {
			n += b.Edges[ei].Instances
		}
		return n
	}
	if ci, ok := b.FindConc(pid); ok {
		return b.Concs[ci].InputFds
	}
	return -1
}

// providedFds is expectedFds's outgoing-edge counterpart.
func providedFds(b *Block, pid int32) int32 {
	if idx, ok := b.FindNode(pid); ok {
		var n int32
		for _, ei := range b.OutgoingEdges(idx) {
			n += b.Edges[ei].Instances
		}
		return n
	}
	if ci, ok := b.FindConc(pid); ok {
		return b.Concs[ci].OutputFds
	}
	return -1
}
