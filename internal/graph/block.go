// Package graph implements the message block's data model: the node,
// edge and concentrator arena that is circulated during negotiation, and
// the two-phase constraint solver that turns it into a graph solution.
//
// Cross-references that the original C implementation held as raw
// pointers (node<->edge<->solution) are represented here as indices into
// parallel slices owned by the Block, per the arena design in
// SPEC_FULL.md §9.
package graph

import "fmt"

// State is the message block's negotiation state. Transitions are
// monotone along NEGOTIATION -> NEGOTIATION_END -> {RUN, DRAW_EXIT,
// ERROR} -> COMPLETE; a participant never downgrades the state it
// forwards.
type State int

const (
	StateNegotiation State = iota
	StateNegotiationEnd
	StateRun
	StateDrawExit
	StateError
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateNegotiation:
		return "NEGOTIATION"
	case StateNegotiationEnd:
		return "NEGOTIATION_END"
	case StateRun:
		return "RUN"
	case StateDrawExit:
		return "DRAW_EXIT"
	case StateError:
		return "ERROR"
	case StateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Flexible is the channel-count sentinel meaning "any number >= 1
// acceptable".
const Flexible int32 = -1

// FdDirection names the standard stream a block was last sent on.
type FdDirection int32

const (
	DirStdin  FdDirection = 0
	DirStdout FdDirection = 1
)

// Node is a participant in the graph.
type Node struct {
	Pid             int32
	Name            string
	RequiredInputs  int32 // nonneg, or Flexible
	ProvidedOutputs int32 // nonneg, or Flexible
	DgshIn          bool
	DgshOut         bool
	Index           int32 // assigned index in the block's node array
}

// ConstraintString renders a channel constraint for diagnostics, per the
// "flexible constraints should read as flex" design note.
func ConstraintString(n int32) string {
	if n == Flexible {
		return "flex"
	}
	return fmt.Sprintf("%d", n)
}

// Edge is an ordered pair of node-array indices. Instances is the final
// multiplicity after solving; FromInstances/ToInstances are the
// solver's working values.
type Edge struct {
	From          int32
	To            int32
	Instances     int32
	FromInstances int32
	ToInstances   int32
}

// ConcKind distinguishes the two concentrator shapes.
type ConcKind int

const (
	// ConcInput gathers N producers into 1 consumer.
	ConcInput ConcKind = iota
	// ConcOutput scatters 1 producer into N consumers.
	ConcOutput
)

// ConcRecord identifies a relay.
type ConcRecord struct {
	Pid        int32
	Kind       ConcKind
	MultiPids  []int32 // neighbour pids at the "multi" end, in order
	SinglePid  int32   // neighbour pid at the "single" end
	InputFds   int32   // -1 until computable
	OutputFds  int32
}

// NodeSolution holds one node's compact incoming/outgoing edge-index
// arrays, owned independently of the edge array once compactified.
type NodeSolution struct {
	Incoming []int32 // indices into Block.Edges
	Outgoing []int32
}

// Block is the self-contained, marshallable negotiation payload
// circulated among participants.
type Block struct {
	Version           int32
	State             State
	ErrorConfirmed    bool
	DrawExitConfirmed bool
	InitiatorPid      int32
	OriginIndex       int32
	OriginFdDirection FdDirection
	IsOriginConc      bool
	ConcPid           int32

	Nodes    []Node
	Edges    []Edge
	Concs    []ConcRecord
	Solution []NodeSolution // len(Nodes) once solved, nil before
}

// New creates an empty NEGOTIATION-state block whose initiator is the
// creating process. Nothing in this module changes InitiatorPid after
// the block is created.
func New(version int32, initiatorPid int32) *Block {
	return &Block{
		Version:      version,
		State:        StateNegotiation,
		InitiatorPid: initiatorPid,
		OriginIndex:  -1,
	}
}

// FindNode returns the index of the node with the given pid, if present.
func (b *Block) FindNode(pid int32) (int32, bool) {
	for i := range b.Nodes {
		if b.Nodes[i].Pid == pid {
			return int32(i), true
		}
	}
	return 0, false
}

// AddNode registers pid as a node if not already present and returns its
// index. No-op (returns the existing index) if already present.
func (b *Block) AddNode(pid int32, name string, reqIn, provOut int32, dgshIn, dgshOut bool) int32 {
	if idx, ok := b.FindNode(pid); ok {
		return idx
	}
	idx := int32(len(b.Nodes))
	b.Nodes = append(b.Nodes, Node{
		Pid:             pid,
		Name:            name,
		RequiredInputs:  reqIn,
		ProvidedOutputs: provOut,
		DgshIn:          dgshIn,
		DgshOut:         dgshOut,
		Index:           idx,
	})
	return idx
}

// HasEdge reports whether an edge already exists between the unordered
// pair (a, b).
func (b *Block) HasEdge(a, b2 int32) bool {
	for _, e := range b.Edges {
		if (e.From == a && e.To == b2) || (e.From == b2 && e.To == a) {
			return true
		}
	}
	return false
}

// AddEdge registers an edge from -> to if the unordered pair is not
// already present. No-op if it exists. from must differ from to.
func (b *Block) AddEdge(from, to int32) (int32, error) {
	if from == to {
		return 0, fmt.Errorf("graph: self-edge at node %d", from)
	}
	for i, e := range b.Edges {
		if (e.From == from && e.To == to) || (e.From == to && e.To == from) {
			return int32(i), nil
		}
	}
	idx := int32(len(b.Edges))
	b.Edges = append(b.Edges, Edge{From: from, To: to, FromInstances: Flexible, ToInstances: Flexible})
	return idx, nil
}

// IncomingEdges returns the indices of edges whose To equals nodeIdx.
func (b *Block) IncomingEdges(nodeIdx int32) []int32 {
	var out []int32
	for i, e := range b.Edges {
		if e.To == nodeIdx {
			out = append(out, int32(i))
		}
	}
	return out
}

// OutgoingEdges returns the indices of edges whose From equals nodeIdx.
func (b *Block) OutgoingEdges(nodeIdx int32) []int32 {
	var out []int32
	for i, e := range b.Edges {
		if e.From == nodeIdx {
			out = append(out, int32(i))
		}
	}
	return out
}

// FindConc returns the index of the conc record owned by pid, if any.
func (b *Block) FindConc(pid int32) (int32, bool) {
	for i := range b.Concs {
		if b.Concs[i].Pid == pid {
			return int32(i), true
		}
	}
	return 0, false
}

// Clone returns a deep copy of the block, used where a participant must
// keep its own view distinct from one it forwards (e.g. concentrator
// staging).
func (b *Block) Clone() *Block {
	nb := *b
	nb.Nodes = append([]Node(nil), b.Nodes...)
	nb.Edges = append([]Edge(nil), b.Edges...)
	nb.Concs = make([]ConcRecord, len(b.Concs))
	for i, c := range b.Concs {
		nb.Concs[i] = c
		nb.Concs[i].MultiPids = append([]int32(nil), c.MultiPids...)
	}
	if b.Solution != nil {
		nb.Solution = make([]NodeSolution, len(b.Solution))
		for i, s := range b.Solution {
			nb.Solution[i] = NodeSolution{
				Incoming: append([]int32(nil), s.Incoming...),
				Outgoing: append([]int32(nil), s.Outgoing...),
			}
		}
	}
	return &nb
}
