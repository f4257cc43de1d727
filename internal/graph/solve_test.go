package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearBlock builds A(0,1) -> B(1,1) -> C(1,0), the scenario of
// SPEC_FULL §8 scenario 1.
func linearBlock() *Block {
	b := New(1, 100)
	a := b.AddNode(100, "A", 0, 1, false, true)
	bb := b.AddNode(101, "B", 1, 1, true, true)
	c := b.AddNode(102, "C", 1, 0, true, false)
	_, _ = b.AddEdge(a, bb)
	_, _ = b.AddEdge(bb, c)
	return b
}

func TestSolveLinearPipeline(t *testing.T) {
	b := linearBlock()
	require.NoError(t, Solve(b))

	for _, e := range b.Edges {
		assert.GreaterOrEqual(t, e.Instances, int32(1))
		assert.Equal(t, e.FromInstances, e.Instances)
		assert.Equal(t, e.ToInstances, e.Instances)
	}

	// every node's incoming/outgoing instance sums match its fixed
	// constraints.
	for i, n := range b.Nodes {
		sol := b.Solution[i]
		if n.RequiredInputs != Flexible {
			var sum int32
			for _, ei := range sol.Incoming {
				sum += b.Edges[ei].Instances
			}
			assert.Equal(t, n.RequiredInputs, sum, "node %s incoming", n.Name)
		}
		if n.ProvidedOutputs != Flexible {
			var sum int32
			for _, ei := range sol.Outgoing {
				sum += b.Edges[ei].Instances
			}
			assert.Equal(t, n.ProvidedOutputs, sum, "node %s outgoing", n.Name)
		}
	}
}

func TestNodeMatchConstraintsIdempotent(t *testing.T) {
	b := linearBlock()
	NodeMatchConstraints(b)
	first := append([]Edge(nil), b.Edges...)
	NodeMatchConstraints(b)
	assert.Equal(t, first, b.Edges)
}

func TestSolveFlexibleBothSides(t *testing.T) {
	b := New(1, 1)
	s := b.AddNode(1, "S", Flexible, Flexible, false, true)
	d := b.AddNode(2, "D", Flexible, Flexible, true, false)
	_, _ = b.AddEdge(s, d)
	require.NoError(t, Solve(b))
	assert.Equal(t, int32(1), b.Edges[0].Instances)
}

func TestSolveUnsatisfiable(t *testing.T) {
	// node requires 2 inputs from a predecessor that provides only 1
	// and has no other successor (SPEC_FULL §8 scenario 6).
	b := New(1, 1)
	p := b.AddNode(1, "P", Flexible, 1, false, true)
	n := b.AddNode(2, "N", 2, Flexible, true, false)
	_, _ = b.AddEdge(p, n)

	err := Solve(b)
	require.Error(t, err)
	var uerr *UnsatisfiableError
	assert.ErrorAs(t, err, &uerr)
}

func TestConstraintStringFlex(t *testing.T) {
	assert.Equal(t, "flex", ConstraintString(Flexible))
	assert.Equal(t, "3", ConstraintString(3))
}
