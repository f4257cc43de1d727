package conc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgsh-project/dgsh/internal/dgshenv"
	"github.com/dgsh-project/dgsh/internal/graph"
)

func devnull(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func newTestRelay(t *testing.T, kind Kind, noInput bool, arity int) *Relay {
	t.Helper()
	peers := make([]*os.File, arity)
	for i := range peers {
		peers[i] = devnull(t)
	}
	r, err := New(kind, noInput, arity, devnull(t), devnull(t), peers, dgshenv.Config{})
	require.NoError(t, err)
	return r
}

func TestNextFdGather(t *testing.T) {
	r := newTestRelay(t, KindGather, false, 3)
	next, ro := r.nextFd(stdinPort)
	assert.Equal(t, stdoutPort, next)
	assert.False(t, ro)

	next, ro = r.nextFd(stdoutPort)
	assert.Equal(t, stdinPort, next)
	assert.False(t, ro)

	next, ro = r.nextFd(freeFileno)
	assert.Equal(t, freeFileno, next)
	assert.True(t, ro)
}

func TestNextFdScatter(t *testing.T) {
	r := newTestRelay(t, KindScatter, false, 3)
	// nfd = 5: ports 0,1,3,4 are peers/stdin/stdout; last peer is 4.
	next, ro := r.nextFd(stdinPort)
	assert.Equal(t, stdoutPort, next)
	assert.False(t, ro)

	next, ro = r.nextFd(stdoutPort)
	assert.Equal(t, freeFileno, next)
	assert.True(t, ro)

	next, ro = r.nextFd(freeFileno)
	assert.Equal(t, freeFileno+1, next)
	assert.True(t, ro)

	next, ro = r.nextFd(freeFileno + 1) // last peer port (nfd-1)
	assert.Equal(t, stdinPort, next)
	assert.False(t, ro)
}

func TestNextFdScatterNoInput(t *testing.T) {
	r := newTestRelay(t, KindScatter, true, 2)
	// nfd = 4: ports 0 (unused),1,3 are stdout/peer; last peer is 3.
	// noInput suppresses origin-restore, so ro stays false throughout.
	next, ro := r.nextFd(stdoutPort)
	assert.Equal(t, freeFileno, next)
	assert.False(t, ro)

	next, ro = r.nextFd(freeFileno) // last peer port
	assert.Equal(t, stdoutPort, next)
	assert.False(t, ro)
}

func TestNextFdDegenerateArityOne(t *testing.T) {
	r := newTestRelay(t, KindScatter, true, 1)
	assert.Equal(t, 2, r.nfd)
	next, ro := r.nextFd(stdoutPort)
	assert.Equal(t, stdoutPort, next)
	assert.False(t, ro)
}

func TestSelfRegisterGather(t *testing.T) {
	r := newTestRelay(t, KindGather, false, 2)
	r.ports[stdoutPort].pid = 100
	r.ports[stdinPort].pid = 200
	r.ports[freeFileno].pid = 201

	b := graph.New(1, 100)
	r.selfRegister(b)

	require.Len(t, b.Concs, 1)
	c := b.Concs[0]
	assert.Equal(t, r.pid, c.Pid)
	assert.Equal(t, graph.ConcInput, c.Kind)
	assert.Equal(t, int32(100), c.SinglePid)
	assert.ElementsMatch(t, []int32{200, 201}, c.MultiPids)

	// re-registering is a no-op
	r.selfRegister(b)
	assert.Len(t, b.Concs, 1)
}

func TestSelfRegisterUnknownPeerDefers(t *testing.T) {
	r := newTestRelay(t, KindGather, false, 2)
	r.ports[stdoutPort].pid = 100
	// stdin/peer pids still unknown (0)

	b := graph.New(1, 100)
	r.selfRegister(b)
	assert.Empty(t, b.Concs)
}

func TestEdgeInstances(t *testing.T) {
	b := graph.New(1, 1)
	a := b.AddNode(1, "a", 0, 1, false, true)
	c := b.AddNode(2, "c", 1, 0, true, false)
	_, err := b.AddEdge(a, c)
	require.NoError(t, err)
	b.Edges[0].Instances = 3

	assert.Equal(t, int32(3), edgeInstances(b, 1, 2))
	assert.Equal(t, int32(3), edgeInstances(b, 2, 1))
	assert.Equal(t, int32(0), edgeInstances(b, 1, 999))
}
