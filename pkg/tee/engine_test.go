package tee

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })
	return r, w
}

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "dgsh-tee-sink-*")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestPoolAppendReadAtRoundTrip(t *testing.T) {
	p := NewPool(4, 0, "", false)
	n, err := p.Append([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.EqualValues(t, 11, p.End())

	buf := make([]byte, 11)
	got, err := p.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, got)
	assert.Equal(t, "hello world", string(buf))
}

func TestPoolPageOutAndReadBack(t *testing.T) {
	dir := t.TempDir()
	p := NewPool(4, 8, dir, true)
	_, err := p.Append([]byte("0123456789"))
	require.NoError(t, err)

	st := p.StatsSnapshot()
	assert.Greater(t, st.PageOuts, 0)

	buf := make([]byte, 10)
	got, err := p.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.Equal(t, "0123456789", string(buf))
	require.NoError(t, p.Close())
}

func TestPoolOOMWithoutSpill(t *testing.T) {
	p := NewPool(4, 4, "", false)
	_, err := p.Append([]byte("abcd"))
	require.NoError(t, err)
	_, err = p.Append([]byte("efgh"))
	assert.Error(t, err)
}

func TestEngineCopyTeeLike(t *testing.T) {
	srcR, srcW := pipePair(t)
	sink1 := tempFile(t)
	sink2 := tempFile(t)

	src := NewSource("src", srcR, 64, 0, "", false)
	sinks := []*Sink{NewSink("s1", sink1, 0), NewSink("s2", sink2, 0)}

	engine, err := New([]*Source{src}, sinks, Options{Mode: ModeCopy, Topology: TopologyTeeLike})
	require.NoError(t, err)

	go func() {
		srcW.Write([]byte("hello\ngo\n"))
		srcW.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Run(ctx))

	for _, path := range []*os.File{sink1, sink2} {
		data, err := os.ReadFile(path.Name())
		require.NoError(t, err)
		assert.Equal(t, "hello\ngo\n", string(data))
	}
}

func TestEngineScatterLineAligned(t *testing.T) {
	srcR, srcW := pipePair(t)
	sink1 := tempFile(t)
	sink2 := tempFile(t)

	src := NewSource("src", srcR, 4096, 0, "", false)
	sinks := []*Sink{NewSink("s1", sink1, 0), NewSink("s2", sink2, 0)}

	engine, err := New([]*Source{src}, sinks, Options{Mode: ModeScatter, Topology: TopologyTeeLike})
	require.NoError(t, err)

	go func() {
		srcW.Write([]byte("1\n2\n3\n4\n"))
		srcW.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Run(ctx))

	d1, err := os.ReadFile(sink1.Name())
	require.NoError(t, err)
	d2, err := os.ReadFile(sink2.Name())
	require.NoError(t, err)

	assert.Equal(t, len("1\n2\n3\n4\n"), len(d1)+len(d2))
	assert.Contains(t, string(d1)+string(d2), "1\n")
	assert.Contains(t, string(d1)+string(d2), "4\n")
}

func TestEnginePermuteSwap(t *testing.T) {
	s1R, s1W := pipePair(t)
	s2R, s2W := pipePair(t)
	sink1 := tempFile(t)
	sink2 := tempFile(t)

	src1 := NewSource("s1", s1R, 64, 0, "", false)
	src2 := NewSource("s2", s2R, 64, 0, "", false)
	// k1 reads from src2 (index 1), k2 reads from src1 (index 0): swap.
	sinks := []*Sink{NewSink("k1", sink1, 1), NewSink("k2", sink2, 0)}

	engine, err := New([]*Source{src1, src2}, sinks, Options{Mode: ModePermute, Topology: TopologyMultipipe})
	require.NoError(t, err)

	go func() {
		s1W.Write([]byte("from-one"))
		s1W.Close()
		s2W.Write([]byte("from-two"))
		s2W.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Run(ctx))

	d1, err := os.ReadFile(sink1.Name())
	require.NoError(t, err)
	d2, err := os.ReadFile(sink2.Name())
	require.NoError(t, err)
	assert.Equal(t, "from-two", string(d1))
	assert.Equal(t, "from-one", string(d2))
}

func TestEngineCatLikeChain(t *testing.T) {
	s1R, s1W := pipePair(t)
	s2R, s2W := pipePair(t)
	sink := tempFile(t)

	src1 := NewSource("s1", s1R, 64, 0, "", false)
	src2 := NewSource("s2", s2R, 64, 0, "", false)
	sinks := []*Sink{NewSink("out", sink, 0)}

	engine, err := New([]*Source{src1, src2}, sinks, Options{Mode: ModeCopy, Topology: TopologyCatLike})
	require.NoError(t, err)

	go func() {
		s1W.Write([]byte("first-"))
		s1W.Close()
		s2W.Write([]byte("second"))
		s2W.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Run(ctx))

	data, err := os.ReadFile(sink.Name())
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(data))
}
