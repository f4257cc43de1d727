package negotiate

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dgsh-project/dgsh/internal/dgshenv"
)

// socketpairFiles returns the two ends of a connected AF_UNIX socket, as
// *os.File, standing in for the full-duplex stdin/stdout connection two
// adjacent dgsh processes are launched with.
func socketpairFiles(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	return os.NewFile(uintptr(fds[0]), "sockA"), os.NewFile(uintptr(fds[1]), "sockB")
}

func unusedSide(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	return f
}

// TestNegotiateLinearPipeline wires three simulated participants —
// A(source-only) -> B(transit) -> C(sink-only) — over two socketpairs
// and runs all three sessions concurrently, mirroring SPEC_FULL §8
// scenario 1 end to end (not just the solver).
func TestNegotiateLinearPipeline(t *testing.T) {
	aOut, bIn := socketpairFiles(t)
	bOut, cIn := socketpairFiles(t)
	defer aOut.Close()
	defer bIn.Close()
	defer bOut.Close()
	defer cIn.Close()

	aIn := unusedSide(t)
	cOut := unusedSide(t)
	defer aIn.Close()
	defer cOut.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfgA := dgshenv.Config{In: false, Out: true, Timeout: 2 * time.Second}
	cfgB := dgshenv.Config{In: true, Out: true, Timeout: 2 * time.Second}
	cfgC := dgshenv.Config{In: true, Out: false, Timeout: 2 * time.Second}

	var resA, resB, resC Result
	var errA, errB, errC error
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		resA, errA = negotiate(ctx, Options{
			ToolName: "A",
			Output:   ChannelSpec{Implicit: true},
		}, cfgA, 1001, aIn, aOut)
	}()
	go func() {
		defer wg.Done()
		resB, errB = negotiate(ctx, Options{
			ToolName: "B",
			Input:    ChannelSpec{Implicit: true},
			Output:   ChannelSpec{Implicit: true},
		}, cfgB, 1002, bIn, bOut)
	}()
	go func() {
		defer wg.Done()
		resC, errC = negotiate(ctx, Options{
			ToolName: "C",
			Input:    ChannelSpec{Implicit: true},
		}, cfgC, 1003, cIn, cOut)
	}()

	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	require.NoError(t, errC)

	assert.Equal(t, OutcomeComplete, resA.Outcome)
	assert.Equal(t, OutcomeComplete, resB.Outcome)
	assert.Equal(t, OutcomeComplete, resC.Outcome)

	assert.Empty(t, resA.InputFds)
	assert.Len(t, resA.OutputFds, 1)

	assert.Len(t, resB.InputFds, 1)
	assert.Len(t, resB.OutputFds, 1)

	assert.Len(t, resC.InputFds, 1)
	assert.Empty(t, resC.OutputFds)
}

// TestNegotiateUnsatisfiable wires two fixed-but-mismatched participants
// and checks that both sides observe the same unsatisfiable verdict
// rather than one hanging while the other errors out.
func TestNegotiateUnsatisfiable(t *testing.T) {
	aOut, bIn := socketpairFiles(t)
	defer aOut.Close()
	defer bIn.Close()

	aIn := unusedSide(t)
	bOut := unusedSide(t)
	defer aIn.Close()
	defer bOut.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfgA := dgshenv.Config{In: false, Out: true, Timeout: 2 * time.Second}
	cfgB := dgshenv.Config{In: true, Out: false, Timeout: 2 * time.Second}

	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_, errA = negotiate(ctx, Options{
			ToolName: "A",
			Output:   ChannelSpec{Count: 3},
		}, cfgA, 2001, aIn, aOut)
	}()
	go func() {
		defer wg.Done()
		_, errB = negotiate(ctx, Options{
			ToolName: "B",
			Input:    ChannelSpec{Count: 5},
		}, cfgB, 2002, bIn, bOut)
	}()

	wg.Wait()

	assert.Error(t, errA)
	assert.Error(t, errB)
}
