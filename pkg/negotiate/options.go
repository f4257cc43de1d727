// Package negotiate implements the distributed negotiation protocol and
// I/O-channel solver of SPEC_FULL.md §4.2: the Go rendering of the C
// dgsh_negotiate() entry point, grounded on gocanopen's node/network
// session shape (pkg/node.BaseNode embedding *canopen.BusManager and
// *sdo.SDOClient) generalized to a single explicit session value (no
// process-wide globals, per Design Note 3).
package negotiate

import (
	"fmt"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
)

// ChannelSpec describes one side's (input or output) desired channel
// count. It renders the C contract's three states: a null pointer
// ("exactly one stream, pass through the implicit stdio fd"), -1
// ("flexible: any number >= 1"), or a nonnegative fixed count.
type ChannelSpec struct {
	// Implicit, when true, means the caller takes/provides exactly one
	// stream and wants the implicit stdio fd passed straight through —
	// the null-pointer case of the C contract.
	Implicit bool

	// Flexible, when true (and Implicit is false), means any count >= 1
	// is acceptable.
	Flexible bool

	// Count is the fixed channel count, used when neither Implicit nor
	// Flexible is set. 0 is a valid fixed count (no channels wanted on
	// this side).
	Count int32
}

func (c ChannelSpec) validate() error {
	if c.Implicit || c.Flexible {
		return nil
	}
	if c.Count < 0 {
		return fmt.Errorf("%w: negative channel count", dgsherr.ErrIllegalArgument)
	}
	return nil
}

// constraint returns the value to store on the node record: Flexible
// (-1), or the fixed count (Implicit resolves to 1).
func (c ChannelSpec) constraint() int32 {
	if c.Implicit {
		return 1
	}
	if c.Flexible {
		return -1
	}
	return c.Count
}

// Options carries one participant's negotiation request.
type Options struct {
	// ToolName is the human-readable node name recorded in the graph.
	ToolName string
	Input    ChannelSpec
	Output   ChannelSpec
}

func (o Options) validate() error {
	if o.ToolName == "" {
		return fmt.Errorf("%w: empty tool name", dgsherr.ErrIllegalArgument)
	}
	if err := o.Input.validate(); err != nil {
		return err
	}
	return o.Output.validate()
}

// Outcome is the final negotiation state a caller should act on.
type Outcome int

const (
	// OutcomeComplete: fds are ready, proceed to the data phase.
	OutcomeComplete Outcome = iota
	// OutcomeDrawExit: DGSH_DRAW_EXIT was set and the solve succeeded;
	// the caller should exit cleanly (status 69) without running.
	OutcomeDrawExit
)

// Result carries the negotiated file descriptors. InputFds[0] and
// OutputFds[0] are always duped over fd 0 and fd 1 respectively when
// Outcome is OutcomeComplete and the corresponding side is active.
type Result struct {
	Outcome   Outcome
	InputFds  []int
	OutputFds []int
}
