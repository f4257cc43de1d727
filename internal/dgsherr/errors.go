// Package dgsherr collects the sentinel errors shared by the negotiation
// engine, the concentrator and the tee data engine.
package dgsherr

import "errors"

var (
	// ErrIllegalArgument is returned before any I/O when a caller passes
	// an invalid channel constraint or a nil tool name.
	ErrIllegalArgument = errors.New("dgsh: illegal argument")

	// ErrResourceExhausted wraps allocation or pipe-creation failures.
	ErrResourceExhausted = errors.New("dgsh: resource exhausted")

	// ErrBadFraming is raised by the codec on a short read or a framing
	// mismatch.
	ErrBadFraming = errors.New("dgsh: bad message framing")

	// ErrProtocol covers impossible origin indices, truncated ancillary
	// data, version mismatches, and concentrator fd counts that cannot be
	// resolved.
	ErrProtocol = errors.New("dgsh: protocol error")

	// ErrTimeout is returned when DGSH_TIMEOUT expires before negotiation
	// completes.
	ErrTimeout = errors.New("dgsh: negotiation timeout")

	// ErrUnsatisfiable is returned by the negotiation engine and the
	// concentrator when the solver (which itself returns a
	// *graph.UnsatisfiableError) cannot match one or more nodes within
	// the retry budget.
	ErrUnsatisfiable = errors.New("dgsh: unsatisfiable channel constraints")

	// ErrDownstreamClosed marks a sink that closed its read end (EPIPE);
	// the data engine deactivates that sink rather than treating this as
	// fatal.
	ErrDownstreamClosed = errors.New("dgsh: downstream closed")
)
