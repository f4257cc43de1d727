package wire

import (
	"fmt"

	"github.com/dgsh-project/dgsh/internal/dgsherr"
)

// ErrShortRead is raised when a chunk read returns fewer bytes than the
// framing promised (spec.md §4.1: "short-read raises bad-framing").
var ErrShortRead = fmt.Errorf("%w: short read", dgsherr.ErrBadFraming)

// ErrTruncatedAncillary is raised by the fd-passing transport when
// SCM_RIGHTS control data is truncated (spec.md §4.1: "protocol-error").
var ErrTruncatedAncillary = fmt.Errorf("%w: truncated ancillary data", dgsherr.ErrProtocol)
