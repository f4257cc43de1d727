// Package fdpass implements the ancillary-fd channel of spec.md §6: for
// every peer pair that will connect with a pipe, the negotiation engine
// sends the pipe's read end (on the producer side) or receives it (on
// the consumer side) over a Unix-domain socket via SCM_RIGHTS.
//
// Grounded on the raw-socket idiom gocanopen uses for SocketCAN in
// pkg/can/socketcanv3/socketcanv3.go (unix.Socket / unix.Bind /
// unix.SetsockoptTimeval), generalized here to unix.Sendmsg/Recvmsg
// with a control message instead of a raw CAN frame payload.
package fdpass

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dgsh-project/dgsh/internal/wire"
)

// recvRetryBackoff is the "retry once on EAGAIN with a 1 second
// back-off" rule of spec.md §4.1.
const recvRetryBackoff = 1 * time.Second

// SendFd sends fd as SCM_RIGHTS ancillary data over sockFd, with a
// single-byte payload.
func SendFd(sockFd int, fd int) error {
	rights := unix.UnixRights(fd)
	err := unix.Sendmsg(sockFd, []byte{0}, rights, nil, 0)
	if err != nil {
		return fmt.Errorf("fdpass: sendmsg: %w", err)
	}
	return nil
}

// RecvFd receives one fd as SCM_RIGHTS ancillary data over sockFd,
// retrying once on EAGAIN after a 1s back-off. Truncation of the
// control message is fatal (ErrTruncatedAncillary).
func RecvFd(sockFd int) (int, error) {
	oob := make([]byte, unix.CmsgSpace(4))
	buf := make([]byte, 1)

	n, oobn, flags, _, err := unix.Recvmsg(sockFd, buf, oob, 0)
	if err == unix.EAGAIN {
		time.Sleep(recvRetryBackoff)
		n, oobn, flags, _, err = unix.Recvmsg(sockFd, buf, oob, 0)
	}
	if err != nil {
		return -1, fmt.Errorf("fdpass: recvmsg: %w", err)
	}
	if n == 0 {
		return -1, fmt.Errorf("fdpass: recvmsg: peer closed")
	}
	if flags&unix.MSG_CTRUNC != 0 {
		return -1, wire.ErrTruncatedAncillary
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("%w: %v", wire.ErrTruncatedAncillary, err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, wire.ErrTruncatedAncillary
}
