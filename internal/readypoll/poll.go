// Package readypoll implements the single readiness-multiplexing
// primitive used by both the negotiation loop (§4.2.2) and the
// concentrator relay loop (§4.3): a select-style wait over a set of
// candidate fds, retried transparently on signal interruption.
package readypoll

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Want describes the readiness a caller is polling for on one fd.
type Want struct {
	Fd      int
	Read    bool
	Write   bool
}

// Ready mirrors Want with the observed readiness.
type Ready struct {
	Fd      int
	Read    bool
	Write   bool
}

// Wait blocks until at least one of the wanted fds is ready, the
// deadline passes, or ctx-equivalent timeout expires. timeout < 0 means
// block indefinitely. A signal interruption (EINTR) is retried
// transparently, never surfaced to the caller.
func Wait(wants []Want, timeout time.Duration) ([]Ready, error) {
	pfds := make([]unix.PollFd, len(wants))
	for i, w := range wants {
		var events int16
		if w.Read {
			events |= unix.POLLIN
		}
		if w.Write {
			events |= unix.POLLOUT
		}
		pfds[i] = unix.PollFd{Fd: int32(w.Fd), Events: events}
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}

	for {
		n, err := unix.Poll(pfds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, err
		}
		if n == 0 {
			return nil, nil // timeout
		}
		break
	}

	var ready []Ready
	for i, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		ready = append(ready, Ready{
			Fd:    wants[i].Fd,
			Read:  pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Write: pfd.Revents&unix.POLLOUT != 0,
		})
	}
	return ready, nil
}
