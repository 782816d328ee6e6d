package sockets

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Select wraps select(2) for the host event loop: it waits until one of
// the descriptors becomes readable or the timeout expires and returns
// the ready subset. EINTR is reported as an empty ready set so the loop
// just runs another tick.
func Select(fds []int, timeout time.Duration) ([]int, error) {
	if timeout < 0 {
		timeout = 0
	}
	var rset unix.FdSet
	nfds := 0
	for _, fd := range fds {
		if fd < 0 {
			continue
		}
		fdSet(&rset, fd)
		if fd >= nfds {
			nfds = fd + 1
		}
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(nfds, &rset, nil, nil, &tv)
	switch {
	case err == nil:
	case errors.Is(err, unix.EINTR):
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: select: %v", ErrSock, err)
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]int, 0, n)
	for _, fd := range fds {
		if fd >= 0 && fdIsSet(&rset, fd) {
			ready = append(ready, fd)
		}
	}
	return ready, nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
