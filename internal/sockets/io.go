package sockets

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/saelay/trdpstack/internal/wire"
)

// SendTo transmits one UDP datagram to dst:port.
func (s *Slot) SendTo(dst wire.IPAddr, port uint16, b []byte) error {
	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], dst.ToNet())
	err := unix.Sendto(s.FD, b, 0, sa)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR):
		return ErrWouldBlock
	default:
		return fmt.Errorf("%w: sendto %s:%d: %v", ErrSock, dst, port, err)
	}
}

// RecvFrom reads one UDP datagram into b.
func (s *Slot) RecvFrom(b []byte) (int, wire.IPAddr, uint16, error) {
	n, from, err := unix.Recvfrom(s.FD, b, 0)
	switch {
	case err == nil:
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR):
		return 0, 0, 0, ErrWouldBlock
	default:
		return 0, 0, 0, fmt.Errorf("%w: recvfrom: %v", ErrSock, err)
	}
	sa, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: non-IPv4 peer", ErrSock)
	}
	src := wire.IPAddr(uint32(sa.Addr[0])<<24 | uint32(sa.Addr[1])<<16 | uint32(sa.Addr[2])<<8 | uint32(sa.Addr[3]))
	return n, src, uint16(sa.Port), nil
}

// JoinMulticast adds the socket to a group, joining the kernel group on
// the first reference only.
func (s *Slot) JoinMulticast(group, ifIP wire.IPAddr) error {
	if !group.IsMulticast() {
		return fmt.Errorf("%w: %s is not a multicast group", ErrSock, group)
	}
	if s.mcGroups[group] > 0 {
		s.mcGroups[group]++
		return nil
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.ToNet())
	if ifIP != 0 {
		copy(mreq.Interface[:], ifIP.ToNet())
	}
	if err := unix.SetsockoptIPMreq(s.FD, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("%w: join %s: %v", ErrSock, group, err)
	}
	s.mcGroups[group] = 1
	return nil
}

// LeaveMulticast drops one reference on a group and leaves the kernel
// group when the last reference goes.
func (s *Slot) LeaveMulticast(group, ifIP wire.IPAddr) error {
	n, ok := s.mcGroups[group]
	if !ok {
		return nil
	}
	if n > 1 {
		s.mcGroups[group] = n - 1
		return nil
	}
	delete(s.mcGroups, group)
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.ToNet())
	if ifIP != 0 {
		copy(mreq.Interface[:], ifIP.ToNet())
	}
	if err := unix.SetsockoptIPMreq(s.FD, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("%w: leave %s: %v", ErrSock, group, err)
	}
	return nil
}

// JoinedGroups returns the groups this socket currently holds.
func (s *Slot) JoinedGroups() []wire.IPAddr {
	out := make([]wire.IPAddr, 0, len(s.mcGroups))
	for g := range s.mcGroups {
		out = append(out, g)
	}
	return out
}

// RejoinGroups re-issues IP_ADD_MEMBERSHIP for every held group, used
// after an interface restart.
func (s *Slot) RejoinGroups(ifIP wire.IPAddr) error {
	for g := range s.mcGroups {
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], g.ToNet())
		if ifIP != 0 {
			copy(mreq.Interface[:], ifIP.ToNet())
		}
		if err := unix.SetsockoptIPMreq(s.FD, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
			return fmt.Errorf("%w: rejoin %s: %v", ErrSock, g, err)
		}
	}
	return nil
}

// Connect starts a non-blocking TCP connect to the corner address.
// Completion is observed later through select and CheckConnect.
func (s *Slot) Connect(dst wire.IPAddr, port uint16, timeout time.Duration, now time.Time) error {
	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], dst.ToNet())
	s.TCP.CornerIP = dst
	s.TCP.CornerPort = port
	s.TCP.ConnDeadline = now.Add(timeout)
	err := unix.Connect(s.FD, sa)
	switch {
	case err == nil:
		s.TCP.Connected = true
		return nil
	case errors.Is(err, unix.EINPROGRESS) || errors.Is(err, unix.EALREADY) || errors.Is(err, unix.EINTR):
		return nil
	case errors.Is(err, unix.EISCONN):
		s.TCP.Connected = true
		return nil
	default:
		return fmt.Errorf("%w: connect %s:%d: %v", ErrSock, dst, port, err)
	}
}

// CheckConnect polls whether a pending non-blocking connect finished.
func (s *Slot) CheckConnect() (bool, error) {
	if s.TCP.Connected {
		return true, nil
	}
	soerr, err := unix.GetsockoptInt(s.FD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, fmt.Errorf("%w: SO_ERROR: %v", ErrSock, err)
	}
	switch unix.Errno(soerr) {
	case 0:
		s.TCP.Connected = true
		return true, nil
	case unix.EINPROGRESS, unix.EALREADY:
		return false, nil
	default:
		return false, fmt.Errorf("%w: connect failed: %v", ErrSock, unix.Errno(soerr))
	}
}

// Accept takes one pending connection off a listening socket and wraps
// it in a new slot. The caller adopts the slot into the pool.
func (s *Slot) Accept() (*Slot, error) {
	fd, from, err := unix.Accept(s.FD)
	switch {
	case err == nil:
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR):
		return nil, ErrWouldBlock
	default:
		return nil, fmt.Errorf("%w: accept: %v", ErrSock, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: O_NONBLOCK: %v", ErrSock, err)
	}
	peer := &Slot{
		FD:        fd,
		Port:      s.Port,
		Type:      SockMDTCP,
		RcvMostly: true,
	}
	if sa, ok := from.(*unix.SockaddrInet4); ok {
		peer.TCP.CornerIP = wire.IPAddr(uint32(sa.Addr[0])<<24 | uint32(sa.Addr[1])<<16 |
			uint32(sa.Addr[2])<<8 | uint32(sa.Addr[3]))
		peer.TCP.CornerPort = uint16(sa.Port)
	}
	peer.TCP.Connected = true
	return peer, nil
}

// SendStream writes b on a connected TCP socket. A short write parks
// the unsent tail in the slot and reports ErrWouldBlock; the engine
// calls FlushStream on later ticks until the tail drains or the send
// deadline fires.
func (s *Slot) SendStream(b []byte, sendTimeout time.Duration, now time.Time) error {
	if s.TCP.NotSend {
		return ErrWouldBlock
	}
	n, err := unix.Write(s.FD, b)
	if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
		return fmt.Errorf("%w: write: %v", ErrSock, err)
	}
	if n < 0 {
		n = 0
	}
	if n < len(b) {
		s.TCP.NotSend = true
		s.TCP.SendDeadline = now.Add(sendTimeout)
		s.TCP.pending = append(s.TCP.pending[:0], b[n:]...)
		return ErrWouldBlock
	}
	return nil
}

// FlushStream retries the parked tail of a partial write.
func (s *Slot) FlushStream() error {
	if !s.TCP.NotSend {
		return nil
	}
	n, err := unix.Write(s.FD, s.TCP.pending)
	if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
		return fmt.Errorf("%w: write: %v", ErrSock, err)
	}
	if n > 0 {
		s.TCP.pending = s.TCP.pending[n:]
	}
	if len(s.TCP.pending) == 0 {
		s.TCP.NotSend = false
		s.TCP.pending = nil
		return nil
	}
	return ErrWouldBlock
}

// RecvStream reads available bytes from a connected TCP socket. A zero
// count with nil error means the peer closed the connection.
func (s *Slot) RecvStream(b []byte) (int, error) {
	n, err := unix.Read(s.FD, b)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR):
		return 0, ErrWouldBlock
	default:
		return 0, fmt.Errorf("%w: read: %v", ErrSock, err)
	}
}
