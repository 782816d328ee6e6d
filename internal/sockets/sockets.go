// Package sockets manages the bounded pool of UDP and TCP sockets the
// TRDP engine sends and receives on. Sockets are plain file descriptors
// so the host application can drive the stack with select(2): the
// session hands out the pooled descriptors through GetInterval and reads
// whichever ones the host reports ready.
//
// Slots are shared: acquisition is keyed on (bind address, port, type,
// QoS, TTL, receive-only) and reference counted. Multicast group
// membership is reference counted per (socket, group) so a group is
// joined at most once and dropped when the last subscriber leaves.
package sockets

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/saelay/trdpstack/internal/wire"
)

var (
	// ErrSock is the sentinel for socket setup and teardown failures.
	ErrSock = errors.New("trdp socket error")
	// ErrWouldBlock is returned by non-blocking I/O that would block;
	// the engine retries on the next tick.
	ErrWouldBlock = errors.New("operation would block")
	// ErrPoolFull is returned when all socket slots are in use.
	ErrPoolFull = errors.New("socket pool exhausted")
)

// MaxSockets bounds the pool, mirroring the fixed slot array of the
// wire protocol's reference stack.
const MaxSockets = 64

// SockType describes what a pooled socket is used for.
type SockType int

const (
	SockPD    SockType = iota // UDP process data
	SockMDUDP                 // UDP message data
	SockMDTCP                 // TCP message data
)

func (t SockType) String() string {
	switch t {
	case SockPD:
		return "pd-udp"
	case SockMDUDP:
		return "md-udp"
	case SockMDTCP:
		return "md-tcp"
	}
	return "unknown"
}

// TCPState tracks the per-peer sub-state of an accepted or connected
// TCP socket.
type TCPState struct {
	CornerIP      wire.IPAddr // remote end of the connection
	CornerPort    uint16
	Connected     bool      // non-blocking connect completed
	ConnDeadline  time.Time // bound on connect completion
	NotSend       bool      // a partial write is pending
	SendDeadline  time.Time // bound on completing the pending write
	Morituri      bool      // scheduled for teardown
	MsgUncomplete bool      // a partial frame is buffered in RxBuf

	// RxBuf accumulates stream bytes until a whole frame is in; the
	// engine owns the framing.
	RxBuf []byte

	pending []byte // unsent tail of a partial write
}

// Slot is one pooled socket.
type Slot struct {
	FD        int
	BindIP    wire.IPAddr
	Port      uint16
	Type      SockType
	QoS       uint8
	TTL       uint8
	RcvMostly bool
	Usage     int
	Pinned    bool // held open by a listener even at zero usage
	TCP       TCPState

	mcGroups map[wire.IPAddr]int // join refcount per group
}

// Pool is the bounded socket collection of one session.
type Pool struct {
	slots []*Slot
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{slots: make([]*Slot, 0, MaxSockets)}
}

// Acquire returns a socket matching the given key, opening one if no
// compatible slot exists. The usage count of the returned slot is
// incremented either way.
func (p *Pool) Acquire(bindIP wire.IPAddr, port uint16, typ SockType, qos, ttl uint8, rcvMostly bool) (*Slot, error) {
	for _, s := range p.slots {
		if s.BindIP == bindIP && s.Port == port && s.Type == typ &&
			s.QoS == qos && s.TTL == ttl && s.RcvMostly == rcvMostly {
			s.Usage++
			return s, nil
		}
	}
	if len(p.slots) >= MaxSockets {
		return nil, fmt.Errorf("%w: %d slots in use", ErrPoolFull, len(p.slots))
	}

	var (
		fd  int
		err error
	)
	if typ == SockMDTCP {
		fd, err = openTCP(bindIP, port, rcvMostly)
	} else {
		fd, err = openUDP(bindIP, port, qos, ttl, rcvMostly)
	}
	if err != nil {
		return nil, err
	}

	s := &Slot{
		FD:        fd,
		BindIP:    bindIP,
		Port:      port,
		Type:      typ,
		QoS:       qos,
		TTL:       ttl,
		RcvMostly: rcvMostly,
		Usage:     1,
		mcGroups:  make(map[wire.IPAddr]int),
	}
	p.slots = append(p.slots, s)
	return s, nil
}

// AcquireTCPClient returns the outgoing TCP socket for a corner
// address, opening an unconnected one when none exists. The caller
// drives Connect.
func (p *Pool) AcquireTCPClient(corner wire.IPAddr, port uint16) (*Slot, error) {
	for _, s := range p.slots {
		if s.Type == SockMDTCP && !s.RcvMostly && s.TCP.CornerIP == corner && s.TCP.CornerPort == port {
			s.Usage++
			return s, nil
		}
	}
	if len(p.slots) >= MaxSockets {
		return nil, fmt.Errorf("%w: %d slots in use", ErrPoolFull, len(p.slots))
	}
	fd, err := openTCP(0, 0, false)
	if err != nil {
		return nil, err
	}
	s := &Slot{
		FD:       fd,
		Type:     SockMDTCP,
		Usage:    1,
		mcGroups: make(map[wire.IPAddr]int),
	}
	s.TCP.CornerIP = corner
	s.TCP.CornerPort = port
	p.slots = append(p.slots, s)
	return s, nil
}

// Adopt inserts an externally created socket (an accepted TCP
// connection) into the pool so it participates in select and teardown.
func (p *Pool) Adopt(s *Slot) error {
	if len(p.slots) >= MaxSockets {
		return fmt.Errorf("%w: cannot adopt fd %d", ErrPoolFull, s.FD)
	}
	if s.mcGroups == nil {
		s.mcGroups = make(map[wire.IPAddr]int)
	}
	s.Usage = 1
	p.slots = append(p.slots, s)
	return nil
}

// Release drops one reference. At zero usage an unpinned socket is
// closed and its slot removed; the return value reports whether that
// happened.
func (p *Pool) Release(s *Slot) bool {
	if s.Usage > 0 {
		s.Usage--
	}
	if s.Usage > 0 || s.Pinned {
		return false
	}
	p.Remove(s)
	return true
}

// Remove closes a socket and drops its slot regardless of usage count.
func (p *Pool) Remove(s *Slot) {
	_ = unix.Close(s.FD)
	for i, cur := range p.slots {
		if cur == s {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			break
		}
	}
}

// Slots returns the live slots in acquisition order.
func (p *Pool) Slots() []*Slot {
	return p.slots
}

// ByFD finds the slot owning a descriptor.
func (p *Pool) ByFD(fd int) *Slot {
	for _, s := range p.slots {
		if s.FD == fd {
			return s
		}
	}
	return nil
}

// Close tears down every socket in the pool.
func (p *Pool) Close() {
	for _, s := range p.slots {
		_ = unix.Close(s.FD)
	}
	p.slots = p.slots[:0]
}

// openUDP opens, configures and binds a non-blocking UDP socket.
func openUDP(bindIP wire.IPAddr, port uint16, qos, ttl uint8, _ bool) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: socket: %v", ErrSock, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, fmt.Errorf("%w: O_NONBLOCK: %v", ErrSock, err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	// QoS maps to the DSCP field.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, int(qos)<<2)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, int(ttl))
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, int(ttl))

	if bindIP != 0 {
		// Route outgoing multicast through the bound interface.
		var ifAddr [4]byte
		copy(ifAddr[:], bindIP.ToNet())
		_ = unix.SetsockoptInet4Addr(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_IF, ifAddr)
	}

	// Always bind INADDR_ANY: binding the interface address would
	// discard multicast traffic. bindIP stays part of the pool key and
	// selects the egress interface above.
	sa := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, sa); err != nil {
		return -1, fmt.Errorf("%w: bind %s:%d: %v", ErrSock, bindIP, port, err)
	}
	ok = true
	return fd, nil
}

// openTCP opens a non-blocking TCP socket. Receive-mostly means a
// listening socket; otherwise the caller connects it later.
func openTCP(bindIP wire.IPAddr, port uint16, listen bool) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("%w: socket: %v", ErrSock, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, fmt.Errorf("%w: O_NONBLOCK: %v", ErrSock, err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if listen {
		sa := &unix.SockaddrInet4{Port: int(port)}
		if bindIP != 0 {
			copy(sa.Addr[:], bindIP.ToNet())
		}
		if err := unix.Bind(fd, sa); err != nil {
			return -1, fmt.Errorf("%w: bind %s:%d: %v", ErrSock, bindIP, port, err)
		}
		if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
			return -1, fmt.Errorf("%w: listen: %v", ErrSock, err)
		}
	}
	ok = true
	return fd, nil
}
