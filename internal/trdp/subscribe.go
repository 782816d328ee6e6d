package trdp

import (
	"fmt"
	"time"

	"github.com/saelay/trdpstack/internal/wire"
)

// NoTimeout disables timeout supervision for a subscription.
const NoTimeout time.Duration = -1

// SubDesc parameterises Subscribe.
type SubDesc struct {
	UserRef   any
	ComID     uint32
	EtbTopo   uint32
	OpTrnTopo uint32
	SrcIP1    wire.IPAddr // source filter, 0 accepts any source
	SrcIP2    wire.IPAddr // second source of a redundant pair
	DstIP     wire.IPAddr // multicast group to join, or 0/unicast
	Flags     Flags
	// Timeout is the supervision interval. Zero selects the session
	// default; NoTimeout disables supervision.
	Timeout    time.Duration
	TOBehavior TOBehavior
	Callback   PDCallback
	// MaxDataSize bounds accepted payloads. Zero accepts anything up
	// to the PD maximum.
	MaxDataSize int
}

// Subscribe creates a PD receive slot and returns its handle. A
// multicast destination joins the group on the shared PD socket.
func (s *Session) Subscribe(d SubDesc) (*Subscription, error) {
	if d.ComID == 0 {
		return nil, fmt.Errorf("%w: comId must not be zero", ErrParam)
	}
	if d.MaxDataSize < 0 || d.MaxDataSize > wire.MaxPDDataSize {
		return nil, fmt.Errorf("%w: maxDataSize %d out of range", ErrParam, d.MaxDataSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNoSession
	}

	slot, err := s.pdSocket(SendParam{})
	if err != nil {
		return nil, err
	}

	timeout := d.Timeout
	switch {
	case timeout == 0:
		timeout = s.pdCfg.Timeout
	case timeout == NoTimeout:
		timeout = 0
	case timeout < Granularity:
		s.pool.Release(slot)
		return nil, fmt.Errorf("%w: timeout %v below granularity %v", ErrParam, timeout, Granularity)
	}

	toBehavior := d.TOBehavior
	if toBehavior == TODefault {
		toBehavior = s.pdCfg.TOBehavior
	}
	callback := d.Callback
	if callback == nil {
		callback = s.pdCfg.Callback
	}

	e := &pdElement{
		magic: magicSub,
		addr: Addressing{
			ComID:     d.ComID,
			SrcIP:     d.SrcIP1,
			DstIP:     d.DstIP,
			EtbTopo:   d.EtbTopo,
			OpTrnTopo: d.OpTrnTopo,
		},
		srcIP2:     d.SrcIP2,
		msgType:    wire.MsgPd,
		pktFlags:   d.Flags,
		interval:   timeout,
		toBehavior: toBehavior,
		frame:      make([]byte, wire.MaxPDPacketSize),
		sock:       slot,
		userRef:     d.UserRef,
		callback:    callback,
		maxDataSize: d.MaxDataSize,
	}
	e.privFlags.set(privInvalidData, true)

	if d.DstIP.IsMulticast() {
		if err := slot.JoinMulticast(d.DstIP, s.realIP); err != nil {
			s.pool.Release(slot)
			return nil, err
		}
		e.addr.McGroup = d.DstIP
		e.privFlags.set(privMcJoined, true)
	}

	if timeout > 0 {
		e.timeToGo = now().Add(timeout)
	}

	s.rcvQueue = append(s.rcvQueue, e)
	return &Subscription{e: e}, nil
}

// Unsubscribe removes a subscription, leaving its multicast group when
// it was the last holder. A second call returns ErrNoSub.
func (s *Session) Unsubscribe(sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	if !sub.valid() {
		return ErrNoSub
	}
	for i, e := range s.rcvQueue {
		if e == sub.e {
			s.rcvQueue = append(s.rcvQueue[:i], s.rcvQueue[i+1:]...)
			e.magic = 0
			if e.privFlags.has(privMcJoined) {
				_ = e.sock.LeaveMulticast(e.addr.McGroup, s.realIP)
			}
			s.pool.Release(e.sock)
			return nil
		}
	}
	return ErrNoSub
}

// Get copies the subscription's latest payload into buf and returns
// the event metadata and payload length.
//
// A slot that never received data returns ErrNoData; a timed-out slot
// returns ErrTimeout together with whatever the timeout behaviour left
// in the buffer.
func (s *Session) Get(sub *Subscription, buf []byte) (PDInfo, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return PDInfo{}, 0, ErrNoSession
	}
	if !sub.valid() {
		return PDInfo{}, 0, ErrNoSub
	}
	e := sub.e

	if e.privFlags.has(privInvalidData) {
		return PDInfo{}, 0, ErrNoData
	}
	if len(buf) < e.dataSize {
		return PDInfo{}, 0, fmt.Errorf("%w: buffer %d, payload %d", ErrMem, len(buf), e.dataSize)
	}

	n := e.dataSize
	if e.pktFlags&FlagMarshall != 0 && s.registry != nil {
		ds, err := e.dataset(s.registry)
		if err != nil {
			return PDInfo{}, 0, err
		}
		n, err = s.registry.UnmarshalDataset(ds, e.payload(), buf)
		if err != nil {
			return PDInfo{}, 0, err
		}
	} else {
		copy(buf, e.payload())
	}
	e.getPkts++

	info := PDInfo{
		ComID:        e.addr.ComID,
		SrcIP:        e.lastSrcIP,
		DstIP:        e.addr.DstIP,
		MsgType:      e.msgType,
		SeqCount:     e.seqPush,
		ProtVersion:  wire.ProtocolVersion,
		EtbTopoCnt:   e.addr.EtbTopo,
		OpTrnTopoCnt: e.addr.OpTrnTopo,
		UserRef:      e.userRef,
	}
	if e.privFlags.has(privTimedOut) {
		info.ResultCode = ErrTimeout
		return info, n, ErrTimeout
	}
	return info, n, nil
}
