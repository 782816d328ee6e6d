package trdp

import (
	"fmt"
	"time"

	"github.com/saelay/trdpstack/internal/wire"
)

// PubDesc parameterises Publish.
type PubDesc struct {
	ComID     uint32
	EtbTopo   uint32
	OpTrnTopo uint32
	SrcIP     wire.IPAddr // 0 selects the session's real IP
	DstIP     wire.IPAddr // unicast, multicast or broadcast destination
	Interval  time.Duration
	RedID     uint32
	Flags     Flags
	SendParam SendParam
	Data      []byte // initial payload; empty defers emission to Put
}

// Publish creates a cyclic (or, with a zero interval, pull-only) PD
// publication and returns its handle.
//
// A zero-length initial payload leaves the element in the invalid-data
// state: it is scheduled but nothing is emitted until the first Put.
func (s *Session) Publish(d PubDesc) (*Publication, error) {
	if d.ComID == 0 {
		return nil, fmt.Errorf("%w: comId must not be zero", ErrParam)
	}
	if d.DstIP == 0 {
		return nil, fmt.Errorf("%w: destination address must not be zero", ErrParam)
	}
	if d.Interval != 0 && d.Interval < Granularity {
		return nil, fmt.Errorf("%w: interval %v below granularity %v", ErrParam, d.Interval, Granularity)
	}
	if len(d.Data) > wire.MaxPDDataSize {
		return nil, fmt.Errorf("%w: payload %d exceeds %d octets", ErrParam, len(d.Data), wire.MaxPDDataSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNoSession
	}

	slot, err := s.pdSocket(d.SendParam)
	if err != nil {
		return nil, err
	}

	src := d.SrcIP
	if src == 0 {
		src = s.realIP
	}

	e := &pdElement{
		magic: magicPub,
		addr: Addressing{
			ComID:     d.ComID,
			SrcIP:     src,
			DstIP:     d.DstIP,
			EtbTopo:   d.EtbTopo,
			OpTrnTopo: d.OpTrnTopo,
		},
		redID:    d.RedID,
		msgType:  wire.MsgPd,
		pktFlags: d.Flags,
		interval: d.Interval,
		frame:    make([]byte, wire.MaxPDPacketSize),
		sock:     slot,
	}
	if d.DstIP.IsMulticast() {
		e.addr.McGroup = d.DstIP
	}

	// Continue the counter progression a redundant partner (or an
	// earlier incarnation of this publisher) left in the process-wide
	// table, so subscribers never see the counter jump backwards.
	e.seqPush = txSeqLast(d.ComID, src, wire.MsgPd)

	if len(d.Data) > 0 {
		if err := s.putLocked(e, d.Data); err != nil {
			s.pool.Release(slot)
			return nil, err
		}
	} else {
		e.privFlags.set(privInvalidData, true)
	}

	if d.Interval > 0 {
		e.timeToGo = now().Add(d.Interval)
	}
	if d.RedID != 0 {
		if leader, ok := s.redLeader[d.RedID]; ok {
			e.privFlags.set(privRedundant, !leader)
		}
	}

	s.sndQueue = append(s.sndQueue, e)
	if s.opts&OptionTrafficShaping != 0 {
		s.distributeSendDeadlines(now())
	}
	return &Publication{e: e}, nil
}

// Unpublish removes a publication and releases its socket. A second
// call on the same handle returns ErrNoPub.
func (s *Session) Unpublish(p *Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	if !p.valid() {
		return ErrNoPub
	}
	for i, e := range s.sndQueue {
		if e == p.e {
			s.sndQueue = append(s.sndQueue[:i], s.sndQueue[i+1:]...)
			e.magic = 0
			s.pool.Release(e.sock)
			return nil
		}
	}
	return ErrNoPub
}

// Put updates a publication's payload. With FlagMarshall set and a
// registry configured, data is the host image and is marshalled into
// the frame; otherwise it is copied verbatim.
func (s *Session) Put(p *Publication, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	if !p.valid() {
		return ErrNoPub
	}
	return s.putLocked(p.e, data)
}

func (s *Session) putLocked(e *pdElement, data []byte) error {
	if len(data) > wire.MaxPDDataSize {
		return fmt.Errorf("%w: payload %d exceeds %d octets", ErrParam, len(data), wire.MaxPDDataSize)
	}

	if e.pktFlags&FlagMarshall != 0 && s.registry != nil {
		ds, err := e.dataset(s.registry)
		if err != nil {
			return err
		}
		n, err := s.registry.MarshalDataset(ds, data, e.frame[wire.PDHeaderSize:wire.PDHeaderSize+wire.MaxPDDataSize])
		if err != nil {
			return err
		}
		e.dataSize = n
	} else {
		copy(e.frame[wire.PDHeaderSize:], data)
		e.dataSize = len(data)
	}

	if err := wire.PutPayloadCRC(e.frame, wire.PDHeaderSize, e.dataSize); err != nil {
		return err
	}
	e.privFlags.set(privInvalidData, false)
	e.updPkts++
	return nil
}

// RequestPD emits a one-shot PD pull request ('Pr') for comID. The
// publisher answers with a 'Pd' addressed to replyIP (or, when zero,
// this session) carrying replyComID (or, when zero, comID).
//
// The subscription handle marks where the response is expected. The
// response passes the same topo filter as push data: the session's
// counters apply, and zero on either side disables the check.
func (s *Session) RequestPD(sub *Subscription, comID uint32, etbTopo, opTrnTopo uint32,
	dstIP wire.IPAddr, param SendParam, replyComID uint32, replyIP wire.IPAddr) error {

	if comID == 0 || dstIP == 0 {
		return fmt.Errorf("%w: comId and destination must not be zero", ErrParam)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	if !sub.valid() {
		return ErrNoSub
	}
	sub.e.privFlags.set(privPullSub, true)

	// Reuse an existing request element for the same target.
	var e *pdElement
	for _, cur := range s.sndQueue {
		if cur.msgType == wire.MsgPr && cur.addr.ComID == comID && cur.addr.DstIP == dstIP {
			e = cur
			break
		}
	}
	if e == nil {
		slot, err := s.pdSocket(param)
		if err != nil {
			return err
		}
		e = &pdElement{
			magic:   magicPub,
			addr:    Addressing{ComID: comID, SrcIP: s.realIP, DstIP: dstIP, EtbTopo: etbTopo, OpTrnTopo: opTrnTopo},
			msgType: wire.MsgPr,
			frame:   make([]byte, wire.MaxPDPacketSize),
			sock:    slot,
		}
		s.sndQueue = append(s.sndQueue, e)
	}

	e.replyComID = replyComID
	e.pullIP = replyIP
	if e.pullIP == 0 {
		e.pullIP = s.realIP
	}
	e.privFlags.set(privReq2BSent, true)
	e.timeToGo = now()
	return nil
}
