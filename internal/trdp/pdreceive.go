package trdp

import (
	"bytes"
	"errors"
	"time"

	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/wire"
)

// readPD drains one datagram from a ready PD socket, validates it and
// dispatches it into the matching receive slot. Malformed frames are
// dropped and counted; they never reach a callback.
//
// Matching callbacks are appended to pend and fired by Process after
// the session lock is released.
func (s *Session) readPD(slot *sockets.Slot, tNow time.Time, pend *[]func()) {
	bufPtr := s.frames.Get()
	defer s.frames.Put(bufPtr)
	buf := *bufPtr

	n, srcIP, _, err := slot.RecvFrom(buf)
	if err != nil {
		if !errors.Is(err, sockets.ErrWouldBlock) && s.logger != nil {
			s.logger.Warn("pd receive failed", "err", err)
		}
		return
	}
	frame := buf[:n]

	off := 0
	hdr, err := wire.ParsePDHeader(frame, &off)
	switch {
	case err == nil:
	case errors.Is(err, wire.ErrCRC):
		s.stats.pdCrcErr.Add(1)
		return
	default:
		s.stats.pdProtErr.Add(1)
		return
	}
	if !hdr.MsgType.Valid() || !hdr.MsgType.IsPD() {
		s.stats.pdProtErr.Add(1)
		return
	}
	if wire.CheckProtocolVersion(hdr.ProtocolVersion) != nil {
		s.stats.pdProtErr.Add(1)
		return
	}
	dataLen := int(hdr.DatasetLength)
	if dataLen > wire.MaxPDDataSize || wire.PDWireSize(dataLen) > n {
		s.stats.pdProtErr.Add(1)
		return
	}
	if err := wire.VerifyPayloadCRC(frame, wire.PDHeaderSize, dataLen); err != nil {
		s.stats.pdCrcErr.Add(1)
		return
	}

	s.stats.pdRecv.Add(1)

	if hdr.MsgType == wire.MsgPr {
		s.handlePullRequest(&hdr, srcIP, tNow)
		return
	}

	s.dispatchPD(&hdr, srcIP, frame[wire.PDHeaderSize:wire.PDHeaderSize+dataLen], tNow, pend)
}

// handlePullRequest arms a one-shot emission on the publication the
// request addresses. The reply carries the pull counter so the cyclic
// push progression stays untouched.
func (s *Session) handlePullRequest(hdr *wire.PDHeader, srcIP wire.IPAddr, tNow time.Time) {
	target := hdr.ComID
	if hdr.ReplyComID != 0 {
		target = hdr.ReplyComID
	}
	for _, e := range s.sndQueue {
		if e.msgType != wire.MsgPd || e.addr.ComID != target {
			continue
		}
		e.pullIP = hdr.ReplyIPAddress
		if e.pullIP == 0 {
			e.pullIP = srcIP
		}
		e.privFlags.set(privReq2BSent, true)
		e.timeToGo = tNow
		return
	}
	s.stats.pdNoSubs.Add(1)
}

// dispatchPD delivers a validated 'Pd' into every matching receive
// slot.
func (s *Session) dispatchPD(hdr *wire.PDHeader, srcIP wire.IPAddr, data []byte, tNow time.Time, pend *[]func()) {
	matched := false
	seqChecked, seqOK := false, false
	var missed uint32
	for _, e := range s.rcvQueue {
		if e.addr.ComID != hdr.ComID || !e.matchesSource(srcIP) {
			continue
		}
		matched = true

		// Topo filter: zero on either side disables the check, which
		// also grants the pull-reply tolerance for subscribers with
		// zero counters.
		if !s.matchTopo(hdr.EtbTopoCnt, hdr.OpTrnTopoCnt) {
			s.stats.pdTopoErr.Add(1)
			continue
		}
		if e.maxDataSize > 0 && len(data) > e.maxDataSize {
			s.stats.pdProtErr.Add(1)
			continue
		}

		// Duplicate and replay filter per source and message type. The
		// frame is checked once; every matching slot shares the verdict.
		if !seqChecked {
			seqOK, missed = s.rxSeq.check(hdr.ComID, srcIP, hdr.MsgType, hdr.SequenceCounter)
			seqChecked = true
			if missed > 0 {
				s.stats.pdMissed.Add(uint64(missed))
			}
		}
		if !seqOK {
			continue
		}
		if missed > 0 {
			e.numMissed += missed
		}

		changed := e.privFlags.has(privInvalidData) ||
			e.dataSize != len(data) ||
			!bytes.Equal(e.payload(), data)

		copy(e.frame[wire.PDHeaderSize:], data)
		e.dataSize = len(data)
		e.lastSrcIP = srcIP
		e.seqPush = hdr.SequenceCounter
		if changed {
			e.updPkts++
		}
		e.numRxTx++
		e.privFlags.set(privInvalidData, false)
		e.privFlags.set(privTimedOut, false)
		e.lastErr = nil
		if e.interval > 0 {
			e.timeToGo = tNow.Add(e.interval)
		}

		if e.callback != nil && e.pktFlags&FlagCallback != 0 {
			*pend = append(*pend, s.pdCallbackEvent(e, hdr, srcIP, data))
		}
	}
	if !matched {
		s.stats.pdNoSubs.Add(1)
	}
}

// pdCallbackEvent captures a stable snapshot of a reception for
// delivery after the session lock is released.
func (s *Session) pdCallbackEvent(e *pdElement, hdr *wire.PDHeader, srcIP wire.IPAddr, data []byte) func() {
	info := PDInfo{
		ComID:        hdr.ComID,
		SrcIP:        srcIP,
		DstIP:        e.addr.DstIP,
		MsgType:      hdr.MsgType,
		SeqCount:     hdr.SequenceCounter,
		ProtVersion:  hdr.ProtocolVersion,
		EtbTopoCnt:   hdr.EtbTopoCnt,
		OpTrnTopoCnt: hdr.OpTrnTopoCnt,
		ReplyComID:   hdr.ReplyComID,
		ReplyIP:      hdr.ReplyIPAddress,
		UserRef:      e.userRef,
	}
	snapshot := append([]byte(nil), data...)
	cb := e.callback

	if e.pktFlags&FlagMarshall != 0 && s.registry != nil {
		if ds, err := e.dataset(s.registry); err == nil {
			host := make([]byte, wire.MaxPDDataSize)
			if n, err := s.registry.UnmarshalDataset(ds, snapshot, host); err == nil {
				snapshot = host[:n]
			}
		}
	}
	return func() { cb(info, snapshot) }
}

// matchTopo applies the session-level topo counter filter.
func (s *Session) matchTopo(etb, opTrn uint32) bool {
	if etb != 0 && s.etbTopo != 0 && etb != s.etbTopo {
		return false
	}
	if opTrn != 0 && s.opTrnTopo != 0 && opTrn != s.opTrnTopo {
		return false
	}
	return true
}

// checkPDTimeouts sweeps the receive queue and reports newly expired
// subscriptions. A slot reports once; the next valid telegram re-arms
// reporting.
func (s *Session) checkPDTimeouts(tNow time.Time, pend *[]func()) {
	for _, e := range s.rcvQueue {
		if e.interval == 0 || e.timeToGo.IsZero() || e.timeToGo.After(tNow) {
			continue
		}
		if e.privFlags.has(privTimedOut) {
			continue
		}
		e.privFlags.set(privTimedOut, true)
		e.lastErr = ErrTimeout
		s.stats.pdTimeout.Add(1)

		if e.toBehavior == TOSetToZero {
			clear(e.frame[wire.PDHeaderSize : wire.PDHeaderSize+e.dataSize])
		}

		if e.callback != nil && e.pktFlags&FlagCallback != 0 {
			info := PDInfo{
				ComID:      e.addr.ComID,
				SrcIP:      e.lastSrcIP,
				DstIP:      e.addr.DstIP,
				MsgType:    wire.MsgPd,
				UserRef:    e.userRef,
				ResultCode: ErrTimeout,
			}
			cb := e.callback
			*pend = append(*pend, func() { cb(info, nil) })
		}
	}
}
