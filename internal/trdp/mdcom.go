package trdp

import (
	"errors"
	"time"

	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/wire"
)

// composeMD builds the wire frame of the element's next transmission.
func (s *Session) composeMD(e *mdElement) []byte {
	etb, opTrn := e.addr.EtbTopo, e.addr.OpTrnTopo
	if etb == 0 {
		etb = s.etbTopo
	}
	if opTrn == 0 {
		opTrn = s.opTrnTopo
	}

	hdr := wire.MDHeader{
		SequenceCounter: e.curSeq,
		ProtocolVersion: wire.ProtocolVersion,
		MsgType:         e.msgType,
		ComID:           e.addr.ComID,
		EtbTopoCnt:      etb,
		OpTrnTopoCnt:    opTrn,
		DatasetLength:   uint32(len(e.data)),
		ReplyStatus:     e.replyStatus,
		SessionID:       e.sessionID,
		SourceURI:       e.srcURI,
		DestinationURI:  e.destURI,
	}
	if e.msgType == wire.MsgMr || e.msgType == wire.MsgMq {
		hdr.ReplyTimeout = uint32(e.interval / time.Microsecond)
	}

	frame := make([]byte, wire.MDWireSize(len(e.data)))
	_ = hdr.Put(frame)
	copy(frame[wire.MDHeaderSize:], e.data)
	_ = wire.PutPayloadCRC(frame, wire.MDHeaderSize, len(e.data))
	return frame
}

// mdDest resolves where the element's next transmission goes.
func (s *Session) mdDest(e *mdElement) (wire.IPAddr, uint16) {
	if e.replyToIP != 0 {
		return e.replyToIP, e.replyPort
	}
	if e.replyPort != 0 {
		return e.addr.DstIP, e.replyPort
	}
	return e.addr.DstIP, s.mdCfg.UDPPort
}

// processMDSend walks both MD queues and transmits every armed
// session, advancing its state machine.
func (s *Session) processMDSend(tNow time.Time, pend *[]func()) {
	for _, e := range append(append([]*mdElement(nil), s.mdSnd...), s.mdRcv...) {
		if !e.state.armed() {
			continue
		}
		s.sendMDElement(e, tNow, pend)
	}
}

func (s *Session) sendMDElement(e *mdElement, tNow time.Time, pend *[]func()) {
	frame := s.composeMD(e)

	var err error
	if e.tcp {
		err = s.sendMDStream(e, frame, tNow)
	} else {
		dst, port := s.mdDest(e)
		err = e.sock.SendTo(dst, port, frame)
	}
	switch {
	case err == nil:
	case errors.Is(err, sockets.ErrWouldBlock):
		return // stay armed, retried next tick until a deadline fires
	default:
		if s.logger != nil {
			s.logger.Warn("md send failed", "comid", e.addr.ComID, "state", e.state.String(), "err", err)
		}
		s.finishMD(e, ErrSendingFailed, nil, pend)
		return
	}

	e.curSeq++
	s.stats.mdSent.Add(1)

	switch e.state {
	case stTxNotifyArm:
		s.removeMD(e)
	case stTxRequestArm:
		e.state = stTxRequestW4Reply
		e.timeToGo = tNow.Add(e.interval)
	case stTxReplyArm:
		e.state = stRxReplySent
		s.removeMD(e)
	case stTxReplyQueryArm:
		e.state = stRxReplyQueryW4C
		e.timeToGo = tNow.Add(e.interval)
	case stTxConfirmArm:
		e.numConfirmSent++
		if e.numExpReplies > 0 && e.numReplies >= e.numExpReplies {
			s.removeMD(e)
		} else {
			// More replies may come; fall back to waiting with the
			// original reply deadline.
			e.msgType = wire.MsgMr
			e.state = stTxRequestW4Reply
		}
	}
}

// sendMDStream transmits over TCP, driving the non-blocking connect.
func (s *Session) sendMDStream(e *mdElement, frame []byte, tNow time.Time) error {
	done, err := e.sock.CheckConnect()
	if err != nil {
		return err
	}
	if !done {
		return sockets.ErrWouldBlock
	}
	if err := e.sock.FlushStream(); err != nil {
		return err
	}
	return e.sock.SendStream(frame, s.mdCfg.SendTimeout, tNow)
}

// processMDFrame validates one received MD frame and dispatches it.
// Shared by the UDP and TCP receive paths.
func (s *Session) processMDFrame(frame []byte, srcIP wire.IPAddr, srcPort uint16,
	slot *sockets.Slot, tNow time.Time, pend *[]func()) {

	off := 0
	hdr, err := wire.ParseMDHeader(frame, &off)
	switch {
	case err == nil:
	case errors.Is(err, wire.ErrCRC):
		s.stats.mdCrcErr.Add(1)
		return
	default:
		s.stats.mdProtErr.Add(1)
		return
	}
	if !hdr.MsgType.Valid() || !hdr.MsgType.IsMD() {
		s.stats.mdProtErr.Add(1)
		return
	}
	if wire.CheckProtocolVersion(hdr.ProtocolVersion) != nil {
		s.stats.mdProtErr.Add(1)
		return
	}
	dataLen := int(hdr.DatasetLength)
	if dataLen > wire.MaxMDDataSize || wire.MDWireSize(dataLen) > len(frame) {
		s.stats.mdProtErr.Add(1)
		return
	}
	if err := wire.VerifyPayloadCRC(frame, wire.MDHeaderSize, dataLen); err != nil {
		s.stats.mdCrcErr.Add(1)
		return
	}
	if !s.matchTopo(hdr.EtbTopoCnt, hdr.OpTrnTopoCnt) {
		s.stats.mdTopoErr.Add(1)
		return
	}

	s.stats.mdRecv.Add(1)
	data := frame[wire.MDHeaderSize : wire.MDHeaderSize+dataLen]

	switch hdr.MsgType {
	case wire.MsgMp, wire.MsgMq, wire.MsgMe:
		s.dispatchMDReply(&hdr, data, srcIP, srcPort, pend)
	case wire.MsgMc:
		s.dispatchMDConfirm(&hdr, data, pend)
	case wire.MsgMn, wire.MsgMr:
		s.dispatchMDIndication(&hdr, data, srcIP, srcPort, slot, tNow, pend)
	}
}

// dispatchMDReply handles Mp/Mq/Me arriving at a requester session.
func (s *Session) dispatchMDReply(hdr *wire.MDHeader, data []byte, srcIP wire.IPAddr, srcPort uint16, pend *[]func()) {
	for _, e := range s.mdSnd {
		if e.sessionID != hdr.SessionID {
			continue
		}
		if e.state != stTxRequestW4Reply && e.state != stTxReqW4ApConfirm {
			continue
		}
		if e.addr.ComID != hdr.ComID {
			s.stats.mdProtErr.Add(1)
			return
		}

		e.numReplies++
		e.replyToIP = srcIP
		e.replyPort = srcPort

		info := e.info(nil)
		info.MsgType = hdr.MsgType
		info.SeqCount = hdr.SequenceCounter
		info.UserStatus = hdr.ReplyStatus
		info.SrcURI = hdr.SourceURI
		info.DestURI = hdr.DestinationURI
		info.NumReplies = e.numReplies
		snapshot := append([]byte(nil), data...)
		cb := e.callback
		if cb != nil {
			*pend = append(*pend, func() { cb(info, snapshot) })
		}

		switch hdr.MsgType {
		case wire.MsgMq:
			e.numRepliesQuery++
			e.state = stTxReqW4ApConfirm
		default: // Mp, Me
			if e.numExpReplies > 0 && e.numReplies >= e.numExpReplies {
				e.state = stTxReplyReceived
				s.removeMD(e)
			}
		}
		return
	}
	s.stats.mdNoListener.Add(1)
}

// dispatchMDConfirm handles Mc arriving at a reply-query sender.
func (s *Session) dispatchMDConfirm(hdr *wire.MDHeader, data []byte, pend *[]func()) {
	for _, e := range s.mdRcv {
		if e.sessionID != hdr.SessionID || e.state != stRxReplyQueryW4C {
			continue
		}
		info := e.info(nil)
		info.MsgType = wire.MsgMc
		info.SeqCount = hdr.SequenceCounter
		info.UserStatus = hdr.ReplyStatus
		snapshot := append([]byte(nil), data...)
		cb := e.callback
		if cb != nil {
			*pend = append(*pend, func() { cb(info, snapshot) })
		}
		e.state = stRxConfReceived
		s.removeMD(e)
		return
	}
	s.stats.mdNoListener.Add(1)
}

// dispatchMDIndication handles Mn/Mr by matching a listener and
// forking a receiver session from it.
func (s *Session) dispatchMDIndication(hdr *wire.MDHeader, data []byte, srcIP wire.IPAddr,
	srcPort uint16, slot *sockets.Slot, tNow time.Time, pend *[]func()) {

	// A retransmitted request for a live session is a duplicate.
	if hdr.MsgType == wire.MsgMr {
		for _, e := range s.mdRcv {
			if e.sessionID == hdr.SessionID {
				return
			}
		}
	}

	var match *listener
	for _, l := range s.listeners {
		if l.comID != hdr.ComID {
			continue
		}
		if l.destURI != "" && l.destURI != hdr.DestinationURI {
			continue
		}
		match = l
		break
	}
	if match == nil {
		s.stats.mdNoListener.Add(1)
		return
	}
	match.numSessions++

	e := &mdElement{
		addr: Addressing{
			ComID:     hdr.ComID,
			SrcIP:     srcIP,
			DstIP:     srcIP, // replies go back to the requester
			EtbTopo:   hdr.EtbTopoCnt,
			OpTrnTopo: hdr.OpTrnTopoCnt,
		},
		state:     stRxNotifyReceived,
		msgType:   hdr.MsgType,
		sessionID: hdr.SessionID,
		curSeq:    hdr.SequenceCounter,
		replyPort: srcPort,
		srcURI:    hdr.DestinationURI, // swapped for the reply
		destURI:   hdr.SourceURI,
		userRef:   match.userRef,
		callback:  match.callback,
		sock:      slot,
		tcp:       slot.Type == sockets.SockMDTCP,
	}

	info := e.info(nil)
	info.MsgType = hdr.MsgType
	info.SeqCount = hdr.SequenceCounter
	info.UserStatus = hdr.ReplyStatus
	snapshot := append([]byte(nil), data...)
	cb := e.callback
	if cb != nil {
		*pend = append(*pend, func() { cb(info, snapshot) })
	}

	if hdr.MsgType == wire.MsgMr {
		e.state = stRxReqW4ApReply
		if hdr.ReplyTimeout > 0 {
			e.interval = time.Duration(hdr.ReplyTimeout) * time.Microsecond
			e.timeToGo = tNow.Add(e.interval)
		}
		s.mdRcv = append(s.mdRcv, e)
	}
	// Mn is terminal after the callback: nothing is kept.
}

// processMDTimeouts drives retries, reply and confirm deadlines and the
// TCP connect/send bounds.
func (s *Session) processMDTimeouts(tNow time.Time, pend *[]func()) {
	for _, e := range append([]*mdElement(nil), s.mdSnd...) {
		switch e.state {
		case stTxRequestW4Reply:
			if e.timeToGo.IsZero() || e.timeToGo.After(tNow) {
				continue
			}
			if e.numRetries < e.numRetriesMax {
				e.numRetries++
				s.stats.mdRetries.Add(1)
				e.state = stTxRequestArm
				e.timeToGo = tNow
				continue
			}
			s.stats.mdTimeout.Add(1)
			if e.numReplies == 0 {
				s.finishMD(e, ErrTimeout, nil, pend)
			} else if e.numExpReplies > 0 && e.numReplies < e.numExpReplies {
				s.finishMD(e, ErrNotAllReplies, nil, pend)
			} else {
				// Unknown replier count: the timeout is the regular
				// end of the session, not an error.
				s.removeMD(e)
			}
		}
	}

	for _, e := range append([]*mdElement(nil), s.mdRcv...) {
		if e.timeToGo.IsZero() || e.timeToGo.After(tNow) {
			continue
		}
		switch e.state {
		case stRxReplyQueryW4C:
			e.numConfirmTimeout++
			s.stats.mdTimeout.Add(1)
			s.finishMD(e, ErrTimeout, nil, pend)
		case stRxReqW4ApReply:
			// The application never replied; the requester times out
			// on its own, so the session just goes away.
			s.removeMD(e)
		}
	}

	s.checkTCPDeadlines(tNow, pend)
}

// checkTCPDeadlines fails sessions whose TCP transport could not
// connect or drain in time.
func (s *Session) checkTCPDeadlines(tNow time.Time, pend *[]func()) {
	for _, slot := range append([]*sockets.Slot(nil), s.pool.Slots()...) {
		if slot.Type != sockets.SockMDTCP || slot.RcvMostly {
			continue
		}
		connExpired := !slot.TCP.Connected && !slot.TCP.ConnDeadline.IsZero() && !slot.TCP.ConnDeadline.After(tNow)
		sendExpired := slot.TCP.NotSend && !slot.TCP.SendDeadline.IsZero() && !slot.TCP.SendDeadline.After(tNow)
		if !connExpired && !sendExpired {
			continue
		}
		for _, e := range append([]*mdElement(nil), s.mdSnd...) {
			if e.sock == slot {
				s.finishMD(e, ErrSendingFailed, nil, pend)
			}
		}
		s.pool.Remove(slot)
	}
}

// sweepMorituri closes TCP sockets scheduled for death. Pending bytes
// are not drained.
func (s *Session) sweepMorituri() {
	for _, slot := range append([]*sockets.Slot(nil), s.pool.Slots()...) {
		if slot.Type == sockets.SockMDTCP && slot.TCP.Morituri {
			s.pool.Remove(slot)
		}
	}
}

// finishMD delivers a final callback and destroys the session.
func (s *Session) finishMD(e *mdElement, result error, data []byte, pend *[]func()) {
	if e.callback != nil {
		info := e.info(result)
		cb := e.callback
		*pend = append(*pend, func() { cb(info, data) })
	}
	s.removeMD(e)
}

// removeMD drops a session from its queue and releases owned
// transport resources.
func (s *Session) removeMD(e *mdElement) {
	for i, cur := range s.mdSnd {
		if cur == e {
			s.mdSnd = append(s.mdSnd[:i], s.mdSnd[i+1:]...)
			s.pool.Release(e.sock)
			return
		}
	}
	for i, cur := range s.mdRcv {
		if cur == e {
			s.mdRcv = append(s.mdRcv[:i], s.mdRcv[i+1:]...)
			// Forked sessions borrow their socket; an accepted TCP
			// peer socket dies with its owning session.
			if e.tcp && e.sock != nil && e.sock.RcvMostly {
				e.sock.TCP.Morituri = true
			}
			return
		}
	}
}

// readMD drains one datagram from a ready MD UDP socket.
func (s *Session) readMD(slot *sockets.Slot, tNow time.Time, pend *[]func()) {
	buf := make([]byte, wire.MaxMDPacketSize)
	n, srcIP, srcPort, err := slot.RecvFrom(buf)
	if err != nil {
		if !errors.Is(err, sockets.ErrWouldBlock) && s.logger != nil {
			s.logger.Warn("md receive failed", "err", err)
		}
		return
	}
	s.processMDFrame(buf[:n], srcIP, srcPort, slot, tNow, pend)
}

// readMDStream consumes stream bytes from a connected TCP socket,
// reassembling complete frames.
func (s *Session) readMDStream(slot *sockets.Slot, tNow time.Time, pend *[]func()) {
	buf := make([]byte, 64*1024)
	n, err := slot.RecvStream(buf)
	if err != nil {
		if !errors.Is(err, sockets.ErrWouldBlock) && s.logger != nil {
			s.logger.Warn("md tcp receive failed", "err", err)
		}
		return
	}
	if n == 0 {
		// Peer closed; the socket dies, pending sessions on it time
		// out through their own deadlines.
		slot.TCP.Morituri = true
		return
	}

	slot.TCP.RxBuf = append(slot.TCP.RxBuf, buf[:n]...)
	for {
		if len(slot.TCP.RxBuf) < wire.MDHeaderSize {
			break
		}
		dataLen := int(uint32(slot.TCP.RxBuf[20])<<24 | uint32(slot.TCP.RxBuf[21])<<16 |
			uint32(slot.TCP.RxBuf[22])<<8 | uint32(slot.TCP.RxBuf[23]))
		if dataLen > wire.MaxMDDataSize {
			// Framing lost beyond recovery.
			slot.TCP.RxBuf = nil
			slot.TCP.Morituri = true
			s.stats.mdProtErr.Add(1)
			return
		}
		total := wire.MDWireSize(dataLen)
		if len(slot.TCP.RxBuf) < total {
			break
		}
		frame := slot.TCP.RxBuf[:total]
		s.processMDFrame(frame, slot.TCP.CornerIP, slot.TCP.CornerPort, slot, tNow, pend)
		slot.TCP.RxBuf = slot.TCP.RxBuf[total:]
	}
	slot.TCP.MsgUncomplete = len(slot.TCP.RxBuf) > 0
}
