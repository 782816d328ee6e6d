package trdp

import (
	"errors"
	"sort"
	"time"

	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/wire"
)

// processSendQueue emits every due PD element. Due elements go out in
// ascending deadline order; ties keep insertion order (the sort is
// stable and the queue is insertion ordered).
func (s *Session) processSendQueue(tNow time.Time) {
	due := make([]*pdElement, 0, len(s.sndQueue))
	for _, e := range s.sndQueue {
		if e.timeToGo.IsZero() {
			continue // pull publisher with no pending request
		}
		if !e.timeToGo.After(tNow) {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].timeToGo.Before(due[j].timeToGo) })

	for _, e := range due {
		s.sendPDElement(e, tNow)
	}
}

// sendPDElement emits one element and rolls its timer. Skipped cycles
// roll forward without accumulating.
func (s *Session) sendPDElement(e *pdElement, tNow time.Time) {
	pull := e.privFlags.has(privReq2BSent)

	defer func() {
		if e.interval > 0 {
			e.timeToGo = e.timeToGo.Add(e.interval)
			if !e.timeToGo.After(tNow) {
				e.timeToGo = tNow.Add(e.interval)
			}
		} else {
			// One-shot element: disarm until the next request.
			e.timeToGo = time.Time{}
		}
	}()

	// Followers keep their timers (and thereby their place in the
	// cycle) but stay silent.
	if e.privFlags.has(privRedundant) {
		return
	}
	// No payload written yet.
	if e.privFlags.has(privInvalidData) && e.msgType != wire.MsgPr {
		return
	}

	var seq uint32
	if pull {
		e.seqPull++
		seq = e.seqPull
	} else {
		e.seqPush++
		seq = e.seqPush
	}

	hdr := wire.PDHeader{
		SequenceCounter: seq,
		ProtocolVersion: wire.ProtocolVersion,
		MsgType:         e.msgType,
		ComID:           e.addr.ComID,
		EtbTopoCnt:      s.etbTopo,
		OpTrnTopoCnt:    s.opTrnTopo,
		DatasetLength:   uint32(e.dataSize),
	}

	dst := e.addr.DstIP
	if e.msgType == wire.MsgPr {
		hdr.ReplyComID = e.replyComID
		hdr.ReplyIPAddress = e.pullIP
	} else if pull {
		// Pull reply: answer the requester directly.
		dst = e.pullIP
	}

	if err := hdr.Put(e.frame); err != nil {
		e.lastErr = err
		return
	}

	err := e.sock.SendTo(dst, s.pdCfg.Port, e.frame[:wire.PDWireSize(e.dataSize)])
	switch {
	case err == nil:
		e.privFlags.set(privReq2BSent, false)
		e.numRxTx++
		s.stats.pdSent.Add(1)
		if !pull {
			txSeqStore(e.addr.ComID, e.addr.SrcIP, wire.MsgPd, seq)
		}
	case errors.Is(err, sockets.ErrWouldBlock):
		// Keep the request pending; the push counter burned a value,
		// which subscribers tolerate as a gap.
	default:
		e.lastErr = err
		if s.logger != nil {
			s.logger.Warn("pd send failed", "comid", e.addr.ComID, "dst", dst.String(), "err", err)
		}
	}
}

// distributeSendDeadlines implements traffic shaping: publications are
// spread across their cycle so deadlines do not pile onto the same
// instant. Elements of the same interval get evenly spaced phases;
// remaining millisecond collisions across groups are nudged apart.
func (s *Session) distributeSendDeadlines(tNow time.Time) {
	byInterval := make(map[time.Duration][]*pdElement)
	for _, e := range s.sndQueue {
		if e.interval > 0 {
			byInterval[e.interval] = append(byInterval[e.interval], e)
		}
	}

	intervals := make([]time.Duration, 0, len(byInterval))
	for iv := range byInterval {
		intervals = append(intervals, iv)
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	used := make(map[int64]bool)
	for _, ivKey := range intervals {
		group := byInterval[ivKey]
		for j, e := range group {
			phase := time.Duration(j) * ivKey / time.Duration(len(group))
			deadline := tNow.Add(phase)
			// Nudge off occupied milliseconds when the cycle allows it.
			for used[deadline.UnixMilli()] && phase < ivKey {
				deadline = deadline.Add(time.Millisecond)
				phase += time.Millisecond
			}
			used[deadline.UnixMilli()] = true
			e.timeToGo = deadline
		}
	}
}
