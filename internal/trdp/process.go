package trdp

import (
	"errors"
	"time"

	"github.com/saelay/trdpstack/internal/sockets"
)

// maxProcessInterval caps GetInterval so a quiet session still runs a
// housekeeping tick once in a while.
const maxProcessInterval = time.Second

// GetInterval returns the descriptors the host must wait on and the
// time until the next scheduled engine action. The host blocks on the
// set (sockets.Select fits the shape), then calls Process with
// whatever became ready.
func (s *Session) GetInterval() (time.Duration, []int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, ErrNoSession
	}

	tNow := now()
	deadline := tNow.Add(maxProcessInterval)
	earlier := func(t time.Time) {
		if !t.IsZero() && t.Before(deadline) {
			deadline = t
		}
	}

	for _, e := range s.sndQueue {
		earlier(e.timeToGo)
	}
	for _, e := range s.rcvQueue {
		if e.interval > 0 && !e.privFlags.has(privTimedOut) {
			earlier(e.timeToGo)
		}
	}
	for _, e := range s.mdSnd {
		if e.state.armed() {
			earlier(tNow)
		} else {
			earlier(e.timeToGo)
		}
	}
	for _, e := range s.mdRcv {
		if e.state.armed() {
			earlier(tNow)
		} else {
			earlier(e.timeToGo)
		}
	}

	wait := deadline.Sub(tNow)
	if wait < 0 {
		wait = 0
	}

	fds := make([]int, 0, len(s.pool.Slots()))
	for _, slot := range s.pool.Slots() {
		fds = append(fds, slot.FD)
	}
	return wait, fds, nil
}

// Process runs one engine tick: due PD emissions, subscription timeout
// supervision, reads on the ready descriptors, MD transmissions,
// retries and deadline sweeps. User callbacks fire synchronously on
// the calling goroutine, after the session lock is dropped.
func (s *Session) Process(ready []int) error {
	tNow := now()
	var pend []func()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNoSession
	}

	s.sweepMorituri()
	s.processSendQueue(tNow)
	s.checkPDTimeouts(tNow, &pend)

	for _, fd := range ready {
		slot := s.pool.ByFD(fd)
		if slot == nil {
			continue
		}
		switch {
		case slot.Type == sockets.SockPD:
			s.readPD(slot, tNow, &pend)
		case slot.Type == sockets.SockMDUDP:
			s.readMD(slot, tNow, &pend)
		case slot == s.tcpListen:
			s.acceptTCP(slot)
		default: // connected or accepted TCP peer
			s.readMDStream(slot, tNow, &pend)
		}
	}

	s.processMDSend(tNow, &pend)
	s.processMDTimeouts(tNow, &pend)
	s.mu.Unlock()

	for _, fire := range pend {
		fire()
	}
	return nil
}

// acceptTCP drains pending connections off the listen socket into the
// pool.
func (s *Session) acceptTCP(listen *sockets.Slot) {
	for {
		peer, err := listen.Accept()
		if err != nil {
			if !errors.Is(err, sockets.ErrWouldBlock) && s.logger != nil {
				s.logger.Warn("tcp accept failed", "err", err)
			}
			return
		}
		if err := s.pool.Adopt(peer); err != nil {
			if s.logger != nil {
				s.logger.Warn("tcp accept dropped", "err", err)
			}
			return
		}
		if s.logger != nil {
			s.logger.Debug("tcp peer accepted", "corner", peer.TCP.CornerIP.String())
		}
	}
}
