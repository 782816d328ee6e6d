package trdp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/wire"
)

// loopback is the address every engine test runs on.
const loopback = wire.IPAddr(0x7F000001)

// openTestSession creates a session on the loopback interface with its
// own PD and MD ports so tests do not interfere.
func openTestSession(t *testing.T, pdPort, mdPort uint16) *Session {
	t.Helper()
	require.NoError(t, Init(nil))
	s, err := OpenSession(SessionConfig{
		OwnIP: loopback,
		PD:    PDConfig{Port: pdPort},
		MD:    MDConfig{UDPPort: mdPort, TCPPort: mdPort},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// drive runs the event loop for the given duration.
func drive(t *testing.T, s *Session, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		wait, fds, err := s.GetInterval()
		if err != nil {
			return
		}
		if wait > 5*time.Millisecond {
			wait = 5 * time.Millisecond
		}
		ready, err := sockets.Select(fds, wait)
		require.NoError(t, err)
		require.NoError(t, s.Process(ready))
	}
}

// pdEvents records PD callback invocations.
type pdEvents struct {
	mu     sync.Mutex
	infos  []PDInfo
	datas  [][]byte
}

func (r *pdEvents) cb(info PDInfo, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, info)
	r.datas = append(r.datas, append([]byte(nil), data...))
}

func (r *pdEvents) snapshot() []PDInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PDInfo(nil), r.infos...)
}

func TestPushUnicastEndToEnd(t *testing.T) {
	s := openTestSession(t, 27224, 27225)

	var events pdEvents
	sub, err := s.Subscribe(SubDesc{
		ComID:      12345,
		DstIP:      loopback,
		Flags:      FlagCallback,
		Timeout:    200 * time.Millisecond,
		TOBehavior: TOSetToZero,
		Callback:   events.cb,
	})
	require.NoError(t, err)

	payload := []byte("hello-world-0000")
	pub, err := s.Publish(PubDesc{
		ComID:    12345,
		DstIP:    loopback,
		Interval: 20 * time.Millisecond,
		Data:     payload,
	})
	require.NoError(t, err)

	drive(t, s, 150*time.Millisecond)

	got := events.snapshot()
	require.GreaterOrEqual(t, len(got), 3, "expected cyclic receptions")
	for i, info := range got {
		assert.Nil(t, info.ResultCode)
		assert.Equal(t, uint32(12345), info.ComID)
		assert.Equal(t, loopback, info.SrcIP)
		if i > 0 {
			assert.Equal(t, got[i-1].SeqCount+1, info.SeqCount,
				"sequence counter must advance by one")
		}
	}
	events.mu.Lock()
	for _, d := range events.datas {
		assert.Equal(t, payload, d)
	}
	events.mu.Unlock()

	// Stop the publisher; exactly one timeout must be reported.
	require.NoError(t, s.Unpublish(pub))
	before := len(got)
	drive(t, s, 400*time.Millisecond)

	got = events.snapshot()
	var timeouts int
	for _, info := range got[before:] {
		if info.ResultCode != nil {
			assert.ErrorIs(t, info.ResultCode, ErrTimeout)
			timeouts++
		}
	}
	assert.Equal(t, 1, timeouts, "repeated timeouts must not be re-reported")

	// SET_TO_ZERO cleared the buffer.
	buf := make([]byte, 64)
	_, n, err := s.Get(sub, buf)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, make([]byte, len(payload)), buf[:n])
}

func TestPublishValidation(t *testing.T) {
	s := openTestSession(t, 27226, 27227)

	_, err := s.Publish(PubDesc{ComID: 0, DstIP: loopback, Interval: 100 * time.Millisecond})
	assert.ErrorIs(t, err, ErrParam)

	_, err = s.Publish(PubDesc{ComID: 1, DstIP: 0, Interval: 100 * time.Millisecond})
	assert.ErrorIs(t, err, ErrParam)

	_, err = s.Publish(PubDesc{ComID: 1, DstIP: loopback, Interval: 3 * time.Millisecond})
	assert.ErrorIs(t, err, ErrParam, "interval below granularity")
}

func TestUnpublishTwice(t *testing.T) {
	s := openTestSession(t, 27228, 27229)

	pub, err := s.Publish(PubDesc{ComID: 7, DstIP: loopback, Interval: 100 * time.Millisecond, Data: []byte{1}})
	require.NoError(t, err)

	require.NoError(t, s.Unpublish(pub))
	assert.ErrorIs(t, s.Unpublish(pub), ErrNoPub)
	assert.ErrorIs(t, s.Put(pub, []byte{2}), ErrNoPub, "dangling handle must be rejected")
}

func TestPublishWithoutDataStaysSilent(t *testing.T) {
	s := openTestSession(t, 27230, 27231)

	var events pdEvents
	_, err := s.Subscribe(SubDesc{
		ComID:    40,
		DstIP:    loopback,
		Flags:    FlagCallback,
		Timeout:  NoTimeout,
		Callback: events.cb,
	})
	require.NoError(t, err)

	pub, err := s.Publish(PubDesc{ComID: 40, DstIP: loopback, Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	drive(t, s, 80*time.Millisecond)
	assert.Empty(t, events.snapshot(), "no emission before the first Put")

	require.NoError(t, s.Put(pub, []byte{0xAA, 0xBB}))
	drive(t, s, 80*time.Millisecond)
	assert.NotEmpty(t, events.snapshot(), "emission resumes after Put")
}

func TestPDPullRoundTrip(t *testing.T) {
	s := openTestSession(t, 27232, 27233)

	// Pull-only publisher: interval zero.
	_, err := s.Publish(PubDesc{ComID: 30, DstIP: loopback, Data: []byte{1, 2, 3, 4}})
	require.NoError(t, err)

	var events pdEvents
	sub, err := s.Subscribe(SubDesc{
		ComID:    30,
		DstIP:    loopback,
		Flags:    FlagCallback,
		Timeout:  NoTimeout,
		Callback: events.cb,
	})
	require.NoError(t, err)

	drive(t, s, 60*time.Millisecond)
	require.Empty(t, events.snapshot(), "pull publisher must not emit unrequested")

	require.NoError(t, s.RequestPD(sub, 30, 0, 0, loopback, SendParam{}, 0, 0))
	drive(t, s, 120*time.Millisecond)

	got := events.snapshot()
	require.Len(t, got, 1, "exactly one pull reply expected")
	assert.Equal(t, uint32(1), got[0].SeqCount, "pull counter is independent and starts at one")
	events.mu.Lock()
	assert.Equal(t, []byte{1, 2, 3, 4}, events.datas[0])
	events.mu.Unlock()
}

func TestRedundancySuppression(t *testing.T) {
	s := openTestSession(t, 27234, 27235)

	_, err := s.Publish(PubDesc{
		ComID:    50,
		DstIP:    loopback,
		Interval: 20 * time.Millisecond,
		RedID:    9,
		Data:     []byte{1},
	})
	require.NoError(t, err)

	require.NoError(t, s.SetRedundant(9, false))
	drive(t, s, 100*time.Millisecond)
	assert.Zero(t, s.Statistics().PDSent, "follower must stay silent")

	leader, err := s.GetRedundant(9)
	require.NoError(t, err)
	assert.False(t, leader)

	require.NoError(t, s.SetRedundant(9, true))
	drive(t, s, 100*time.Millisecond)
	assert.NotZero(t, s.Statistics().PDSent, "leader emits again")
}

func TestTopoCountFiltering(t *testing.T) {
	s := openTestSession(t, 27236, 27237)
	require.NoError(t, s.SetTopoCount(8, 0))

	var events pdEvents
	_, err := s.Subscribe(SubDesc{
		ComID:    60,
		DstIP:    loopback,
		Flags:    FlagCallback,
		Timeout:  NoTimeout,
		Callback: events.cb,
	})
	require.NoError(t, err)

	// Inject a frame carrying a mismatching topo counter.
	sendRawPD(t, s, wire.PDHeader{
		SequenceCounter: 1,
		ProtocolVersion: wire.ProtocolVersion,
		MsgType:         wire.MsgPd,
		ComID:           60,
		EtbTopoCnt:      7,
	}, nil)

	drive(t, s, 60*time.Millisecond)
	assert.Empty(t, events.snapshot(), "mismatching topo must not reach the callback")
	assert.Equal(t, uint64(1), s.Statistics().PDTopoErr)

	// A matching counter passes.
	sendRawPD(t, s, wire.PDHeader{
		SequenceCounter: 2,
		ProtocolVersion: wire.ProtocolVersion,
		MsgType:         wire.MsgPd,
		ComID:           60,
		EtbTopoCnt:      8,
	}, nil)
	drive(t, s, 60*time.Millisecond)
	assert.Len(t, events.snapshot(), 1)
}

func TestCorruptFramesAreCounted(t *testing.T) {
	s := openTestSession(t, 27238, 27239)

	_, err := s.Subscribe(SubDesc{ComID: 61, DstIP: loopback, Timeout: NoTimeout})
	require.NoError(t, err)

	frame := make([]byte, wire.PDHeaderSize)
	hdr := wire.PDHeader{ProtocolVersion: wire.ProtocolVersion, MsgType: wire.MsgPd, ComID: 61, SequenceCounter: 1}
	require.NoError(t, hdr.Put(frame))
	frame[8] ^= 0xFF // break the comId under the FCS

	sendRaw(t, s.pdCfg.Port, frame)
	drive(t, s, 60*time.Millisecond)
	assert.Equal(t, uint64(1), s.Statistics().PDCrcErr)
}

func TestDuplicateSequenceDropped(t *testing.T) {
	s := openTestSession(t, 27240, 27241)

	var events pdEvents
	_, err := s.Subscribe(SubDesc{
		ComID:    62,
		DstIP:    loopback,
		Flags:    FlagCallback,
		Timeout:  NoTimeout,
		Callback: events.cb,
	})
	require.NoError(t, err)

	hdr := wire.PDHeader{
		SequenceCounter: 5,
		ProtocolVersion: wire.ProtocolVersion,
		MsgType:         wire.MsgPd,
		ComID:           62,
	}
	sendRawPD(t, s, hdr, []byte{1})
	drive(t, s, 50*time.Millisecond)
	sendRawPD(t, s, hdr, []byte{1}) // same counter again
	drive(t, s, 50*time.Millisecond)

	assert.Len(t, events.snapshot(), 1, "duplicate counter must be dropped")

	hdr.SequenceCounter = 9 // gap of three
	sendRawPD(t, s, hdr, []byte{1})
	drive(t, s, 50*time.Millisecond)

	assert.Len(t, events.snapshot(), 2)
	assert.Equal(t, uint64(3), s.Statistics().PDMissed)
}

func TestSubscribeGetWithoutData(t *testing.T) {
	s := openTestSession(t, 27242, 27243)

	sub, err := s.Subscribe(SubDesc{ComID: 63, DstIP: loopback, Timeout: NoTimeout})
	require.NoError(t, err)

	_, _, err = s.Get(sub, make([]byte, 16))
	assert.ErrorIs(t, err, ErrNoData)

	require.NoError(t, s.Unsubscribe(sub))
	assert.ErrorIs(t, s.Unsubscribe(sub), ErrNoSub)
}

func TestTrafficShapingSpreadsDeadlines(t *testing.T) {
	require.NoError(t, Init(nil))
	s, err := OpenSession(SessionConfig{
		OwnIP:   loopback,
		PD:      PDConfig{Port: 27244},
		Options: OptionTrafficShaping,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := range 8 {
		_, err := s.Publish(PubDesc{
			ComID:    uint32(100 + i),
			DstIP:    loopback,
			Interval: 80 * time.Millisecond,
			Data:     []byte{byte(i)},
		})
		require.NoError(t, err)
	}

	s.mu.Lock()
	seen := make(map[int64]int)
	for _, e := range s.sndQueue {
		seen[e.timeToGo.UnixMilli()]++
	}
	s.mu.Unlock()
	for ms, n := range seen {
		assert.Equal(t, 1, n, "deadline collision at %d", ms)
	}
}

func TestRepublishContinuesSequence(t *testing.T) {
	s := openTestSession(t, 27246, 27247)

	var events pdEvents
	_, err := s.Subscribe(SubDesc{
		ComID:    70,
		DstIP:    loopback,
		Flags:    FlagCallback,
		Timeout:  NoTimeout,
		Callback: events.cb,
	})
	require.NoError(t, err)

	pub, err := s.Publish(PubDesc{ComID: 70, DstIP: loopback, Interval: 20 * time.Millisecond, Data: []byte{1}})
	require.NoError(t, err)
	drive(t, s, 90*time.Millisecond)
	require.NoError(t, s.Unpublish(pub))

	// A fresh publication of the same stream continues the counter
	// progression instead of jumping backwards.
	_, err = s.Publish(PubDesc{ComID: 70, DstIP: loopback, Interval: 20 * time.Millisecond, Data: []byte{2}})
	require.NoError(t, err)
	drive(t, s, 90*time.Millisecond)

	got := events.snapshot()
	require.GreaterOrEqual(t, len(got), 4)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].SeqCount, got[i-1].SeqCount,
			"counter must stay strictly monotonic across republish")
	}
}

// sendRawPD composes a valid frame for hdr and injects it into the
// session's PD port.
func sendRawPD(t *testing.T, s *Session, hdr wire.PDHeader, payload []byte) {
	t.Helper()
	hdr.DatasetLength = uint32(len(payload))
	frame := make([]byte, wire.PDWireSize(len(payload)))
	require.NoError(t, hdr.Put(frame))
	copy(frame[wire.PDHeaderSize:], payload)
	require.NoError(t, wire.PutPayloadCRC(frame, wire.PDHeaderSize, len(payload)))
	sendRaw(t, s.pdCfg.Port, frame)
}

// sendRaw pushes bytes at the loopback port through a throwaway socket.
func sendRaw(t *testing.T, port uint16, frame []byte) {
	t.Helper()
	p := sockets.NewPool()
	defer p.Close()
	slot, err := p.Acquire(0, 0, sockets.SockPD, 0, 1, false)
	require.NoError(t, err)
	require.NoError(t, slot.SendTo(loopback, port, frame))
}
