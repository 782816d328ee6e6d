package trdp

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saelay/trdpstack/internal/wire"
)

// MDDesc carries the addressing of an outgoing notification or request.
type MDDesc struct {
	ComID     uint32
	EtbTopo   uint32
	OpTrnTopo uint32
	SrcIP     wire.IPAddr // 0 selects the session's real IP
	DstIP     wire.IPAddr
	Flags     Flags // FlagTCP selects the TCP transport
	SendParam SendParam
	SrcURI    string
	DestURI   string
	UserRef   any
	Callback  MDCallback
	Data      []byte
}

func (d *MDDesc) validate() error {
	if d.ComID == 0 {
		return fmt.Errorf("%w: comId must not be zero", ErrParam)
	}
	if d.DstIP == 0 {
		return fmt.Errorf("%w: destination address must not be zero", ErrParam)
	}
	if len(d.Data) > wire.MaxMDDataSize {
		return fmt.Errorf("%w: payload %d exceeds %d octets", ErrParam, len(d.Data), wire.MaxMDDataSize)
	}
	return nil
}

// Notify sends a connectionless notification ('Mn'). No reply is
// expected and no session state survives the transmission.
func (s *Session) Notify(d MDDesc) error {
	if err := d.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}

	e, err := s.newMDSender(&d, wire.MsgMn, stTxNotifyArm)
	if err != nil {
		return err
	}
	s.mdSnd = append(s.mdSnd, e)
	return nil
}

// RequestDesc parameterises Request.
type RequestDesc struct {
	MDDesc
	// NumRepliers is the expected replier count. Zero means unknown:
	// only the reply timeout ends the session and every reply until
	// then is delivered.
	NumRepliers  uint32
	ReplyTimeout time.Duration // zero selects the session default
	// Retries overrides the session default for UDP unicast requests;
	// negative keeps the default. Multicast and TCP never retry.
	Retries int
}

// Request opens a request/reply session ('Mr') and returns its
// session id. Replies, confirm bookkeeping and timeouts are delivered
// through the callback from Process.
func (s *Session) Request(d RequestDesc) ([16]byte, error) {
	var sid [16]byte
	if err := d.validate(); err != nil {
		return sid, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sid, ErrNoSession
	}

	e, err := s.newMDSender(&d.MDDesc, wire.MsgMr, stTxRequestArm)
	if err != nil {
		return sid, err
	}

	sid = [16]byte(uuid.New())
	e.sessionID = sid
	e.numExpReplies = d.NumRepliers
	e.interval = d.ReplyTimeout
	if e.interval == 0 {
		e.interval = s.mdCfg.ReplyTimeout
	}
	if !e.tcp && !d.DstIP.IsMulticast() {
		if d.Retries >= 0 {
			e.numRetriesMax = uint32(d.Retries)
		} else {
			e.numRetriesMax = s.mdCfg.Retries
		}
	}

	s.mdSnd = append(s.mdSnd, e)
	return sid, nil
}

// newMDSender builds the common parts of an outgoing MD session and
// acquires its transport socket. Caller holds the session lock.
func (s *Session) newMDSender(d *MDDesc, mt wire.MsgType, st mdState) (*mdElement, error) {
	src := d.SrcIP
	if src == 0 {
		src = s.realIP
	}
	e := &mdElement{
		addr: Addressing{
			ComID:     d.ComID,
			SrcIP:     src,
			DstIP:     d.DstIP,
			EtbTopo:   d.EtbTopo,
			OpTrnTopo: d.OpTrnTopo,
		},
		state:    st,
		msgType:  mt,
		pktFlags: d.Flags,
		tcp:      d.Flags&FlagTCP != 0,
		data:     append([]byte(nil), d.Data...),
		srcURI:   d.SrcURI,
		destURI:  d.DestURI,
		userRef:  d.UserRef,
		callback: d.Callback,
		timeToGo: now(),
	}
	if e.callback == nil {
		e.callback = s.mdCfg.Callback
	}

	var err error
	if e.tcp {
		e.sock, err = s.pool.AcquireTCPClient(d.DstIP, s.mdCfg.TCPPort)
		if err != nil {
			return nil, err
		}
		if !e.sock.TCP.Connected {
			if err := e.sock.Connect(d.DstIP, s.mdCfg.TCPPort, s.mdCfg.ConnectTimeout, now()); err != nil {
				s.pool.Release(e.sock)
				return nil, err
			}
		}
	} else {
		e.sock, err = s.mdSocket()
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

// findReplySession locates the replier-side session the application
// addresses in Reply/ReplyQuery/ReplyErr.
func (s *Session) findReplySession(sid [16]byte) (*mdElement, error) {
	for _, e := range s.mdRcv {
		if e.sessionID == sid {
			if e.state != stRxReqW4ApReply {
				return nil, fmt.Errorf("%w: session is %s", ErrState, e.state)
			}
			return e, nil
		}
	}
	return nil, ErrNoSession
}

// Reply answers a received request with a final reply ('Mp').
func (s *Session) Reply(sid [16]byte, userStatus int32, data []byte) error {
	if len(data) > wire.MaxMDDataSize {
		return fmt.Errorf("%w: payload %d exceeds %d octets", ErrParam, len(data), wire.MaxMDDataSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	e, err := s.findReplySession(sid)
	if err != nil {
		return err
	}
	e.msgType = wire.MsgMp
	e.state = stTxReplyArm
	e.replyStatus = userStatus
	e.data = append([]byte(nil), data...)
	e.timeToGo = now()
	return nil
}

// ReplyQuery answers a received request with a reply that demands a
// confirmation ('Mq'). The confirmation must arrive within
// confirmTimeout (zero selects the session default), otherwise the
// callback fires with ErrTimeout.
func (s *Session) ReplyQuery(sid [16]byte, userStatus int32, confirmTimeout time.Duration, data []byte) error {
	if len(data) > wire.MaxMDDataSize {
		return fmt.Errorf("%w: payload %d exceeds %d octets", ErrParam, len(data), wire.MaxMDDataSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	e, err := s.findReplySession(sid)
	if err != nil {
		return err
	}
	e.msgType = wire.MsgMq
	e.state = stTxReplyQueryArm
	e.replyStatus = userStatus
	e.data = append([]byte(nil), data...)
	e.interval = confirmTimeout
	if e.interval == 0 {
		e.interval = s.mdCfg.ConfirmTimeout
	}
	e.timeToGo = now()
	return nil
}

// ReplyErr rejects a received request with an error reply ('Me').
func (s *Session) ReplyErr(sid [16]byte, replyStatus int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	e, err := s.findReplySession(sid)
	if err != nil {
		return err
	}
	e.msgType = wire.MsgMe
	e.state = stTxReplyArm
	e.replyStatus = replyStatus
	e.data = nil
	e.timeToGo = now()
	return nil
}

// Confirm acknowledges a received reply query ('Mc').
func (s *Session) Confirm(sid [16]byte, replyStatus int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	for _, e := range s.mdSnd {
		if e.sessionID == sid {
			if e.state != stTxReqW4ApConfirm {
				return fmt.Errorf("%w: session is %s", ErrState, e.state)
			}
			e.msgType = wire.MsgMc
			e.state = stTxConfirmArm
			e.replyStatus = replyStatus
			e.data = nil
			return nil
		}
	}
	return ErrNoSession
}

// ListenDesc parameterises AddListener.
type ListenDesc struct {
	ComID     uint32
	EtbTopo   uint32
	OpTrnTopo uint32
	McGroup   wire.IPAddr // multicast group to join, or 0
	DestURI   string      // filter on the destination URI user part
	Flags     Flags       // FlagTCP listens on the TCP port
	UserRef   any
	Callback  MDCallback
}

// AddListener registers a passive listener for incoming notifications
// and requests on a comId. Matching messages fork a receiver session
// carrying the listener's user reference and callback.
func (s *Session) AddListener(d ListenDesc) (*ListenerHandle, error) {
	if d.ComID == 0 {
		return nil, fmt.Errorf("%w: comId must not be zero", ErrParam)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNoSession
	}

	l := &listener{
		comID:     d.ComID,
		destURI:   d.DestURI,
		mcGroup:   d.McGroup,
		etbTopo:   d.EtbTopo,
		opTrnTopo: d.OpTrnTopo,
		flags:     d.Flags,
		userRef:   d.UserRef,
		callback:  d.Callback,
	}
	if l.callback == nil {
		l.callback = s.mdCfg.Callback
	}

	var err error
	if d.Flags&FlagTCP != 0 {
		l.sock, err = s.mdTCPListen()
	} else {
		l.sock, err = s.mdSocket()
		if err == nil {
			l.sock.Pinned = true
		}
	}
	if err != nil {
		return nil, err
	}
	if d.McGroup != 0 {
		if err := l.sock.JoinMulticast(d.McGroup, s.realIP); err != nil {
			s.pool.Release(l.sock)
			return nil, err
		}
	}

	s.listeners = append(s.listeners, l)
	return &ListenerHandle{l: l}, nil
}

// DelListener removes a listener and releases its socket.
func (s *Session) DelListener(h *ListenerHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	if h == nil || h.l == nil {
		return ErrNoList
	}
	for i, l := range s.listeners {
		if l == h.l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			if l.mcGroup != 0 {
				_ = l.sock.LeaveMulticast(l.mcGroup, s.realIP)
			}
			if l.sock != s.tcpListen {
				stillPinned := false
				for _, other := range s.listeners {
					if other.sock == l.sock {
						stillPinned = true
						break
					}
				}
				if !stillPinned {
					l.sock.Pinned = false
				}
				s.pool.Release(l.sock)
			}
			h.l = nil
			return nil
		}
	}
	return ErrNoList
}
