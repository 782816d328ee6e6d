package trdp

import (
	"time"

	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/wire"
)

// mdState is the per-session state of one message data exchange.
type mdState int

const (
	stNone mdState = iota

	// Armed to transmit on the next Process tick.
	stTxNotifyArm
	stTxRequestArm
	stTxReplyArm
	stTxReplyQueryArm
	stTxConfirmArm

	// Listener, statically armed.
	stRxReady

	// Waiting for the far side.
	stTxRequestW4Reply // request out, awaiting reply(ies)
	stRxReplyQueryW4C  // reply query out, awaiting confirm

	// Waiting for the application.
	stRxReqW4ApReply   // request in, application must Reply
	stTxReqW4ApConfirm // reply query in, application must Confirm

	// Terminal.
	stRxReplySent
	stRxNotifyReceived
	stTxReplyReceived
	stRxConfReceived
)

// armed reports whether the state requests a transmission.
func (st mdState) armed() bool {
	switch st {
	case stTxNotifyArm, stTxRequestArm, stTxReplyArm, stTxReplyQueryArm, stTxConfirmArm:
		return true
	}
	return false
}

// waiting reports whether the session sits on a deadline or an
// application call, the states CloseSession aborts with a callback.
func (st mdState) waiting() bool {
	switch st {
	case stTxRequestW4Reply, stRxReplyQueryW4C, stRxReqW4ApReply, stTxReqW4ApConfirm:
		return true
	}
	return false
}

func (st mdState) String() string {
	switch st {
	case stNone:
		return "none"
	case stTxNotifyArm:
		return "tx-notify-arm"
	case stTxRequestArm:
		return "tx-request-arm"
	case stTxReplyArm:
		return "tx-reply-arm"
	case stTxReplyQueryArm:
		return "tx-replyquery-arm"
	case stTxConfirmArm:
		return "tx-confirm-arm"
	case stRxReady:
		return "rx-ready"
	case stTxRequestW4Reply:
		return "tx-request-w4reply"
	case stRxReplyQueryW4C:
		return "rx-replyquery-w4confirm"
	case stRxReqW4ApReply:
		return "rx-request-w4app-reply"
	case stTxReqW4ApConfirm:
		return "tx-request-w4app-confirm"
	case stRxReplySent:
		return "reply-sent"
	case stRxNotifyReceived:
		return "notify-received"
	case stTxReplyReceived:
		return "reply-received"
	case stRxConfReceived:
		return "confirm-received"
	}
	return "invalid"
}

// mdElement is one message data session on either side of an exchange.
type mdElement struct {
	addr      Addressing
	state     mdState
	msgType   wire.MsgType // type of the next (or last) transmission
	sessionID [16]byte
	curSeq    uint32 // incremented per transmission, retries included
	morituri  bool

	interval time.Duration // reply or confirm supervision interval
	timeToGo time.Time     // current deadline, zero when idle

	pktFlags    Flags
	replyStatus int32
	replyPort   uint16 // replies go back to the requester's port
	replyToIP   wire.IPAddr

	numExpReplies     uint32 // 0 = unknown; only the timeout terminates
	numReplies        uint32
	numRetriesMax     uint32
	numRetries        uint32
	numRepliesQuery   uint32
	numConfirmSent    uint32
	numConfirmTimeout uint32

	data []byte // payload of the next transmission
	sock *sockets.Slot
	tcp  bool

	srcURI  string
	destURI string

	userRef  any
	callback MDCallback
}

// info builds the callback metadata for this session's current state.
func (e *mdElement) info(result error) MDInfo {
	return MDInfo{
		ComID:        e.addr.ComID,
		SrcIP:        e.addr.SrcIP,
		DstIP:        e.addr.DstIP,
		MsgType:      e.msgType,
		SeqCount:     e.curSeq,
		EtbTopoCnt:   e.addr.EtbTopo,
		OpTrnTopoCnt: e.addr.OpTrnTopo,
		SessionID:    e.sessionID,
		NumRepliers:  e.numExpReplies,
		NumReplies:   e.numReplies,
		UserStatus:   e.replyStatus,
		SrcURI:       e.srcURI,
		DestURI:      e.destURI,
		UserRef:      e.userRef,
		ResultCode:   result,
	}
}

// listener is a passive record accepting incoming notifications and
// requests for one comId.
type listener struct {
	comID       uint32
	destURI     string
	mcGroup     wire.IPAddr
	etbTopo     uint32
	opTrnTopo   uint32
	flags       Flags
	userRef     any
	callback    MDCallback
	sock        *sockets.Slot
	numSessions uint32
}

// ListenerHandle is the handle returned by AddListener.
type ListenerHandle struct {
	l *listener
}
