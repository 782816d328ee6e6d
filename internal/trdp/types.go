package trdp

import (
	"time"

	"github.com/saelay/trdpstack/internal/wire"
)

// Granularity is the scheduler quantum. Send and timeout deadlines are
// accurate to within one grain.
const Granularity = 10 * time.Millisecond

// Default ports and timings.
const (
	DefaultPDPort uint16 = 17224
	DefaultMDPort uint16 = 17225

	DefaultPDTimeout      = 100 * time.Millisecond
	DefaultReplyTimeout   = 5 * time.Second
	DefaultConfirmTimeout = 1 * time.Second
	DefaultConnectTimeout = 60 * time.Second
	DefaultSendTimeout    = 500 * time.Millisecond
	DefaultRetries        = 2

	DefaultQoS uint8 = 5
	DefaultTTL uint8 = 64
)

// Flags select per-telegram behaviour on publish, subscribe and
// listener registration.
type Flags uint8

const (
	FlagNone     Flags = 0
	FlagMarshall Flags = 1 << 0 // run payloads through the dataset marshaller
	FlagCallback Flags = 1 << 1 // dispatch receptions via callback
	FlagTCP      Flags = 1 << 2 // MD over TCP
	FlagRedundant Flags = 1 << 3
)

// Options control per-session behaviour.
type Options uint8

const (
	OptionBlock          Options = 1 << 0 // blocking sockets
	OptionTrafficShaping Options = 1 << 1 // spread PD send deadlines
)

// TOBehavior selects what happens to a subscription's buffer when its
// timeout fires.
type TOBehavior int

const (
	TODefault TOBehavior = iota
	TOSetToZero
	TOKeepLast
)

// SendParam carries per-telegram socket parameters.
type SendParam struct {
	QoS uint8
	TTL uint8
}

// Addressing is the tuple every queue entry is keyed on.
type Addressing struct {
	ComID     uint32
	SrcIP     wire.IPAddr
	DstIP     wire.IPAddr
	McGroup   wire.IPAddr
	EtbTopo   uint32
	OpTrnTopo uint32
}

// PDInfo describes one process data event to a callback or Get caller.
type PDInfo struct {
	ComID        uint32
	SrcIP        wire.IPAddr
	DstIP        wire.IPAddr
	MsgType      wire.MsgType
	SeqCount     uint32
	ProtVersion  uint16
	EtbTopoCnt   uint32
	OpTrnTopoCnt uint32
	ReplyComID   uint32
	ReplyIP      wire.IPAddr
	UserRef      any
	// ResultCode is nil for a data event and ErrTimeout for a timeout
	// notification. Closing the session fires no PD callbacks.
	ResultCode error
}

// PDCallback is invoked synchronously from Process. data is a snapshot
// that stays valid for the duration of the call only.
type PDCallback func(info PDInfo, data []byte)

// MDInfo describes one message data event.
type MDInfo struct {
	ComID        uint32
	SrcIP        wire.IPAddr
	DstIP        wire.IPAddr
	MsgType      wire.MsgType
	SeqCount     uint32
	EtbTopoCnt   uint32
	OpTrnTopoCnt uint32
	SessionID    [16]byte
	NumRepliers  uint32
	NumReplies   uint32
	UserStatus   int32 // replyStatus of the received frame
	SrcURI       string
	DestURI      string
	UserRef      any
	ResultCode   error
}

// MDCallback is invoked synchronously from Process. data is a snapshot
// that stays valid for the duration of the call only.
type MDCallback func(info MDInfo, data []byte)

// PDConfig holds the session's process data defaults.
type PDConfig struct {
	Port       uint16
	QoS        uint8
	TTL        uint8
	Timeout    time.Duration
	TOBehavior TOBehavior
	Flags      Flags
	Callback   PDCallback // default callback for subscriptions
}

// MDConfig holds the session's message data defaults.
type MDConfig struct {
	UDPPort        uint16
	TCPPort        uint16
	QoS            uint8
	TTL            uint8
	ReplyTimeout   time.Duration
	ConfirmTimeout time.Duration
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	Retries        uint32
	Flags          Flags
	Callback       MDCallback // default callback for listeners
}

// withDefaults fills zero fields with the stack defaults.
func (c PDConfig) withDefaults() PDConfig {
	if c.Port == 0 {
		c.Port = DefaultPDPort
	}
	if c.QoS == 0 {
		c.QoS = DefaultQoS
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultPDTimeout
	}
	if c.TOBehavior == TODefault {
		c.TOBehavior = TOKeepLast
	}
	return c
}

func (c MDConfig) withDefaults() MDConfig {
	if c.UDPPort == 0 {
		c.UDPPort = DefaultMDPort
	}
	if c.TCPPort == 0 {
		c.TCPPort = DefaultMDPort
	}
	if c.QoS == 0 {
		c.QoS = DefaultQoS
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	return c
}
