package trdp

import (
	"time"

	"github.com/saelay/trdpstack/internal/marshal"
	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/wire"
)

// Magic values guard publication and subscription handles against use
// after unpublish/unsubscribe or plain garbage.
const (
	magicPub uint32 = 0xCAFEBABE
	magicSub uint32 = 0xBABECAFE
)

// privFlags carry the engine-internal state of a PD element.
type privFlags uint8

const (
	privMcJoined    privFlags = 1 << 0 // multicast group joined for this element
	privTimedOut    privFlags = 1 << 1 // timeout already reported
	privInvalidData privFlags = 1 << 2 // no valid payload yet
	privReq2BSent   privFlags = 1 << 3 // one-shot pull emission queued
	privPullSub     privFlags = 1 << 4 // subscription created by a pull request
	privRedundant   privFlags = 1 << 5 // follower role, emission suppressed
)

func (f privFlags) has(bit privFlags) bool { return f&bit != 0 }

func (f *privFlags) set(bit privFlags, on bool) {
	if on {
		*f |= bit
	} else {
		*f &^= bit
	}
}

// pdElement is one entry of the PD send or receive queue.
type pdElement struct {
	magic     uint32
	addr      Addressing
	lastSrcIP wire.IPAddr
	srcIP2    wire.IPAddr // second allowed source for redundant pairs
	pullIP    wire.IPAddr // reply destination of a pending pull request
	redID     uint32
	msgType   wire.MsgType // MsgPd for data elements, MsgPr for requests

	seqPush uint32 // last used push counter ('Pd' cyclic)
	seqPull uint32 // last used pull counter ('Pr'/'Pd' on request)

	privFlags  privFlags
	pktFlags   Flags
	interval   time.Duration
	timeToGo   time.Time
	toBehavior TOBehavior

	dataSize    int // net payload size
	maxDataSize int // subscription payload bound, 0 = PD maximum
	frame     []byte // header + payload + FCS, reused in place
	sock      *sockets.Slot
	ds        *marshal.Dataset // cached schema, looked up lazily
	replyComID uint32          // comId requested in an outgoing pull

	userRef  any
	callback PDCallback
	lastErr  error

	// Per-element statistics.
	numRxTx   uint32
	updPkts   uint32
	getPkts   uint32
	numMissed uint32
}

// Publication is the handle returned by Publish.
type Publication struct {
	e *pdElement
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	e *pdElement
}

// valid checks a handle's magic before use.
func (p *Publication) valid() bool {
	return p != nil && p.e != nil && p.e.magic == magicPub
}

func (sub *Subscription) valid() bool {
	return sub != nil && sub.e != nil && sub.e.magic == magicSub
}

// payload returns the element's current payload bytes inside its frame.
func (e *pdElement) payload() []byte {
	return e.frame[wire.PDHeaderSize : wire.PDHeaderSize+e.dataSize]
}

// matchesSource applies the subscription source filter: zero accepts
// any source, otherwise the source must equal the first or (for
// redundant source pairs) the second filter address.
func (e *pdElement) matchesSource(src wire.IPAddr) bool {
	if e.addr.SrcIP == 0 {
		return true
	}
	return src == e.addr.SrcIP || (e.srcIP2 != 0 && src == e.srcIP2)
}

// dataset returns the cached schema for this element, resolving it on
// first use.
func (e *pdElement) dataset(reg *marshal.Registry) (*marshal.Dataset, error) {
	if e.ds != nil {
		return e.ds, nil
	}
	ds, err := reg.Lookup(e.addr.ComID)
	if err != nil {
		return nil, err
	}
	e.ds = ds
	return ds, nil
}
