// Package trdp implements the TRDP session core: the publish/subscribe
// process data engine, the message data session state machine, the
// per-session socket pool and the cooperative GetInterval/Process event
// loop the host application drives.
//
// All public entry points return errors from the taxonomy below; user
// callbacks carry the same values in their ResultCode field. Callers
// and callbacks test with errors.Is.
package trdp

import (
	"errors"

	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/wire"
)

var (
	// ErrParam flags invalid arguments. Dangling publication or
	// subscription handles are reported as ErrNoPub or ErrNoSub.
	ErrParam = errors.New("trdp: parameter error")
	// ErrInit is returned when the stack cannot be initialised.
	ErrInit = errors.New("trdp: initialisation failed")
	// ErrNoInit is returned when the stack is used before Init.
	ErrNoInit = errors.New("trdp: not initialised")
	// ErrTimeout reports an expired subscription, reply or confirm
	// deadline.
	ErrTimeout = errors.New("trdp: timeout")
	// ErrNoData is returned by Get on a subscription that has not
	// received a valid telegram yet.
	ErrNoData = errors.New("trdp: no data")
	// ErrIO reports a failed send or receive.
	ErrIO = errors.New("trdp: i/o error")
	// ErrMem reports an exhausted buffer or allocation limit.
	ErrMem = errors.New("trdp: out of memory")
	// ErrNoSession is returned for an unknown or closed session.
	ErrNoSession = errors.New("trdp: no such session")
	// ErrSessionAbort is delivered to callbacks of work cancelled by
	// CloseSession.
	ErrSessionAbort = errors.New("trdp: session aborted")
	// ErrNoSub is returned for an unknown subscription handle.
	ErrNoSub = errors.New("trdp: no such subscription")
	// ErrNoPub is returned for an unknown publication handle.
	ErrNoPub = errors.New("trdp: no such publication")
	// ErrNoList is returned for an unknown listener handle.
	ErrNoList = errors.New("trdp: no such listener")
	// ErrTopo reports a topography counter mismatch.
	ErrTopo = errors.New("trdp: topo counter mismatch")
	// ErrState reports an operation that does not fit the current MD
	// session state.
	ErrState = errors.New("trdp: wrong state")
	// ErrNoReply classifies a request that saw no reply at all. The MD
	// engine does not deliver it: that case reaches the callback as
	// ErrTimeout.
	ErrNoReply = errors.New("trdp: no reply")
	// ErrNotAllReplies is delivered when a request with a known replier
	// count timed out with some but not all replies in.
	ErrNotAllReplies = errors.New("trdp: not all replies received")
	// ErrNoConfirm classifies a reply query that saw no confirmation. The
	// MD engine does not deliver it: a confirm timeout reaches the
	// callback as ErrTimeout.
	ErrNoConfirm = errors.New("trdp: no confirmation received")
	// ErrSendingFailed is delivered when a UDP send fails or a TCP
	// connect or send deadline expired before the frame left the host.
	ErrSendingFailed = errors.New("trdp: sending failed")
	// ErrUnknown covers everything without a better classification.
	ErrUnknown = errors.New("trdp: unspecified error")

	// Re-exported sentinels from the layers below, so callers only
	// need this package for errors.Is.
	ErrCRC       = wire.ErrCRC
	ErrWire      = wire.ErrWire
	ErrSock      = sockets.ErrSock
	ErrQueueFull = sockets.ErrPoolFull
)
