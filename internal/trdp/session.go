package trdp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saelay/trdpstack/internal/marshal"
	"github.com/saelay/trdpstack/internal/pool"
	"github.com/saelay/trdpstack/internal/sockets"
	"github.com/saelay/trdpstack/internal/wire"
)

// Version identifies the stack release.
const Version = "1.0.0.0"

// GetVersion returns the stack version string.
func GetVersion() string { return Version }

// Process-wide state: the session list and the init flag, guarded by
// one mutex like the rest of the stack's globals.
var global struct {
	mu       sync.Mutex
	inited   bool
	logger   *slog.Logger
	sessions []*Session
}

// Init prepares the stack. It must be called once before OpenSession;
// further calls are no-ops. logger may be nil.
func Init(logger *slog.Logger) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.inited {
		return nil
	}
	global.inited = true
	global.logger = logger
	return nil
}

// Terminate closes every open session and resets the stack.
func Terminate() error {
	global.mu.Lock()
	if !global.inited {
		global.mu.Unlock()
		return ErrNoInit
	}
	open := append([]*Session(nil), global.sessions...)
	global.mu.Unlock()

	for _, s := range open {
		_ = s.Close()
	}

	global.mu.Lock()
	global.sessions = nil
	global.inited = false
	global.mu.Unlock()
	return nil
}

// SessionConfig parameterises OpenSession. Zero values select stack
// defaults.
type SessionConfig struct {
	OwnIP    wire.IPAddr // real interface address, 0 for any
	LeaderIP wire.IPAddr // virtual address of the redundancy leader
	Registry *marshal.Registry
	PD       PDConfig
	MD       MDConfig
	Options  Options
	Logger   *slog.Logger
}

// Session is one TRDP application session: an interface address, the
// publish/subscribe queues, the MD session queues, a socket pool and
// the statistics block. All methods are safe for concurrent use; the
// engine itself runs single-threaded inside Process.
type Session struct {
	mu sync.Mutex

	realIP    wire.IPAddr
	virtualIP wire.IPAddr
	etbTopo   uint32
	opTrnTopo uint32
	opts      Options
	pdCfg     PDConfig
	mdCfg     MDConfig
	registry  *marshal.Registry
	logger    *slog.Logger

	pool     *sockets.Pool
	frames   *pool.Frames
	sndQueue []*pdElement // publications, insertion order
	rcvQueue []*pdElement // subscriptions, insertion order

	mdSnd     []*mdElement // caller-initiated MD sessions
	mdRcv     []*mdElement // replier-side MD sessions
	listeners []*listener
	tcpListen *sockets.Slot

	rxSeq *seqTable
	stats Statistics

	// redLeader tracks the follower/leader role per redundancy group.
	redLeader map[uint32]bool

	closed bool
}

// OpenSession creates a session. The stack must be initialised.
func OpenSession(cfg SessionConfig) (*Session, error) {
	global.mu.Lock()
	if !global.inited {
		global.mu.Unlock()
		return nil, ErrNoInit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = global.logger
	}
	global.mu.Unlock()

	s := &Session{
		realIP:    cfg.OwnIP,
		virtualIP: cfg.LeaderIP,
		opts:      cfg.Options,
		pdCfg:     cfg.PD.withDefaults(),
		mdCfg:     cfg.MD.withDefaults(),
		registry:  cfg.Registry,
		logger:    logger,
		pool:      sockets.NewPool(),
		frames:    pool.NewFrames(wire.MaxPDPacketSize),
		rxSeq:     newSeqTable(),
		redLeader: make(map[uint32]bool),
	}

	global.mu.Lock()
	global.sessions = append(global.sessions, s)
	global.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("trdp session open",
			"own_ip", s.realIP.String(),
			"pd_port", s.pdCfg.Port,
			"md_udp_port", s.mdCfg.UDPPort,
		)
	}
	return s, nil
}

// Close aborts all pending work and releases every socket. Callbacks of
// waiting MD sessions fire with ErrSessionAbort before teardown.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.closed = true

	// Abort waiting MD sessions.
	for _, e := range append(append([]*mdElement(nil), s.mdSnd...), s.mdRcv...) {
		if e.state.waiting() && e.callback != nil {
			cb := e.callback
			info := e.info(ErrSessionAbort)
			s.mu.Unlock()
			cb(info, nil)
			s.mu.Lock()
		}
	}
	s.sndQueue = nil
	s.rcvQueue = nil
	s.mdSnd = nil
	s.mdRcv = nil
	s.listeners = nil
	s.pool.Close()
	s.tcpListen = nil
	s.mu.Unlock()

	global.mu.Lock()
	for i, cur := range global.sessions {
		if cur == s {
			global.sessions = append(global.sessions[:i], global.sessions[i+1:]...)
			break
		}
	}
	global.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("trdp session closed", "own_ip", s.realIP.String())
	}
	return nil
}

// Reinit re-joins all multicast groups, used after an interface went
// down and came back.
func (s *Session) Reinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	for _, slot := range s.pool.Slots() {
		if err := slot.RejoinGroups(s.realIP); err != nil {
			return err
		}
	}
	return nil
}

// SetTopoCount updates the session's topography counters. Subsequent
// transmissions carry the new values; receptions are filtered against
// them.
func (s *Session) SetTopoCount(etb, opTrn uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	s.etbTopo = etb
	s.opTrnTopo = opTrn
	return nil
}

// TopoCount returns the current counters.
func (s *Session) TopoCount() (etb, opTrn uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.etbTopo, s.opTrnTopo
}

// SetRedundant switches the redundancy role for a group. redID zero
// addresses every group. A follower's publications are suppressed at
// send time while their timers keep advancing, so the counter
// progression stays in step with the leader.
func (s *Session) SetRedundant(redID uint32, leader bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSession
	}
	for _, e := range s.sndQueue {
		if e.redID == 0 {
			continue
		}
		if redID == 0 || e.redID == redID {
			e.privFlags.set(privRedundant, !leader)
			s.redLeader[e.redID] = leader
		}
	}
	if redID != 0 {
		s.redLeader[redID] = leader
	}
	return nil
}

// GetRedundant reports whether this session leads the given group.
// Groups never configured lead by default.
func (s *Session) GetRedundant(redID uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrNoSession
	}
	leader, ok := s.redLeader[redID]
	if !ok {
		return true, nil
	}
	return leader, nil
}

// Statistics returns a snapshot of the session counters.
func (s *Session) Statistics() StatisticsSnapshot {
	return s.stats.Snapshot()
}

// RealIP returns the session's interface address.
func (s *Session) RealIP() wire.IPAddr { return s.realIP }

// pdSocket acquires the shared PD socket for the given parameters.
func (s *Session) pdSocket(param SendParam) (*sockets.Slot, error) {
	qos, ttl := param.QoS, param.TTL
	if qos == 0 {
		qos = s.pdCfg.QoS
	}
	if ttl == 0 {
		ttl = s.pdCfg.TTL
	}
	slot, err := s.pool.Acquire(s.realIP, s.pdCfg.Port, sockets.SockPD, qos, ttl, false)
	if err != nil {
		return nil, fmt.Errorf("acquire pd socket: %w", err)
	}
	return slot, nil
}

// mdSocket acquires the shared MD UDP socket.
func (s *Session) mdSocket() (*sockets.Slot, error) {
	slot, err := s.pool.Acquire(s.realIP, s.mdCfg.UDPPort, sockets.SockMDUDP, s.mdCfg.QoS, s.mdCfg.TTL, false)
	if err != nil {
		return nil, fmt.Errorf("acquire md socket: %w", err)
	}
	return slot, nil
}

// mdTCPListen lazily creates the session's single TCP listen socket.
func (s *Session) mdTCPListen() (*sockets.Slot, error) {
	if s.tcpListen != nil {
		return s.tcpListen, nil
	}
	slot, err := s.pool.Acquire(s.realIP, s.mdCfg.TCPPort, sockets.SockMDTCP, s.mdCfg.QoS, s.mdCfg.TTL, true)
	if err != nil {
		return nil, fmt.Errorf("acquire tcp listen socket: %w", err)
	}
	slot.Pinned = true
	s.tcpListen = slot
	return slot, nil
}

// now exists so tests can compress time; the engine otherwise uses the
// wall clock.
var now = time.Now
