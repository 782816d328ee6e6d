package trdp

import "sync/atomic"

// Statistics collects per-session counters. All methods are safe for
// concurrent use; the diagnostics API reads snapshots while the engine
// is running.
type Statistics struct {
	pdSent    atomic.Uint64
	pdRecv    atomic.Uint64
	pdCrcErr  atomic.Uint64
	pdProtErr atomic.Uint64
	pdTopoErr atomic.Uint64
	pdNoSubs  atomic.Uint64
	pdTimeout atomic.Uint64
	pdMissed  atomic.Uint64

	mdSent       atomic.Uint64
	mdRecv       atomic.Uint64
	mdCrcErr     atomic.Uint64
	mdProtErr    atomic.Uint64
	mdTopoErr    atomic.Uint64
	mdNoListener atomic.Uint64
	mdRetries    atomic.Uint64
	mdTimeout    atomic.Uint64
}

// StatisticsSnapshot is a point-in-time copy of the session counters.
type StatisticsSnapshot struct {
	PDSent    uint64 `json:"pd_sent"`
	PDRecv    uint64 `json:"pd_recv"`
	PDCrcErr  uint64 `json:"pd_crc_err"`
	PDProtErr uint64 `json:"pd_prot_err"`
	PDTopoErr uint64 `json:"pd_topo_err"`
	PDNoSubs  uint64 `json:"pd_no_subs"`
	PDTimeout uint64 `json:"pd_timeout"`
	PDMissed  uint64 `json:"pd_missed"`

	MDSent       uint64 `json:"md_sent"`
	MDRecv       uint64 `json:"md_recv"`
	MDCrcErr     uint64 `json:"md_crc_err"`
	MDProtErr    uint64 `json:"md_prot_err"`
	MDTopoErr    uint64 `json:"md_topo_err"`
	MDNoListener uint64 `json:"md_no_listener"`
	MDRetries    uint64 `json:"md_retries"`
	MDTimeout    uint64 `json:"md_timeout"`
}

// Snapshot returns the current counter values.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		PDSent:    s.pdSent.Load(),
		PDRecv:    s.pdRecv.Load(),
		PDCrcErr:  s.pdCrcErr.Load(),
		PDProtErr: s.pdProtErr.Load(),
		PDTopoErr: s.pdTopoErr.Load(),
		PDNoSubs:  s.pdNoSubs.Load(),
		PDTimeout: s.pdTimeout.Load(),
		PDMissed:  s.pdMissed.Load(),

		MDSent:       s.mdSent.Load(),
		MDRecv:       s.mdRecv.Load(),
		MDCrcErr:     s.mdCrcErr.Load(),
		MDProtErr:    s.mdProtErr.Load(),
		MDTopoErr:    s.mdTopoErr.Load(),
		MDNoListener: s.mdNoListener.Load(),
		MDRetries:    s.mdRetries.Load(),
		MDTimeout:    s.mdTimeout.Load(),
	}
}
