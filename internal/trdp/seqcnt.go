package trdp

import (
	"sync"

	"github.com/saelay/trdpstack/internal/wire"
)

// seqKey identifies one sequence counter stream.
type seqKey struct {
	comID   uint32
	srcIP   wire.IPAddr
	msgType wire.MsgType
}

// seqTable keeps the last accepted sequence counter per stream. Entries
// are never trimmed; a long-lived engine with churning peers grows the
// table monotonically.
type seqTable struct {
	entries map[seqKey]uint32
}

// seqTableInitialSize pre-sizes the map for the typical consist.
const seqTableInitialSize = 64

func newSeqTable() *seqTable {
	return &seqTable{entries: make(map[seqKey]uint32, seqTableInitialSize)}
}

// last returns the stored counter for a stream, if any.
func (t *seqTable) last(comID uint32, srcIP wire.IPAddr, mt wire.MsgType) (uint32, bool) {
	v, ok := t.entries[seqKey{comID, srcIP, mt}]
	return v, ok
}

// store records the counter for a stream.
func (t *seqTable) store(comID uint32, srcIP wire.IPAddr, mt wire.MsgType, seq uint32) {
	t.entries[seqKey{comID, srcIP, mt}] = seq
}

// check applies the duplicate filter: a counter must be strictly
// greater than the stored one. It returns (accepted, missed) where
// missed is the number of skipped counters.
func (t *seqTable) check(comID uint32, srcIP wire.IPAddr, mt wire.MsgType, seq uint32) (bool, uint32) {
	k := seqKey{comID, srcIP, mt}
	stored, ok := t.entries[k]
	if ok && seq <= stored {
		return false, 0
	}
	t.entries[k] = seq
	var missed uint32
	if ok && seq > stored+1 {
		missed = seq - stored - 1
	}
	return true, missed
}

// txSeqTable preserves publisher counters across sessions of one
// process, so a republish after a redundancy switchover continues the
// counter progression subscribers have seen.
var txSeqTable = struct {
	mu      sync.Mutex
	entries map[seqKey]uint32
}{entries: make(map[seqKey]uint32, seqTableInitialSize)}

// txSeqLast returns the last counter a publisher of this stream used.
func txSeqLast(comID uint32, srcIP wire.IPAddr, mt wire.MsgType) uint32 {
	txSeqTable.mu.Lock()
	defer txSeqTable.mu.Unlock()
	return txSeqTable.entries[seqKey{comID, srcIP, mt}]
}

// txSeqStore records the counter a publisher just used.
func txSeqStore(comID uint32, srcIP wire.IPAddr, mt wire.MsgType, seq uint32) {
	txSeqTable.mu.Lock()
	defer txSeqTable.mu.Unlock()
	txSeqTable.entries[seqKey{comID, srcIP, mt}] = seq
}
