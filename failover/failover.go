// Package failover implements the opaque failover log handle from
// spec.md §4.C: an append-only sequence of (uuid, seqno) entries returned
// to clients so they can detect a history rewrite after a rollback.
//
// Grounded on _examples/original_source/src/vbucket.cc's ownership of a
// FailoverTable (the "failovers" member constructed alongside the HLC);
// entry UUIDs use github.com/google/uuid, an indirect dependency of the
// teacher's go.mod promoted to direct use here.
package failover

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Entry pairs a branch UUID with the seqno at which that branch began.
type Entry struct {
	UUID  uint64 `json:"uuid"`
	Seqno int64  `json:"seqno"`
}

// Table is immutable except for CreateEntry, which appends a new branch;
// prior entries are never mutated or removed, per spec.md §4.C.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
}

// New creates a table with a single genesis entry at seqno 0, using a
// random 64-bit UUID derived from a freshly generated UUIDv4 the way the
// original FailoverTable seeds its first branch.
func New() *Table {
	return &Table{entries: []Entry{{UUID: randomUUID64(), Seqno: 0}}}
}

func NewWithUUID(id uint64) *Table {
	return &Table{entries: []Entry{{UUID: id, Seqno: 0}}}
}

func randomUUID64() uint64 {
	u := uuid.New()
	b := u[:]
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// CreateEntry appends a new branch at the given seqno, minting a fresh
// UUID; used when a partition becomes active after a takeover or
// rollback.
func (t *Table) CreateEntry(seqno int64) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := Entry{UUID: randomUUID64(), Seqno: seqno}
	t.entries = append(t.entries, e)
	return e
}

// LatestUUID returns the UUID of the most recent branch.
func (t *Table) LatestUUID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[len(t.entries)-1].UUID
}

func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// MarshalJSON emits the table as an array of {uuid, seqno} objects for a
// STREAM_REQ failover log response.
func (t *Table) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.Marshal(t.entries)
}
