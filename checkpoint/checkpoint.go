// Package checkpoint implements the per-partition checkpoint manager
// from spec.md §4.E: an ordered write queue, split into checkpoints,
// that persistence and DCP cursors walk independently. Grounded on
// the same checkpoint-local dedup discipline
// _examples/original_source/src/vbucket.cc's queueDirty path
// documents: a key already queued, uncollected, in the current open
// checkpoint is replaced in place rather than duplicated.
package checkpoint

import (
	"sync"
	"time"

	"github.com/couchbase/kvengine/hlc"
	"github.com/couchbase/kvengine/storedvalue"
)

// OpType distinguishes the kinds of entries a checkpoint can carry.
type OpType int

const (
	OpMutation OpType = iota
	OpSystemEvent
)

// Item is one queued entry: a mutation/deletion of a regular key, or
// a collections-manifest system event.
type Item struct {
	Key     storedvalue.Key
	Seqno   int64
	Cas     uint64
	OpType  OpType
	Deleted bool
	Value   []byte
}

// HistoryResetCheckpointID is the sentinel spec.md §4.E contract (4)
// names: on transition to active, an open checkpoint id below this
// is forced up to it.
const HistoryResetCheckpointID = 2

type checkpointEntry struct {
	id             int64
	snapshotStart  int64
	snapshotEnd    int64
	closed         bool
	items          []Item
	keyIndex       map[string]int // key string -> index into items, current open checkpoint only
}

func newCheckpointEntry(id int64, snapStart int64) *checkpointEntry {
	return &checkpointEntry{
		id:            id,
		snapshotStart: snapStart,
		snapshotEnd:   snapStart,
		keyIndex:      make(map[string]int),
	}
}

// Cursor tracks one reader's (persistence, DCP, ...) progress through
// the checkpoint list: which checkpoint it is in and how far into its
// item slice.
type Cursor struct {
	checkpointIdx int
	itemIdx       int
}

// Manager owns the ordered sequence of checkpoints for one partition,
// per spec.md §4.E.
type Manager struct {
	mu               sync.Mutex
	clock            *hlc.HLC
	checkpoints      []*checkpointEntry
	openCheckpointID int64
	nextSeqno        int64
	cursors          map[string]*Cursor
}

// NewManager creates a manager with a single open checkpoint at id 1
// and the given starting seqno (exclusive lower bound: the first
// queued item gets startSeqno+1).
func NewManager(clock *hlc.HLC, startSeqno int64) *Manager {
	m := &Manager{
		clock:            clock,
		openCheckpointID: 1,
		nextSeqno:        startSeqno,
		cursors:          make(map[string]*Cursor),
	}
	m.checkpoints = []*checkpointEntry{newCheckpointEntry(1, startSeqno)}
	return m
}

func (m *Manager) open() *checkpointEntry {
	return m.checkpoints[len(m.checkpoints)-1]
}

// ReserveSeqno mints and returns a fresh seqno from the same counter
// QueueDirty advances, without appending an item. Used by collaborators
// that must know an event's seqno before they can build the Item that
// carries it, such as the collections manifest minting a seqno for a
// system event ahead of its checkpoint.Item construction.
func (m *Manager) ReserveSeqno() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeqno++
	return m.nextSeqno
}

// QueueDirty appends item to the open checkpoint, optionally minting
// a fresh seqno and/or CAS, and applies checkpoint-local dedup per
// contract (1): a prior uncollected copy of the same key in the open
// checkpoint is replaced at its existing position rather than
// duplicated, unless some cursor has already walked past it.
// Returns the item as actually queued, with its minted seqno/CAS
// filled in, and whether a flusher should be woken because the open
// checkpoint held no items before this one.
func (m *Manager) QueueDirty(item Item, generateBySeqno, generateCas bool) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generateBySeqno {
		m.nextSeqno++
		item.Seqno = m.nextSeqno
	}
	if generateCas {
		item.Cas = uint64(m.clock.Next(time.Now()))
	}

	ck := m.open()
	key := item.Key.String()
	wasEmpty := len(ck.items) == 0

	if pos, dup := ck.keyIndex[key]; dup && !m.cursorPastIndex(len(m.checkpoints)-1, pos) {
		ck.items[pos] = item
	} else {
		ck.keyIndex[key] = len(ck.items)
		ck.items = append(ck.items, item)
	}

	if item.Seqno > ck.snapshotEnd {
		ck.snapshotEnd = item.Seqno
	}

	return item, wasEmpty
}

// cursorPastIndex reports whether any registered cursor has already
// consumed position idx within checkpoint ckIdx.
func (m *Manager) cursorPastIndex(ckIdx, idx int) bool {
	for _, c := range m.cursors {
		if c.checkpointIdx == ckIdx && c.itemIdx > idx {
			return true
		}
		if c.checkpointIdx > ckIdx {
			return true
		}
	}
	return false
}

// GetItemsForCursor returns every item the named cursor has not yet
// seen, across however many checkpoints it needs to cross, advancing
// the cursor to the end of the list.
func (m *Manager) GetItemsForCursor(name string) []Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cursors[name]
	if !ok {
		c = &Cursor{}
		m.cursors[name] = c
	}

	var out []Item
	for c.checkpointIdx < len(m.checkpoints) {
		ck := m.checkpoints[c.checkpointIdx]
		if c.itemIdx < len(ck.items) {
			out = append(out, ck.items[c.itemIdx:]...)
			c.itemIdx = len(ck.items)
		}
		if ck.closed && c.checkpointIdx < len(m.checkpoints)-1 {
			c.checkpointIdx++
			c.itemIdx = 0
			continue
		}
		break
	}
	return out
}

// RegisterCursor creates a cursor positioned at the start of the
// oldest retained checkpoint, per spec.md §4.E.
func (m *Manager) RegisterCursor(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cursors[name]; !ok {
		m.cursors[name] = &Cursor{}
	}
}

// CreateNewCheckpoint closes the currently open checkpoint (freezing
// its snapshot end per contract (3)) and opens a new one with the
// next checkpoint id.
func (m *Manager) CreateNewCheckpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open().closed = true
	m.openCheckpointID++
	m.checkpoints = append(m.checkpoints, newCheckpointEntry(m.openCheckpointID, m.nextSeqno))
}

// UpdateCurrentSnapshotEnd advances the open checkpoint's snapshot end
// to seqno; per contract (3), it is non-decreasing and a no-op if
// seqno is behind the current end.
func (m *Manager) UpdateCurrentSnapshotEnd(seqno int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ck := m.open()
	if seqno > ck.snapshotEnd {
		ck.snapshotEnd = seqno
	}
}

// SetOpenCheckpointID sets the open checkpoint's id directly, used on
// takeover of a passive vbucket's in-flight checkpoint stream.
func (m *Manager) SetOpenCheckpointID(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCheckpointID = id
	m.open().id = id
}

func (m *Manager) GetOpenCheckpointID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCheckpointID
}

// ResetOpenCheckpointIDForActive applies contract (4): on transition
// to active, an open checkpoint id below HistoryResetCheckpointID is
// forced up to it.
func (m *Manager) ResetOpenCheckpointIDForActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openCheckpointID < HistoryResetCheckpointID {
		m.openCheckpointID = HistoryResetCheckpointID
		m.open().id = HistoryResetCheckpointID
	}
}

// SnapshotRange returns the open checkpoint's [start, end] range.
func (m *Manager) SnapshotRange() (start, end int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ck := m.open()
	return ck.snapshotStart, ck.snapshotEnd
}

func (m *Manager) HighSeqno() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSeqno
}
