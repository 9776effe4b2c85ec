// Package collections implements the per-partition Collections
// VBucket Manifest from spec.md §4.F: the open/deleting generation
// state machine for named collections, and the derived "is key k
// logically visible at seqno s?" test consulted on every read.
//
// Grounded on the manifest and system-event handling in
// _examples/original_source/engines/ep/src/collections (no single
// file is copied; the generation/UID/separator model and the
// collection-create / collection-begin-delete / collection-delete-hard
// / collection-delete-soft / separator-changed event taxonomy follow
// that source's ManifestEntry and SystemEventFactory design, adapted
// into a single Go type using the teacher's errors package for its
// rejection paths).
package collections

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	kverrors "github.com/couchbase/kvengine/errors"
)

// CollectionOpenSentinel is the greatestEndSeqno value when no
// generation is deleting, spec.md §4.F's "collection-open" sentinel.
const CollectionOpenSentinel int64 = -1

// DefaultCollectionName is the always-present, UID-0 collection.
const DefaultCollectionName = "$default"

// EventType enumerates the system events the manifest emits.
type EventType int

const (
	CollectionCreate EventType = iota
	CollectionBeginDelete
	CollectionDeleteHard
	CollectionDeleteSoft
	SeparatorChanged
)

func (e EventType) String() string {
	switch e {
	case CollectionCreate:
		return "collection-create"
	case CollectionBeginDelete:
		return "collection-begin-delete"
	case CollectionDeleteHard:
		return "collection-delete-hard"
	case CollectionDeleteSoft:
		return "collection-delete-soft"
	case SeparatorChanged:
		return "separator-changed"
	default:
		return "unknown"
	}
}

// Identifier names a collection generation: name plus the UID that
// distinguishes one generation of that name from the next.
type Identifier struct {
	Name string
	UID  uint64
}

// Event is one system event the manifest produced for the checkpoint
// stream to carry, per the glossary's "DCP system event payload".
type Event struct {
	Type      EventType
	ID        Identifier
	Seqno     int64
	Separator string // only set for SeparatorChanged
}

// ManifestEntry is one generation of a collection: its UID and the
// seqno range over which it is/was open, per spec.md §4.F.
type ManifestEntry struct {
	UID        uint64 `json:"uid"`
	Name       string `json:"name"`
	StartSeqno int64  `json:"start_seqno"`
	EndSeqno   int64  `json:"end_seqno"` // CollectionOpenSentinel while open
}

func (e *ManifestEntry) isDeleting() bool { return e.EndSeqno != CollectionOpenSentinel }

// Manifest is the state machine described by spec.md §4.F. The same
// type serves both the active partition (Update/CompleteDeletion) and
// the replica (ReplicaAdd/ReplicaBeginDelete/ReplicaChangeSeparator/
// CompleteDeletion).
type Manifest struct {
	mu         sync.Mutex
	separator  string
	openByName map[string]*ManifestEntry
	deleting   map[string][]*ManifestEntry
	nextSeqno  func() int64
	lastRevision string
}

// New creates a manifest with only the default collection open at
// seqno 0, per spec.md §8 S0's initial state. nextSeqno mints the
// seqno assigned to the next system event; the caller typically wires
// this to the owning checkpoint manager.
func New(separator string, nextSeqno func() int64) *Manifest {
	m := &Manifest{
		separator:  separator,
		openByName: make(map[string]*ManifestEntry),
		deleting:   make(map[string][]*ManifestEntry),
		nextSeqno:  nextSeqno,
	}
	m.openByName[DefaultCollectionName] = &ManifestEntry{
		Name: DefaultCollectionName, UID: 0, StartSeqno: 0, EndSeqno: CollectionOpenSentinel,
	}
	return m
}

// wireFormat is the {separator, collections:[{name,uid}]} shape the
// manifest accepts as input and serializes as its public form.
type wireFormat struct {
	Separator   string           `json:"separator"`
	Collections []wireCollection `json:"collections"`
}

type wireCollection struct {
	Name string `json:"name"`
	UID  string `json:"uid"`
}

// Update applies a new target manifest revision, computing the
// symmetric difference against the open generations per spec.md §4.F,
// and returns the system events produced. Re-applying an identical
// revision is a no-op per invariant 6.
func (m *Manifest) Update(revisionJSON []byte) ([]Event, error) {
	var wf wireFormat
	if err := json.Unmarshal(revisionJSON, &wf); err != nil {
		return nil, kverrors.NewEinval("invalid manifest revision json")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if string(revisionJSON) == m.lastRevision {
		return nil, nil
	}

	newOpen := make(map[string]uint64, len(wf.Collections))
	names := make([]string, 0, len(wf.Collections))
	for _, c := range wf.Collections {
		var uid uint64
		if _, err := fmt.Sscanf(c.UID, "%x", &uid); err != nil {
			return nil, kverrors.NewEinval("invalid collection uid %q", c.UID)
		}
		newOpen[c.Name] = uid
		names = append(names, c.Name)
	}
	sort.Strings(names)

	// A separator change is only legal while no non-default collection
	// is tracked. Decide this against the manifest as it stood before
	// this revision, before the add/begin-delete passes below mutate
	// openByName/deleting or mint any seqnos, so a rejected combined
	// separator+collection revision leaves the prior manifest intact
	// and no seqno is consumed on the reject path (invariant 5 / S4).
	separatorChanging := wf.Separator != m.separator
	if separatorChanging && m.hasNonDefaultTracked() {
		return nil, kverrors.NewEinval("separator change rejected: non-default collection tracked")
	}

	openSnapshot := make(map[string]*ManifestEntry, len(m.openByName))
	for k, v := range m.openByName {
		openSnapshot[k] = v
	}

	var events []Event

	// add pass: a name/uid pair in the target not currently open
	for _, name := range names {
		uid := newOpen[name]
		if cur, ok := openSnapshot[name]; ok && cur.UID == uid {
			continue
		}
		seqno := m.nextSeqno()
		entry := &ManifestEntry{Name: name, UID: uid, StartSeqno: seqno, EndSeqno: CollectionOpenSentinel}
		m.openByName[name] = entry
		events = append(events, Event{Type: CollectionCreate, ID: Identifier{Name: name, UID: uid}, Seqno: seqno})
	}

	// begin-delete pass: a previously open generation not retained by the target
	deletedNames := make([]string, 0, len(openSnapshot))
	for name := range openSnapshot {
		deletedNames = append(deletedNames, name)
	}
	sort.Strings(deletedNames)
	for _, name := range deletedNames {
		cur := openSnapshot[name]
		if uid, stillOpen := newOpen[name]; stillOpen && uid == cur.UID {
			continue
		}
		seqno := m.nextSeqno()
		cur.EndSeqno = seqno
		m.deleting[name] = append(m.deleting[name], cur)
		if _, stillTargeted := newOpen[name]; !stillTargeted {
			delete(m.openByName, name)
		}
		events = append(events, Event{Type: CollectionBeginDelete, ID: Identifier{Name: name, UID: cur.UID}, Seqno: seqno})
	}

	if separatorChanging {
		seqno := m.nextSeqno()
		m.separator = wf.Separator
		events = append(events, Event{Type: SeparatorChanged, Seqno: seqno, Separator: wf.Separator})
	}

	m.lastRevision = string(revisionJSON)
	return events, nil
}

// hasNonDefaultTracked reports whether any non-default collection is
// currently tracked (open or deleting). Callers that need this as a
// pre-condition for a revision must call it before that revision's
// add/begin-delete passes run, since it reads live state.
func (m *Manifest) hasNonDefaultTracked() bool {
	for name := range m.openByName {
		if name != DefaultCollectionName {
			return true
		}
	}
	for name, entries := range m.deleting {
		if name != DefaultCollectionName && len(entries) > 0 {
			return true
		}
	}
	return false
}

// CompleteDeletion implements spec.md §4.F's complete_deletion: the
// erasure pipeline reports that every item of one deleting generation
// of name has been purged.
func (m *Manifest) CompleteDeletion(name string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.deleting[name]
	if len(entries) == 0 {
		return Event{}, false
	}
	removed := entries[0]
	remaining := entries[1:]
	if len(remaining) == 0 {
		delete(m.deleting, name)
	} else {
		m.deleting[name] = remaining
	}

	seqno := m.nextSeqno()
	if _, stillOpen := m.openByName[name]; stillOpen {
		return Event{Type: CollectionDeleteSoft, ID: Identifier{Name: name, UID: removed.UID}, Seqno: seqno}, true
	}
	return Event{Type: CollectionDeleteHard, ID: Identifier{Name: name, UID: removed.UID}, Seqno: seqno}, true
}

// ReplicaAdd mirrors a collection-create event delivered by DCP.
func (m *Manifest) ReplicaAdd(id Identifier, seqno int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openByName[id.Name] = &ManifestEntry{Name: id.Name, UID: id.UID, StartSeqno: seqno, EndSeqno: CollectionOpenSentinel}
}

// ReplicaBeginDelete mirrors a collection-begin-delete event.
func (m *Manifest) ReplicaBeginDelete(id Identifier, seqno int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.openByName[id.Name]
	if !ok || cur.UID != id.UID {
		return
	}
	cur.EndSeqno = seqno
	m.deleting[id.Name] = append(m.deleting[id.Name], cur)
	delete(m.openByName, id.Name)
}

// ReplicaChangeSeparator mirrors a separator-changed event.
func (m *Manifest) ReplicaChangeSeparator(separator string, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.separator = separator
}

// Size reports the total tracked-entry count, open plus deleting.
func (m *Manifest) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.openByName)
	for _, entries := range m.deleting {
		n += len(entries)
	}
	return n
}

// NDeletingCollections is spec.md §4.F's nDeletingCollections counter.
func (m *Manifest) NDeletingCollections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, entries := range m.deleting {
		n += len(entries)
	}
	return n
}

// GreatestEndSeqno is the maximum end_seqno across deleting entries,
// or CollectionOpenSentinel when none are deleting, per invariant 3.
func (m *Manifest) GreatestEndSeqno() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := CollectionOpenSentinel
	for _, entries := range m.deleting {
		for _, e := range entries {
			if e.EndSeqno > max {
				max = e.EndSeqno
			}
		}
	}
	return max
}

func (m *Manifest) Separator() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.separator
}

// IsVisible implements invariant 4: an item of collection name at
// seqno s is visible iff some open generation has start_seqno <= s,
// and no deleting generation's [start_seqno, end_seqno] range covers
// s.
func (m *Manifest) IsVisible(name string, seqno int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	open, hasOpen := m.openByName[name]
	visible := hasOpen && open.StartSeqno <= seqno
	for _, e := range m.deleting[name] {
		if e.StartSeqno <= seqno && seqno <= e.EndSeqno {
			return false
		}
	}
	return visible
}

// Exists implements invariant 1.
func (m *Manifest) Exists(id Identifier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.openByName[id.Name]; ok && e.UID == id.UID {
		return true
	}
	for _, e := range m.deleting[id.Name] {
		if e.UID == id.UID {
			return true
		}
	}
	return false
}

// State reports which of exclusive_open / exclusive_deleting /
// open_and_deleting applies to name, per invariant 2; NotTracked if
// name is not tracked at all.
type State int

const (
	NotTracked State = iota
	ExclusiveOpen
	ExclusiveDeleting
	OpenAndDeleting
)

func (m *Manifest) State(name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, open := m.openByName[name]
	deleting := len(m.deleting[name]) > 0
	switch {
	case open && deleting:
		return OpenAndDeleting
	case open:
		return ExclusiveOpen
	case deleting:
		return ExclusiveDeleting
	default:
		return NotTracked
	}
}

// internalEntry is the all-entries-with-end-seqnos recovery form that
// MarshalRecoveryJSON emits, spec.md §4.F's "second internal
// representation". The system-event items queued into the checkpoint
// do not carry it: their Value is left empty.
type internalEntry struct {
	Name       string `json:"name"`
	UID        uint64 `json:"uid"`
	StartSeqno int64  `json:"start_seqno"`
	EndSeqno   int64  `json:"end_seqno"`
}

// MarshalJSON emits the public {separator, collections:[{name,uid}]}
// form, open generations only.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.openByName))
	for n := range m.openByName {
		names = append(names, n)
	}
	sort.Strings(names)
	wf := wireFormat{Separator: m.separator}
	for _, n := range names {
		e := m.openByName[n]
		wf.Collections = append(wf.Collections, wireCollection{Name: e.Name, UID: fmt.Sprintf("%x", e.UID)})
	}
	return json.Marshal(wf)
}

// MarshalRecoveryJSON emits the internal all-entries form used for the
// `_local/collections_manifest` payload.
func (m *Manifest) MarshalRecoveryJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []internalEntry
	names := make([]string, 0, len(m.openByName)+len(m.deleting))
	seen := make(map[string]bool)
	for n := range m.openByName {
		if !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	for n := range m.deleting {
		if !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if e, ok := m.openByName[n]; ok {
			entries = append(entries, internalEntry{Name: e.Name, UID: e.UID, StartSeqno: e.StartSeqno, EndSeqno: e.EndSeqno})
		}
		for _, e := range m.deleting[n] {
			entries = append(entries, internalEntry{Name: e.Name, UID: e.UID, StartSeqno: e.StartSeqno, EndSeqno: e.EndSeqno})
		}
	}
	return json.Marshal(struct {
		Separator string          `json:"separator"`
		Entries   []internalEntry `json:"entries"`
	}{m.separator, entries})
}
