// Package hashtable implements the per-partition hash table from
// spec.md §4.D: a fixed set of lock-striped buckets holding
// storedvalue.StoredValue pointers, with bucket selection by
// MurmurHash3 the way the teacher's util package hashes keys for its
// own HashTable (util/hash_table.go's getHashKey). Unlike that
// table, which only ever grows and never deletes, this one supports
// find/insert/soft_delete/eject over a live key space, so chaining
// replaces quadratic probing and each bucket carries its own lock
// rather than relying on a single-phase insert/probe discipline.
package hashtable

import (
	"sync"
	"sync/atomic"

	"github.com/couchbase/kvengine/storedvalue"
	"github.com/couchbase/kvengine/util"
)

// NumShards is the number of lock stripes; a power of two so bucket
// selection from the MurmurHash digest is a mask, not a mod.
const NumShards = 64

// EvictionPolicy controls what eject() does to a value's bytes, per
// spec.md §3's VALUE_ONLY vs FULL_EVICTION distinction.
type EvictionPolicy int

const (
	ValueOnly EvictionPolicy = iota
	FullEviction
)

type bucket struct {
	mu    sync.Mutex
	items map[string]*storedvalue.StoredValue
}

// Table is the sharded hash table described by spec.md §4.D. Counts
// are tracked atomically so Count/MemUsed and the other counters can
// be read without taking any bucket lock.
type Table struct {
	shards [NumShards]*bucket

	count     atomic.Int64
	memory    atomic.Int64
	temp      atomic.Int64
	deleted   atomic.Int64
	nonresRes atomic.Int64
}

func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &bucket{items: make(map[string]*storedvalue.StoredValue)}
	}
	return t
}

func (t *Table) shardFor(key storedvalue.Key) *bucket {
	hi, _ := util.MurmurHashSum128(key.Bytes())
	return t.shards[hi&uint64(NumShards-1)]
}

// BucketGuard is the guard returned by LockBucket; it scopes mutation
// of every key that hashes to the same shard, so a find-then-modify
// sequence can hold it across both halves without a second lookup
// racing a concurrent insert, per spec.md §4.D.
type BucketGuard struct {
	b *bucket
	t *Table
}

func (g *BucketGuard) Unlock() { g.b.mu.Unlock() }

// Find looks up key within the locked bucket. wantDeleted controls
// whether a soft-deleted value is returned or treated as absent.
func (g *BucketGuard) Find(key storedvalue.Key, wantDeleted bool) (*storedvalue.StoredValue, bool) {
	sv, ok := g.b.items[key.String()]
	if !ok {
		return nil, false
	}
	if sv.IsDeleted() && !wantDeleted {
		return nil, false
	}
	return sv, true
}

// Insert adds or replaces the value for sv.Key within the locked
// bucket, updating the table's atomic counters.
func (g *BucketGuard) Insert(sv *storedvalue.StoredValue) {
	k := sv.Key.String()
	old, existed := g.b.items[k]
	g.b.items[k] = sv
	if existed {
		g.t.memory.Add(-int64(len(old.Value())))
		if old.IsTempInitial() {
			g.t.temp.Add(-1)
		}
		if old.IsDeleted() {
			g.t.deleted.Add(-1)
		}
	} else {
		g.t.count.Add(1)
	}
	g.t.memory.Add(int64(len(sv.Value())))
	if sv.IsTempInitial() {
		g.t.temp.Add(1)
	}
}

// SoftDelete marks sv deleted in place with a fresh CAS, per
// spec.md §4.D: the value is retained until the checkpoint drains.
func (g *BucketGuard) SoftDelete(sv *storedvalue.StoredValue, newCas uint64) {
	wasDeleted := sv.IsDeleted()
	freed := len(sv.Value())
	sv.SoftDelete(newCas)
	if !wasDeleted {
		g.t.deleted.Add(1)
	}
	g.t.memory.Add(-int64(freed))
}

// Eject applies policy to sv: VALUE_ONLY drops the byte payload and
// marks it non-resident; FULL_EVICTION removes the entry from the
// bucket entirely, per spec.md §3/§4.D.
func (g *BucketGuard) Eject(sv *storedvalue.StoredValue, policy EvictionPolicy) {
	switch policy {
	case ValueOnly:
		if sv.IsResident() {
			g.t.memory.Add(-int64(len(sv.Value())))
			sv.EjectValue()
			g.t.nonresRes.Add(1)
		}
	case FullEviction:
		k := sv.Key.String()
		if _, ok := g.b.items[k]; ok {
			if sv.IsResident() {
				g.t.memory.Add(-int64(len(sv.Value())))
			} else {
				g.t.nonresRes.Add(-1)
			}
			delete(g.b.items, k)
			g.t.count.Add(-1)
			if sv.IsDeleted() {
				g.t.deleted.Add(-1)
			}
		}
	}
}

// LockBucket acquires the stripe owning key and returns a guard over
// it. The caller must Unlock when done.
func (t *Table) LockBucket(key storedvalue.Key) *BucketGuard {
	b := t.shardFor(key)
	b.mu.Lock()
	return &BucketGuard{b: b, t: t}
}

// Find is the unguarded convenience form: lock, look up, unlock.
// trackReference touches the NRU counter on a hit, the way the
// teacher's cache readers mark an entry recently used.
func (t *Table) Find(key storedvalue.Key, wantDeleted, trackReference bool) (*storedvalue.StoredValue, bool) {
	g := t.LockBucket(key)
	defer g.Unlock()
	sv, ok := g.Find(key, wantDeleted)
	if ok && trackReference {
		sv.Touch()
	}
	return sv, ok
}

// Insert is the unguarded convenience form of BucketGuard.Insert.
func (t *Table) Insert(sv *storedvalue.StoredValue) {
	g := t.LockBucket(sv.Key)
	defer g.Unlock()
	g.Insert(sv)
}

func (t *Table) Count() int64  { return t.count.Load() }
func (t *Table) MemUsed() int64 { return t.memory.Load() }
func (t *Table) NumTempItems() int64    { return t.temp.Load() }
func (t *Table) NumDeletedItems() int64 { return t.deleted.Load() }
func (t *Table) NumNonResidentItems() int64 { return t.nonresRes.Load() }

// ForEach visits every item, deleted tombstones included, taking each
// bucket's lock in turn; callers that care filter IsDeleted/IsTempInitial
// themselves. Used by the item pager's candidate scan.
func (t *Table) ForEach(fn func(*storedvalue.StoredValue)) {
	for _, b := range t.shards {
		b.mu.Lock()
		for _, sv := range b.items {
			fn(sv)
		}
		b.mu.Unlock()
	}
}

// ForEachGuarded visits every item with its bucket held locked across
// the call, letting fn call guard.Eject/guard.SoftDelete on sv without
// a second lookup racing a concurrent mutation. Used by the expiry
// pager, which must mutate while it scans.
func (t *Table) ForEachGuarded(fn func(guard *BucketGuard, sv *storedvalue.StoredValue)) {
	for _, b := range t.shards {
		b.mu.Lock()
		guard := &BucketGuard{b: b, t: t}
		for _, sv := range b.items {
			fn(guard, sv)
		}
		b.mu.Unlock()
	}
}
