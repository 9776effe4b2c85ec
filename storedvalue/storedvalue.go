package storedvalue

import "sync/atomic"

// Datatype is the bitset from spec.md §3/§6: raw (0), JSON, snappy, xattr,
// combinable as raw alone, JSON alone, snappy+raw, snappy+JSON, with
// xattr set independently.
type Datatype uint8

const (
	DatatypeRaw    Datatype = 0
	DatatypeJSON   Datatype = 1 << 0
	DatatypeSnappy Datatype = 1 << 1
	DatatypeXattr  Datatype = 1 << 2
)

func (d Datatype) IsJSON() bool   { return d&DatatypeJSON != 0 }
func (d Datatype) IsSnappy() bool { return d&DatatypeSnappy != 0 }
func (d Datatype) IsXattr() bool  { return d&DatatypeXattr != 0 }

// NRU (not-recently-used) counter values; lower means more recently used.
const (
	NRUInitial = 0
	NRUMax     = 3
)

// StoredValue is one logical item per spec.md §3. CAS is never zero for
// a live item; Seqno is assigned by the checkpoint manager and strictly
// increases within a partition; a temp-initial item carries neither
// value nor a real CAS and exists only to mark a key as "fetch pending".
type StoredValue struct {
	Key   Key
	value []byte // guarded by the owning hash-table bucket's lock

	cas   atomic.Uint64 // 0 only for temp-initial placeholders
	seqno atomic.Int64  // assigned by the checkpoint manager

	Flags    uint32
	Expiry   uint32 // unix seconds; 0 means no TTL
	Datatype Datatype
	RevSeqno uint64
	nru      atomic.Uint32

	deleted     bool
	tempInitial bool
	nonResident bool
	locked      bool
	lockExpiry  uint32
}

// NewTempInitial creates the placeholder StoredValue the hash table
// inserts while a background fetch for key is outstanding. It carries
// neither a value nor a CAS, per spec.md §3.
func NewTempInitial(key Key) *StoredValue {
	return &StoredValue{Key: key, tempInitial: true}
}

func New(key Key, value []byte, flags uint32, expiry uint32, datatype Datatype) *StoredValue {
	return &StoredValue{Key: key, value: value, Flags: flags, Expiry: expiry, Datatype: datatype}
}

func (sv *StoredValue) CAS() uint64 {
	return sv.cas.Load()
}

func (sv *StoredValue) SetCAS(cas uint64) {
	sv.cas.Store(cas)
}

func (sv *StoredValue) Seqno() int64 {
	return sv.seqno.Load()
}

func (sv *StoredValue) SetSeqno(seqno int64) {
	sv.seqno.Store(seqno)
}

func (sv *StoredValue) Value() []byte {
	return sv.value
}

func (sv *StoredValue) SetValue(v []byte) {
	sv.value = v
	sv.nonResident = false
}

// EjectValue drops the value but retains metadata, the VALUE_ONLY
// eviction-policy behavior from spec.md §3/§4.D.
func (sv *StoredValue) EjectValue() {
	sv.value = nil
	sv.nonResident = true
}

func (sv *StoredValue) IsDeleted() bool     { return sv.deleted }
func (sv *StoredValue) IsTempInitial() bool { return sv.tempInitial }
func (sv *StoredValue) IsNonResident() bool { return sv.nonResident }
func (sv *StoredValue) IsLocked(now uint32) bool {
	return sv.locked && (sv.lockExpiry == 0 || sv.lockExpiry > now)
}
func (sv *StoredValue) IsResident() bool {
	return !sv.tempInitial && !sv.nonResident
}

// SoftDelete marks the value deleted in place, retaining it (with a new
// CAS) until the checkpoint drains and eviction removes it, per
// spec.md §4.D's soft_delete contract.
func (sv *StoredValue) SoftDelete(newCas uint64) {
	sv.deleted = true
	sv.value = nil
	sv.SetCAS(newCas)
}

func (sv *StoredValue) SetNonExistent() {
	sv.tempInitial = false
	sv.deleted = true
	sv.value = nil
}

func (sv *StoredValue) ClearTempInitial() {
	sv.tempInitial = false
}

func (sv *StoredValue) Lock(expiry uint32) {
	sv.locked = true
	sv.lockExpiry = expiry
}

func (sv *StoredValue) Unlock() {
	sv.locked = false
	sv.lockExpiry = 0
}

func (sv *StoredValue) IsExpired(now uint32) bool {
	return sv.Expiry != 0 && sv.Expiry <= now
}

// NRU reports the current not-recently-used age; Touch resets it to
// "just accessed" for eviction-policy bookkeeping (spec.md §3: "NRU
// counter (eviction age)").
func (sv *StoredValue) NRU() uint32 {
	return sv.nru.Load()
}

func (sv *StoredValue) Touch() {
	sv.nru.Store(NRUInitial)
}

func (sv *StoredValue) AgeNRU() {
	for {
		cur := sv.nru.Load()
		if cur >= NRUMax {
			return
		}
		if sv.nru.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}
