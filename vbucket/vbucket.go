// Package vbucket implements the per-partition aggregate from
// spec.md §4.G: the state machine and the glue wiring hashtable,
// checkpoint, collections, hlc, bloomfilter and failover together.
// Grounded throughout on
// _examples/original_source/src/vbucket.cc — fireAllOps,
// notifyOnPersistence, notifyAllPendingConnsFailed and
// adjustCheckpointFlushTimeout are close structural translations of
// that file's methods of the same name, using the teacher's logging
// package for the state-transition log line that file also emits.
package vbucket

import (
	"sync"
	"time"

	"github.com/couchbase/kvengine/bloomfilter"
	"github.com/couchbase/kvengine/checkpoint"
	"github.com/couchbase/kvengine/collections"
	kverrors "github.com/couchbase/kvengine/errors"
	"github.com/couchbase/kvengine/failover"
	"github.com/couchbase/kvengine/hashtable"
	"github.com/couchbase/kvengine/hlc"
	"github.com/couchbase/kvengine/logging"
	"github.com/couchbase/kvengine/memory"
	"github.com/couchbase/kvengine/storedvalue"
	"github.com/couchbase/kvengine/util"
)

// State mirrors the four partition states spec.md §4.G names.
type State int

const (
	Dead State = iota
	Active
	Replica
	Pending
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Replica:
		return "replica"
	case Pending:
		return "pending"
	default:
		return "dead"
	}
}

// Checkpoint-flush timeout bounds, seconds, mirroring vbucket.cc's
// MIN_CHK_FLUSH_TIMEOUT/MAX_CHK_FLUSH_TIMEOUT (their numeric values
// are not in the retrieved source; 1s/10s are this port's choice,
// recorded as an Open Question resolution in DESIGN.md).
const (
	MinCheckpointFlushTimeout = 1
	MaxCheckpointFlushTimeout = 10
)

// ErrorCode is the notification outcome delivered to a parked waiter.
type ErrorCode int

const (
	NotifySuccess ErrorCode = iota
	NotifyTmpfail
	NotifyNotMyVBucket
)

// highPriorityWaiter is one entry of the waiter list fireAllOps and
// notifyOnPersistence walk, per spec.md §4.G.
type highPriorityWaiter struct {
	cookie    interface{}
	id        uint64
	bySeqno   bool
	startTime time.Time
}

// BGFetchRequest is what queue_bg_fetch records for one outstanding
// background fetch.
type BGFetchRequest struct {
	Cookie      interface{}
	MetaOnly    bool
	QueuedAt    time.Time
}

// FetchResult is what the storage layer hands back to
// CompleteBGFetchForItem.
type FetchResult struct {
	Value    []byte
	Flags    uint32
	Expiry   uint32
	Cas      uint64
	Datatype storedvalue.Datatype
	Found    bool
	ReadErr  error
}

// Stats are the per-partition counters reset_stats/add_stats expose.
type Stats struct {
	ExpiredAccess   int64
	BgFetches       int64
	BgFetchTimeouts int64
}

// VBucket is the aggregate described by spec.md §4.G.
type VBucket struct {
	ID int

	mu    sync.RWMutex
	state State

	HT          *hashtable.Table
	Checkpoints *checkpoint.Manager
	Manifest    *collections.Manifest
	Clock       *hlc.HLC
	Filters     *bloomfilter.Pair
	Failovers   *failover.Table
	Quota       *memory.Quota

	persistenceCheckpointID int64

	hpMu                sync.Mutex
	hpWaiters           []highPriorityWaiter
	chkFlushTimeoutSecs int64

	bgMu     sync.Mutex
	bgFetches map[string]*BGFetchRequest

	statsMu sync.Mutex
	stats   Stats

	pendingOpMu sync.Mutex
	pendingOps  *util.Queue[interface{}]

	EvictionPolicy hashtable.EvictionPolicy
}

// New assembles a VBucket from its component managers, wiring them
// the way the original VBucket constructor wires ht/checkpointManager
// /failovers/collections together at partition-open time.
func New(id int, initialState State, clock *hlc.HLC, quota *memory.Quota, policy hashtable.EvictionPolicy) *VBucket {
	vb := &VBucket{
		ID:                  id,
		state:               initialState,
		HT:                  hashtable.New(),
		Checkpoints:         checkpoint.NewManager(clock, 0),
		Manifest:            nil,
		Clock:               clock,
		Filters:             bloomfilter.NewPair(),
		Failovers:           failover.New(),
		Quota:               quota,
		chkFlushTimeoutSecs: MinCheckpointFlushTimeout,
		bgFetches:           make(map[string]*BGFetchRequest),
		pendingOps:          util.NewQueue[interface{}](16),
		EvictionPolicy:      policy,
	}
	vb.Manifest = collections.New("::", vb.Checkpoints.ReserveSeqno)
	return vb
}

// UpdateManifest applies a new collections manifest revision and queues
// the resulting system events into this partition's checkpoint with a
// system_event op-type and a deleted bit for begin-delete, per
// spec.md §4.E's "system events are queued identically" contract.
func (vb *VBucket) UpdateManifest(revisionJSON []byte) ([]collections.Event, error) {
	events, err := vb.Manifest.Update(revisionJSON)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		item := checkpoint.Item{
			Seqno:   ev.Seqno,
			OpType:  checkpoint.OpSystemEvent,
			Deleted: ev.Type == collections.CollectionBeginDelete,
		}
		if ev.Type != collections.SeparatorChanged {
			item.Key = storedvalue.NewSystemEventKey(ev.ID.Name)
		}
		vb.Checkpoints.QueueDirty(item, false, false)
	}
	return events, nil
}

// SetState transitions the partition, logging old and new state, and
// applying the state-specific side effects spec.md §4.G's state
// machine section names. Returns the (cookie, code) pairs the caller
// must notify, mirroring NotifyOnPersistence/NotifyAllPendingFailed's
// own separation between building the map under the relevant lock and
// dispatching it outside that lock.
func (vb *VBucket) SetState(newState State) map[interface{}]ErrorCode {
	vb.mu.Lock()
	old := vb.state
	vb.state = newState
	vb.mu.Unlock()

	logging.Infof("VBucket %d: transitioning from state:%s to state:%s", vb.ID, old, newState)

	if newState == Active {
		vb.Checkpoints.ResetOpenCheckpointIDForActive()
		return vb.FireAllOps(NotifySuccess)
	}
	if newState == Pending {
		vb.holdPendingOps()
		return nil
	}

	// spec.md §5's cancellation path for a transition to dead/replica:
	// fail every parked high-priority waiter and outstanding background
	// fetch, fire every pending op NOT_MY_VBUCKET, and drop the bloom
	// filters, which otherwise keep answering MaybeExists for a
	// partition this node no longer owns.
	toNotify := vb.NotifyAllPendingFailed()
	for cookie, code := range vb.FireAllOps(NotifyNotMyVBucket) {
		toNotify[cookie] = code
	}
	vb.Filters.Clear()
	return toNotify
}

func (vb *VBucket) holdPendingOps() {
	// pending ops remain parked on vb.pendingOps until the next transition.
}

// AddPendingOp parks cookie while the partition is in state pending,
// per spec.md §4.G.
func (vb *VBucket) AddPendingOp(cookie interface{}) {
	vb.pendingOpMu.Lock()
	defer vb.pendingOpMu.Unlock()
	vb.pendingOps.Add(cookie)
}

func (vb *VBucket) State() State {
	vb.mu.RLock()
	defer vb.mu.RUnlock()
	return vb.state
}

func (vb *VBucket) GetPersistenceCheckpointID() int64 {
	vb.mu.RLock()
	defer vb.mu.RUnlock()
	return vb.persistenceCheckpointID
}

func (vb *VBucket) SetPersistenceCheckpointID(id int64) {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	vb.persistenceCheckpointID = id
}

// QueueDirty queues sv into the checkpoint manager, minting a seqno
// and/or CAS as requested, and stamps the resulting values back onto
// sv. The stamp comes from the Item QueueDirty itself assigned, not a
// second, separately-locked read of the manager's high seqno: under
// concurrent mutation that second read could already be ahead of the
// seqno this particular item was actually queued with.
func (vb *VBucket) QueueDirty(sv *storedvalue.StoredValue, generateBySeqno, generateCas bool) int64 {
	item := checkpoint.Item{
		Key:     sv.Key,
		Seqno:   sv.Seqno(),
		Cas:     sv.CAS(),
		OpType:  checkpoint.OpMutation,
		Deleted: sv.IsDeleted(),
		Value:   sv.Value(),
	}
	queued, _ := vb.Checkpoints.QueueDirty(item, generateBySeqno, generateCas)
	if generateBySeqno {
		sv.SetSeqno(queued.Seqno)
	}
	if generateCas {
		sv.SetCAS(queued.Cas)
	}
	return sv.Seqno()
}

// FetchValidValue implements spec.md §4.G's fetch_valid_value: under
// the hash-table bucket guard, locate key and apply expiry-on-read
// semantics when the partition is active and queueExpired is set.
func (vb *VBucket) FetchValidValue(key storedvalue.Key, wantDeleted, trackRef, queueExpired bool, now uint32) (*storedvalue.StoredValue, bool) {
	guard := vb.HT.LockBucket(key)
	defer guard.Unlock()

	sv, ok := guard.Find(key, wantDeleted)
	if !ok {
		return nil, false
	}
	if trackRef {
		sv.Touch()
	}

	if !sv.IsDeleted() && !sv.IsTempInitial() && sv.IsExpired(now) &&
		vb.State() == Active && queueExpired {
		newCas := uint64(vb.Clock.Next(time.Now()))
		guard.SoftDelete(sv, newCas)
		vb.statsMu.Lock()
		vb.stats.ExpiredAccess++
		vb.statsMu.Unlock()
		vb.QueueDirty(sv, true, false)
	}

	if sv.IsDeleted() && !wantDeleted {
		return nil, false
	}
	return sv, true
}

// QueueBGFetch records an outstanding background fetch for key.
func (vb *VBucket) QueueBGFetch(key storedvalue.Key, req *BGFetchRequest) {
	vb.bgMu.Lock()
	defer vb.bgMu.Unlock()
	vb.bgFetches[key.String()] = req
	vb.statsMu.Lock()
	vb.stats.BgFetches++
	vb.statsMu.Unlock()
}

// DrainBGFetches returns and clears all outstanding background
// fetches, the way notifyAllPendingConnsFailed drains
// pendingBGFetches before failing every waiter.
func (vb *VBucket) DrainBGFetches() map[string]*BGFetchRequest {
	vb.bgMu.Lock()
	defer vb.bgMu.Unlock()
	out := vb.bgFetches
	vb.bgFetches = make(map[string]*BGFetchRequest)
	return out
}

// AddHighPriority registers a waiter for a seqno- or checkpoint-id-
// keyed persistence notification, per spec.md §4.G.
func (vb *VBucket) AddHighPriority(idNum uint64, cookie interface{}, bySeqno bool) {
	vb.hpMu.Lock()
	defer vb.hpMu.Unlock()
	vb.hpWaiters = append(vb.hpWaiters, highPriorityWaiter{cookie: cookie, id: idNum, bySeqno: bySeqno, startTime: time.Now()})
}

// adjustCheckpointFlushTimeout is adjustCheckpointFlushTimeout from
// vbucket.cc: the timeout self-tunes to how long the last waiter
// actually spent parked.
func (vb *VBucket) adjustCheckpointFlushTimeout(spentSecs int64) {
	middle := int64(MinCheckpointFlushTimeout+MaxCheckpointFlushTimeout) / 2
	switch {
	case spentSecs <= MinCheckpointFlushTimeout:
		vb.chkFlushTimeoutSecs = MinCheckpointFlushTimeout
	case spentSecs <= middle:
		vb.chkFlushTimeoutSecs = middle
	default:
		vb.chkFlushTimeoutSecs = MaxCheckpointFlushTimeout
	}
}

func (vb *VBucket) checkpointFlushTimeout() int64 {
	return vb.chkFlushTimeoutSecs
}

// NotifyOnPersistence is notifyOnPersistence from vbucket.cc: every
// waiter matching bySeqno and satisfied by idNum is notified SUCCESS;
// every waiter that has outlived the current flush timeout is
// notified TMPFAIL instead. Returns the (cookie, code) pairs to
// deliver; the caller owns actually notifying them, mirroring the
// original's separation between building toNotify and calling
// notifyIOComplete outside the waiter-list lock.
func (vb *VBucket) NotifyOnPersistence(idNum uint64, bySeqno bool) map[interface{}]ErrorCode {
	vb.hpMu.Lock()
	defer vb.hpMu.Unlock()

	toNotify := make(map[interface{}]ErrorCode)
	remaining := vb.hpWaiters[:0]
	for _, w := range vb.hpWaiters {
		if w.bySeqno != bySeqno {
			remaining = append(remaining, w)
			continue
		}
		spent := int64(time.Since(w.startTime).Seconds())
		switch {
		case w.id <= idNum:
			toNotify[w.cookie] = NotifySuccess
			vb.adjustCheckpointFlushTimeout(spent)
		case spent > vb.checkpointFlushTimeout():
			toNotify[w.cookie] = NotifyTmpfail
			vb.adjustCheckpointFlushTimeout(spent)
			vb.statsMu.Lock()
			vb.stats.BgFetchTimeouts++
			vb.statsMu.Unlock()
		default:
			remaining = append(remaining, w)
		}
	}
	vb.hpWaiters = remaining
	return toNotify
}

// NotifyAllPendingFailed fails every high-priority waiter and every
// outstanding background fetch with TMPFAIL/NOT_MY_VBUCKET, mirroring
// notifyAllPendingConnsFailed. Parked pending ops are not touched;
// FireAllOps drains those.
func (vb *VBucket) NotifyAllPendingFailed() map[interface{}]ErrorCode {
	vb.hpMu.Lock()
	toNotify := make(map[interface{}]ErrorCode, len(vb.hpWaiters))
	for _, w := range vb.hpWaiters {
		toNotify[w.cookie] = NotifyTmpfail
	}
	vb.hpWaiters = nil
	vb.hpMu.Unlock()

	for _, req := range vb.DrainBGFetches() {
		toNotify[req.Cookie] = NotifyNotMyVBucket
	}

	return toNotify
}

// FireAllOps notifies every parked pending op with code, the way
// fireAllOps(engine, code) drains VBucket::pendingOps.
func (vb *VBucket) FireAllOps(code ErrorCode) map[interface{}]ErrorCode {
	vb.pendingOpMu.Lock()
	defer vb.pendingOpMu.Unlock()

	toNotify := make(map[interface{}]ErrorCode, vb.pendingOps.Size())
	for {
		cookie, ok := vb.pendingOps.Remove()
		if !ok {
			break
		}
		toNotify[cookie] = code
	}
	return toNotify
}

// CompleteBGFetchForItem implements spec.md §4.G's
// complete_bg_fetch_for_item: restore the fetched value (or only its
// metadata when metaDataOnly) into the hash table entry, treat a
// missing row as SUCCESS on a meta-only fetch, return TMPFAIL on a
// read error, and otherwise mark the entry non-existent. The outcome
// does not depend on the eviction policy.
func (vb *VBucket) CompleteBGFetchForItem(key storedvalue.Key, fetched FetchResult, metaDataOnly bool) error {
	guard := vb.HT.LockBucket(key)
	defer guard.Unlock()

	sv, ok := guard.Find(key, true)
	if !ok {
		return nil
	}

	if !fetched.Found {
		if metaDataOnly {
			return nil // ENOENT on a meta-only fetch is translated to SUCCESS
		}
		if fetched.ReadErr != nil {
			logging.Errorf("VBucket %d: background fetch failed for key %q: %v", vb.ID, key.String(), fetched.ReadErr)
			return kverrors.NewTmpfail("background fetch failed for key %q", key.String())
		}
		sv.SetNonExistent()
		return nil
	}

	if metaDataOnly {
		sv.SetCAS(fetched.Cas)
		sv.Flags = fetched.Flags
		sv.Expiry = fetched.Expiry
		sv.Datatype = fetched.Datatype
		return nil
	}

	sv.SetValue(fetched.Value)
	sv.SetCAS(fetched.Cas)
	sv.Flags = fetched.Flags
	sv.Expiry = fetched.Expiry
	sv.Datatype = fetched.Datatype
	sv.ClearTempInitial()
	return nil
}

func (vb *VBucket) ResetStats() {
	vb.statsMu.Lock()
	defer vb.statsMu.Unlock()
	vb.stats = Stats{}
}

func (vb *VBucket) AddStats() Stats {
	vb.statsMu.Lock()
	defer vb.statsMu.Unlock()
	return vb.stats
}
