package vbucket

import (
	"fmt"
	"sync"

	kverrors "github.com/couchbase/kvengine/errors"
	"github.com/couchbase/kvengine/hashtable"
	"github.com/couchbase/kvengine/hlc"
	"github.com/couchbase/kvengine/memory"
)

// Registry is the bucket-wide owner of every partition, per spec.md
// §3's Ownership paragraph: "The bucket registry exclusively owns
// each VBucket." It is the process-level object a command worker
// looks a partition up through before running a validator/context
// pair against it.
type Registry struct {
	mu       sync.RWMutex
	vbuckets map[int]*VBucket
	quota    *memory.Quota
	policy   hashtable.EvictionPolicy
}

func NewRegistry(quota *memory.Quota, policy hashtable.EvictionPolicy) *Registry {
	return &Registry{vbuckets: make(map[int]*VBucket), quota: quota, policy: policy}
}

// Open creates (or replaces) partition id in the given initial state,
// each with its own HLC instance so drift bounds apply per-partition.
func (r *Registry) Open(id int, initialState State, driftAheadUs, driftBehindUs int64) *VBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	clock := hlc.New(0, driftAheadUs, driftBehindUs)
	vb := New(id, initialState, clock, r.quota, r.policy)
	r.vbuckets[id] = vb
	return vb
}

// Get looks up a partition, returning NotMyVBucket when it is unknown
// to this node, mirroring every command context's first lookup step.
func (r *Registry) Get(id int) (*VBucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vb, ok := r.vbuckets[id]
	if !ok {
		return nil, kverrors.NewNotMyVBucket("vbucket %d not resident on this node", id)
	}
	return vb, nil
}

func (r *Registry) Close(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.vbuckets, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vbuckets)
}

// ForEach calls fn for every resident partition, in id order, for
// periodic housekeeping (stats reporting, expiry pager ticks).
func (r *Registry) ForEach(fn func(*VBucket)) {
	r.mu.RLock()
	ids := make([]int, 0, len(r.vbuckets))
	for id := range r.vbuckets {
		ids = append(ids, id)
	}
	vbs := r.vbuckets
	r.mu.RUnlock()

	for _, id := range sortedInts(ids) {
		fn(vbs[id])
	}
}

func sortedInts(ids []int) []int {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry{partitions=%d}", r.Len())
}
