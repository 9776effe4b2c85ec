package vbucket

import (
	"testing"
	"time"

	"github.com/couchbase/kvengine/bloomfilter"
	"github.com/couchbase/kvengine/hashtable"
	"github.com/couchbase/kvengine/hlc"
	"github.com/couchbase/kvengine/memory"
	"github.com/couchbase/kvengine/storedvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVBucket(state State) *VBucket {
	clock := hlc.New(0, 5000000, 5000000)
	quota := memory.NewQuota(1<<20, 1<<18, 1<<19)
	return New(1, state, clock, quota, hashtable.ValueOnly)
}

func TestSetStateToActiveForcesOpenCheckpointIDToAtLeast2(t *testing.T) {
	vb := newTestVBucket(Pending)
	vb.Checkpoints.SetOpenCheckpointID(1)
	vb.SetState(Active)
	assert.Equal(t, int64(2), vb.Checkpoints.GetOpenCheckpointID())
	assert.Equal(t, Active, vb.State())
}

func TestSetStateToDeadCancelsPendingOpsBGFetchesAndFilters(t *testing.T) {
	vb := newTestVBucket(Active)
	vb.Filters.Create(1000, 0.01)
	vb.Filters.Add([]byte("k"))
	require.True(t, vb.Filters.MaybeExists([]byte("k")))

	vb.AddHighPriority(5, "cookie-hp", true)
	vb.QueueBGFetch(storedvalue.NewDefaultCollectionKey([]byte("k")), &BGFetchRequest{Cookie: "cookie-bg", QueuedAt: time.Now()})
	vb.AddPendingOp("cookie-op")

	result := vb.SetState(Dead)

	assert.Equal(t, NotifyTmpfail, result["cookie-hp"])
	assert.Equal(t, NotifyNotMyVBucket, result["cookie-bg"])
	assert.Equal(t, NotifyNotMyVBucket, result["cookie-op"])
	assert.Empty(t, vb.DrainBGFetches())
	assert.Equal(t, bloomfilter.Disabled, vb.Filters.MainState())
}

func TestFetchValidValueReturnsInsertedItem(t *testing.T) {
	vb := newTestVBucket(Active)
	k := storedvalue.NewDefaultCollectionKey([]byte("x"))
	sv := storedvalue.New(k, []byte("v"), 0, 0, storedvalue.DatatypeRaw)
	vb.HT.Insert(sv)

	got, ok := vb.FetchValidValue(k, false, true, true, 1000)
	require.True(t, ok)
	assert.Equal(t, sv, got)
}

func TestFetchValidValueExpiresAndQueuesDeletionWhenActive(t *testing.T) {
	vb := newTestVBucket(Active)
	k := storedvalue.NewDefaultCollectionKey([]byte("x"))
	sv := storedvalue.New(k, []byte("v"), 0, 500, storedvalue.DatatypeRaw)
	vb.HT.Insert(sv)

	_, ok := vb.FetchValidValue(k, false, true, true, 1000)
	assert.False(t, ok)
	assert.True(t, sv.IsDeleted())
	assert.Equal(t, int64(1), vb.AddStats().ExpiredAccess)
}

func TestNotifyOnPersistenceNotifiesSatisfiedWaiter(t *testing.T) {
	vb := newTestVBucket(Active)
	vb.AddHighPriority(5, "cookie-a", true)
	vb.AddHighPriority(10, "cookie-b", true)

	result := vb.NotifyOnPersistence(7, true)
	assert.Equal(t, NotifySuccess, result["cookie-a"])
	_, stillWaiting := result["cookie-b"]
	assert.False(t, stillWaiting)
}

func TestNotifyAllPendingFailedDrainsWaitersAndBGFetches(t *testing.T) {
	vb := newTestVBucket(Active)
	vb.AddHighPriority(5, "cookie-a", true)
	vb.QueueBGFetch(storedvalue.NewDefaultCollectionKey([]byte("k")), &BGFetchRequest{Cookie: "cookie-bg", QueuedAt: time.Now()})

	result := vb.NotifyAllPendingFailed()
	assert.Equal(t, NotifyTmpfail, result["cookie-a"])
	assert.Equal(t, NotifyNotMyVBucket, result["cookie-bg"])
	assert.Empty(t, vb.DrainBGFetches())
}

func TestUpdateManifestQueuesSystemEventIntoCheckpoint(t *testing.T) {
	vb := newTestVBucket(Active)

	events, err := vb.UpdateManifest([]byte(`{"separator":"::","collections":[{"name":"$default","uid":"0"},{"name":"widgets","uid":"1"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	items := vb.Checkpoints.GetItemsForCursor("dcp:replica1")
	require.Len(t, items, 1)
	assert.Equal(t, events[0].Seqno, items[0].Seqno)
	assert.False(t, items[0].Deleted)

	events, err = vb.UpdateManifest([]byte(`{"separator":"::","collections":[{"name":"$default","uid":"0"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	items = vb.Checkpoints.GetItemsForCursor("dcp:replica1")
	require.Len(t, items, 1)
	assert.Equal(t, events[0].Seqno, items[0].Seqno)
	assert.True(t, items[0].Deleted)

	assert.Greater(t, vb.Checkpoints.HighSeqno(), int64(0))
}

func TestResetStatsClearsCounters(t *testing.T) {
	vb := newTestVBucket(Active)
	k := storedvalue.NewDefaultCollectionKey([]byte("x"))
	sv := storedvalue.New(k, []byte("v"), 0, 500, storedvalue.DatatypeRaw)
	vb.HT.Insert(sv)
	vb.FetchValidValue(k, false, true, true, 1000)
	require.Equal(t, int64(1), vb.AddStats().ExpiredAccess)

	vb.ResetStats()
	assert.Equal(t, int64(0), vb.AddStats().ExpiredAccess)
}

func TestPersistenceCheckpointIDRoundTrips(t *testing.T) {
	vb := newTestVBucket(Active)
	assert.Equal(t, int64(0), vb.GetPersistenceCheckpointID())

	vb.SetPersistenceCheckpointID(7)
	assert.Equal(t, int64(7), vb.GetPersistenceCheckpointID())

	vb.AddHighPriority(7, "cookie-ckpt", false)
	result := vb.NotifyOnPersistence(uint64(vb.GetPersistenceCheckpointID()), false)
	assert.Equal(t, NotifySuccess, result["cookie-ckpt"])
}

func TestCompleteBGFetchForItemRestoresValue(t *testing.T) {
	vb := newTestVBucket(Active)
	k := storedvalue.NewDefaultCollectionKey([]byte("x"))
	sv := storedvalue.NewTempInitial(k)
	vb.HT.Insert(sv)

	err := vb.CompleteBGFetchForItem(k, FetchResult{Found: true, Value: []byte("fetched"), Cas: 42}, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("fetched"), sv.Value())
	assert.Equal(t, uint64(42), sv.CAS())
	assert.False(t, sv.IsTempInitial())
}

func TestCompleteBGFetchForItemMarksNonExistentOnMiss(t *testing.T) {
	vb := newTestVBucket(Active)
	k := storedvalue.NewDefaultCollectionKey([]byte("x"))
	sv := storedvalue.NewTempInitial(k)
	vb.HT.Insert(sv)

	err := vb.CompleteBGFetchForItem(k, FetchResult{Found: false}, false)
	require.NoError(t, err)
	assert.True(t, sv.IsDeleted())
}
