package vbucket

import (
	"testing"

	"github.com/couchbase/kvengine/hashtable"
	"github.com/couchbase/kvengine/hlc"
	"github.com/couchbase/kvengine/memory"
	"github.com/couchbase/kvengine/storedvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS5ExpiryPager reproduces spec.md §8's S5: of three keys
// with staggered TTLs, each pager run only reaps the one that has
// actually crossed its expiry at the simulated "now".
func TestScenarioS5ExpiryPager(t *testing.T) {
	vb := newTestVBucket(Active)
	put := func(name string, ttl uint32) {
		k := storedvalue.NewDefaultCollectionKey([]byte(name))
		vb.HT.Insert(storedvalue.New(k, []byte("v"), 0, ttl, storedvalue.DatatypeRaw))
	}
	put("key_0", 0)
	put("key_1", 10)
	put("key_2", 20)

	n := vb.RunExpiryPager(11)
	assert.Equal(t, 1, n)
	assertDeleted(t, vb, "key_1", true)
	assertDeleted(t, vb, "key_0", false)
	assertDeleted(t, vb, "key_2", false)

	n = vb.RunExpiryPager(21)
	assert.Equal(t, 1, n)
	assertDeleted(t, vb, "key_2", true)
	assertDeleted(t, vb, "key_0", false)
}

func assertDeleted(t *testing.T, vb *VBucket, name string, wantDeleted bool) {
	k := storedvalue.NewDefaultCollectionKey([]byte(name))
	sv, ok := vb.HT.Find(k, true, false)
	require.True(t, ok)
	assert.Equal(t, wantDeleted, sv.IsDeleted())
}

// TestScenarioS6ReplicaItemsAreNotPaged reproduces spec.md §8's S6:
// demoting a partition to replica takes it out of the item pager's
// reach even though it is still over the low watermark.
func TestScenarioS6ReplicaItemsAreNotPaged(t *testing.T) {
	// Active holds enough to page well past the low watermark on its
	// own (8 items, 4000 bytes); replica holds 2000 bytes that must
	// stay resident no matter how far under water the shared quota
	// goes, since RunItemPager only ever touches an Active partition.
	quota := memory.NewQuota(10000, 2800, 5000)
	clock := hlc.New(0, 5_000_000, 5_000_000)

	active := New(0, Active, clock, quota, hashtable.ValueOnly)
	replica := New(1, Active, clock, quota, hashtable.ValueOnly)

	fill := func(vb *VBucket, n int) {
		for i := 0; i < n; i++ {
			k := storedvalue.NewDefaultCollectionKey([]byte{byte(vb.ID), byte(i), byte(i >> 8)})
			sv := storedvalue.New(k, make([]byte, 500), 0, 0, storedvalue.DatatypeRaw)
			vb.HT.Insert(sv)
			require.NoError(t, quota.Allocate(500))
		}
	}

	fill(active, 8)
	fill(replica, 4)
	replica.SetState(Replica)

	beforeReplicaCount := replica.HT.Count()
	active.RunItemPager()
	replica.RunItemPager()

	assert.Equal(t, beforeReplicaCount, replica.HT.Count())
	assert.True(t, quota.BelowLowWatermark())
	assert.GreaterOrEqual(t, quota.Used(), uint64(2000))
}

// TestScenarioS7AddCasEexistsRoundTrip reproduces spec.md §8's S7: it
// now lives in command_test.go, driven through MutationCommandContext
// itself rather than a standalone reimplementation of storeItem's
// set/add/CAS branches against the hash table directly.
