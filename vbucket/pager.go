package vbucket

import (
	"time"

	"github.com/couchbase/kvengine/hashtable"
	"github.com/couchbase/kvengine/storedvalue"
)

// RunExpiryPager sweeps every resident item and soft-deletes whatever
// has passed its expiry, queuing the resulting tombstone the same way
// a read-triggered expiry does in FetchValidValue. Grounded on
// _examples/original_source/engines/ep/tests/module_tests/item_pager_test.cc's
// populateUntilTmpFail/expiry interaction: expiry is driven by
// ep_abs_time wall-clock comparison, not by a background timer this
// port would need to simulate.
func (vb *VBucket) RunExpiryPager(now uint32) (expired int) {
	if vb.State() != Active {
		return 0
	}

	var toQueue []*storedvalue.StoredValue
	vb.HT.ForEachGuarded(func(guard *hashtable.BucketGuard, sv *storedvalue.StoredValue) {
		if sv.IsDeleted() || sv.IsTempInitial() || !sv.IsExpired(now) {
			return
		}
		newCas := uint64(vb.Clock.Next(time.Now()))
		guard.SoftDelete(sv, newCas)
		toQueue = append(toQueue, sv)
	})

	for _, sv := range toQueue {
		vb.statsMu.Lock()
		vb.stats.ExpiredAccess++
		vb.statsMu.Unlock()
		vb.QueueDirty(sv, true, false)
		expired++
	}
	return expired
}

type pagerCandidate struct {
	sv  *storedvalue.StoredValue
	nru uint32
}

// RunItemPager ejects resident values from this partition
// until the bucket's quota falls below its low watermark, skipping
// non-active partitions entirely (S6: replica items are never paged),
// the way the original's item pager only visits vbuckets the
// ItemPagingVisitor is allowed to touch.
//
// Candidates are chosen oldest-NRU-first: the highest NRU value is the
// least recently used. Every resident item this pass doesn't evict has
// its NRU aged by one, the way the original item pager raises the
// eviction candidacy of whatever it leaves behind on each sweep, so a
// second low-watermark breach without an intervening read finds more
// to eject sooner.
func (vb *VBucket) RunItemPager() (ejected int) {
	if vb.State() != Active {
		return 0
	}
	if vb.Quota.BelowLowWatermark() {
		return 0
	}

	var candidates []pagerCandidate
	vb.HT.ForEach(func(sv *storedvalue.StoredValue) {
		if sv.IsDeleted() || sv.IsTempInitial() || !sv.IsResident() {
			return
		}
		candidates = append(candidates, pagerCandidate{sv: sv, nru: sv.NRU()})
	})

	sortByNRUDescending(candidates)

	i := 0
	for ; i < len(candidates) && !vb.Quota.BelowLowWatermark(); i++ {
		c := candidates[i]
		guard := vb.HT.LockBucket(c.sv.Key)
		if sv, ok := guard.Find(c.sv.Key, false); ok && sv.IsResident() {
			size := uint64(len(sv.Value()))
			guard.Eject(sv, vb.EvictionPolicy)
			vb.Quota.Release(size)
			ejected++
		} else {
			c.sv.AgeNRU()
		}
		guard.Unlock()
	}
	for ; i < len(candidates); i++ {
		candidates[i].sv.AgeNRU()
	}
	return ejected
}

func sortByNRUDescending(c []pagerCandidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j-1].nru < c[j].nru; j-- {
			c[j-1], c[j] = c[j], c[j-1]
		}
	}
}
