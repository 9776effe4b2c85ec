package hashtable

import (
	"testing"

	"github.com/couchbase/kvengine/storedvalue"
	"github.com/stretchr/testify/assert"
)

func TestInsertThenFind(t *testing.T) {
	tbl := New()
	k := storedvalue.NewDefaultCollectionKey([]byte("k1"))
	sv := storedvalue.New(k, []byte("v1"), 0, 0, storedvalue.DatatypeRaw)

	tbl.Insert(sv)

	got, ok := tbl.Find(k, false, true)
	assert.True(t, ok)
	assert.Equal(t, sv, got)
	assert.Equal(t, int64(1), tbl.Count())
}

func TestFindHidesSoftDeletedUnlessWanted(t *testing.T) {
	tbl := New()
	k := storedvalue.NewDefaultCollectionKey([]byte("k2"))
	sv := storedvalue.New(k, []byte("v"), 0, 0, storedvalue.DatatypeRaw)
	tbl.Insert(sv)

	g := tbl.LockBucket(k)
	found, _ := g.Find(k, false)
	g.SoftDelete(found, 99)
	g.Unlock()

	_, ok := tbl.Find(k, false, false)
	assert.False(t, ok)

	got, ok := tbl.Find(k, true, false)
	assert.True(t, ok)
	assert.True(t, got.IsDeleted())
	assert.Equal(t, uint64(99), got.CAS())
}

func TestEjectValueOnlyKeepsMetadata(t *testing.T) {
	tbl := New()
	k := storedvalue.NewDefaultCollectionKey([]byte("k3"))
	sv := storedvalue.New(k, []byte("value-bytes"), 0, 0, storedvalue.DatatypeRaw)
	tbl.Insert(sv)

	g := tbl.LockBucket(k)
	found, _ := g.Find(k, false)
	g.Eject(found, ValueOnly)
	g.Unlock()

	got, ok := tbl.Find(k, false, false)
	assert.True(t, ok)
	assert.True(t, got.IsNonResident())
	assert.Equal(t, int64(1), tbl.Count())
	assert.Equal(t, int64(1), tbl.NumNonResidentItems())
}

func TestEjectFullEvictionRemovesEntry(t *testing.T) {
	tbl := New()
	k := storedvalue.NewDefaultCollectionKey([]byte("k4"))
	sv := storedvalue.New(k, []byte("value-bytes"), 0, 0, storedvalue.DatatypeRaw)
	tbl.Insert(sv)

	g := tbl.LockBucket(k)
	found, _ := g.Find(k, false)
	g.Eject(found, FullEviction)
	g.Unlock()

	_, ok := tbl.Find(k, true, false)
	assert.False(t, ok)
	assert.Equal(t, int64(0), tbl.Count())
}

func TestForEachVisitsAllInsertedItems(t *testing.T) {
	tbl := New()
	for i := 0; i < 50; i++ {
		k := storedvalue.NewDefaultCollectionKey([]byte{byte(i)})
		tbl.Insert(storedvalue.New(k, []byte("v"), 0, 0, storedvalue.DatatypeRaw))
	}

	seen := 0
	tbl.ForEach(func(*storedvalue.StoredValue) { seen++ })
	assert.Equal(t, 50, seen)
}
