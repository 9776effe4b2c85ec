package checkpoint

import (
	"testing"

	"github.com/couchbase/kvengine/hlc"
	"github.com/couchbase/kvengine/storedvalue"
	"github.com/stretchr/testify/assert"
)

func newTestManager() *Manager {
	clock := hlc.New(0, 5000000, 5000000)
	return NewManager(clock, 0)
}

func keyItem(k string) Item {
	return Item{Key: storedvalue.NewDefaultCollectionKey([]byte(k))}
}

func TestQueueDirtyAssignsIncreasingSeqnos(t *testing.T) {
	m := newTestManager()
	queued1, woke1 := m.QueueDirty(keyItem("a"), true, false)
	queued2, woke2 := m.QueueDirty(keyItem("b"), true, false)

	assert.True(t, woke1)
	assert.False(t, woke2)
	assert.Equal(t, int64(1), queued1.Seqno)
	assert.Equal(t, int64(2), queued2.Seqno)

	items := m.GetItemsForCursor("persistence")
	assert.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].Seqno)
	assert.Equal(t, int64(2), items[1].Seqno)
}

func TestQueueDirtyDedupsWithinOpenCheckpoint(t *testing.T) {
	m := newTestManager()
	m.QueueDirty(keyItem("a"), true, false)
	m.QueueDirty(keyItem("a"), true, false)

	items := m.GetItemsForCursor("persistence")
	assert.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].Seqno)
}

func TestQueueDirtyDoesNotDedupPastCursor(t *testing.T) {
	m := newTestManager()
	m.QueueDirty(keyItem("a"), true, false)
	m.RegisterCursor("dcp")
	_ = m.GetItemsForCursor("dcp") // cursor now past position 0

	m.QueueDirty(keyItem("a"), true, false)

	items := m.GetItemsForCursor("persistence")
	assert.Len(t, items, 2)
}

func TestQueueDirtyGeneratesCasOntoReturnedItem(t *testing.T) {
	m := newTestManager()
	queued, _ := m.QueueDirty(keyItem("a"), true, true)
	assert.NotZero(t, queued.Cas)

	items := m.GetItemsForCursor("persistence")
	assert.Equal(t, queued.Cas, items[0].Cas)
}

func TestCreateNewCheckpointClosesPriorAndCursorCrosses(t *testing.T) {
	m := newTestManager()
	m.QueueDirty(keyItem("a"), true, false)
	m.CreateNewCheckpoint()
	m.QueueDirty(keyItem("b"), true, false)

	items := m.GetItemsForCursor("dcp")
	assert.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key.String())
	assert.Equal(t, "b", items[1].Key.String())
}

func TestUpdateCurrentSnapshotEndIsNonDecreasing(t *testing.T) {
	m := newTestManager()
	m.UpdateCurrentSnapshotEnd(10)
	m.UpdateCurrentSnapshotEnd(5)
	_, end := m.SnapshotRange()
	assert.Equal(t, int64(10), end)
}

func TestResetOpenCheckpointIDForActiveForcesHistoryReset(t *testing.T) {
	m := newTestManager()
	m.SetOpenCheckpointID(1)
	m.ResetOpenCheckpointIDForActive()
	assert.Equal(t, int64(HistoryResetCheckpointID), m.GetOpenCheckpointID())
}

func TestResetOpenCheckpointIDForActiveLeavesHigherIDAlone(t *testing.T) {
	m := newTestManager()
	m.SetOpenCheckpointID(5)
	m.ResetOpenCheckpointIDForActive()
	assert.Equal(t, int64(5), m.GetOpenCheckpointID())
}
