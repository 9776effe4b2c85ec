package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManifest() *Manifest {
	seq := int64(0)
	return New("::", func() int64 {
		seq++
		return seq
	})
}

func TestInitialManifestHasOnlyDefaultOpen(t *testing.T) {
	m := newTestManifest()
	assert.Equal(t, 1, m.Size())
	assert.Equal(t, ExclusiveOpen, m.State(DefaultCollectionName))
	assert.Equal(t, CollectionOpenSentinel, m.GreatestEndSeqno())
}

func TestAddCollectionEmitsCreateAndBecomesVisible(t *testing.T) {
	m := newTestManifest()
	events, err := m.Update([]byte(`{"separator":"::","collections":[{"name":"$default","uid":"0"},{"name":"vegetable","uid":"1"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, CollectionCreate, events[0].Type)
	assert.Equal(t, int64(1), events[0].Seqno)

	assert.Equal(t, 2, m.Size())
	assert.Equal(t, ExclusiveOpen, m.State("vegetable"))
	assert.True(t, m.IsVisible("vegetable", 1))
	assert.False(t, m.IsVisible("vegetable", 0))
}

func TestBeginDeleteThenOpenAndDeletingThenCompleteDeletion(t *testing.T) {
	m := newTestManifest()
	_, err := m.Update([]byte(`{"separator":"::","collections":[{"name":"$default","uid":"0"},{"name":"vegetable","uid":"1"}]}`))
	require.NoError(t, err)

	events, err := m.Update([]byte(`{"separator":"::","collections":[{"name":"$default","uid":"0"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, CollectionBeginDelete, events[0].Type)
	assert.Equal(t, ExclusiveDeleting, m.State("vegetable"))
	assert.Equal(t, 2, m.Size())

	events, err = m.Update([]byte(`{"separator":"::","collections":[{"name":"$default","uid":"0"},{"name":"vegetable","uid":"1"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, CollectionCreate, events[0].Type)
	assert.Equal(t, OpenAndDeleting, m.State("vegetable"))

	evt, ok := m.CompleteDeletion("vegetable")
	require.True(t, ok)
	assert.Equal(t, CollectionDeleteSoft, evt.Type)
	assert.Equal(t, ExclusiveOpen, m.State("vegetable"))
	assert.Equal(t, 2, m.Size())
}

func TestRemovingAllCollectionsEntersDeletingAndHidesLookups(t *testing.T) {
	m := newTestManifest()
	_, err := m.Update([]byte(`{"separator":"::","collections":[
		{"name":"$default","uid":"0"},
		{"name":"vegetable","uid":"1"},
		{"name":"fruit","uid":"2"},
		{"name":"meat","uid":"3"},
		{"name":"dairy","uid":"4"}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, 5, m.Size())

	events, err := m.Update([]byte(`{"separator":"::","collections":[]}`))
	require.NoError(t, err)
	assert.Len(t, events, 5)
	assert.Equal(t, 5, m.Size())

	for _, name := range []string{"vegetable", "fruit", "meat", "dairy"} {
		assert.Equal(t, ExclusiveDeleting, m.State(name))
		assert.False(t, m.IsVisible(name, 100))
	}
}

func TestSeparatorChangeRejectedWhenNonDefaultCollectionTracked(t *testing.T) {
	m := newTestManifest()
	_, err := m.Update([]byte(`{"separator":"::","collections":[{"name":"$default","uid":"0"},{"name":"vegetable","uid":"1"}]}`))
	require.NoError(t, err)

	before, _ := m.MarshalJSON()
	_, err = m.Update([]byte(`{"separator":"##","collections":[{"name":"$default","uid":"0"},{"name":"vegetable","uid":"1"}]}`))
	require.Error(t, err)

	after, _ := m.MarshalJSON()
	assert.JSONEq(t, string(before), string(after))
}

func TestReapplyingSameRevisionIsNoOp(t *testing.T) {
	m := newTestManifest()
	revision := []byte(`{"separator":"::","collections":[{"name":"$default","uid":"0"},{"name":"vegetable","uid":"1"}]}`)

	events, err := m.Update(revision)
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = m.Update(revision)
	require.NoError(t, err)
	assert.Empty(t, events)
}
