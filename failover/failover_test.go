package failover

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHasGenesisEntry(t *testing.T) {
	tbl := New()
	entries := tbl.Entries()
	assert.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].Seqno)
}

func TestCreateEntryPreservesPriorEntries(t *testing.T) {
	tbl := NewWithUUID(42)
	first := tbl.Entries()[0]

	second := tbl.CreateEntry(100)
	entries := tbl.Entries()

	assert.Len(t, entries, 2)
	assert.Equal(t, first, entries[0])
	assert.Equal(t, second, entries[1])
	assert.Equal(t, second.UUID, tbl.LatestUUID())
}
