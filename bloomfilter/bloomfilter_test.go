package bloomfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledNeverBlocksLookup(t *testing.T) {
	p := NewPair()
	assert.True(t, p.MaybeExists([]byte("anything")))
}

func TestNoFalseNegatives(t *testing.T) {
	p := NewPair()
	p.Create(1000, 0.01)
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, k := range keys {
		p.Add(k)
	}
	for _, k := range keys {
		assert.True(t, p.MaybeExists(k))
	}
}

func TestSwapPromotesCompactingTemp(t *testing.T) {
	p := NewPair()
	p.Create(10, 0.01)
	p.Add([]byte("old"))

	p.InitTemp(10, 0.01)
	p.Add([]byte("new")) // goes to both main and temp

	p.Swap()

	assert.True(t, p.MaybeExists([]byte("new")))
	assert.False(t, p.TempActive())
	assert.Equal(t, Enabled, p.MainState())
}

func TestSwapDiscardsDisabledTemp(t *testing.T) {
	p := NewPair()
	p.Create(10, 0.01)
	p.Add([]byte("kept"))

	// no InitTemp: temp is nil, so Swap must leave main untouched
	p.Swap()

	assert.True(t, p.MaybeExists([]byte("kept")))
}

func TestClearDisablesFilter(t *testing.T) {
	p := NewPair()
	p.Create(10, 0.01)
	p.Add([]byte("k"))
	p.Clear()
	assert.Equal(t, Disabled, p.MainState())
	assert.True(t, p.MaybeExists([]byte("k"))) // disabled answers true
}
