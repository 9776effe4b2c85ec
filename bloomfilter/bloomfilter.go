// Package bloomfilter implements the main/temp bloom filter pair from
// spec.md §4.B: a probabilistic "key may exist" hint that never produces
// a false negative, with a live swap protocol so compaction can populate
// a temp filter and cut main over atomically.
//
// The underlying bitset math is github.com/bits-and-blooms/bloom/v3,
// whose bitset dependency already appears in the teacher's go.mod
// (pulled in transitively by blevesearch); the two-filter swap state
// machine itself is original to this package (see DESIGN.md).
package bloomfilter

import (
	"sync"

	bloom "github.com/bits-and-blooms/bloom/v3"
)

type State int

const (
	Disabled State = iota
	Enabled
	Compacting
)

// filter wraps a single bloom.BloomFilter with its lifecycle state. A
// disabled filter always answers true to Test, so it never blocks a
// lookup (spec.md §4.B).
type filter struct {
	bf    *bloom.BloomFilter
	state State
}

func (f *filter) test(key []byte) bool {
	if f == nil || f.state == Disabled {
		return true
	}
	return f.bf.Test(key)
}

func (f *filter) add(key []byte) {
	if f == nil {
		return
	}
	f.bf.Add(key)
}

// Pair holds the main filter that answers MaybeExists and, during
// compaction, a temp filter being populated in parallel. A single mutex
// protects both, per spec.md §5's "short critical sections" guidance.
type Pair struct {
	mu   sync.Mutex
	main *filter
	temp *filter
}

func NewPair() *Pair {
	return &Pair{}
}

// Create installs a fresh, enabled main filter sized for keyCount keys at
// the given false-positive probability, discarding whatever main filter
// existed before.
func (p *Pair) Create(keyCount uint, falsePositiveProb float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.main = &filter{bf: bloom.NewWithEstimates(keyCount, falsePositiveProb), state: Enabled}
}

// InitTemp creates the temp filter used during compaction; both main and
// temp receive every key insertion from this point until Swap or
// discarding the temp filter.
func (p *Pair) InitTemp(keyCount uint, falsePositiveProb float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.temp = &filter{bf: bloom.NewWithEstimates(keyCount, falsePositiveProb), state: Compacting}
}

// Add inserts key into main (if present) and, if a compaction is in
// progress, into temp as well.
func (p *Pair) Add(key []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.main.add(key)
	p.temp.add(key)
}

// MaybeExists answers spec.md's invariant 7: false for a key only if it
// was never added and not yet cleared. A disabled or absent main filter
// never blocks a lookup.
func (p *Pair) MaybeExists(key []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.main.test(key)
}

// Swap atomically replaces main with temp iff temp is Compacting or
// Enabled; otherwise temp is discarded. Either way, temp is cleared
// afterward.
func (p *Pair) Swap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.temp != nil && (p.temp.state == Compacting || p.temp.state == Enabled) {
		p.temp.state = Enabled
		p.main = p.temp
	}
	p.temp = nil
}

// Clear discards both filters; a cleared Pair answers MaybeExists with
// true for every key (no main filter means "disabled" per filter.test).
func (p *Pair) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.main = nil
	p.temp = nil
}

func (p *Pair) MainState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.main == nil {
		return Disabled
	}
	return p.main.state
}

func (p *Pair) TempActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.temp != nil
}
