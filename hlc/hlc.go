// Package hlc implements the per-VBucket Hybrid Logical Clock described
// in spec.md §4.A: a monotonic minter of CAS/timestamp values bounded by
// a configurable drift window against physical time, grounded on
// _examples/original_source/src/vbucket.cc's hlc construction
// (maxCas, driftAheadThresholdUs, driftBehindThresholdUs) and
// ep_types.h's HlcCasSeqnoUninitialised sentinel.
//
// There is no ecosystem library for this specific drift-bounded clock;
// it is the spec's own core algorithm, so it is implemented directly on
// sync/atomic rather than reached for from a library (see DESIGN.md).
package hlc

import (
	"sync/atomic"
	"time"
)

// Uninitialised mirrors ep_types.h's HlcCasSeqnoUninitialised: the
// initial CAS passed for a VBucket before any data is stored. New starts
// maxSeenCas at 0 when given it (or any negative value).
const Uninitialised int64 = -1

// logicalBits is the number of low bits reserved for the logical counter
// when a candidate CAS collides with the current physical time; this
// keeps next() monotonic even when called faster than the clock ticks.
const logicalBits = 16

// HLC mints CAS-comparable 64-bit values that are monotonic within a
// VBucket and track physical time within a bounded drift window. All
// operations are lock-free.
type HLC struct {
	maxSeenCas    int64 // atomic
	driftAheadUs  int64
	driftBehindUs int64
	driftAheadExceeded  int64 // atomic counter
	driftBehindExceeded int64 // atomic counter
}

func New(initialCas int64, driftAheadThresholdUs, driftBehindThresholdUs int64) *HLC {
	if initialCas < 0 {
		initialCas = 0
	}
	return &HLC{
		maxSeenCas:    initialCas,
		driftAheadUs:  driftAheadThresholdUs,
		driftBehindUs: driftBehindThresholdUs,
	}
}

func logical(physicalNow time.Time) int64 {
	return physicalNow.UnixNano() &^ ((1 << logicalBits) - 1)
}

// Next mints a new CAS. The candidate is the larger of "one past the
// last CAS we minted" and "physical now with its logical bits cleared";
// if the candidate runs ahead of physical time by more than the ahead
// threshold, the ahead-drift counter is incremented (and symmetrically
// for Observe running behind).
func (h *HLC) Next(physicalNow time.Time) int64 {
	nowLogical := logical(physicalNow)
	for {
		prev := atomic.LoadInt64(&h.maxSeenCas)
		candidate := prev + 1
		if nowLogical > candidate {
			candidate = nowLogical
		}
		if candidate-nowLogical > h.driftAheadUs*1000 {
			atomic.AddInt64(&h.driftAheadExceeded, 1)
		}
		if atomic.CompareAndSwapInt64(&h.maxSeenCas, prev, candidate) {
			return candidate
		}
	}
}

// Observe folds an externally-minted CAS (e.g. from a replica stream)
// into maxSeenCas, tracking behind-drift the way the active partition's
// HLC does for a CAS minted on another node.
func (h *HLC) Observe(cas int64, physicalNow time.Time) {
	nowLogical := logical(physicalNow)
	if nowLogical-cas > h.driftBehindUs*1000 {
		atomic.AddInt64(&h.driftBehindExceeded, 1)
	}
	for {
		prev := atomic.LoadInt64(&h.maxSeenCas)
		if cas <= prev {
			return
		}
		if atomic.CompareAndSwapInt64(&h.maxSeenCas, prev, cas) {
			return
		}
	}
}

func (h *HLC) MaxSeenCas() int64 {
	return atomic.LoadInt64(&h.maxSeenCas)
}

func (h *HLC) DriftAheadExceeded() int64 {
	return atomic.LoadInt64(&h.driftAheadExceeded)
}

func (h *HLC) DriftBehindExceeded() int64 {
	return atomic.LoadInt64(&h.driftBehindExceeded)
}
