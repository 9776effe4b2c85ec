package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchbase/kvengine/config"
	"github.com/couchbase/kvengine/hashtable"
	"github.com/couchbase/kvengine/logging"
	"github.com/couchbase/kvengine/memory"
	"github.com/couchbase/kvengine/vbucket"
)

var (
	maxVBuckets  = flag.Uint("max-vbuckets", uint(config.Default().MaxVBuckets), "number of partitions this node is willing to host")
	htSize       = flag.Int("ht-size", config.Default().HTSize, "hash table bucket count hint")
	maxSize      = flag.Uint64("max-size", config.Default().MaxSize, "bucket memory quota in bytes; 0 means unlimited")
	memLowWat    = flag.Uint64("mem-low-wat", config.Default().MemLowWat, "low watermark in bytes")
	memHighWat   = flag.Uint64("mem-high-wat", config.Default().MemHighWat, "high watermark in bytes")
	driftAheadUs = flag.Int64("hlc-drift-ahead-threshold-us", config.Default().HLCDriftAheadThresholdUs, "HLC ahead-drift threshold, microseconds")
	driftBehindUs = flag.Int64("hlc-drift-behind-threshold-us", config.Default().HLCDriftBehindThresholdUs, "HLC behind-drift threshold, microseconds")
	fullEviction = flag.Bool("full-eviction", false, "use FULL_EVICTION instead of VALUE_ONLY eviction policy")
	logLevel     = flag.String("log-level", "info", "none|fatal|error|warn|info|debug")
	statsEvery   = flag.Duration("stats-interval", 30*time.Second, "interval between partition stats log lines; 0 disables")
)

func main() {
	flag.Parse()

	if level, ok := logging.ParseLevel(*logLevel); ok {
		logging.SetLevel(level)
	} else {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.MaxVBuckets = uint16(*maxVBuckets)
	cfg.HTSize = *htSize
	cfg.MaxSize = *maxSize
	cfg.MemLowWat = *memLowWat
	cfg.MemHighWat = *memHighWat
	cfg.HLCDriftAheadThresholdUs = *driftAheadUs
	cfg.HLCDriftBehindThresholdUs = *driftBehindUs

	if err := cfg.Validate(); err != nil {
		logging.Fatalf("invalid configuration: %v", err)
		os.Exit(1)
	}

	policy := hashtable.ValueOnly
	if *fullEviction {
		policy = hashtable.FullEviction
	}

	quota := memory.NewQuota(cfg.MaxSize, cfg.MemLowWat, cfg.MemHighWat)
	registry := vbucket.NewRegistry(quota, policy)

	for id := 0; id < int(cfg.MaxVBuckets); id++ {
		registry.Open(id, vbucket.Dead, cfg.HLCDriftAheadThresholdUs, cfg.HLCDriftBehindThresholdUs)
	}

	logging.Infof("kvengine core started: %d partitions, eviction=%v, quota=%d, log-level=%s", registry.Len(), policy, cfg.MaxSize, logging.LogLevel())

	var statsTicker *time.Ticker
	var statsDone chan struct{}
	if *statsEvery > 0 {
		statsTicker = time.NewTicker(*statsEvery)
		statsDone = make(chan struct{})
		go reportStats(registry, statsTicker, statsDone)
	}

	awaitShutdown(registry)

	if statsTicker != nil {
		statsTicker.Stop()
		close(statsDone)
	}
}

// reportStats periodically logs per-partition counters, the way a
// production node would feed them to an external stats endpoint; this
// core has no stats transport of its own (out of scope), so it logs.
func reportStats(registry *vbucket.Registry, ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C:
			registry.ForEach(func(vb *vbucket.VBucket) {
				stats := vb.AddStats()
				start, end := vb.Checkpoints.SnapshotRange()
				logging.Infof("vb:%d state:%s high_seqno:%d snapshot:[%d,%d] curr_items:%d temp_items:%d deleted_items:%d mem_used:%d expired_access:%d bg_fetches:%d hlc_drift_ahead_exceeded:%d hlc_drift_behind_exceeded:%d",
					vb.ID, vb.State(), vb.Checkpoints.HighSeqno(), start, end,
					vb.HT.Count(), vb.HT.NumTempItems(), vb.HT.NumDeletedItems(), vb.HT.MemUsed(),
					stats.ExpiredAccess, stats.BgFetches,
					vb.Clock.DriftAheadExceeded(), vb.Clock.DriftBehindExceeded())
			})
		case <-done:
			return
		}
	}
}

// awaitShutdown blocks until SIGINT or SIGTERM, then fails every
// pending op/waiter on every resident partition before returning,
// mirroring the teacher's signalCatcher but with a clean drain instead
// of an immediate os.Exit on interrupt.
func awaitShutdown(registry *vbucket.Registry) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	s := <-sigs

	logging.Infof("kvengine core shutting down on signal %v", s)
	registry.ForEach(func(vb *vbucket.VBucket) {
		// SetState(Dead) already drains and fails every pending op and
		// high-priority waiter; this core has no connection layer to
		// dispatch the returned cookies to, so the count is logged in
		// its place.
		toNotify := vb.SetState(vbucket.Dead)
		logging.Infof("VBucket %d: %d pending operation(s) failed on shutdown", vb.ID, len(toNotify))
	})
}
