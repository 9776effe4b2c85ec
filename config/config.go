// Package config holds the configuration keys spec.md §6 names as
// "recognised by the core". It is a plain struct with defaults and
// validation, the way _examples/couchbase-query/settings/settings.go
// shapes its settings object, minus that package's metakv-backed
// cluster distribution layer: this core is a single-partition,
// single-process data plane, not a cluster config client (see
// DESIGN.md, "Dropped teacher dependencies").
package config

import (
	"github.com/couchbase/kvengine/errors"
)

type BucketType int

const (
	BucketTypePersistent BucketType = iota
	BucketTypeEphemeral
)

type Backend int

const (
	BackendCouchstore Backend = iota
	BackendMagma
)

// Config mirrors the "Configuration recognised by the core" table in
// spec.md §6.
type Config struct {
	MaxVBuckets                 uint16
	MaxNumShards                uint16
	Backend                     Backend
	CollectionsPrototypeEnabled bool
	FsyncAfterEveryNBytesWritten uint64
	HLCDriftAheadThresholdUs    int64
	HLCDriftBehindThresholdUs   int64
	HTSize                      int
	MaxSize                     uint64
	MemLowWat                   uint64
	MemHighWat                  uint64
	BucketType                  BucketType
}

// Default matches the teacher's convention of package-level defaults
// rather than zero values scattered across call sites.
func Default() Config {
	return Config{
		MaxVBuckets:                  1024,
		MaxNumShards:                 4,
		Backend:                      BackendCouchstore,
		CollectionsPrototypeEnabled:  true,
		FsyncAfterEveryNBytesWritten: 16 * 1024 * 1024,
		HLCDriftAheadThresholdUs:     5_000_000,
		HLCDriftBehindThresholdUs:    5_000_000,
		HTSize:                       3079, // teacher-style odd prime bucket count
		MaxSize:                      0,    // 0 == unlimited
		MemLowWat:                    0,
		MemHighWat:                   0,
		BucketType:                   BucketTypePersistent,
	}
}

func (c Config) Validate() error {
	if c.MaxVBuckets == 0 {
		return errors.NewEinval("max_vbuckets must be > 0")
	}
	if c.MaxNumShards == 0 {
		return errors.NewEinval("max_num_shards must be > 0")
	}
	if c.HTSize <= 0 {
		return errors.NewEinval("ht_size must be > 0")
	}
	if c.MemHighWat > 0 && c.MemLowWat > c.MemHighWat {
		return errors.NewEinval("mem_low_wat (%d) must be <= mem_high_wat (%d)", c.MemLowWat, c.MemHighWat)
	}
	if c.MaxSize > 0 && c.MemHighWat > c.MaxSize {
		return errors.NewEinval("mem_high_wat (%d) must be <= max_size (%d)", c.MemHighWat, c.MaxSize)
	}
	return nil
}
