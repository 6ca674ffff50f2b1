package docforest

import (
	"time"

	"docforest/cache"
	"docforest/kv/kvbadger"
)

// Options configures Open (spec §4.1/§6.3). The zero value is not valid;
// use DefaultOptions and layer EditOption functions over it, mirroring
// the teacher's With... functional-option style (nodestorage/v2/options.go).
type Options struct {
	// ReadOnly forbids create and all writes (spec: "Read-only forbids create").
	ReadOnly bool

	// BlockCacheSize is Badger's block cache, standing in for the spec's
	// 8 MiB buffer cache.
	BlockCacheSize int64
	// ValueLogFileSize bounds each value-log segment.
	ValueLogFileSize int64
	// Compression enables body compression.
	Compression bool
	// CompactorProbeInterval is how often the background GC probe runs.
	CompactorProbeInterval time.Duration
	// SyncWrites flushes the WAL-equivalent value log before every commit
	// returns (spec §4.1: "WAL flush before commit").
	SyncWrites bool
	// WALRotateThreshold forces a soft Badger flush every N writes (spec
	// §4.1's 1024 threshold); OpenMem ignores it. Zero disables it.
	WALRotateThreshold uint64

	// DocCache is an optional look-aside cache fronting GetDocument reads
	// (SPEC_FULL §3). A cache miss always falls through to the KeyStore;
	// the cache never participates in transactional semantics.
	DocCache cache.Cache[*VersionedDocument]
	// DocCacheTTL bounds how long a cached document is trusted before a
	// fresh read is forced.
	DocCacheTTL time.Duration
}

// EditOption mutates an Options in place.
type EditOption func(*Options)

// DefaultOptions returns the spec's bit-exact engine configuration
// (§6.3): 8 MiB buffer cache, compression on, a 300s compaction probe,
// WAL flush before commit, a 1024-write soft rotation counter, and no
// document cache.
func DefaultOptions() *Options {
	return &Options{
		BlockCacheSize:         8 << 20,
		ValueLogFileSize:       64 << 20,
		Compression:            true,
		CompactorProbeInterval: 300 * time.Second,
		SyncWrites:             true,
		WALRotateThreshold:     1024,
		DocCacheTTL:            5 * time.Minute,
	}
}

// WithReadOnly opens the database read-only.
func WithReadOnly(ro bool) EditOption { return func(o *Options) { o.ReadOnly = ro } }

// WithBlockCacheSize overrides the buffer cache size.
func WithBlockCacheSize(n int64) EditOption { return func(o *Options) { o.BlockCacheSize = n } }

// WithCompactorProbeInterval overrides the background GC probe interval.
func WithCompactorProbeInterval(d time.Duration) EditOption {
	return func(o *Options) { o.CompactorProbeInterval = d }
}

// WithSyncWrites overrides whether every commit flushes the WAL-equivalent
// value log before returning.
func WithSyncWrites(sync bool) EditOption { return func(o *Options) { o.SyncWrites = sync } }

// WithWALRotateThreshold overrides the soft write-count flush threshold.
// Zero disables it.
func WithWALRotateThreshold(n uint64) EditOption {
	return func(o *Options) { o.WALRotateThreshold = n }
}

// WithDocCache attaches a look-aside document cache.
func WithDocCache(c cache.Cache[*VersionedDocument]) EditOption {
	return func(o *Options) { o.DocCache = c }
}

// WithDocCacheTTL overrides the document cache's trust window.
func WithDocCacheTTL(d time.Duration) EditOption {
	return func(o *Options) { o.DocCacheTTL = d }
}

func (o *Options) badgerOptions(path string) *kvbadger.Options {
	return &kvbadger.Options{
		Path:                   path,
		ReadOnly:               o.ReadOnly,
		BlockCacheSize:         o.BlockCacheSize,
		ValueLogFileSize:       o.ValueLogFileSize,
		Compression:            o.Compression,
		CompactorProbeInterval: o.CompactorProbeInterval,
		SyncWrites:             o.SyncWrites,
		WALRotateThreshold:     o.WALRotateThreshold,
	}
}
