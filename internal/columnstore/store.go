// Package columnstore holds one HyperLogLog sketch per (table, column) pair
// and provides the concurrency and durability an individual hll.Sketch
// deliberately does not: hll.Sketch is not safe for concurrent mutation, so
// the store shards columns across 256 independent locks, so two concurrent
// updates to different columns contend only when they hash to the same shard.
package columnstore

import (
	"fmt"
	"hash/fnv"
	"sync"

	"hlldb.dev/hlldb/internal/hll"
	"hlldb.dev/hlldb/internal/metrics"
)

// shardCount is large enough to virtually eliminate contention at typical
// workloads without making full-store iteration (snapshotting) slow.
const shardCount = 256

// ColumnKey identifies one sketch inside the store.
type ColumnKey struct {
	Table  string
	Column string
}

func (k ColumnKey) String() string {
	return k.Table + "." + k.Column
}

type shard struct {
	mu       sync.RWMutex
	sketches map[ColumnKey]*hll.Sketch
}

// Store is a sharded registry of column sketches.
type Store struct {
	shards [shardCount]*shard
	log    *AOF // nil if durability is disabled
}

// New creates an empty store. If log is non-nil, every mutation is appended
// to it after being applied in memory (Update appends only when the sketch
// changed).
func New(log *AOF) *Store {
	s := &Store{log: log}
	for i := range s.shards {
		s.shards[i] = &shard{sketches: make(map[ColumnKey]*hll.Sketch)}
	}
	return s
}

func (s *Store) shardFor(key ColumnKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Table))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.Column))
	return s.shards[h.Sum32()%shardCount]
}

// View executes fn with a read lock held on key's shard, passing the current
// sketch (nil if the column has never been touched). fn must not retain the
// sketch pointer past the call: mutations from other goroutines are only
// excluded for the duration of View.
func (s *Store) View(key ColumnKey, fn func(*hll.Sketch)) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	fn(sh.sketches[key])
}

// Update folds h into key's sketch, creating an EMPTY sketch first if the
// column has never been touched. It reports whether the sketch's observable
// state changed.
func (s *Store) Update(key ColumnKey, h uint64) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sk, ok := sh.sketches[key]
	if !ok {
		sk = hll.New()
		sh.sketches[key] = sk
	}

	beforeKind := sk.Kind()
	changed := sk.Update(h)

	if s.log != nil && changed {
		if err := s.log.AppendUpdate(key, h); err != nil {
			// Durability failures don't roll back the in-memory mutation:
			// the sketch is a cache-like structure whose worst-case failure
			// mode is a missed increment on restart, not corruption.
			_ = err
		}
	}

	metrics.UpdatesTotal.WithLabelValues(key.Table, key.Column).Inc()
	if sk.Kind() != beforeKind {
		metrics.UpgradesTotal.WithLabelValues(key.Table, key.Column, sk.Kind().String()).Inc()
	}
	metrics.EstimatedCardinality.WithLabelValues(key.Table, key.Column).Set(float64(sk.EstimateCardinality()))
	metrics.SerializedBytes.WithLabelValues(key.Table, key.Column).Set(float64(sk.SerializedSize()))

	return changed
}

// Merge folds src's contents into dst's sketch in the store, creating dst's
// sketch first if necessary.
func (s *Store) Merge(dst ColumnKey, src *hll.Sketch) {
	sh := s.shardFor(dst)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sk, ok := sh.sketches[dst]
	if !ok {
		sk = hll.New()
		sh.sketches[dst] = sk
	}
	sk.Merge(src)

	if s.log != nil {
		if err := s.log.AppendMerge(dst, src.Serialize()); err != nil {
			_ = err
		}
	}

	metrics.MergesTotal.WithLabelValues(dst.Table, dst.Column).Inc()
	metrics.EstimatedCardinality.WithLabelValues(dst.Table, dst.Column).Set(float64(sk.EstimateCardinality()))
}

// Estimate returns the current cardinality estimate for key, and whether the
// column exists at all.
func (s *Store) Estimate(key ColumnKey) (int64, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sk, ok := sh.sketches[key]
	if !ok {
		return 0, false
	}
	return sk.EstimateCardinality(), true
}

// Bytes returns the current serialized form of key's sketch, and whether the
// column exists.
func (s *Store) Bytes(key ColumnKey) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sk, ok := sh.sketches[key]
	if !ok {
		return nil, false
	}
	return sk.Serialize(), true
}

// LoadBytes replaces key's sketch with the one decoded from data, used when
// restoring from a snapshot or accepting a replicated sketch wholesale.
func (s *Store) LoadBytes(key ColumnKey, data []byte) error {
	sk, err := hll.Decode(data)
	if err != nil {
		return fmt.Errorf("columnstore: loading %s: %w", key, err)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sketches[key] = sk
	return nil
}

// Keys returns every column currently tracked. Used by the GET /columns
// listing; it takes a read lock on each shard in turn rather than
// one global lock, so it never blocks all writers at once.
func (s *Store) Keys() []ColumnKey {
	var keys []ColumnKey
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.sketches {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	return keys
}
