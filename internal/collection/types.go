// Package collection implements Pung's round-local storage: the
// Collection/Bucket/Database hierarchy, batch-code encoding into
// systematic and parity sub-collections, BST/Bloom indirection, and
// per-level PIR handle construction (spec.md §3, §4.5, §4.6).
package collection

import (
	"sync"

	"github.com/pung-project/pung/internal/bloomfilter"
	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/label"
	"github.com/pung-project/pung/internal/pir"
	"github.com/pung-project/pung/internal/tuple"
)

// Collection is one storage array inside a bucket: systematic (holds
// tuples directly) or parity (holds XORs), possibly with a Bloom
// filter or per-level PIR handles attached (spec.md §3).
type Collection struct {
	// Tuples holds the collection's contents in whatever order its
	// retrieval mode requires: sorted ascending for Explicit/Bloom,
	// BST level-order for Tree, position-aligned-with-its-siblings for
	// parity collections.
	Tuples []tuple.Tuple

	// Bloom is non-nil when the database's retrieval scheme is Bloom
	// and this is a systematic collection.
	Bloom *bloomfilter.Filter

	// Perm, when non-nil, maps a BST level-order index (as used by
	// Levels' PIR handles) back to this collection's position in its
	// pre-reorder sorted order. Only set for Tree-mode systematic
	// collections (spec.md §4.6, §4.8); Hybrid2's C2 is XORed from the
	// already reordered C0/C1, so it is addressed in level order too.
	Perm []int

	// Levels holds this collection's PIR handles: exactly one flat
	// handle over the whole collection for Explicit/Bloom retrieval
	// and for Hybrid4's parity collections, or one handle per BST level
	// (descent step) for a Tree-mode collection, Hybrid2's parity C2
	// included.
	Levels []pir.Handle
}

// Size returns the number of tuples in the collection.
func (c *Collection) Size() int {
	return len(c.Tuples)
}

// Bucket is a fixed set of collections, shaped by the database's
// optimization scheme (spec.md §3): 1 collection for Normal/Aliasing,
// 3 for Hybrid2, 9 for Hybrid4. Before the round's first Encode, a
// bucket holds exactly one raw ingestion collection at index 0.
type Bucket struct {
	mu          sync.Mutex
	Collections []*Collection
	Lmids       [][]byte
}

func newRawBucket() *Bucket {
	return &Bucket{Collections: []*Collection{{}}}
}

// Ingest appends t to the bucket's raw ingestion collection (index 0).
// Valid only before the round's Encode has run.
func (b *Bucket) Ingest(t tuple.Tuple) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Collections[0].Tuples = append(b.Collections[0].Tuples, t)
}

// rawLen returns the current size of the raw ingestion buffer.
func (b *Bucket) rawLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Collections[0].Tuples)
}

// Database is a vector of Buckets sharing one retrieval mode and one
// optimization scheme, fixed at construction (spec.md §3).
type Database struct {
	cfg     config.Config
	backend pir.Backend
	buckets []*Bucket
}

// New creates an empty Database with cfg.NumBuckets raw buckets.
func New(cfg config.Config, backend pir.Backend) *Database {
	buckets := make([]*Bucket, cfg.NumBuckets)
	for i := range buckets {
		buckets[i] = newRawBucket()
	}
	return &Database{cfg: cfg, backend: backend, buckets: buckets}
}

// NumBuckets returns the database's fixed bucket count.
func (db *Database) NumBuckets() int {
	return len(db.buckets)
}

// BucketOf returns the bucket index for label l.
func (db *Database) BucketOf(l label.Label) int {
	return label.BucketOf(l, len(db.buckets))
}

// Ingest installs t into the bucket selected by its label. Valid only
// while the round is in its Sending phase (enforced by the caller —
// the round engine, per spec.md §4.9).
func (db *Database) Ingest(t tuple.Tuple) {
	idx := db.BucketOf(t.Label())
	db.buckets[idx].Ingest(t)
}

// RawCounts returns, for logging, the current raw ingestion size of
// every bucket.
func (db *Database) RawCounts() []int {
	out := make([]int, len(db.buckets))
	for i, b := range db.buckets {
		out[i] = b.rawLen()
	}
	return out
}

// Clear resets every bucket back to an empty raw ingestion buffer,
// discarding all derived collections — the round boundary's "simple
// garbage collection" (spec.md §3 Lifecycle).
func (db *Database) Clear() {
	for i := range db.buckets {
		db.buckets[i] = newRawBucket()
	}
}
