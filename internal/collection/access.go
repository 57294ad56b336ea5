package collection

import (
	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/pir"
)

// BucketShape is what a client needs to plan retrieval against a
// bucket once a round has closed: the size of each systematic
// collection (in canonical collection order) and the published
// midpoint labels (spec.md §4.6). Before the round's Encode, Sizes
// still has one entry per systematic collection, the first holding the
// raw ingestion count so far, and Lmids is empty.
type BucketShape struct {
	Sizes []uint64
	Lmids [][]byte
}

// BucketShape returns bucketIdx's current shape. Valid at any time;
// before Encode has run this round it reports the raw ingestion count
// (buckets are cleared at every round advance) so that a send call
// used purely to poll (the "send as a shape poll" decision in
// DESIGN.md) is always well-defined.
func (db *Database) BucketShape(bucketIdx int) BucketShape {
	b := db.buckets[bucketIdx]
	b.mu.Lock()
	defer b.mu.Unlock()

	n := db.cfg.Optimization.NumSystematic()
	sizes := make([]uint64, n)
	for i := 0; i < n && i < len(b.Collections); i++ {
		sizes[i] = uint64(b.Collections[i].Size())
	}
	lmids := make([][]byte, len(b.Lmids))
	copy(lmids, b.Lmids)
	return BucketShape{Sizes: sizes, Lmids: lmids}
}

// Retrieve answers one PIR query against bucket bucketIdx's collection
// collectionIdx at descent level level (spec.md §6 retr). level must
// be 0 for any collection with a single flat handle: every collection
// under Explicit/Bloom, and Hybrid4's parity collections. Under Tree,
// every collection, Hybrid2's parity C2 included, has one handle per
// BST level.
func (db *Database) Retrieve(bucketIdx, collectionIdx, level int, query []byte, qnum uint64) ([]byte, uint64, error) {
	if bucketIdx < 0 || bucketIdx >= len(db.buckets) {
		return nil, 0, pir.ErrOutOfRange
	}
	b := db.buckets[bucketIdx]
	b.mu.Lock()
	defer b.mu.Unlock()

	if collectionIdx < 0 || collectionIdx >= len(b.Collections) {
		return nil, 0, pir.ErrOutOfRange
	}
	c := b.Collections[collectionIdx]
	if level < 0 || level >= len(c.Levels) {
		return nil, 0, pir.ErrOutOfRange
	}
	return db.backend.ServerAnswer(c.Levels[level], query, qnum)
}

// PIRLevelsPerRetry is the total number of retr() calls a client makes
// to probe every bucket exactly once, summed across all num_buckets
// buckets — the unit spec.md §4.9's ret_remaining quota is denominated
// in (ret_remaining = PIRLevelsPerRetry * retries). It is only
// meaningful once Encode has run for the round.
func (db *Database) PIRLevelsPerRetry() int {
	total := 0
	for _, b := range db.buckets {
		total += bucketQueryCost(db.cfg, b)
	}
	return total
}

func bucketQueryCost(cfg config.Config, b *Bucket) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch cfg.Optimization {
	case config.Normal, config.Aliasing:
		return collectionCost(cfg.Retrieval, b.Collections[0])
	case config.Hybrid2:
		// C0, C1 systematic (cost depends on retrieval scheme); C2
		// parity is always a single flat probe.
		return collectionCost(cfg.Retrieval, b.Collections[0]) +
			collectionCost(cfg.Retrieval, b.Collections[1]) + 1
	case config.Hybrid4:
		cost := 0
		for i := 0; i < 4; i++ {
			cost += collectionCost(cfg.Retrieval, b.Collections[i])
		}
		return cost + 5 // C4..C8 parity, always flat
	default:
		panic("collection: unknown optimization scheme")
	}
}

// CollectionLabels returns collectionIdx's tuple labels, in whatever
// order that collection stores them, for get_mapping (spec.md §6). Out
// of range indices return nil rather than erroring since get_mapping
// only makes sense for a retrieval scheme that has systematic
// collections visible this way (Explicit/Bloom), and the caller
// already restricts collectionIdx to NumSystematic().
func (db *Database) CollectionLabels(bucketIdx, collectionIdx int) [][]byte {
	if bucketIdx < 0 || bucketIdx >= len(db.buckets) {
		return nil
	}
	b := db.buckets[bucketIdx]
	b.mu.Lock()
	defer b.mu.Unlock()

	if collectionIdx < 0 || collectionIdx >= len(b.Collections) {
		return nil
	}
	c := b.Collections[collectionIdx]
	out := make([][]byte, len(c.Tuples))
	for i, t := range c.Tuples {
		l := t.Label()
		out[i] = append([]byte(nil), l[:]...)
	}
	return out
}

// CollectionBloom returns collectionIdx's Bloom filter bytes and
// element count, for get_bloom (spec.md §6). Returns (nil, 0) if the
// collection has no Bloom filter attached (wrong retrieval scheme, or
// out of range).
func (db *Database) CollectionBloom(bucketIdx, collectionIdx int) ([]byte, uint64) {
	if bucketIdx < 0 || bucketIdx >= len(db.buckets) {
		return nil, 0
	}
	b := db.buckets[bucketIdx]
	b.mu.Lock()
	defer b.mu.Unlock()

	if collectionIdx < 0 || collectionIdx >= len(b.Collections) {
		return nil, 0
	}
	c := b.Collections[collectionIdx]
	if c.Bloom == nil {
		return nil, uint64(c.Size())
	}
	return c.Bloom.Bytes(), uint64(c.Size())
}

// collectionCost is the number of retr() calls needed to read one
// value out of c: one PIR query when the index is already known
// (Explicit/Bloom location, or any parity collection), or one query
// per BST level when the client must descend to find it (Tree).
func collectionCost(scheme config.RetrievalScheme, c *Collection) int {
	if scheme == config.Tree && len(c.Perm) > 0 {
		return len(c.Levels)
	}
	return 1
}
