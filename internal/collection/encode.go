package collection

import (
	"crypto/rand"
	"log"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/pung-project/pung/internal/bloomfilter"
	"github.com/pung-project/pung/internal/bst"
	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/label"
	"github.com/pung-project/pung/internal/pir"
	"github.com/pung-project/pung/internal/tuple"
)

// Encode runs the batch-code encoding pipeline over every bucket's raw
// ingestion buffer, replacing each bucket's collections with the
// derived systematic/parity set its optimization scheme requires
// (spec.md §3, §4.5, §4.6). It first pads every bucket with cfg.Extra
// additional random tuples, landed within that bucket's own label
// range so padding never perturbs another bucket's population.
func (db *Database) Encode() error {
	total := 0
	for i, b := range db.buckets {
		if db.cfg.Extra > 0 {
			padBucket(b, i, len(db.buckets), db.cfg.Extra)
		}
		sorted := sortedRaw(b)
		cols, lmids, err := buildCollections(db.cfg, db.backend, sorted)
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.Collections = cols
		b.Lmids = lmids
		b.mu.Unlock()
		total += len(sorted)
	}
	log.Printf("[collection] encode: %s tuples across %d buckets (%s, %s)",
		humanize.Comma(int64(total)), len(db.buckets), db.cfg.Optimization, db.cfg.Retrieval)
	return nil
}

func padBucket(b *Bucket, bucketIdx, numBuckets int, extra uint64) {
	for i := uint64(0); i < extra; i++ {
		b.Ingest(tuple.New(randomLabelInBucket(bucketIdx, numBuckets), randomBytes(tuple.CipherSize), randomBytes(tuple.MACSize)))
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("collection: system randomness unavailable: " + err.Error())
	}
	return b
}

// randomLabelInBucket returns a label whose bucket-partitioning prefix
// falls inside bucket bucketIdx's range, so a padding tuple never
// lands anywhere but its intended bucket.
func randomLabelInBucket(bucketIdx, numBuckets int) label.Label {
	hi := label.Marker(bucketIdx, numBuckets)
	var lo uint32
	if bucketIdx > 0 {
		lo = label.Marker(bucketIdx-1, numBuckets) + 1
	}
	span := uint64(hi) - uint64(lo) + 1
	var l label.Label
	if _, err := rand.Read(l[:]); err != nil {
		panic("collection: system randomness unavailable: " + err.Error())
	}
	offset := uint64(0)
	if span > 0 {
		var buf [4]byte
		copy(buf[:], l[:4])
		v := uint64(buf[0])<<24 | uint64(buf[1])<<16 | uint64(buf[2])<<8 | uint64(buf[3])
		offset = v % span
	}
	prefix := uint32(uint64(lo) + offset)
	l[0] = byte(prefix >> 24)
	l[1] = byte(prefix >> 16)
	l[2] = byte(prefix >> 8)
	l[3] = byte(prefix)
	return l
}

func sortedRaw(b *Bucket) []tuple.Tuple {
	b.mu.Lock()
	raw := make([]tuple.Tuple, len(b.Collections[0].Tuples))
	copy(raw, b.Collections[0].Tuples)
	b.mu.Unlock()
	sort.Slice(raw, func(i, j int) bool { return tuple.Less(raw[i], raw[j]) })
	return raw
}

// splitHalf divides n into a ceiling half and a floor half.
func splitHalf(n int) (ceil, floor int) {
	return (n + 1) / 2, n / 2
}

// splitQuarters divides n into four near-equal parts by halving twice,
// matching spec.md §4.5's Hybrid4 split sizes.
func splitQuarters(n int) [4]int {
	a, b := splitHalf(n)
	c0, c1 := splitHalf(a)
	c2, c3 := splitHalf(b)
	return [4]int{c0, c1, c2, c3}
}

func splitAt(sorted []tuple.Tuple, sizes ...int) [][]tuple.Tuple {
	out := make([][]tuple.Tuple, len(sizes))
	pos := 0
	for i, n := range sizes {
		out[i] = sorted[pos : pos+n]
		pos += n
	}
	return out
}

// xorPad returns the pointwise XOR of a and b, padded by copying the
// longer operand's tail entries unchanged where the other has none —
// the batch code's rule for when a bucket's split sizes differ by one
// (spec.md §4.5).
func xorPad(a, b []tuple.Tuple) []tuple.Tuple {
	n, m := len(a), len(b)
	outLen := n
	if m > outLen {
		outLen = m
	}
	out := make([]tuple.Tuple, outLen)
	for i := 0; i < outLen; i++ {
		switch {
		case i < n && i < m:
			out[i] = tuple.XOR(a[i], b[i])
		case i < n:
			out[i] = a[i]
		default:
			out[i] = b[i]
		}
	}
	return out
}

// buildCollections runs the per-bucket batch-code split and the
// retrieval-scheme indirection (BST layout or Bloom filter) over the
// bucket's sorted tuples, then builds every collection's PIR handles.
// lmids is returned in the fixed publication order spec.md §4.6 names:
// none for Normal/Aliasing, [Lmid(C1)] for Hybrid2, [Lmid(C1), Lmid(C2),
// Lmid(C3)] for Hybrid4.
func buildCollections(cfg config.Config, backend pir.Backend, sorted []tuple.Tuple) ([]*Collection, [][]byte, error) {
	switch cfg.Optimization {
	case config.Normal, config.Aliasing:
		c, err := makeSystematic(cfg, backend, sorted, -1)
		if err != nil {
			return nil, nil, err
		}
		return []*Collection{c}, nil, nil

	case config.Hybrid2:
		ceil, floor := splitHalf(len(sorted))
		parts := splitAt(sorted, ceil, floor)
		c0raw, c1raw := parts[0], parts[1]

		c0, err := makeSystematic(cfg, backend, c0raw, -1)
		if err != nil {
			return nil, nil, err
		}
		c1, err := makeSystematic(cfg, backend, c1raw, -1)
		if err != nil {
			return nil, nil, err
		}
		// Under Tree retrieval c0/c1 are already reordered into BST
		// array layout by makeSystematic; XORing their Tuples (rather
		// than c0raw/c1raw) means c2 lands in that same level-order
		// layout too, so a client can descend c1's and c2's trees in
		// lockstep level-by-level to reconstruct c0's tree without a
		// second direct probe of it (spec.md §4.8 Hybrid2 Tree "joint
		// retrieval"). Under Explicit/Bloom c0.Tuples/c1.Tuples equal
		// c0raw/c1raw unchanged, so this is exactly the prior behavior.
		c2tuples := xorPad(c0.Tuples, c1.Tuples)
		var c2 *Collection
		if cfg.Retrieval == config.Tree {
			levels, err := setupLevels(cfg, backend, c2tuples)
			if err != nil {
				return nil, nil, err
			}
			c2 = &Collection{Tuples: c2tuples, Levels: levels}
		} else {
			c2, err = makeParity(cfg, backend, c2tuples)
			if err != nil {
				return nil, nil, err
			}
		}
		lmids := [][]byte{lmidOf(cfg.Retrieval, c1)}
		return []*Collection{c0, c1, c2}, lmids, nil

	case config.Hybrid4:
		sizes := splitQuarters(len(sorted))
		parts := splitAt(sorted, sizes[0], sizes[1], sizes[2], sizes[3])
		c0raw, c1raw, c2raw, c3raw := parts[0], parts[1], parts[2], parts[3]

		systematic := make([]*Collection, 4)
		for i, raw := range [][]tuple.Tuple{c0raw, c1raw, c2raw, c3raw} {
			c, err := makeSystematic(cfg, backend, raw, i)
			if err != nil {
				return nil, nil, err
			}
			systematic[i] = c
		}

		c4raw := xorPad(c0raw, c1raw)
		c5raw := xorPad(c2raw, c3raw)
		c6raw := xorPad(c0raw, c2raw)
		c7raw := xorPad(c1raw, c3raw)
		c8raw := xorPad(c6raw, c7raw)

		parity := make([]*Collection, 0, 5)
		for _, raw := range [][]tuple.Tuple{c4raw, c5raw, c6raw, c7raw, c8raw} {
			c, err := makeParity(cfg, backend, raw)
			if err != nil {
				return nil, nil, err
			}
			parity = append(parity, c)
		}

		lmids := [][]byte{
			lmidOf(cfg.Retrieval, systematic[1], systematic[2], systematic[3]),
			lmidOf(cfg.Retrieval, systematic[2], systematic[3]),
			lmidOf(cfg.Retrieval, systematic[3]),
		}
		cols := append(systematic, parity...)
		return cols, lmids, nil

	default:
		panic("collection: unknown optimization scheme")
	}
}

// lmidOf returns the smallest label of the first non-empty collection
// in cols. An empty collection owns no label range, so its boundary is
// the next collection's; with none left it is the all-0xFF label, so
// classify never routes a target into an empty collection.
func lmidOf(scheme config.RetrievalScheme, cols ...*Collection) []byte {
	for _, c := range cols {
		if len(c.Tuples) == 0 {
			continue
		}
		i := 0
		if scheme == config.Tree {
			i = bst.BottomLeftIndex(len(c.Tuples))
		}
		l := c.Tuples[i].Label()
		out := make([]byte, len(l))
		copy(out, l[:])
		return out
	}
	out := make([]byte, label.Size)
	for i := range out {
		out[i] = 0xFF
	}
	return out
}

func makeParity(cfg config.Config, backend pir.Backend, raw []tuple.Tuple) (*Collection, error) {
	c := &Collection{Tuples: raw}
	h, err := setupFlat(cfg, backend, raw)
	if err != nil {
		return nil, err
	}
	c.Levels = []pir.Handle{h}
	return c, nil
}

// makeSystematic builds a systematic collection under cfg.Retrieval.
// flag identifies which of Hybrid4's four systematic collections raw
// is (0..3), used to key its Bloom filter per spec.md §4.8's
// (index, flag, label) variant; pass -1 for Normal/Aliasing/Hybrid2,
// whose Bloom filters are keyed by (index, label) alone.
func makeSystematic(cfg config.Config, backend pir.Backend, raw []tuple.Tuple, flag int) (*Collection, error) {
	switch cfg.Retrieval {
	case config.Explicit:
		c := &Collection{Tuples: raw}
		h, err := setupFlat(cfg, backend, raw)
		if err != nil {
			return nil, err
		}
		c.Levels = []pir.Handle{h}
		return c, nil

	case config.Bloom:
		c := &Collection{Tuples: raw}
		f := bloomfilter.New(max(len(raw), 1))
		for i, t := range raw {
			l := t.Label()
			var key []byte
			if flag >= 0 {
				key = bloomfilter.IndexFlagLabelKey(uint64(i), byte(flag), l[:])
			} else {
				key = bloomfilter.IndexLabelKey(uint64(i), l[:])
			}
			f.Add(key)
		}
		c.Bloom = f
		h, err := setupFlat(cfg, backend, raw)
		if err != nil {
			return nil, err
		}
		c.Levels = []pir.Handle{h}
		return c, nil

	case config.Tree:
		ordered := bst.Layout(raw)
		perm := bst.LayoutIndices(len(raw))
		c := &Collection{Tuples: ordered, Perm: perm}
		levels, err := setupLevels(cfg, backend, ordered)
		if err != nil {
			return nil, err
		}
		c.Levels = levels
		return c, nil

	default:
		panic("collection: unknown retrieval scheme")
	}
}

// setupFlat builds a single PIR handle over the whole collection, used
// whenever a collection is addressed by a single known index: every
// parity collection, and every systematic collection under
// Explicit/Bloom retrieval (spec.md §4.8).
func setupFlat(cfg config.Config, backend pir.Backend, tuples []tuple.Tuple) (pir.Handle, error) {
	elems := tuplesToElements(tuples)
	alpha := pir.GetAlpha(tuple.Size)
	return backend.Setup(elems, tuple.Size, alpha, cfg.PIRDepth)
}

// setupLevels builds one PIR handle per BST level of a Tree-mode
// systematic collection, so the client can descend it one level at a
// time (spec.md §4.8 Tree retrieval). Level d covers the contiguous
// run of level-order indices [2^d-1, min(2^(d+1)-1, n)).
func setupLevels(cfg config.Config, backend pir.Backend, ordered []tuple.Tuple) ([]pir.Handle, error) {
	n := len(ordered)
	h := bst.Height(n)
	levels := make([]pir.Handle, 0, h)
	for d := 0; d < h; d++ {
		start := (1 << d) - 1
		end := (1 << (d + 1)) - 1
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		handle, err := setupFlat(cfg, backend, ordered[start:end])
		if err != nil {
			return nil, err
		}
		levels = append(levels, handle)
	}
	return levels, nil
}

func tuplesToElements(tuples []tuple.Tuple) [][]byte {
	out := make([][]byte, len(tuples))
	for i, t := range tuples {
		cp := t
		out[i] = cp[:]
	}
	return out
}
