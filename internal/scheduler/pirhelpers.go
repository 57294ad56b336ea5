package scheduler

import (
	"crypto/rand"
	"encoding/binary"
	"sort"

	"github.com/pung-project/pung/internal/bloomfilter"
	"github.com/pung-project/pung/internal/bst"
	"github.com/pung-project/pung/internal/label"
	"github.com/pung-project/pung/internal/pir"
	"github.com/pung-project/pung/internal/rpc"
	"github.com/pung-project/pung/internal/tuple"
)

// shadowHandle builds a local Handle over n placeholder elements, used
// purely so backend.ClientQuery has something to bound-check an index
// against. The reference directpir backend never reads element
// contents from a client-held handle, only ElementSize/NumElements —
// a real single-server PIR backend's ClientQuery would take those two
// public numbers directly rather than a Handle; this repo's Backend
// interface doesn't expose that split, so the client reconstructs a
// same-shaped handle from public information instead.
func shadowHandle(backend pir.Backend, n, elementSize, depth int) (pir.Handle, error) {
	elems := make([][]byte, n)
	for i := range elems {
		elems[i] = make([]byte, elementSize)
	}
	alpha := pir.GetAlpha(elementSize)
	return backend.Setup(elems, elementSize, alpha, depth)
}

// fetchAt issues one retr() for index idx against (bucket, collection,
// level) and decodes the answer into a raw tuple.Size element. n is
// the collection's (or level's) current length, needed to build the
// shadow handle. A zero-length slot is a legal no-op: the collection's
// public size already says there's nothing to find, so the probe is
// skipped rather than sent — skipping costs nothing in access-pattern
// uniformity since n is public round shape, never a function of any
// label's content.
func fetchAt(s *Scheduler, round uint64, bucket, collection, level, n int, idx uint64) (tuple.Tuple, error) {
	var out tuple.Tuple
	if n <= 0 {
		return out, nil
	}
	h, err := shadowHandle(s.backend, n, tuple.Size, s.cfg.PIRDepth)
	if err != nil {
		return out, err
	}
	query, qnum, err := s.backend.ClientQuery(h, int(idx))
	if err != nil {
		return out, err
	}
	res, err := s.channel.Retrieve(rpc.RetrieveRequest{
		ID: s.id, Round: round,
		Bucket: uint32(bucket), Collection: uint32(collection), Level: uint32(level),
		Query: query, QNum: qnum,
	})
	if err != nil {
		return out, err
	}
	raw, err := s.backend.ClientDecode(h, res.Answer, res.ANum)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

// randomIndex returns a uniformly random index in [0, n) — used to pad
// unused retry/part slots so the access pattern never depends on
// which labels were real (spec.md §4.8).
func randomIndex(n int) uint64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("scheduler: system randomness unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:]) % uint64(n)
}

// locateExplicit binary-searches mapping (ascending labels) for
// target, returning its index and whether it was found (spec.md §4.8
// Explicit).
func locateExplicit(mapping [][]byte, target label.Label) (int, bool) {
	i := sort.Search(len(mapping), func(i int) bool {
		var l label.Label
		copy(l[:], mapping[i])
		return !label.Less(l, target)
	})
	if i < len(mapping) {
		var l label.Label
		copy(l[:], mapping[i])
		if l == target {
			return i, true
		}
	}
	return i, false
}

// locateBloom linearly scans a Bloom filter's n possible indices for
// the first one whose (index[, flag], label) key tests positive
// (spec.md §4.8 Bloom). flag is -1 outside Hybrid4.
func locateBloom(bits []byte, n uint64, flag int, target label.Label) (uint64, bool) {
	filter := bloomfilter.FromBytes(bits)
	for i := uint64(0); i < n; i++ {
		var key []byte
		if flag >= 0 {
			key = bloomfilter.IndexFlagLabelKey(i, byte(flag), target[:])
		} else {
			key = bloomfilter.IndexLabelKey(i, target[:])
		}
		if filter.Test(key) {
			return i, true
		}
	}
	return 0, false
}

// levelSizeAt returns a BST level's element count for a collection of
// n tuples — must match internal/collection's setupLevels exactly,
// since the client derives per-level query shapes independently
// rather than learning them from the server.
func levelSizeAt(level, n int) int {
	lo := (1 << uint(level)) - 1
	hi := (1 << uint(level+1)) - 1
	if hi > n {
		hi = n
	}
	if lo > hi {
		return 0
	}
	return hi - lo
}

// treeDescent walks a Tree-mode systematic collection's BST, issuing
// one retr() per level, comparing the fetched label to target and
// padding any remaining levels with a random index once the target is
// found or the descent runs out of tree (spec.md §4.8 Tree). It
// returns the level-order index the target was found at and the tuple
// itself.
func treeDescent(s *Scheduler, round uint64, bucket, collection, n int, target label.Label) (found bool, levelOrderIdx int, t tuple.Tuple, err error) {
	height := bst.Height(n)
	idx := 0
	for level := 0; level < height; level++ {
		size := levelSizeAt(level, n)
		if found || size == 0 || idx >= n {
			_, _ = fetchAt(s, round, bucket, collection, level, size, randomIndex(size))
			continue
		}
		base := (1 << uint(level)) - 1
		got, ferr := fetchAt(s, round, bucket, collection, level, size, uint64(idx-base))
		if ferr != nil {
			return false, 0, tuple.Tuple{}, ferr
		}
		gotLabel := got.Label()
		switch {
		case gotLabel == target:
			found = true
			levelOrderIdx = idx
			t = got
		case label.Less(target, gotLabel):
			idx = bst.LeftChild(idx)
		default:
			idx = bst.RightChild(idx)
		}
	}
	return found, levelOrderIdx, t, nil
}

// jointTreeDescent reconstructs a Tree-mode Hybrid2 target that lives in
// whichever systematic collection is NOT coll, by descending coll's BST
// and the parity collection 2's BST in lockstep — one retr() per level
// against each — and XORing the two fetched elements before comparing
// the result to target. Collection 2 is encoded as the per-level XOR of
// the two (already BST-laid-out) systematic collections, so this XOR
// reproduces the opposite collection's content at every shared position
// without a second direct probe of it; this call touches only
// {coll, 2} (ported from the reference's
// bst_joint_retr). num is coll's element count; num2 is collection 2's,
// which is never more than one BST level taller than coll's since
// num2 == max(n0, n1).
func jointTreeDescent(s *Scheduler, round uint64, bucket, coll, num, num2 int, target label.Label) (found bool, t tuple.Tuple, err error) {
	if num <= 0 {
		// coll has no tree at all; per the num2 == num || num2 == num+1
		// invariant, collection 2 is either likewise empty (nothing to
		// find) or holds exactly the one lone node a height-0-vs-1 tree
		// pair differs by, which is then the entire joint result.
		if num2 <= 0 {
			return false, tuple.Tuple{}, nil
		}
		extra, ferr := fetchAt(s, round, bucket, 2, 0, num2, 0)
		if ferr != nil {
			return false, tuple.Tuple{}, ferr
		}
		if extra.Label() == target {
			return true, extra, nil
		}
		return false, tuple.Tuple{}, nil
	}

	height := bst.Height(num)
	height2 := bst.Height(num2)

	idx := 0
	for level := 0; level < height-1; level++ {
		size := levelSizeAt(level, num)
		base := (1 << uint(level)) - 1
		pos := idx - base
		if found || pos < 0 || pos >= size {
			pos = int(randomIndex(size))
		}
		t1, ferr := fetchAt(s, round, bucket, coll, level, size, uint64(pos))
		if ferr != nil {
			return false, tuple.Tuple{}, ferr
		}
		t2, ferr := fetchAt(s, round, bucket, 2, level, size, uint64(pos))
		if ferr != nil {
			return false, tuple.Tuple{}, ferr
		}
		if !found {
			virt := tuple.XOR(t1, t2)
			vl := virt.Label()
			switch {
			case vl == target:
				found = true
				t = virt
			case label.Less(target, vl):
				idx = bst.LeftChild(idx)
			default:
				idx = bst.RightChild(idx)
			}
		}
	}

	h := height - 1
	size := levelSizeAt(h, num)
	base := (1 << uint(h)) - 1
	pos := idx - base
	if found || pos < 0 || pos >= size {
		pos = int(randomIndex(size))
	}

	switch {
	case num == num2 || height < height2:
		t1, ferr := fetchAt(s, round, bucket, coll, h, size, uint64(pos))
		if ferr != nil {
			return false, tuple.Tuple{}, ferr
		}
		t2, ferr := fetchAt(s, round, bucket, 2, h, size, uint64(pos))
		if ferr != nil {
			return false, tuple.Tuple{}, ferr
		}
		if !found {
			virt := tuple.XOR(t1, t2)
			if virt.Label() == target {
				found = true
				t = virt
			}
		}

		if height < height2 {
			// collection 2 carries exactly one extra node, forming its
			// own bottommost level with nothing in coll to XOR against.
			extra, ferr := fetchAt(s, round, bucket, 2, h+1, 1, 0)
			if ferr != nil {
				return false, tuple.Tuple{}, ferr
			}
			if !found && extra.Label() == target {
				found = true
				t = extra
			}
		}

	default: // collections differ by one element on the shared bottom level
		pos2 := pos
		size2 := size + 1
		if found || pos2 >= size2 {
			pos2 = int(randomIndex(size2))
		}
		t1, ferr := fetchAt(s, round, bucket, coll, h, size, uint64(pos))
		if ferr != nil {
			return false, tuple.Tuple{}, ferr
		}
		t2, ferr := fetchAt(s, round, bucket, 2, h, size2, uint64(pos2))
		if ferr != nil {
			return false, tuple.Tuple{}, ferr
		}
		if !found {
			virt := t2
			if pos == pos2 {
				virt = tuple.XOR(t1, t2)
			}
			if virt.Label() == target {
				found = true
				t = virt
			}
		}
	}

	return found, t, nil
}

// translateTreeIndex maps a BST level-order index found by treeDescent
// back to the collection's pre-reorder sorted position — the same
// permutation internal/collection.Collection.Perm records server-side,
// recomputed locally since it's a pure function of n (spec.md §4.6,
// §4.8). No retrieval path calls it: Hybrid2's C2 is in level order
// too, so the joint descent never leaves level order.
func translateTreeIndex(levelOrderIdx, n int) int {
	return bst.LayoutIndices(n)[levelOrderIdx]
}
