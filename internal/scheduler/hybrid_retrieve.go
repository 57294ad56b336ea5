package scheduler

import (
	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/tuple"
)

// retrieveHybrid2 runs one Hybrid2 retrieval round (spec.md §4.8
// "Hybrid2 retrieval"): Aliasing.Retries/2 sweeps per bucket, each
// sweep consuming up to two scheduled slots and issuing exactly three
// PIR probes — one to C0, one to C1, one to C2 — whatever the case,
// so the set of collections touched never depends on which peers or
// labels were actually scheduled. Under Tree retrieval, locating a
// label costs a retr() per BST level rather than nothing, so each sweep
// runs hybrid2TreeSweep instead — still one descent apiece into C0, C1
// and C2, costing one retr() per BST level of each.
func (s *Scheduler) retrieveHybrid2(round uint64, targets []string) ([]Received, error) {
	s.mu.Lock()
	byBucket := s.buildSlotsLocked(round, targets)
	cfg := s.cfg
	s.mu.Unlock()

	retries := cfg.Optimization.Retries(uint64(s.rate))
	var out []Received

	for bucket := 0; bucket < cfg.NumBuckets; bucket++ {
		queue := byBucket[bucket]
		shape, err := s.gatherShape(round, bucket)
		if err != nil {
			return nil, err
		}

		for r := uint64(0); r < retries; r++ {
			var t1, t2 *slot
			if len(queue) > 0 {
				t1, queue = &queue[0], queue[1:]
			}
			if len(queue) > 0 {
				t2, queue = &queue[0], queue[1:]
			}
			var recv []Received
			var err error
			if cfg.Retrieval == config.Tree {
				recv, err = s.hybrid2TreeSweep(round, bucket, shape, t1, t2)
			} else {
				recv, err = s.hybrid2Sweep(round, bucket, shape, t1, t2)
			}
			if err != nil {
				return nil, err
			}
			out = append(out, recv...)
		}
	}
	s.logf("retrieve(hybrid2): round=%d recovered=%d", round, len(out))
	return out, nil
}

// hybrid2Sweep runs one sweep's three fixed probes and reconstructs
// whichever of t1/t2 are real, per the case table in spec.md §4.8.
func (s *Scheduler) hybrid2Sweep(round uint64, bucket int, shape bucketShape, t1, t2 *slot) ([]Received, error) {
	want1, want2 := randomLabel(), randomLabel()
	if t1 != nil {
		want1 = t1.label
	}
	if t2 != nil {
		want2 = t2.label
	}
	c1 := classify(want1, shape.lmids)
	c2 := classify(want2, shape.lmids)

	n0, n1 := collSize(shape, 0), collSize(shape, 1)
	n2 := max(n0, n1)

	var recv []Received
	switch {
	case c1 == 0 && c2 == 0:
		idxA, foundA := s.locateIn(shape, 0, want1)
		idxB, foundB := s.locateIn(shape, 0, want2)
		// C1 has no entry at C0's last index when n0 == n1+1; C2 holds
		// that tuple unchanged, so the C1 probe there is a decoy.
		inC1 := foundB && idxB < n1
		a, err := fetchAt(s, round, bucket, 0, 0, n0, indexOrRandom(idxA, foundA, n0))
		if err != nil {
			return nil, err
		}
		b1, err := fetchAt(s, round, bucket, 1, 0, n1, indexOrRandom(idxB, inC1, n1))
		if err != nil {
			return nil, err
		}
		b2, err := fetchAt(s, round, bucket, 2, 0, n2, indexOrRandom(idxB, foundB, n2))
		if err != nil {
			return nil, err
		}
		if foundA {
			recv = appendRecv(recv, s.decryptIfOwned(a, round, peerOf(t1)))
		}
		if foundB {
			rec := b2
			if inC1 {
				rec = tuple.XOR(b1, b2)
			}
			recv = appendRecv(recv, s.decryptIfOwned(rec, round, peerOf(t2)))
		}

	case c1 == 1 && c2 == 1:
		idxA, foundA := s.locateIn(shape, 1, want1)
		idxB, foundB := s.locateIn(shape, 1, want2)
		a, err := fetchAt(s, round, bucket, 1, 0, n1, indexOrRandom(idxA, foundA, n1))
		if err != nil {
			return nil, err
		}
		b0, err := fetchAt(s, round, bucket, 0, 0, n0, indexOrRandom(idxB, foundB, n0))
		if err != nil {
			return nil, err
		}
		b2, err := fetchAt(s, round, bucket, 2, 0, n2, indexOrRandom(idxB, foundB, n2))
		if err != nil {
			return nil, err
		}
		if foundA {
			recv = appendRecv(recv, s.decryptIfOwned(a, round, peerOf(t1)))
		}
		if foundB {
			recv = appendRecv(recv, s.decryptIfOwned(tuple.XOR(b0, b2), round, peerOf(t2)))
		}

	default: // one in each: direct from each, C2 probe is a pure decoy
		home1, home2 := c1, c2
		idx1, found1 := s.locateIn(shape, home1, want1)
		idx2, found2 := s.locateIn(shape, home2, want2)
		r1, err := fetchAt(s, round, bucket, home1, 0, collSize(shape, home1), indexOrRandom(idx1, found1, collSize(shape, home1)))
		if err != nil {
			return nil, err
		}
		r2, err := fetchAt(s, round, bucket, home2, 0, collSize(shape, home2), indexOrRandom(idx2, found2, collSize(shape, home2)))
		if err != nil {
			return nil, err
		}
		if _, err := fetchAt(s, round, bucket, 2, 0, n2, randomIndex(n2)); err != nil {
			return nil, err
		}
		if found1 {
			recv = appendRecv(recv, s.decryptIfOwned(r1, round, peerOf(t1)))
		}
		if found2 {
			recv = appendRecv(recv, s.decryptIfOwned(r2, round, peerOf(t2)))
		}
	}
	return recv, nil
}

// hybrid2TreeSweep is hybrid2Sweep's Tree-mode counterpart: the same
// case table, but locating a label means descending its BST rather than
// looking it up off-path, so each case drives treeDescent for whichever
// label is fetched directly and jointTreeDescent for whichever label
// must be reconstructed from the other systematic collection's tree and
// collection 2's (spec.md §4.8 Tree, ported from the reference's
// retr_hybrid2 Tree arm).
func (s *Scheduler) hybrid2TreeSweep(round uint64, bucket int, shape bucketShape, t1, t2 *slot) ([]Received, error) {
	want1, want2 := randomLabel(), randomLabel()
	if t1 != nil {
		want1 = t1.label
	}
	if t2 != nil {
		want2 = t2.label
	}
	c1 := classify(want1, shape.lmids)
	c2 := classify(want2, shape.lmids)

	n0, n1 := collSize(shape, 0), collSize(shape, 1)
	n2 := max(n0, n1)

	var recv []Received
	switch {
	case c1 == 0 && c2 == 0:
		foundA, a, _, err := treeDescent(s, round, bucket, 0, n0, want1)
		if err != nil {
			return nil, err
		}
		foundB, b, err := jointTreeDescent(s, round, bucket, 1, n1, n2, want2)
		if err != nil {
			return nil, err
		}
		if foundA {
			recv = appendRecv(recv, s.decryptIfOwned(a, round, peerOf(t1)))
		}
		if foundB {
			recv = appendRecv(recv, s.decryptIfOwned(b, round, peerOf(t2)))
		}

	case c1 == 1 && c2 == 1:
		foundA, a, _, err := treeDescent(s, round, bucket, 1, n1, want1)
		if err != nil {
			return nil, err
		}
		foundB, b, err := jointTreeDescent(s, round, bucket, 0, n0, n2, want2)
		if err != nil {
			return nil, err
		}
		if foundA {
			recv = appendRecv(recv, s.decryptIfOwned(a, round, peerOf(t1)))
		}
		if foundB {
			recv = appendRecv(recv, s.decryptIfOwned(b, round, peerOf(t2)))
		}

	default: // one in each: direct descent of each home tree, decoy into collection 2
		home1, home2 := c1, c2
		found1, r1, _, err := treeDescent(s, round, bucket, home1, collSize(shape, home1), want1)
		if err != nil {
			return nil, err
		}
		found2, r2, _, err := treeDescent(s, round, bucket, home2, collSize(shape, home2), want2)
		if err != nil {
			return nil, err
		}
		if _, _, _, err := treeDescent(s, round, bucket, 2, n2, randomLabel()); err != nil {
			return nil, err
		}
		if found1 {
			recv = appendRecv(recv, s.decryptIfOwned(r1, round, peerOf(t1)))
		}
		if found2 {
			recv = appendRecv(recv, s.decryptIfOwned(r2, round, peerOf(t2)))
		}
	}
	return recv, nil
}

// retrieveHybrid4 runs one Hybrid4 retrieval round (spec.md §4.8
// "Hybrid4 retrieval"): exactly one sweep per bucket, classifying up
// to four scheduled slots into C0..C3 and probing all nine
// collections in fixed bucket order 0..8 (the redesign flag in spec.md
// §4.8/§9: never order probes by what was classified), reconstructing
// each real target from the first of its four alternative subsets
// whose parts are all still unused this bucket.
func (s *Scheduler) retrieveHybrid4(round uint64, targets []string) ([]Received, error) {
	s.mu.Lock()
	byBucket := s.buildSlotsLocked(round, targets)
	cfg := s.cfg
	s.mu.Unlock()

	var out []Received
	for bucket := 0; bucket < cfg.NumBuckets; bucket++ {
		queue := byBucket[bucket]
		shape, err := s.gatherShape(round, bucket)
		if err != nil {
			return nil, err
		}

		var slots [4]*slot
		for i := 0; i < 4 && len(queue) > 0; i++ {
			slots[i], queue = &queue[0], queue[1:]
		}
		recv, err := s.hybrid4Sweep(round, bucket, shape, slots)
		if err != nil {
			return nil, err
		}
		out = append(out, recv...)
	}
	s.logf("retrieve(hybrid4): round=%d recovered=%d", round, len(out))
	return out, nil
}

// hybrid4Plan enumerates, per home systematic collection 0..3, the
// four alternative reconstruction subsets of {0..8} spec.md §4.8's
// table gives, in priority order.
var hybrid4Plan = [4][4][]int{
	{{0}, {1, 4}, {2, 6}, {3, 5, 7, 8}},
	{{1}, {0, 4}, {3, 7}, {2, 5, 6, 8}},
	{{2}, {3, 5}, {0, 6}, {1, 4, 7, 8}},
	{{3}, {2, 5}, {1, 7}, {0, 4, 6, 8}},
}

// hybrid4Sweep classifies every non-nil slot, picks each a
// reconstruction subset whose parts are still free, probes all nine
// collections in fixed order at indices fixed by that plan (random for
// every part no real target claims), and XORs each target's claimed
// parts locally.
func (s *Scheduler) hybrid4Sweep(round uint64, bucket int, shape bucketShape, slots [4]*slot) ([]Received, error) {
	sizes := make([]int, 9)
	for i := 0; i < 4; i++ {
		sizes[i] = collSize(shape, i)
	}
	sizes[4] = max(sizes[0], sizes[1])
	sizes[5] = max(sizes[2], sizes[3])
	sizes[6] = max(sizes[0], sizes[2])
	sizes[7] = max(sizes[1], sizes[3])
	sizes[8] = max(sizes[6], sizes[7])

	type claim struct {
		target int // index into slots, or -1
		idx    int
	}
	// Which part indices (0..8) are claimed by which target's index,
	// decided before any probe is issued so probe order never depends
	// on it.
	parts := make([]claim, 9)
	for i := range parts {
		parts[i] = claim{target: -1}
	}

	used := make(map[int]bool)
	var homes [4]int
	var found [4]bool
	var idxOf [4]int
	for i, sl := range slots {
		if sl == nil {
			homes[i] = -1
			continue
		}
		homes[i] = classify(sl.label, shape.lmids)
		idx, ok := s.locateIn(shape, homes[i], sl.label)
		found[i] = ok
		idxOf[i] = idx
	}

	// Assign each real, found target the first unused subset from its
	// home collection's plan.
	subsetFor := make([]int, 4) // which of the 4 alternatives target i uses, -1 if none fit
	for i := range subsetFor {
		subsetFor[i] = -1
	}
	for i := 0; i < 4; i++ {
		if homes[i] < 0 || !found[i] {
			continue
		}
		for alt, subset := range hybrid4Plan[homes[i]] {
			free := true
			for _, p := range subset {
				if used[p] {
					free = false
					break
				}
			}
			if !free {
				continue
			}
			for _, p := range subset {
				used[p] = true
				parts[p] = claim{target: i, idx: idxOf[i]}
			}
			subsetFor[i] = alt
			break
		}
	}

	// Probe all nine collections, fixed order, using the claimed index
	// where one exists and a uniformly random index otherwise.
	raw := make([]tuple.Tuple, 9)
	for p := 0; p < 9; p++ {
		idx := randomIndex(sizes[p])
		if parts[p].target >= 0 {
			idx = uint64(parts[p].idx)
		}
		t, err := fetchAt(s, round, bucket, p, 0, sizes[p], idx)
		if err != nil {
			return nil, err
		}
		raw[p] = t
	}

	var recv []Received
	for i := 0; i < 4; i++ {
		if homes[i] < 0 || !found[i] || subsetFor[i] < 0 {
			continue
		}
		subset := hybrid4Plan[homes[i]][subsetFor[i]]
		acc := raw[subset[0]]
		for _, p := range subset[1:] {
			acc = tuple.XOR(acc, raw[p])
		}
		recv = appendRecv(recv, s.decryptIfOwned(acc, round, slots[i].peer))
	}
	return recv, nil
}

func collSize(shape bucketShape, c int) int {
	if c < 0 || c >= len(shape.sizes) {
		return 0
	}
	return shape.sizes[c]
}

func indexOrRandom(idx int, found bool, n int) uint64 {
	if found {
		return uint64(idx)
	}
	return randomIndex(n)
}

func peerOf(s *slot) *peerState {
	if s == nil {
		return nil
	}
	return s.peer
}

func appendRecv(out []Received, r *Received) []Received {
	if r == nil {
		return out
	}
	return append(out, *r)
}
