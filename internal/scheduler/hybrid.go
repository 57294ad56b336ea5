package scheduler

import (
	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/label"
	"github.com/pung-project/pung/internal/secret"
	"github.com/pung-project/pung/internal/tuple"
)

// bucketShape is what a client gathers once per bucket before running
// any of Hybrid2/Hybrid4's probe logic: each systematic collection's
// current length, its Lmid (routing boundary, §4.6), and — for
// Explicit/Bloom only — the off-path information (label lists or
// Bloom bytes) that lets locating a target cost zero PIR probes.
type bucketShape struct {
	sizes   []int
	lmids   [][]byte
	mapping [][][]byte // [collection][]label, Explicit only
	blooms  [][]byte   // [collection]bloomBytes, Bloom only
}

func (s *Scheduler) gatherShape(round, bucket int) (bucketShape, error) {
	shape, err := s.channel.Send(s.id, round, nil)
	if err != nil {
		return bucketShape{}, err
	}
	b := shape.Buckets[bucket]
	out := bucketShape{lmids: b.Lmids}
	out.sizes = make([]int, len(b.Nums))
	for i, n := range b.Nums {
		out.sizes[i] = int(n)
	}

	switch s.cfg.Retrieval {
	case config.Explicit:
		m, err := s.channel.GetMapping(round)
		if err != nil {
			return bucketShape{}, err
		}
		out.mapping = m.Buckets[bucket]
	case config.Bloom:
		bl, err := s.channel.GetBloom(round)
		if err != nil {
			return bucketShape{}, err
		}
		out.blooms = bl.Blooms[bucket]
	}
	return out, nil
}

// classify reports which systematic collection target belongs to, by
// comparing it against the collection boundaries' Lmids (spec.md
// §4.6). lmids holds Lmid_1, Lmid_2, … (Lmid_0, collection 0's own
// boundary, is never published since there's nothing smaller to route
// around), so the result is the first j with target < lmids[j], or
// the last collection if target is at or beyond every published Lmid.
func classify(target label.Label, lmids [][]byte) int {
	for i, lm := range lmids {
		var l label.Label
		copy(l[:], lm)
		if label.Less(target, l) {
			return i
		}
	}
	return len(lmids)
}

// locateIn resolves target's index within systematic collection c,
// using whichever off-path information the retrieval scheme provides.
// Tree mode has none: locating a label means descending its tree, which
// costs a retr() per level rather than nothing, so Hybrid2's Tree sweep
// (hybrid2TreeSweep, using treeDescent and jointTreeDescent) locates and
// fetches in the same pass instead of calling locateIn first. Hybrid4
// has no Tree path at all (config.Validate rejects it).
func (s *Scheduler) locateIn(shape bucketShape, c int, target label.Label) (int, bool) {
	switch s.cfg.Retrieval {
	case config.Explicit:
		return locateExplicit(shape.mapping[c], target)
	case config.Bloom:
		flag := -1
		if s.cfg.Optimization == config.Hybrid4 {
			flag = c
		}
		idx, ok := locateBloom(shape.blooms[c], uint64(shape.sizes[c]), flag, target)
		return int(idx), ok
	default:
		return 0, false
	}
}

func (s *Scheduler) decryptIfOwned(t tuple.Tuple, round uint64, p *peerState) *Received {
	if p == nil {
		return nil
	}
	plain, err := secret.Decrypt(p.keys.KE, round, t.Ciphertext(), t.MAC())
	if err != nil {
		return nil
	}
	return &Received{Peer: p.name, Plaintext: plain}
}
