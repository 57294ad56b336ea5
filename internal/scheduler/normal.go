package scheduler

import (
	"crypto/rand"

	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/label"
	"github.com/pung-project/pung/internal/secret"
	"github.com/pung-project/pung/internal/tuple"
)

// slot is one scheduled retrieval: the peer expecting to receive a
// message this round and the label it should carry, or a nil peer for
// a dummy fill.
type slot struct {
	peer   *peerState
	msgNum uint64
	label  label.Label
}

// buildSlotsLocked resolves targets (a list of peer names, duplicates
// allowed, per spec.md §4.7) into per-bucket slot queues, load-
// balancing Aliasing/Hybrid* targets across each label's two candidate
// buckets (point 2: ties favor the primary label).
func (s *Scheduler) buildSlotsLocked(round uint64, targets []string) map[int][]slot {
	aliasing := s.cfg.Optimization.UsesAliasing()
	numBuckets := s.cfg.NumBuckets

	byBucket := make(map[int][]slot)
	load := make(map[int]int)

	for _, name := range targets {
		p := s.peers[name]
		if p == nil {
			continue
		}
		msgNum := p.retrieveCounter
		p.retrieveCounter++

		l1 := retrieveLabel(p, round, msgNum)
		b1 := label.BucketOf(l1, numBuckets)
		chosen, chosenLabel := b1, l1

		if aliasing {
			l2 := retrieveAliasLabel(p, round, msgNum, numBuckets)
			b2 := label.BucketOf(l2, numBuckets)
			if load[b2] < load[b1] {
				chosen, chosenLabel = b2, l2
			}
		}

		byBucket[chosen] = append(byBucket[chosen], slot{peer: p, msgNum: msgNum, label: chosenLabel})
		load[chosen]++
	}
	return byBucket
}

func randomLabel() label.Label {
	var l label.Label
	if _, err := rand.Read(l[:]); err != nil {
		panic("scheduler: system randomness unavailable: " + err.Error())
	}
	return l
}

// retrieveNormal runs one full Normal/Aliasing retrieval round (spec.md
// §4.7, §4.8): every bucket is probed exactly `retries` times,
// scheduled labels first and dummy probes filling the rest, and every
// tuple that decrypts successfully is returned.
func (s *Scheduler) retrieveNormal(round uint64, targets []string) ([]Received, error) {
	s.mu.Lock()
	byBucket := s.buildSlotsLocked(round, targets)
	cfg := s.cfg
	s.mu.Unlock()

	retries := cfg.Optimization.Retries(uint64(s.rate))
	var out []Received

	for bucket := 0; bucket < cfg.NumBuckets; bucket++ {
		queue := byBucket[bucket]
		n, bloomBits, mapping, err := s.shapeFor(round, bucket)
		if err != nil {
			return nil, err
		}

		for r := uint64(0); r < retries; r++ {
			var target *slot
			if len(queue) > 0 {
				target, queue = &queue[0], queue[1:]
			}
			recv, err := s.fetchOne(round, bucket, 0, n, bloomBits, mapping, target)
			if err != nil {
				return nil, err
			}
			if recv != nil {
				out = append(out, *recv)
			}
		}
	}
	s.logf("retrieve: round=%d recovered=%d", round, len(out))
	return out, nil
}

// shapeFor fetches the information needed to locate a label in
// bucket's single systematic collection, per the configured retrieval
// scheme: the mapping (Explicit), the Bloom bytes (Bloom), or just the
// element count n (Tree, where locating happens via PIR descent
// directly).
func (s *Scheduler) shapeFor(round uint64, bucket int) (n int, bloomBits []byte, mapping [][]byte, err error) {
	switch s.cfg.Retrieval {
	case config.Explicit:
		m, err := s.channel.GetMapping(round)
		if err != nil {
			return 0, nil, nil, err
		}
		labels := m.Buckets[bucket][0]
		return len(labels), nil, labels, nil
	case config.Bloom:
		b, err := s.channel.GetBloom(round)
		if err != nil {
			return 0, nil, nil, err
		}
		return int(b.Nums[bucket][0]), b.Blooms[bucket][0], nil, nil
	default: // Tree
		shape, err := s.channel.Send(s.id, round, nil)
		if err != nil {
			return 0, nil, nil, err
		}
		if len(shape.Buckets[bucket].Nums) == 0 {
			return 0, nil, nil, nil
		}
		return int(shape.Buckets[bucket].Nums[0]), nil, nil, nil
	}
}

// fetchOne issues the PIR probe(s) needed to resolve one slot (or a
// dummy fill when target is nil) against bucket's systematic
// collection at index collection, decrypts on success, and reports the
// plaintext recovered for target's peer, if any.
func (s *Scheduler) fetchOne(round uint64, bucket, collection, n int, bloomBits []byte, mapping [][]byte, target *slot) (*Received, error) {
	want := randomLabel()
	if target != nil {
		want = target.label
	}

	var (
		idx   uint64
		found bool
		t     tuple.Tuple
		err   error
	)

	switch s.cfg.Retrieval {
	case config.Explicit:
		if i, ok := locateExplicit(mapping, want); ok {
			idx, found = uint64(i), true
		} else {
			idx = uint64(i) % uint64(max(n, 1))
		}
		t, err = fetchAt(s, round, bucket, collection, 0, n, idx)
	case config.Bloom:
		if i, ok := locateBloom(bloomBits, uint64(n), -1, want); ok {
			idx, found = i, true
		} else {
			idx = randomIndex(n)
		}
		t, err = fetchAt(s, round, bucket, collection, 0, n, idx)
	default: // Tree
		var ok bool
		ok, _, t, err = treeDescent(s, round, bucket, collection, n, want)
		found = ok
	}
	if err != nil {
		return nil, err
	}
	if !found || target == nil {
		return nil, nil
	}

	plain, err := secret.Decrypt(target.peer.keys.KE, round, t.Ciphertext(), t.MAC())
	if err != nil {
		return nil, nil // AEAD failure on a per-tuple basis is a drop, not fatal (spec.md §7)
	}
	return &Received{Peer: target.peer.name, Plaintext: plain}, nil
}

