package scheduler

import (
	"crypto/rand"

	"github.com/pung-project/pung/internal/label"
	"github.com/pung-project/pung/internal/secret"
)

// peerState is one peer relationship's label/key stream: the derived
// keys shared with that peer, the uid assignment agreed by §4.3, and
// the running "how many have I sent/asked for" counters that pick the
// next label in gen_label's (round, uid, msg_num, iter) stream.
type peerState struct {
	name string
	keys secret.Keys

	selfUID uint64
	peerUID uint64

	sendCounter     uint64
	retrieveCounter uint64
}

// dummyName is never a valid peer name a caller can register (it
// starts with a NUL byte); the dummy peer's labels are never checked
// against anything, they just need to look like any other label
// stream to a passive observer (spec.md §4.7 point 3).
const dummyName = "\x00dummy"

func newPeerState(name string, shared []byte, selfUID, peerUID uint64) *peerState {
	return &peerState{
		name:    name,
		keys:    secret.DeriveKeys(shared),
		selfUID: selfUID,
		peerUID: peerUID,
	}
}

func newDummyPeer() *peerState {
	var s [32]byte
	if _, err := rand.Read(s[:]); err != nil {
		panic("scheduler: system randomness unavailable: " + err.Error())
	}
	return newPeerState(dummyName, s[:], 0, 0)
}

// sendLabel returns the primary label a message to this peer uses for
// send slot msgNum this round, and — under Aliasing/Hybrid* — an alias
// label guaranteed to fall in a different bucket, incrementing the
// collision counter per spec.md §4.4 until that postcondition holds.
func sendLabel(p *peerState, round, msgNum uint64, aliasing bool, numBuckets int) (l1 label.Label, l2 *label.Label) {
	l1 = label.Gen(p.keys.KL[:], round, p.peerUID, msgNum, 0)
	if !aliasing {
		return l1, nil
	}
	b1 := label.BucketOf(l1, numBuckets)
	for iter := uint64(0); ; iter++ {
		cand := label.Gen(p.keys.KL2[:], round, p.peerUID, msgNum, iter)
		if label.BucketOf(cand, numBuckets) != b1 {
			return l1, &cand
		}
	}
}

// retrieveLabel returns the label a client expects a peer's msgNum-th
// message to it to carry this round — gen_label evaluated at the
// client's own uid, matching the sender's use of peer_uid_peer for the
// same stream (spec.md §4.3, §4.7 point 1).
func retrieveLabel(p *peerState, round, msgNum uint64) label.Label {
	return label.Gen(p.keys.KL[:], round, p.selfUID, msgNum, 0)
}

// retrieveAliasLabel is retrieveLabel's L2 counterpart, recomputing the
// same collision-resolution walk the sender used so both sides agree
// on which alias label was actually sent.
func retrieveAliasLabel(p *peerState, round, msgNum uint64, numBuckets int) label.Label {
	l1 := retrieveLabel(p, round, msgNum)
	b1 := label.BucketOf(l1, numBuckets)
	for iter := uint64(0); ; iter++ {
		cand := label.Gen(p.keys.KL2[:], round, p.selfUID, msgNum, iter)
		if label.BucketOf(cand, numBuckets) != b1 {
			return cand
		}
	}
}
