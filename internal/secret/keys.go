// Package secret implements Pung's client-side cryptography: deriving
// (k_E, k_L, k_L2) from a shared secret, the fixed-size tuple AEAD,
// and peer uid assignment (spec.md §4.2, §4.3).
package secret

import (
	"crypto/sha256"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Keys holds the three 32-byte keys derived from a shared secret:
// k_E for tuple encryption, k_L for primary labels, k_L2 for alias
// labels under Aliasing/Hybrid* (spec.md §4.2).
type Keys struct {
	KE  [32]byte
	KL  [32]byte
	KL2 [32]byte
}

// DeriveKeys runs HKDF-Extract(salt=∅, IKM=S) followed by
// HKDF-Expand(PRK, info=∅, L=96), split into three 32-byte keys in
// (k_E, k_L, k_L2) order. Two peers deriving from the same shared
// secret S obtain byte-identical Keys (spec.md §8 property 3);
// grounded on the teacher's crypto.go hkdfBytes helper, generalized
// from a single output key to the spec's three.
func DeriveKeys(s []byte) Keys {
	prk := hkdf.Extract(sha256.New, s, nil)
	r := hkdf.Expand(sha256.New, prk, nil)

	var okm [96]byte
	if _, err := io.ReadFull(r, okm[:]); err != nil {
		panic("secret: hkdf expand failed: " + err.Error())
	}

	var k Keys
	copy(k.KE[:], okm[0:32])
	copy(k.KL[:], okm[32:64])
	copy(k.KL2[:], okm[64:96])
	return k
}

// UIDs returns (selfUID, peerUID) for a client named self talking to a
// client named peer sharing one secret, per spec.md §4.3: the
// lexicographically smaller name gets uid 0 and the other gets uid 1;
// a loopback pair (self == peer) both get uid 0. This guarantees both
// sides agree on which label stream belongs to which direction
// (spec.md §8 property 4).
func UIDs(self, peer string) (selfUID, peerUID uint64) {
	switch {
	case self == peer:
		return 0, 0
	case strings.Compare(self, peer) < 0:
		return 0, 1
	default:
		return 1, 0
	}
}
