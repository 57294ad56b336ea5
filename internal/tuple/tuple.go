// Package tuple implements Pung's on-the-wire storage record: a fixed
// 286-byte concatenation of label, ciphertext, and MAC tag, together
// with the pointwise XOR combine and label-only ordering the batch
// codes and BST layout depend on.
package tuple

import (
	"crypto/rand"

	"github.com/pung-project/pung/internal/label"
)

const (
	// LabelSize is the size, in bytes, of the label prefix of a tuple.
	LabelSize = label.Size
	// CipherSize is the fixed ciphertext size (spec.md §3, §6 CIPHER_SIZE).
	CipherSize = 238
	// MACSize is the fixed AEAD tag size (spec.md §3, §6 MAC_SIZE).
	MACSize = 16
	// Size is the total tuple size: label || ciphertext || MAC (spec.md
	// §3, §6 TUPLE_SIZE).
	Size = LabelSize + CipherSize + MACSize
)

// Tuple is label || ciphertext || MAC, exactly Size bytes. Ordering
// over tuples is defined by label alone: label equality implies tuple
// equality for ordering purposes (spec.md §3).
type Tuple [Size]byte

// New builds a Tuple from its three fields. cipher must be CipherSize
// bytes and mac must be MACSize bytes.
func New(l label.Label, cipher []byte, mac []byte) Tuple {
	if len(cipher) != CipherSize {
		panic("tuple: ciphertext must be CipherSize bytes")
	}
	if len(mac) != MACSize {
		panic("tuple: mac must be MACSize bytes")
	}
	var t Tuple
	copy(t[0:LabelSize], l[:])
	copy(t[LabelSize:LabelSize+CipherSize], cipher)
	copy(t[LabelSize+CipherSize:], mac)
	return t
}

// Label returns the tuple's label.
func (t Tuple) Label() label.Label {
	var l label.Label
	copy(l[:], t[0:LabelSize])
	return l
}

// Ciphertext returns the tuple's ciphertext field.
func (t Tuple) Ciphertext() []byte {
	return t[LabelSize : LabelSize+CipherSize]
}

// MAC returns the tuple's MAC field.
func (t Tuple) MAC() []byte {
	return t[LabelSize+CipherSize:]
}

// XOR returns the pointwise byte XOR of a and b, carried through the
// whole 286-byte record (label, ciphertext, and MAC alike) — this is
// what lets a parity collection's entry recombine into a real tuple,
// per spec.md §3 and testable property 7/8.
func XOR(a, b Tuple) Tuple {
	var out Tuple
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Less reports whether a sorts strictly before b, by label only.
func Less(a, b Tuple) bool {
	return label.Less(a.Label(), b.Label())
}

// Random returns a tuple with a uniformly random label, ciphertext,
// and MAC — used to manufacture indistinguishable padding tuples
// (spec.md §4.9 "extra" padding, SPEC_FULL.md §4) and dummy decoys.
// It never returns an error: crypto/rand.Read only fails on a broken
// system entropy source, which this package treats as fatal like the
// rest of the crypto surface.
func Random() Tuple {
	var t Tuple
	if _, err := rand.Read(t[:]); err != nil {
		panic("tuple: system randomness unavailable: " + err.Error())
	}
	return t
}
