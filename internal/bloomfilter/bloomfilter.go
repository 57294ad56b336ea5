// Package bloomfilter implements the small, fixed-false-positive-rate
// Bloom filter Pung builds over a collection's (index, label) or
// (index, flag, label) keys for Bloom-mode retrieval (spec.md §2, §4.5,
// §4.8).
package bloomfilter

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// FP is the fixed target false-positive rate (spec.md §6 BLOOM_FP).
const FP = 1e-5

// NumHashes is the number of hash functions used per key. For a fixed
// false-positive target p, the optimal number of hash functions is
// -log2(p) regardless of the number of elements inserted — so unlike
// the bit-array size, it does not need to travel on the wire next to
// the filter, which is what lets a client reconstruct a usable filter
// from nothing but the raw bit-vector bytes in a get_bloom reply.
var NumHashes = int(math.Ceil(-math.Log2(FP)))

// bitsPerElement is the optimal number of bits per inserted element
// for the target false-positive rate.
var bitsPerElement = -math.Log2(FP) / math.Ln2

// SizeFor returns the number of bits a filter sized for n elements at
// the fixed FP target should have.
func SizeFor(n int) uint64 {
	if n <= 0 {
		return 8
	}
	m := uint64(math.Ceil(float64(n) * bitsPerElement))
	// Round up to whole bytes: FromBytes infers m as len(bytes)*8, and
	// any other m would hash keys to different bit positions.
	return (m + 7) / 8 * 8
}

// Filter is a bit-array Bloom filter addressed by double hashing
// (Kirsch–Mitzenmacher): a key's NumHashes probe positions are
// h1 + i*h2 (mod m) for i in [0, NumHashes), where h1, h2 come from a
// single SHA-256 of the key.
type Filter struct {
	bits []byte
	m    uint64
}

// New creates an empty filter sized for n elements at the package's
// fixed false-positive target.
func New(n int) *Filter {
	m := SizeFor(n)
	return &Filter{bits: make([]byte, (m+7)/8), m: m}
}

// FromBytes wraps raw bit-vector bytes (as returned by get_bloom) into
// a queryable Filter. The bit count is inferred from the byte length;
// NumHashes is the fixed package constant.
func FromBytes(b []byte) *Filter {
	return &Filter{bits: b, m: uint64(len(b)) * 8}
}

// Bytes returns the filter's raw bit-vector, suitable for a get_bloom
// reply.
func (f *Filter) Bytes() []byte {
	return f.bits
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := hashPair(key)
	for i := 0; i < NumHashes; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		f.bits[idx/8] |= 1 << (idx % 8)
	}
}

// Test reports whether key may be present (true positives always
// match; false positives occur at roughly the package's FP rate).
func (f *Filter) Test(key []byte) bool {
	if f.m == 0 {
		return false
	}
	h1, h2 := hashPair(key)
	for i := 0; i < NumHashes; i++ {
		idx := (h1 + uint64(i)*h2) % f.m
		if f.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

func hashPair(key []byte) (uint64, uint64) {
	sum := sha256.Sum256(key)
	h1 := binary.BigEndian.Uint64(sum[0:8])
	h2 := binary.BigEndian.Uint64(sum[8:16])
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

// IndexLabelKey builds the (index, label) key used for the
// Normal/Aliasing/Hybrid2 Bloom variant (spec.md §4.5).
func IndexLabelKey(index uint64, label []byte) []byte {
	key := make([]byte, 8+len(label))
	binary.BigEndian.PutUint64(key[0:8], index)
	copy(key[8:], label)
	return key
}

// IndexFlagLabelKey builds the (index, flag, label) key used for the
// Hybrid4 Bloom variant, where flag distinguishes which of the four
// systematic collections the label belongs to (spec.md §2, §4.8).
func IndexFlagLabelKey(index uint64, flag byte, label []byte) []byte {
	key := make([]byte, 8+1+len(label))
	binary.BigEndian.PutUint64(key[0:8], index)
	key[8] = flag
	copy(key[9:], label)
	return key
}
