// Package label implements Pung's label algebra: the pseudorandom
// 32-byte pseudonyms under which tuples are deposited, the bucket
// partitioning function over the label space, and the label PRF used
// to derive them from a per-peer secret.
package label

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Size is the length of a label in bytes (spec.md §3, §6 LABEL_SIZE).
const Size = 32

// Label is a 32-byte pseudonym. Comparison is lexicographic over the
// raw bytes (unsigned big-endian), per spec.md §9's interoperability
// requirement — the reference implementation's little-endian 4-limb
// comparison is deliberately not reproduced here.
type Label [Size]byte

// Compare returns -1, 0, or 1 as a sorts before, equals, or sorts
// after b, using unsigned big-endian byte comparison.
func Compare(a, b Label) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts strictly before b.
func Less(a, b Label) bool {
	return Compare(a, b) < 0
}

// Gen computes the label PRF: HMAC-SHA256(k, BE(round,8) || BE(uid,8)
// || BE(msgNum,8) || BE(iter,8)). The output is the full 32-byte MAC
// tag (spec.md §3, §4.2 gen_label).
func Gen(k []byte, round, uid, msgNum, iter uint64) Label {
	var msg [32]byte
	binary.BigEndian.PutUint64(msg[0:8], round)
	binary.BigEndian.PutUint64(msg[8:16], uid)
	binary.BigEndian.PutUint64(msg[16:24], msgNum)
	binary.BigEndian.PutUint64(msg[24:32], iter)

	mac := hmac.New(sha256.New, k)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	var out Label
	copy(out[:], sum)
	return out
}

// Prefix returns the top 32 bits of the label, used by Marker/BucketOf
// to partition the label space (spec.md §3, §4.1).
func (l Label) Prefix() uint32 {
	return binary.BigEndian.Uint32(l[:4])
}

// Marker returns the inclusive upper bound, as a 32-bit prefix, of
// bucket i out of k total buckets: (2^32 / k) * (i+1), per spec.md
// §4.1. The final bucket's marker is pinned to the maximum uint32 so
// that the union of [0, marker(i)] over all buckets always covers the
// full label space even though integer division floors.
func Marker(i, k int) uint32 {
	if k <= 0 || i < 0 || i >= k {
		panic("label: Marker called with out-of-range bucket index")
	}
	if i == k-1 {
		return 0xFFFFFFFF
	}
	step := (uint64(1) << 32) / uint64(k)
	return uint32(step * uint64(i+1))
}

// BucketOf returns the smallest bucket index i, out of k buckets, such
// that label's top-32-bit prefix is <= Marker(i, k) (spec.md §4.1).
func BucketOf(l Label, k int) int {
	if k <= 0 {
		panic("label: BucketOf called with non-positive bucket count")
	}
	p := l.Prefix()
	lo, hi := 0, k-1
	for lo < hi {
		mid := (lo + hi) / 2
		if p <= Marker(mid, k) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}
