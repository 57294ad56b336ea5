package tuple

import (
	"errors"

	"github.com/pung-project/pung/internal/label"
)

// ErrBadWireLength is returned by DecodeWire when the input isn't
// exactly the expected send-tuple wire size (spec.md §6).
var ErrBadWireLength = errors.New("tuple: bad wire length")

// WireSize returns the on-the-wire size of one send tuple: label (plus
// a second alias label, under Aliasing/Hybrid*) followed by ciphertext
// and MAC (spec.md §6: 286 bytes normally, 318 aliased).
func WireSize(aliasing bool) int {
	if aliasing {
		return 2*LabelSize + CipherSize + MACSize
	}
	return Size
}

// DecodeWire parses one send-tuple wire record into one Tuple, or two
// sharing the same ciphertext and MAC under two different labels when
// aliasing is in effect (spec.md §4.4, §6). Both returned tuples, when
// present, must be installed into the database — aliasing is what lets
// a single message be found via either of two (bucket, label) paths.
func DecodeWire(b []byte, aliasing bool) ([]Tuple, error) {
	if len(b) != WireSize(aliasing) {
		return nil, ErrBadWireLength
	}
	if !aliasing {
		var t Tuple
		copy(t[:], b)
		return []Tuple{t}, nil
	}

	var l1, l2 label.Label
	copy(l1[:], b[0:LabelSize])
	copy(l2[:], b[LabelSize:2*LabelSize])
	cipher := b[2*LabelSize : 2*LabelSize+CipherSize]
	mac := b[2*LabelSize+CipherSize:]
	return []Tuple{New(l1, cipher, mac), New(l2, cipher, mac)}, nil
}

// EncodeWire is DecodeWire's inverse for a single, non-aliased tuple —
// used by the client when sending under Normal/no-aliasing schemes.
func EncodeWire(t Tuple) []byte {
	out := make([]byte, Size)
	copy(out, t[:])
	return out
}

// EncodeWireAliased builds the aliased wire form of a send tuple from
// its two same-ciphertext tuples.
func EncodeWireAliased(primary, alias Tuple) []byte {
	out := make([]byte, WireSize(true))
	l1 := primary.Label()
	l2 := alias.Label()
	copy(out[0:LabelSize], l1[:])
	copy(out[LabelSize:2*LabelSize], l2[:])
	copy(out[2*LabelSize:2*LabelSize+CipherSize], primary.Ciphertext())
	copy(out[2*LabelSize+CipherSize:], primary.MAC())
	return out
}
