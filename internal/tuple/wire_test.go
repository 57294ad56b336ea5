package tuple

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWireSingle(t *testing.T) {
	orig := Random()
	got, err := DecodeWire(EncodeWire(orig), false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, orig, got[0])
}

func TestDecodeWireAliased(t *testing.T) {
	primary := Random()
	alias := Random()
	wire := EncodeWireAliased(primary, alias)
	assert.Len(t, wire, WireSize(true))

	got, err := DecodeWire(wire, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, primary.Label(), got[0].Label())
	assert.Equal(t, alias.Label(), got[1].Label())
	assert.Equal(t, primary.Ciphertext(), got[0].Ciphertext())
	assert.Equal(t, primary.Ciphertext(), got[1].Ciphertext())
}

func TestDecodeWireBadLength(t *testing.T) {
	_, err := DecodeWire(make([]byte, 10), false)
	assert.ErrorIs(t, err, ErrBadWireLength)
}
