package secret

import (
	"bytes"
	"testing"

	"github.com/pung-project/pung/internal/tuple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeysSymmetric(t *testing.T) {
	s := bytes.Repeat([]byte{0x01}, 32)
	a := DeriveKeys(s)
	b := DeriveKeys(s)
	assert.Equal(t, a, b, "two parties deriving from the same secret get identical keys")
}

func TestDeriveKeysDistinctFields(t *testing.T) {
	k := DeriveKeys(bytes.Repeat([]byte{0x02}, 32))
	assert.NotEqual(t, k.KE, k.KL)
	assert.NotEqual(t, k.KL, k.KL2)
	assert.NotEqual(t, k.KE, k.KL2)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keys := DeriveKeys(bytes.Repeat([]byte{0x03}, 32))
	msg := []byte("hello")

	cipher, mac, err := Encrypt(keys.KE, 0, msg)
	require.NoError(t, err)

	plain, err := Decrypt(keys.KE, 0, cipher[:], mac[:])
	require.NoError(t, err)
	require.Len(t, plain, tuple.CipherSize)

	assert.Equal(t, msg, plain[:len(msg)])
	for _, b := range plain[len(msg):] {
		assert.Equal(t, byte(0), b)
	}
}

func TestEncryptMessageTooLong(t *testing.T) {
	keys := DeriveKeys(bytes.Repeat([]byte{0x04}, 32))
	_, _, err := Encrypt(keys.KE, 0, make([]byte, tuple.CipherSize+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestDecryptWrongRoundFails(t *testing.T) {
	keys := DeriveKeys(bytes.Repeat([]byte{0x05}, 32))
	cipher, mac, err := Encrypt(keys.KE, 5, []byte("hi"))
	require.NoError(t, err)

	_, err = Decrypt(keys.KE, 6, cipher[:], mac[:])
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptTamperedTagFails(t *testing.T) {
	keys := DeriveKeys(bytes.Repeat([]byte{0x06}, 32))
	cipher, mac, err := Encrypt(keys.KE, 0, []byte("hi"))
	require.NoError(t, err)
	mac[0] ^= 0xFF

	_, err = Decrypt(keys.KE, 0, cipher[:], mac[:])
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestUIDsOrdering(t *testing.T) {
	aSelf, aPeer := UIDs("alice", "bob")
	bSelf, bPeer := UIDs("bob", "alice")

	assert.Equal(t, uint64(0), aSelf)
	assert.Equal(t, uint64(1), aPeer)
	assert.Equal(t, uint64(1), bSelf)
	assert.Equal(t, uint64(0), bPeer)

	// symmetry: a's view of b's uid equals b's view of its own uid.
	assert.Equal(t, aPeer, bSelf)
	assert.Equal(t, aSelf, bPeer)
}

func TestUIDsLoopback(t *testing.T) {
	self, peer := UIDs("alice", "alice")
	assert.Equal(t, uint64(0), self)
	assert.Equal(t, uint64(0), peer)
}
