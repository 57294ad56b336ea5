package secret

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pung-project/pung/internal/tuple"
)

// ErrMessageTooLong is returned by Encrypt when the plaintext exceeds
// the fixed tuple payload size.
var ErrMessageTooLong = errors.New("secret: message exceeds tuple payload size")

// ErrDecryptFailed wraps any AEAD verification failure. Per spec.md
// §7, this is a per-tuple error: the caller drops the tuple silently
// (it was either a false Bloom hit, an empty dummy slot, or traffic
// not meant for this client) rather than treating it as fatal.
var ErrDecryptFailed = errors.New("secret: AEAD verification failed")

func roundNonce(aead interface{ NonceSize() int }, round uint64) []byte {
	nonce := make([]byte, aead.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], round)
	return nonce
}

// Encrypt pads m on the right with zeros to tuple.CipherSize bytes and
// seals it with ChaCha20-Poly1305 under kE, using a nonce derived from
// round alone (spec.md §3, §4.2): nonce = BE(round, 8) left-padded
// with zero bytes to the AEAD's nonce length. It returns the
// fixed-size ciphertext and MAC tag fields ready to embed in a Tuple.
func Encrypt(kE [32]byte, round uint64, m []byte) (cipher [tuple.CipherSize]byte, mac [tuple.MACSize]byte, err error) {
	if len(m) > tuple.CipherSize {
		err = ErrMessageTooLong
		return
	}
	aead, aeadErr := chacha20poly1305.New(kE[:])
	if aeadErr != nil {
		err = aeadErr
		return
	}

	var padded [tuple.CipherSize]byte
	copy(padded[:], m)

	nonce := roundNonce(aead, round)
	sealed := aead.Seal(nil, nonce, padded[:], nil)
	// Seal appends the tag after the ciphertext; split them back out
	// into the tuple's fixed-size ciphertext and MAC fields.
	copy(cipher[:], sealed[:tuple.CipherSize])
	copy(mac[:], sealed[tuple.CipherSize:])
	return
}

// Decrypt reverses Encrypt: it verifies the MAC tag against (cipher,
// round) under kE and, on success, returns the full CipherSize-byte
// padded plaintext (spec.md §8 property 2). A tag mismatch returns
// ErrDecryptFailed and no plaintext.
func Decrypt(kE [32]byte, round uint64, cipher []byte, mac []byte) ([]byte, error) {
	if len(cipher) != tuple.CipherSize || len(mac) != tuple.MACSize {
		return nil, ErrDecryptFailed
	}
	aead, err := chacha20poly1305.New(kE[:])
	if err != nil {
		return nil, err
	}

	nonce := roundNonce(aead, round)
	sealed := make([]byte, 0, len(cipher)+len(mac))
	sealed = append(sealed, cipher...)
	sealed = append(sealed, mac...)

	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
