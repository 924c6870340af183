package store

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"mizu/internal/util/memzero"
)

// At-rest framing for key material and session blobs:
//
//	"MZAR" || version(u16 be) || salt(16) || nonce(24) || box
//
// The key is derived from the store passphrase with scrypt; the box is
// sealed with XChaCha20-Poly1305 under a random nonce. The column label
// ("identity-keys" or "session-blob") is bound as associated data so a
// blob lifted from one column cannot be replayed into another.
const restVersion uint16 = 1

var restMagic = [4]byte{'M', 'Z', 'A', 'R'}

const (
	restSaltLen  = 16
	restNonceLen = chacha20poly1305.NonceSizeX
	restHeadLen  = 4 + 2 + restSaltLen + restNonceLen
)

// Column labels bound into the at-rest AEAD.
const (
	adIdentityKeys = "identity-keys"
	adSessionBlob  = "session-blob"
)

var (
	// Returned when the passphrase is incorrect, the blob was moved to a
	// different column, or the ciphertext was modified.
	errWrongPassphrase = errors.New("wrong passphrase or corrupted blob")
)

// scrypt cost for the at-rest key. Interactive-use setting. The parameters
// are not recorded in the blob, so a blob opens only under the same cost
// it was sealed with.
func restScryptCost() (N, r, p int) { return 1 << 15, 8, 1 }

func restKey(passphrase string, salt []byte) ([]byte, error) {
	N, r, p := restScryptCost()
	return scrypt.Key([]byte(passphrase), salt, N, r, p, chacha20poly1305.KeySize)
}

// sealAtRest frames and seals raw under the passphrase, bound to label.
func sealAtRest(passphrase, label string, raw []byte) ([]byte, error) {
	out := make([]byte, restHeadLen, restHeadLen+len(raw)+chacha20poly1305.Overhead)
	copy(out, restMagic[:])
	binary.BigEndian.PutUint16(out[4:6], restVersion)
	salt := out[6 : 6+restSaltLen]
	nonce := out[6+restSaltLen : restHeadLen]
	if _, err := rand.Read(out[6:restHeadLen]); err != nil {
		return nil, err
	}

	key, err := restKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, raw, []byte(label)), nil
}

// openAtRest opens a blob produced by sealAtRest with the same label.
func openAtRest(passphrase, label string, b []byte) ([]byte, error) {
	if len(b) < restHeadLen+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("at-rest blob truncated")
	}
	if [4]byte(b[:4]) != restMagic {
		return nil, fmt.Errorf("at-rest blob magic")
	}
	if v := binary.BigEndian.Uint16(b[4:6]); v != restVersion {
		return nil, fmt.Errorf("unsupported at-rest blob version %d", v)
	}
	salt := b[6 : 6+restSaltLen]
	nonce := b[6+restSaltLen : restHeadLen]

	key, err := restKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	raw, err := aead.Open(nil, nonce, b[restHeadLen:], []byte(label))
	if err != nil {
		return nil, errWrongPassphrase
	}
	return raw, nil
}
