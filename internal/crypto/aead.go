package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"mizu/internal/domain"
)

// NonceSize is the AES-GCM nonce length.
const NonceSize = 12

// Seal encrypts plaintext under a 32-byte key with AES-256-GCM.
// Message keys are single-use, so callers pass a fixed counter (usually 0)
// rather than a random nonce.
func Seal(key []byte, counter uint32, ad, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce(counter), plaintext, ad), nil
}

// Open decrypts an AES-256-GCM ciphertext. Authentication failures are
// reported as domain.ErrAuthFail so callers can distinguish them from
// programming errors.
func Open(key []byte, counter uint32, ad, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce(counter), ciphertext, ad)
	if err != nil {
		return nil, domain.ErrAuthFail
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func nonce(counter uint32) []byte {
	n := make([]byte, NonceSize)
	binary.BigEndian.PutUint32(n[NonceSize-4:], counter)
	return n
}
