package crypto

import (
	"fmt"

	"mizu/internal/domain"
	"mizu/internal/util/memzero"
)

var infoSeal = []byte("mizu-seal")

// SealBox encrypts plaintext to a recipient identity key with a fresh
// ephemeral key pair: eph_pub(32) || AES-256-GCM ciphertext. The ephemeral
// public key doubles as associated data, so a box cannot be re-addressed.
func SealBox(recipient domain.X25519Public, plaintext []byte) ([]byte, error) {
	eph, err := GenerateX25519()
	if err != nil {
		return nil, err
	}
	shared, err := DH(eph.Priv, recipient)
	if err != nil {
		return nil, err
	}
	key := HKDF(nil, shared[:], infoSeal, 32)
	memzero.Zero(shared[:])
	defer memzero.Zero(key)

	ct, err := Seal(key, 0, eph.Pub.Slice(), plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 32+len(ct))
	out = append(out, eph.Pub.Slice()...)
	out = append(out, ct...)
	memzero.Zero(eph.Priv[:])
	return out, nil
}

// OpenBox opens a sealed box with the recipient's identity private key.
func OpenBox(priv domain.X25519Private, box []byte) ([]byte, error) {
	if len(box) < 32 {
		return nil, fmt.Errorf("sealed box too short: %w", domain.ErrCodec)
	}
	var ephPub domain.X25519Public
	copy(ephPub[:], box[:32])

	shared, err := DH(priv, ephPub)
	if err != nil {
		return nil, err
	}
	key := HKDF(nil, shared[:], infoSeal, 32)
	memzero.Zero(shared[:])
	defer memzero.Zero(key)

	return Open(key, 0, ephPub.Slice(), box[32:])
}
