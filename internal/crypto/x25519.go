package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"

	"mizu/internal/domain"
)

// ErrSmallSubgroup reports a Diffie-Hellman exchange that produced an
// all-zero shared secret (contributory behavior violated).
var ErrSmallSubgroup = errors.New("x25519 produced an all-zero shared secret")

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (pair domain.X25519Pair, err error) {
	if _, err = rand.Read(pair.Priv[:]); err != nil {
		return
	}
	clamp(&pair.Priv)
	pb, err := curve25519.X25519(pair.Priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pair.Pub[:], pb)
	return
}

// DH computes X25519 Diffie-Hellman and rejects all-zero outputs.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, ErrSmallSubgroup
	}
	copy(out[:], secret)
	return out, nil
}

// Random fills a fresh n-byte slice from the CSPRNG.
func Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func clamp(k *domain.X25519Private) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
