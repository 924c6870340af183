package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"mizu/internal/domain"
)

// GenerateEd25519 returns a new Ed25519 signing key pair.
func GenerateEd25519() (priv domain.Ed25519Private, pub domain.Ed25519Public, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return priv, pub, err
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	return priv, pub, nil
}

// SignAddrBind signs address || identity-key to bind a Mizu identity key
// to the chain address that owns the postal box.
func SignAddrBind(priv domain.Ed25519Private, address string, identityKey domain.X25519Public) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv[:]), bindMessage(address, identityKey))
}

// VerifyAddrBind verifies an address binding signature.
func VerifyAddrBind(pub domain.Ed25519Public, address string, identityKey domain.X25519Public, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), bindMessage(address, identityKey), sig)
}

func bindMessage(address string, identityKey domain.X25519Public) []byte {
	msg := make([]byte, 0, len(address)+32)
	msg = append(msg, address...)
	msg = append(msg, identityKey[:]...)
	return msg
}
