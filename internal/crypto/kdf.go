package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KDF info strings. Changing either breaks every existing session.
var (
	infoX3DH = []byte("mizu-x3dh")
	infoRoot = []byte("mizu-rk")
)

// HKDF expands ikm under salt/info into a key of outLen bytes (RFC 5869,
// SHA-256). A nil salt is treated as a zero-filled one by the hash.
func HKDF(salt, ikm, info []byte, outLen int) []byte {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		// Only reachable for absurd outLen; keep the signature clean.
		panic("hkdf: " + err.Error())
	}
	return out
}

// KDFInitial derives the 32-byte X3DH shared secret from the concatenated
// Diffie-Hellman outputs.
func KDFInitial(dhConcat []byte) []byte {
	return HKDF(nil, dhConcat, infoX3DH, 32)
}

// KDFRoot advances the root key with a DH ratchet output, yielding the new
// root key and a chain key.
func KDFRoot(rk, dhOut []byte) (newRK, ck []byte) {
	okm := HKDF(rk, dhOut, infoRoot, 64)
	return okm[:32], okm[32:]
}

// KDFChain advances a chain key, yielding the next chain key and the
// message key for the current position.
func KDFChain(ck []byte) (nextCK, mk []byte) {
	return hmacSum(ck, []byte{0x02}), hmacSum(ck, []byte{0x01})
}

func hmacSum(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
