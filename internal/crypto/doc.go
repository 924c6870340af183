// Package crypto is the primitives adapter for the Mizu protocol stack:
// X25519 Diffie-Hellman, the HKDF/HMAC key-derivation schedule,
// AES-256-GCM sealing, Ed25519 address binding, and the sealed-box
// construction used by discovery requests. All functions are pure; no
// state is kept here.
package crypto
