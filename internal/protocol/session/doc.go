// Package session owns the per-(identity, contact) protocol state: when
// to run X3DH, which side's initial message survives a simultaneous
// initiation, how payloads are encrypted and decrypted, and how the whole
// state round-trips through a versioned opaque blob.
package session
