// Package x3dh implements the asynchronous key agreement that bootstraps
// a Mizu session: three X25519 exchanges between identity, signed-prekey,
// and ephemeral keys, folded through HKDF into the Double Ratchet's first
// root key.
//
// One-time prekeys are deliberately omitted: the postal box is kept by a
// smart contract that cannot forge or replay prekeys the way a malicious
// server could. The cost is a weaker forward-secrecy story for the very
// first message — an attacker who later obtains the receiver's identity
// and prekey secrets can replay a captured initial message. Users must be
// told this when a conversation starts.
package x3dh
