// Package ratchet implements the Double Ratchet over a Mizu session's
// shared secret. The transport (a blockchain postal box) delivers every
// entry exactly once and in order per sender, so the skipped-key cache
// only fills when an entry of a chain is not decrypted (for example one
// that failed authentication) and a later one is; the cache is still
// bounded and decryption is transactional so a hostile entry on the
// public log can never corrupt a session.
package ratchet
