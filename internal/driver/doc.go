// Package driver runs the Mizu control loop: it fetches new postal-box
// entries for every (identity, contact) pair, feeds them through the
// session machine under a per-pair lock, scans poke lists for discovery
// requests, and batches outbound envelopes into postal-box writes.
package driver
