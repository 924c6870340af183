// Package wire encodes and decodes the fixed binary envelopes stored in
// postal boxes: initial messages, ratchet messages, and discovery
// requests.
package wire
