// Package domain holds the shared types of the Mizu protocol stack:
// fixed-size key types, identity and contact records, and the sentinel
// errors every layer reports with.
package domain
