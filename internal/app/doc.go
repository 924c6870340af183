// Package app loads the client configuration and wires the store, the
// chain transport, and the sync driver together for the CLI.
package app
