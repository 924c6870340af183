// Package commands implements the mizu CLI verbs.
package commands
