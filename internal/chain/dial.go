package chain

// DialFunc opens a Chain handle acting as the given address. Postal-box
// and poke writes are caller-bound in the contract, so the driver needs
// one handle per local identity; reads may go through any handle.
type DialFunc func(address string) (Chain, error)
