// Package chain defines the smart-contract surface Mizu consumes: one
// postal box and one poke list per registered address. The real RPC
// client lives outside this repository; the mock subpackage implements
// the same behavior against sqlite for development and tests.
package chain

import "context"

// Position orders postal-box entries. The contract guarantees strictly
// increasing timestamps per address; the index breaks ties explicitly in
// case that guarantee is ever violated upstream, so the comparator is
// total either way.
type Position struct {
	Timestamp int64  `cbor:"1,keyasint" json:"timestamp"`
	Index     uint64 `cbor:"2,keyasint" json:"index"`
}

// Less reports whether p precedes q in the per-address total order.
func (p Position) Less(q Position) bool {
	if p.Timestamp != q.Timestamp {
		return p.Timestamp < q.Timestamp
	}
	return p.Index < q.Index
}

// Entry is one postal-box entry: opaque content at a contract-assigned
// position.
type Entry struct {
	Position Position
	Content  []byte
}

// UserData is everything the contract stores for one address.
type UserData struct {
	IdentityKey []byte
	Prekey      []byte
	PostalBox   []Entry
	Pokes       [][]byte
}

// Chain is the contract entry-point surface. Reads never mutate; writes
// act on the caller's own storage except Poke, which appends to the
// recipient's poke list.
type Chain interface {
	// Address returns the caller's own address.
	Address() string

	// RetrieveUserData returns the stored data for an address, or nil if
	// the address is not registered.
	RetrieveUserData(ctx context.Context, address string) (*UserData, error)

	// Register publishes the identity key on first call and rotates the
	// prekey on every call. identityKey must be nil after the first call.
	Register(ctx context.Context, identityKey, prekey []byte) error

	// Post appends entries to the caller's postal box and removes entries
	// by strictly ascending indices.
	Post(ctx context.Context, add [][]byte, remove []uint64) error

	// Poke appends data to the recipient's poke list.
	Poke(ctx context.Context, recipient string, data []byte) error

	// RemovePokes removes entries from the caller's own poke list by
	// strictly ascending indices.
	RemovePokes(ctx context.Context, remove []uint64) error
}
