package domain

// Identity is a locally owned account: the long-term identity key pair,
// the current and previous signed prekey pairs, an Ed25519 pair binding
// the identity key to the owning address, and the address itself.
//
// The identity key is immutable after creation. The prekey rotates; the
// previous pair is kept so initial messages targeting the prior prekey
// remain readable across one rotation.
type Identity struct {
	ID      int64  `json:"-"`
	Name    string `json:"name"`
	Address string `json:"address"`

	IdentityKey X25519Pair  `json:"identity_key"`
	Prekey      X25519Pair  `json:"prekey"`
	PrevPrekey  *X25519Pair `json:"prev_prekey,omitempty"`

	SigningPub  Ed25519Public  `json:"signing_pub"`
	SigningPriv Ed25519Private `json:"signing_priv"`
}

// Contact is a remote identity observed by the local user. IdentityKey is
// pinned at add time; Prekey is refreshed on every fetch.
type Contact struct {
	ID          int64
	Name        string
	Address     string
	IdentityKey X25519Public
	Prekey      X25519Public
}

// PendingContact is a sender surfaced by a valid discovery request,
// awaiting user approval.
type PendingContact struct {
	IdentityID int64
	Address    string
}

// PlainMessage is a decrypted (or locally authored) message record.
// Records are append-only; the store never mutates them.
type PlainMessage struct {
	ID         int64
	IdentityID int64
	ContactID  int64
	Content    []byte
	Outbound   bool
	Timestamp  int64
}
