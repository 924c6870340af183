package ratchet

import (
	"errors"

	"mizu/internal/crypto"
	"mizu/internal/domain"
	"mizu/internal/util/memzero"
	"mizu/internal/wire"
)

// MaxSkip bounds the total number of cached skipped message keys across
// all receiving chains of one session.
const MaxSkip = 1000

var errNoSendingChain = errors.New("sending chain is uninitialised")

// SkippedEntry is one cached message key for a receiving-chain position
// that was jumped over by a DH ratchet step.
type SkippedEntry struct {
	DHr domain.X25519Public `cbor:"1,keyasint"`
	N   uint32              `cbor:"2,keyasint"`
	MK  []byte              `cbor:"3,keyasint"`
}

// State is the full Double Ratchet state. All fields are exported for the
// session blob codec; mutate only through Encrypt and Decrypt.
type State struct {
	RootKey []byte               `cbor:"1,keyasint"`
	DHs     domain.X25519Pair    `cbor:"2,keyasint"`
	DHr     *domain.X25519Public `cbor:"3,keyasint,omitempty"`

	CKs []byte `cbor:"4,keyasint,omitempty"`
	CKr []byte `cbor:"5,keyasint,omitempty"`

	Ns uint32 `cbor:"6,keyasint"`
	Nr uint32 `cbor:"7,keyasint"`
	PN uint32 `cbor:"8,keyasint"`

	Skipped []SkippedEntry `cbor:"9,keyasint,omitempty"`
}

// Initiate seeds a ratchet as the session initiator: a fresh ratchet pair
// is generated and the sending chain is keyed against the responder's
// signed prekey, which doubles as their first ratchet key.
func Initiate(secret []byte, remotePrekey domain.X25519Public) (*State, error) {
	pair, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	shared, err := crypto.DH(pair.Priv, remotePrekey)
	if err != nil {
		return nil, err
	}
	rk, cks := crypto.KDFRoot(secret, shared[:])
	memzero.Zero32(&shared)

	remote := remotePrekey
	return &State{
		RootKey: rk,
		DHs:     pair,
		DHr:     &remote,
		CKs:     cks,
	}, nil
}

// Respond seeds a ratchet as the responder. The signed prekey pair the
// initial message targeted becomes our first ratchet pair; both chains
// start empty and the first Decrypt performs the DH step.
func Respond(secret []byte, prekey domain.X25519Pair) *State {
	return &State{
		RootKey: append([]byte(nil), secret...),
		DHs:     prekey,
	}
}

// Encrypt derives the next sending message key, builds the clear header,
// and seals the plaintext with ad || header as associated data.
func (s *State) Encrypt(ad, plaintext []byte) (wire.Header, []byte, error) {
	if s.CKs == nil {
		// Fresh responder: start our first sending chain now.
		if s.DHr == nil {
			return wire.Header{}, nil, errNoSendingChain
		}
		pair, err := crypto.GenerateX25519()
		if err != nil {
			return wire.Header{}, nil, err
		}
		shared, err := crypto.DH(pair.Priv, *s.DHr)
		if err != nil {
			return wire.Header{}, nil, err
		}
		s.PN = s.Ns
		s.Ns = 0
		s.DHs = pair
		s.RootKey, s.CKs = crypto.KDFRoot(s.RootKey, shared[:])
		memzero.Zero32(&shared)
	}

	var mk []byte
	s.CKs, mk = crypto.KDFChain(s.CKs)
	defer memzero.Zero(mk)

	h := wire.Header{DHPub: s.DHs.Pub, PN: s.PN, N: s.Ns}
	ct, err := crypto.Seal(mk, 0, append(append([]byte(nil), ad...), h.Bytes()...), plaintext)
	if err != nil {
		return wire.Header{}, nil, err
	}
	s.Ns++
	return h, ct, nil
}

// Decrypt opens a ratchet message. It is transactional: all work happens
// on a copy of the state, and the copy replaces the state only after the
// AEAD accepts the ciphertext. A malformed or hostile entry therefore
// leaves the session exactly as it was.
func (s *State) Decrypt(h wire.Header, ad, ciphertext []byte) ([]byte, error) {
	fullAD := append(append([]byte(nil), ad...), h.Bytes()...)

	next := s.clone()

	// Skipped key for this exact position?
	if mk, ok := next.takeSkipped(h.DHPub, h.N); ok {
		pt, err := crypto.Open(mk, 0, fullAD, ciphertext)
		memzero.Zero(mk)
		if err != nil {
			return nil, err
		}
		*s = *next
		return pt, nil
	}

	// New remote ratchet key: close out the old receiving chain, then step.
	if next.DHr == nil || h.DHPub != *next.DHr {
		if err := next.skipTo(h.PN); err != nil {
			return nil, err
		}
		if err := next.dhStep(h.DHPub); err != nil {
			return nil, err
		}
	}

	if err := next.skipTo(h.N); err != nil {
		return nil, err
	}
	if next.CKr == nil {
		return nil, domain.ErrHeaderInvalid
	}

	var mk []byte
	next.CKr, mk = crypto.KDFChain(next.CKr)
	next.Nr++

	pt, err := crypto.Open(mk, 0, fullAD, ciphertext)
	memzero.Zero(mk)
	if err != nil {
		return nil, err
	}
	*s = *next
	return pt, nil
}

// dhStep installs a new remote ratchet key: re-key the receiving chain,
// generate a fresh sending pair, and re-key the sending chain.
func (st *State) dhStep(remote domain.X25519Public) error {
	shared, err := crypto.DH(st.DHs.Priv, remote)
	if err != nil {
		return err
	}
	st.PN = st.Ns
	st.Ns = 0
	st.Nr = 0
	r := remote
	st.DHr = &r
	st.RootKey, st.CKr = crypto.KDFRoot(st.RootKey, shared[:])
	memzero.Zero32(&shared)

	pair, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	shared, err = crypto.DH(pair.Priv, remote)
	if err != nil {
		return err
	}
	st.DHs = pair
	st.RootKey, st.CKs = crypto.KDFRoot(st.RootKey, shared[:])
	memzero.Zero32(&shared)
	return nil
}

// skipTo caches message keys for receiving positions [Nr, until). The
// bound covers both the distance of one jump and the total cache size.
func (st *State) skipTo(until uint32) error {
	if uint64(st.Nr)+MaxSkip < uint64(until) {
		return domain.ErrTooManySkipped
	}
	if st.CKr == nil || st.DHr == nil {
		return nil
	}
	for st.Nr < until {
		if len(st.Skipped) >= MaxSkip {
			return domain.ErrTooManySkipped
		}
		var mk []byte
		st.CKr, mk = crypto.KDFChain(st.CKr)
		st.Skipped = append(st.Skipped, SkippedEntry{DHr: *st.DHr, N: st.Nr, MK: mk})
		st.Nr++
	}
	return nil
}

func (st *State) takeSkipped(dhr domain.X25519Public, n uint32) ([]byte, bool) {
	for i, e := range st.Skipped {
		if e.DHr == dhr && e.N == n {
			st.Skipped = append(st.Skipped[:i], st.Skipped[i+1:]...)
			if len(st.Skipped) == 0 {
				st.Skipped = nil
			}
			return e.MK, true
		}
	}
	return nil, false
}

func (st *State) clone() *State {
	c := *st
	c.RootKey = append([]byte(nil), st.RootKey...)
	c.CKs = append([]byte(nil), st.CKs...)
	c.CKr = append([]byte(nil), st.CKr...)
	if st.DHr != nil {
		r := *st.DHr
		c.DHr = &r
	}
	// An empty cache stays nil so the session blob round-trips identically.
	c.Skipped = nil
	for _, e := range st.Skipped {
		e.MK = append([]byte(nil), e.MK...)
		c.Skipped = append(c.Skipped, e)
	}
	return &c
}
