package session

import (
	"bytes"
	"errors"
	"fmt"

	"mizu/internal/chain"
	"mizu/internal/domain"
	"mizu/internal/protocol/ratchet"
	"mizu/internal/protocol/x3dh"
	"mizu/internal/util/memzero"
	"mizu/internal/wire"
)

// State is the lifecycle position of a session.
type State uint8

const (
	// None: no key agreement has happened.
	None State = iota
	// AwaitingResponse: we sent an initial message and have not yet seen
	// any payload from the peer.
	AwaitingResponse
	// PeerInitiated: the peer's initial message arrived before we ever
	// sent one; the responder half is installed.
	PeerInitiated
	// Established: both sides have exchanged at least one payload.
	Established
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case AwaitingResponse:
		return "awaiting-response"
	case PeerInitiated:
		return "peer-initiated"
	case Established:
		return "established"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Session is the state machine for one (local identity, remote contact)
// pair. The serialized blob is the only persistent authority; callers
// hold an in-memory copy only for the duration of one logical operation.
type Session struct {
	State   State          `cbor:"1,keyasint"`
	Ratchet *ratchet.State `cbor:"2,keyasint,omitempty"`

	// Initiator material, kept while our initial message is
	// unacknowledged so every send can keep re-wrapping it.
	InitialEK         domain.X25519Public `cbor:"3,keyasint"`
	InitialPrekeyUsed domain.X25519Public `cbor:"4,keyasint"`

	// EK of the initial message we accepted as responder, for duplicate
	// detection.
	AcceptedEK *domain.X25519Public `cbor:"5,keyasint,omitempty"`

	Quarantined bool `cbor:"6,keyasint"`

	// HWM is the position of the newest consumed entry in the contact's
	// postal box.
	HWM chain.Position `cbor:"7,keyasint"`
}

// New returns an empty session in state None.
func New() *Session { return &Session{} }

// Encrypt produces the wire envelope for one outgoing payload and
// advances the session accordingly. Outgoing envelopes land in our own
// postal box, so the high-water mark (which tracks the contact's box) is
// untouched.
func (s *Session) Encrypt(id *domain.Identity, contact *domain.Contact, plaintext []byte) ([]byte, error) {
	if s.Quarantined {
		return nil, domain.ErrQuarantined
	}
	ad := x3dh.AssociatedData(id.IdentityKey.Pub, contact.IdentityKey)

	switch s.State {
	case None:
		secret, ek, err := x3dh.Initiate(id.IdentityKey, contact.IdentityKey, contact.Prekey)
		if err != nil {
			return nil, fmt.Errorf("x3dh initiate: %w", err)
		}
		rst, err := ratchet.Initiate(secret, contact.Prekey)
		memzero.Zero(secret)
		if err != nil {
			return nil, err
		}
		h, ct, err := rst.Encrypt(ad, plaintext)
		if err != nil {
			return nil, err
		}
		s.Ratchet = rst
		s.InitialEK = ek
		s.InitialPrekeyUsed = contact.Prekey
		s.State = AwaitingResponse
		return wire.EncodeInitial(id.IdentityKey.Pub, ek, contact.Prekey, h, ct), nil

	case AwaitingResponse:
		// Still unacknowledged: keep wrapping ratchet payloads in the
		// original initial header so the peer can bootstrap from any of
		// them.
		h, ct, err := s.Ratchet.Encrypt(ad, plaintext)
		if err != nil {
			return nil, err
		}
		return wire.EncodeInitial(id.IdentityKey.Pub, s.InitialEK, s.InitialPrekeyUsed, h, ct), nil

	case PeerInitiated, Established:
		h, ct, err := s.Ratchet.Encrypt(ad, plaintext)
		if err != nil {
			return nil, err
		}
		return wire.EncodeRatchet(h, ct), nil

	default:
		return nil, fmt.Errorf("encrypt in %s: %w", s.State, domain.ErrCodec)
	}
}

// Receive feeds one incoming envelope from the contact's postal box at
// the given position. On every outcome except a fatal quarantine the
// high-water mark advances past the envelope, so a poisoned entry is
// never retried. The returned plaintext is nil whenever err is non-nil.
func (s *Session) Receive(id *domain.Identity, contact *domain.Contact, env *wire.Envelope, pos chain.Position) ([]byte, error) {
	if !s.HWM.Less(pos) {
		return nil, fmt.Errorf("position already consumed: %w", domain.ErrDuplicateEnvelope)
	}
	if s.Quarantined {
		return nil, domain.ErrQuarantined
	}

	switch env.Tag {
	case wire.TagInitial:
		return s.receiveInitial(id, contact, env, pos)
	case wire.TagRatchet:
		return s.receiveRatchet(id, contact, env, pos)
	default:
		s.HWM = pos
		return nil, fmt.Errorf("envelope tag 0x%02x in session path: %w", env.Tag, domain.ErrCodec)
	}
}

func (s *Session) receiveInitial(id *domain.Identity, contact *domain.Contact, env *wire.Envelope, pos chain.Position) ([]byte, error) {
	if env.SenderIK != contact.IdentityKey {
		s.HWM = pos
		return nil, fmt.Errorf("initial message identity key does not match contact: %w", domain.ErrProtocolReplay)
	}

	switch s.State {
	case None:
		pt, rst, ek, err := acceptInitial(id, env)
		if err != nil {
			s.HWM = pos
			return nil, err
		}
		s.Ratchet = rst
		s.AcceptedEK = &ek
		s.State = PeerInitiated
		s.HWM = pos
		return pt, nil

	case AwaitingResponse:
		// Both sides initiated. The initial message with the
		// lexicographically smaller (sender identity key, ephemeral key)
		// pair is discarded; both sides see both envelopes and converge.
		ours := tieBreakKey(id.IdentityKey.Pub, s.InitialEK)
		theirs := tieBreakKey(env.SenderIK, env.EK)
		if bytes.Compare(theirs, ours) < 0 {
			// Their initial loses. Consume the entry without installing
			// any of its state; its chain is dead on both sides.
			s.HWM = pos
			return nil, fmt.Errorf("losing concurrent initial: %w", domain.ErrProtocolReplay)
		}
		// Our initial loses: drop the initiator ratchet, become responder.
		pt, rst, ek, err := acceptInitial(id, env)
		if err != nil {
			// Invalid winning envelope; keep our initiator state.
			s.HWM = pos
			return nil, err
		}
		s.Ratchet = rst
		s.AcceptedEK = &ek
		s.InitialEK = domain.X25519Public{}
		s.InitialPrekeyUsed = domain.X25519Public{}
		s.State = PeerInitiated
		s.HWM = pos
		return pt, nil

	case PeerInitiated, Established:
		if s.AcceptedEK != nil && env.EK == *s.AcceptedEK {
			// The X3DH header is a duplicate of the one we accepted; the
			// sender just has not seen a reply yet. The ratchet payload
			// inside is new and rides the existing session. The wrapped
			// header proves the peer has not decrypted anything of ours,
			// so this never promotes the state to Established.
			return s.decryptRatchet(id, contact, env, pos, false)
		}
		s.HWM = pos
		// A different initial never tears down an established session.
		return nil, fmt.Errorf("initial message against %s session: %w", s.State, domain.ErrProtocolReplay)

	default:
		s.HWM = pos
		return nil, domain.ErrCodec
	}
}

func (s *Session) receiveRatchet(id *domain.Identity, contact *domain.Contact, env *wire.Envelope, pos chain.Position) ([]byte, error) {
	if s.State == None {
		s.HWM = pos
		return nil, domain.ErrNoSession
	}
	// A bare ratchet envelope means the peer decrypted one of our
	// payloads and stopped wrapping; the session is acknowledged.
	return s.decryptRatchet(id, contact, env, pos, true)
}

func (s *Session) decryptRatchet(id *domain.Identity, contact *domain.Contact, env *wire.Envelope, pos chain.Position, acknowledged bool) ([]byte, error) {
	ad := x3dh.AssociatedData(contact.IdentityKey, id.IdentityKey.Pub)
	pt, err := s.Ratchet.Decrypt(env.Header, ad, env.Ciphertext)
	if err != nil {
		if errors.Is(err, domain.ErrTooManySkipped) {
			// Fatal: the session needs a user reset.
			s.Quarantined = true
			return nil, err
		}
		s.HWM = pos
		return nil, err
	}

	if acknowledged {
		s.State = Established
		s.InitialEK = domain.X25519Public{}
		s.InitialPrekeyUsed = domain.X25519Public{}
	}
	s.HWM = pos
	return pt, nil
}

// acceptInitial runs the responder half of the handshake and decrypts the
// embedded first payload. Nothing is installed on failure.
func acceptInitial(id *domain.Identity, env *wire.Envelope) ([]byte, *ratchet.State, domain.X25519Public, error) {
	secret, prekey, err := x3dh.Respond(id, env.SenderIK, env.EK, env.PrekeyUsed)
	if err != nil {
		return nil, nil, domain.X25519Public{}, err
	}
	rst := ratchet.Respond(secret, prekey)
	memzero.Zero(secret)

	ad := x3dh.AssociatedData(env.SenderIK, id.IdentityKey.Pub)
	pt, err := rst.Decrypt(env.Header, ad, env.Ciphertext)
	if err != nil {
		return nil, nil, domain.X25519Public{}, fmt.Errorf("first payload: %w", domain.ErrX3DHAuth)
	}
	return pt, rst, env.EK, nil
}

func tieBreakKey(ik, ek domain.X25519Public) []byte {
	k := make([]byte, 0, 64)
	k = append(k, ik[:]...)
	k = append(k, ek[:]...)
	return k
}
