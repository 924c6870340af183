package x3dh_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mizu/internal/crypto"
	"mizu/internal/domain"
	"mizu/internal/protocol/x3dh"
)

func newIdentity(t *testing.T) *domain.Identity {
	t.Helper()
	ik, err := crypto.GenerateX25519()
	require.NoError(t, err)
	pk, err := crypto.GenerateX25519()
	require.NoError(t, err)
	return &domain.Identity{IdentityKey: ik, Prekey: pk}
}

func TestAgreement(t *testing.T) {
	alice := newIdentity(t)
	bob := newIdentity(t)

	secret, ek, err := x3dh.Initiate(alice.IdentityKey, bob.IdentityKey.Pub, bob.Prekey.Pub)
	require.NoError(t, err)
	require.Len(t, secret, 32)

	got, prekey, err := x3dh.Respond(bob, alice.IdentityKey.Pub, ek, bob.Prekey.Pub)
	require.NoError(t, err)
	require.Equal(t, secret, got)
	require.Equal(t, bob.Prekey, prekey)
}

func TestPreviousPrekeyAccepted(t *testing.T) {
	alice := newIdentity(t)
	bob := newIdentity(t)

	secret, ek, err := x3dh.Initiate(alice.IdentityKey, bob.IdentityKey.Pub, bob.Prekey.Pub)
	require.NoError(t, err)

	// Bob rotates before the initial message arrives.
	old := bob.Prekey
	bob.PrevPrekey = &old
	fresh, err := crypto.GenerateX25519()
	require.NoError(t, err)
	bob.Prekey = fresh

	got, prekey, err := x3dh.Respond(bob, alice.IdentityKey.Pub, ek, old.Pub)
	require.NoError(t, err)
	require.Equal(t, secret, got)
	require.Equal(t, old, prekey)
}

func TestUnknownPrekeyRejected(t *testing.T) {
	alice := newIdentity(t)
	bob := newIdentity(t)

	_, ek, err := x3dh.Initiate(alice.IdentityKey, bob.IdentityKey.Pub, bob.Prekey.Pub)
	require.NoError(t, err)

	stranger, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, _, err = x3dh.Respond(bob, alice.IdentityKey.Pub, ek, stranger.Pub)
	require.ErrorIs(t, err, domain.ErrUnknownPrekey)
}

func TestEphemeralFreshness(t *testing.T) {
	alice := newIdentity(t)
	bob := newIdentity(t)

	s1, ek1, err := x3dh.Initiate(alice.IdentityKey, bob.IdentityKey.Pub, bob.Prekey.Pub)
	require.NoError(t, err)
	s2, ek2, err := x3dh.Initiate(alice.IdentityKey, bob.IdentityKey.Pub, bob.Prekey.Pub)
	require.NoError(t, err)
	require.NotEqual(t, ek1, ek2)
	require.NotEqual(t, s1, s2)
}
