package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mizu/internal/crypto"
	"mizu/internal/domain"
	"mizu/internal/store"
)

func openStore(t *testing.T, passphrase string) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mizu.db")
	s, err := store.Open(path, passphrase)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newIdentity(t *testing.T, name, address string) *domain.Identity {
	t.Helper()
	ik, err := crypto.GenerateX25519()
	require.NoError(t, err)
	pk, err := crypto.GenerateX25519()
	require.NoError(t, err)
	signPriv, signPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return &domain.Identity{
		Name:        name,
		Address:     address,
		IdentityKey: ik,
		Prekey:      pk,
		SigningPub:  signPub,
		SigningPriv: signPriv,
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "correct horse")

	id := newIdentity(t, "alice", "tz1alice")
	require.NoError(t, s.CreateIdentity(ctx, id))
	require.NotZero(t, id.ID)

	got, err := s.FindIdentity(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, id, got)

	// Prekey rotation persists the previous pair.
	prev := id.Prekey
	id.PrevPrekey = &prev
	fresh, err := crypto.GenerateX25519()
	require.NoError(t, err)
	id.Prekey = fresh
	require.NoError(t, s.UpdateIdentityKeys(ctx, id))

	got, err = s.FindIdentity(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestWrongPassphraseFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mizu.db")

	s, err := store.Open(path, "right")
	require.NoError(t, err)
	id := newIdentity(t, "alice", "tz1alice")
	require.NoError(t, s.CreateIdentity(ctx, id))
	require.NoError(t, s.Close())

	s2, err := store.Open(path, "wrong")
	require.NoError(t, err)
	defer s2.Close()
	_, err = s2.FindIdentity(ctx, id.ID)
	require.Error(t, err)
}

func TestContacts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "pw")

	c, err := s.CreateContact(ctx, "bob", "tz1bob")
	require.NoError(t, err)
	require.NotZero(t, c.ID)

	ik, err := crypto.GenerateX25519()
	require.NoError(t, err)
	pk, err := crypto.GenerateX25519()
	require.NoError(t, err)
	require.NoError(t, s.UpdateContactKeys(ctx, c.ID, ik.Pub, pk.Pub))

	got, err := s.FindContact(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, ik.Pub, got.IdentityKey)
	require.Equal(t, pk.Pub, got.Prekey)

	all, err := s.ListContacts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSessionBlobUpsert(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "pw")

	id := newIdentity(t, "alice", "tz1alice")
	require.NoError(t, s.CreateIdentity(ctx, id))
	c, err := s.CreateContact(ctx, "bob", "tz1bob")
	require.NoError(t, err)

	blob, err := s.LoadSessionBlob(ctx, id.ID, c.ID)
	require.NoError(t, err)
	require.Nil(t, blob)

	require.NoError(t, s.SaveSessionBlob(ctx, id.ID, c.ID, []byte("v1"), 10))
	blob, err = s.LoadSessionBlob(ctx, id.ID, c.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), blob)

	require.NoError(t, s.SaveSessionBlob(ctx, id.ID, c.ID, []byte("v2"), 20))
	blob, err = s.LoadSessionBlob(ctx, id.ID, c.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), blob)
}

func TestMessagesAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "pw")

	id := newIdentity(t, "alice", "tz1alice")
	require.NoError(t, s.CreateIdentity(ctx, id))
	c, err := s.CreateContact(ctx, "bob", "tz1bob")
	require.NoError(t, err)

	for i, m := range []struct {
		content  string
		outbound bool
	}{{"hi", true}, {"hey", false}} {
		require.NoError(t, s.AppendMessage(ctx, &domain.PlainMessage{
			IdentityID: id.ID,
			ContactID:  c.ID,
			Content:    []byte(m.content),
			Outbound:   m.outbound,
			Timestamp:  int64(i + 1),
		}))
	}

	msgs, err := s.ListMessages(ctx, id.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("hi"), msgs[0].Content)
	require.True(t, msgs[0].Outbound)
	require.Equal(t, []byte("hey"), msgs[1].Content)
	require.False(t, msgs[1].Outbound)
}

func TestPendingContacts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, "pw")

	id := newIdentity(t, "alice", "tz1alice")
	require.NoError(t, s.CreateIdentity(ctx, id))

	require.NoError(t, s.AddPendingContact(ctx, id.ID, "tz1bob", 1))
	require.NoError(t, s.AddPendingContact(ctx, id.ID, "tz1bob", 2)) // dedup
	require.NoError(t, s.AddPendingContact(ctx, id.ID, "tz1carol", 3))

	pending, err := s.ListPendingContacts(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"tz1bob", "tz1carol"}, pending)

	n, err := s.CountPendingContacts(ctx, id.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
