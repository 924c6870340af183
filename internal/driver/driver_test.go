package driver_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mizu/internal/chain"
	"mizu/internal/chain/mock"
	"mizu/internal/domain"
	"mizu/internal/driver"
	"mizu/internal/store"
	"mizu/internal/wire"
)

// harness wires two drivers against one shared mock ledger.
type harness struct {
	ledger string
	alice  *driver.Driver
	bob    *driver.Driver
	aliceS *store.Store
	bobS   *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	ledger := filepath.Join(dir, "chain.db")

	dial := chain.DialFunc(func(address string) (chain.Chain, error) {
		return mock.Open(ledger, address)
	})

	open := func(name string) (*store.Store, *driver.Driver) {
		st, err := store.Open(filepath.Join(dir, name+".db"), name+" passphrase")
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return st, driver.New(st, dial, zap.NewNop(), driver.Options{})
	}

	h := &harness{ledger: ledger}
	h.aliceS, h.alice = open("alice")
	h.bobS, h.bob = open("bob")
	return h
}

// bootstrap registers both identities and adds each other as contacts.
func (h *harness) bootstrap(t *testing.T) (aliceID, bobID *domain.Identity, aliceContact, bobContact *domain.Contact) {
	t.Helper()
	ctx := context.Background()

	var err error
	aliceID, err = h.alice.RegisterIdentity(ctx, "alice", "tz1alice")
	require.NoError(t, err)
	bobID, err = h.bob.RegisterIdentity(ctx, "bob", "tz1bob")
	require.NoError(t, err)

	// aliceContact is Bob as seen by Alice, and vice versa.
	aliceContact, err = h.alice.AddContact(ctx, aliceID.ID, "bob", "tz1bob")
	require.NoError(t, err)
	bobContact, err = h.bob.AddContact(ctx, bobID.ID, "alice", "tz1alice")
	require.NoError(t, err)
	return
}

func inbound(msgs []domain.PlainMessage) []string {
	var out []string
	for _, m := range msgs {
		if !m.Outbound {
			out = append(out, string(m.Content))
		}
	}
	return out
}

func TestFirstContactAndReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	aliceID, bobID, aliceContact, bobContact := h.bootstrap(t)

	require.NoError(t, h.alice.Send(ctx, aliceID.ID, aliceContact.ID, []byte("hi")))
	require.NoError(t, h.bob.SyncOnce(ctx))

	msgs, err := h.bobS.ListMessages(ctx, bobID.ID, bobContact.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"hi"}, inbound(msgs))

	require.NoError(t, h.bob.Send(ctx, bobID.ID, bobContact.ID, []byte("hey")))
	require.NoError(t, h.alice.SyncOnce(ctx))

	msgs, err = h.aliceS.ListMessages(ctx, aliceID.ID, aliceContact.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"hey"}, inbound(msgs))
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	aliceID, bobID, aliceContact, bobContact := h.bootstrap(t)

	require.NoError(t, h.alice.Send(ctx, aliceID.ID, aliceContact.ID, []byte("one")))
	require.NoError(t, h.alice.Send(ctx, aliceID.ID, aliceContact.ID, []byte("two")))

	require.NoError(t, h.bob.SyncOnce(ctx))
	require.NoError(t, h.bob.SyncOnce(ctx))
	require.NoError(t, h.bob.SyncOnce(ctx))

	msgs, err := h.bobS.ListMessages(ctx, bobID.ID, bobContact.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, inbound(msgs), "re-running the loop must be a no-op")
}

func TestBatchedFlushPostsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	aliceID, bobID, aliceContact, bobContact := h.bootstrap(t)

	h.alice.Queue(aliceID.ID, aliceContact.ID, []byte("m1"))
	h.alice.Queue(aliceID.ID, aliceContact.ID, []byte("m2"))
	h.alice.Queue(aliceID.ID, aliceContact.ID, []byte("m3"))
	require.NoError(t, h.alice.Flush(ctx))

	// All three landed in one Post and decrypt in order on Bob's side.
	require.NoError(t, h.bob.SyncOnce(ctx))
	msgs, err := h.bobS.ListMessages(ctx, bobID.ID, bobContact.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m2", "m3"}, inbound(msgs))
}

func TestSimultaneousInitiationOverTheLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	aliceID, bobID, aliceContact, bobContact := h.bootstrap(t)

	// Both post an initial message before either has synced.
	require.NoError(t, h.alice.Send(ctx, aliceID.ID, aliceContact.ID, []byte("from alice")))
	require.NoError(t, h.bob.Send(ctx, bobID.ID, bobContact.ID, []byte("from bob")))

	require.NoError(t, h.alice.SyncOnce(ctx))
	require.NoError(t, h.bob.SyncOnce(ctx))

	// Exactly one side decrypted the other's opener; afterwards traffic
	// flows on the surviving session in both directions.
	aliceMsgs, err := h.aliceS.ListMessages(ctx, aliceID.ID, aliceContact.ID)
	require.NoError(t, err)
	bobMsgs, err := h.bobS.ListMessages(ctx, bobID.ID, bobContact.ID)
	require.NoError(t, err)
	gotOpeners := len(inbound(aliceMsgs)) + len(inbound(bobMsgs))
	require.Equal(t, 1, gotOpeners, "exactly one opener survives the tie-break")

	require.NoError(t, h.alice.Send(ctx, aliceID.ID, aliceContact.ID, []byte("still here")))
	require.NoError(t, h.bob.SyncOnce(ctx))
	bobMsgs, err = h.bobS.ListMessages(ctx, bobID.ID, bobContact.ID)
	require.NoError(t, err)
	require.Contains(t, inbound(bobMsgs), "still here")

	require.NoError(t, h.bob.Send(ctx, bobID.ID, bobContact.ID, []byte("me too")))
	require.NoError(t, h.alice.SyncOnce(ctx))
	aliceMsgs, err = h.aliceS.ListMessages(ctx, aliceID.ID, aliceContact.ID)
	require.NoError(t, err)
	require.Contains(t, inbound(aliceMsgs), "me too")
}

func TestDiscoveryPoke(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	aliceID, err := h.alice.RegisterIdentity(ctx, "alice", "tz1alice")
	require.NoError(t, err)
	bobID, err := h.bob.RegisterIdentity(ctx, "bob", "tz1bob")
	require.NoError(t, err)

	require.NoError(t, h.alice.SendDiscovery(ctx, aliceID.ID, "tz1bob"))
	require.NoError(t, h.bob.SyncOnce(ctx))

	pending, err := h.bobS.ListPendingContacts(ctx, bobID.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"tz1alice"}, pending)

	// The consumed poke was removed from the chain.
	ledger, err := mock.Open(h.ledger, "tz1bob")
	require.NoError(t, err)
	defer ledger.Close()
	data, err := ledger.RetrieveUserData(ctx, "tz1bob")
	require.NoError(t, err)
	require.Empty(t, data.Pokes)
}

func TestCorruptedEntryIsSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	aliceID, bobID, aliceContact, bobContact := h.bootstrap(t)

	require.NoError(t, h.alice.Send(ctx, aliceID.ID, aliceContact.ID, []byte("good one")))

	// An attacker (or buggy client) appends junk to Alice's box.
	ledger, err := mock.Open(h.ledger, "tz1alice")
	require.NoError(t, err)
	defer ledger.Close()
	require.NoError(t, ledger.Post(ctx, [][]byte{{wire.TagRatchet, 1, 2, 3}}, nil))

	require.NoError(t, h.alice.Send(ctx, aliceID.ID, aliceContact.ID, []byte("good two")))

	require.NoError(t, h.bob.SyncOnce(ctx))
	msgs, err := h.bobS.ListMessages(ctx, bobID.ID, bobContact.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"good one", "good two"}, inbound(msgs))
}
