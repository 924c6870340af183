package ratchet_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"mizu/internal/crypto"
	"mizu/internal/domain"
	"mizu/internal/protocol/ratchet"
	"mizu/internal/wire"
)

// pair seeds two ratchets that share a secret, as X3DH would leave them:
// the initiator keyed against the responder's prekey, the responder
// holding the prekey pair itself.
func pair(t *testing.T) (a, b *ratchet.State) {
	t.Helper()
	secret, err := crypto.Random(32)
	require.NoError(t, err)
	prekey, err := crypto.GenerateX25519()
	require.NoError(t, err)

	a, err = ratchet.Initiate(secret, prekey.Pub)
	require.NoError(t, err)
	b = ratchet.Respond(secret, prekey)
	return a, b
}

func snapshot(t *testing.T, st *ratchet.State) []byte {
	t.Helper()
	b, err := cbor.Marshal(st)
	require.NoError(t, err)
	return b
}

func TestOneRoundTrip(t *testing.T) {
	a, b := pair(t)
	ad := []byte("alice->bob")

	h, ct, err := a.Encrypt(ad, []byte("hi"))
	require.NoError(t, err)
	pt, err := b.Decrypt(h, ad, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), pt)
}

func TestPingPongStepsTheDHRatchet(t *testing.T) {
	a, b := pair(t)
	adAB := []byte("a->b")
	adBA := []byte("b->a")

	for round := 0; round < 4; round++ {
		msg := []byte(fmt.Sprintf("ping %d", round))
		h, ct, err := a.Encrypt(adAB, msg)
		require.NoError(t, err)
		pt, err := b.Decrypt(h, adAB, ct)
		require.NoError(t, err)
		require.Equal(t, msg, pt)

		msg = []byte(fmt.Sprintf("pong %d", round))
		h, ct, err = b.Encrypt(adBA, msg)
		require.NoError(t, err)
		pt, err = a.Decrypt(h, adBA, ct)
		require.NoError(t, err)
		require.Equal(t, msg, pt)
	}
}

func TestOutOfOrderUsesSkippedKeys(t *testing.T) {
	a, b := pair(t)
	ad := []byte("ad")

	type msg struct {
		h  wire.Header
		ct []byte
	}
	var sent []msg
	for i := 0; i < 5; i++ {
		h, ct, err := a.Encrypt(ad, []byte(fmt.Sprintf("m%d", i+1)))
		require.NoError(t, err)
		sent = append(sent, msg{h, ct})
	}

	// m3 first: keys for m1 and m2 land in the cache.
	pt, err := b.Decrypt(sent[2].h, ad, sent[2].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("m3"), pt)
	require.Len(t, b.Skipped, 2)

	pt, err = b.Decrypt(sent[0].h, ad, sent[0].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("m1"), pt)

	pt, err = b.Decrypt(sent[1].h, ad, sent[1].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("m2"), pt)
	require.Empty(t, b.Skipped)

	// The tail still decrypts in order.
	pt, err = b.Decrypt(sent[3].h, ad, sent[3].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("m4"), pt)
	pt, err = b.Decrypt(sent[4].h, ad, sent[4].ct)
	require.NoError(t, err)
	require.Equal(t, []byte("m5"), pt)
}

func TestTamperedCiphertextLeavesStateUntouched(t *testing.T) {
	a, b := pair(t)
	ad := []byte("ad")

	h1, ct1, err := a.Encrypt(ad, []byte("m1"))
	require.NoError(t, err)
	pt, err := b.Decrypt(h1, ad, ct1)
	require.NoError(t, err)
	require.Equal(t, []byte("m1"), pt)

	h2, ct2, err := a.Encrypt(ad, []byte("m2"))
	require.NoError(t, err)

	before := snapshot(t, b)
	evil := append([]byte(nil), ct2...)
	evil[0] ^= 0x80
	_, err = b.Decrypt(h2, ad, evil)
	require.ErrorIs(t, err, domain.ErrAuthFail)
	require.True(t, bytes.Equal(before, snapshot(t, b)), "failed decrypt must not mutate state")

	// The genuine m2 still decrypts afterwards.
	pt, err = b.Decrypt(h2, ad, ct2)
	require.NoError(t, err)
	require.Equal(t, []byte("m2"), pt)
}

func TestReplayFailsWithoutCorruption(t *testing.T) {
	a, b := pair(t)
	ad := []byte("ad")

	h, ct, err := a.Encrypt(ad, []byte("once"))
	require.NoError(t, err)
	pt, err := b.Decrypt(h, ad, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("once"), pt)

	before := snapshot(t, b)
	_, err = b.Decrypt(h, ad, ct)
	require.Error(t, err)
	require.True(t, bytes.Equal(before, snapshot(t, b)))
}

func TestSkipBound(t *testing.T) {
	a, b := pair(t)
	ad := []byte("ad")

	// Jumping more than MaxSkip positions ahead must be rejected before
	// any skipped message key is derived, leaving the state unchanged.
	var last wire.Header
	var lastCT []byte
	for i := 0; i <= ratchet.MaxSkip+1; i++ {
		h, ct, err := a.Encrypt(ad, []byte("x"))
		require.NoError(t, err)
		last, lastCT = h, ct
	}

	before := snapshot(t, b)
	_, err := b.Decrypt(last, ad, lastCT)
	require.ErrorIs(t, err, domain.ErrTooManySkipped)
	require.True(t, bytes.Equal(before, snapshot(t, b)))
}

func TestForwardSecrecyAcrossDHSteps(t *testing.T) {
	a, b := pair(t)
	adAB := []byte("a->b")
	adBA := []byte("b->a")

	h0, ct0, err := a.Encrypt(adAB, []byte("old"))
	require.NoError(t, err)
	pt, err := b.Decrypt(h0, adAB, ct0)
	require.NoError(t, err)
	require.Equal(t, []byte("old"), pt)

	// One full round steps the DH ratchet on both sides.
	h, ct, err := b.Encrypt(adBA, []byte("r"))
	require.NoError(t, err)
	_, err = a.Decrypt(h, adBA, ct)
	require.NoError(t, err)
	h, ct, err = a.Encrypt(adAB, []byte("r2"))
	require.NoError(t, err)
	_, err = b.Decrypt(h, adAB, ct)
	require.NoError(t, err)

	// The stepped state can no longer open the old message.
	_, err = b.Decrypt(h0, adAB, ct0)
	require.Error(t, err)
}
