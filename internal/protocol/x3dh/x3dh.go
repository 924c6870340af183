package x3dh

import (
	"mizu/internal/crypto"
	"mizu/internal/domain"
	"mizu/internal/util/memzero"
)

// Initiate runs the initiator side of the agreement against a contact's
// published identity key and current signed prekey. It returns the shared
// secret and the ephemeral public key to embed in the initial message.
func Initiate(identity domain.X25519Pair, remoteIK, remotePrekey domain.X25519Public) (secret []byte, ekPub domain.X25519Public, err error) {
	ek, err := crypto.GenerateX25519()
	if err != nil {
		return nil, ekPub, err
	}
	defer memzero.Zero32((*[32]byte)(&ek.Priv))

	dh1, err := crypto.DH(identity.Priv, remotePrekey) // DH(IK_A, SPK_B)
	if err != nil {
		return nil, ekPub, err
	}
	dh2, err := crypto.DH(ek.Priv, remoteIK) // DH(EK_A, IK_B)
	if err != nil {
		return nil, ekPub, err
	}
	dh3, err := crypto.DH(ek.Priv, remotePrekey) // DH(EK_A, SPK_B)
	if err != nil {
		return nil, ekPub, err
	}

	secret = derive(dh1, dh2, dh3)
	return secret, ek.Pub, nil
}

// Respond runs the responder side. The initial message names the prekey it
// targeted; a prekey that is neither the current nor the
// immediately-previous one yields domain.ErrUnknownPrekey. The matched
// prekey pair is returned so the caller can seed the ratchet with it.
func Respond(id *domain.Identity, senderIK, ek, prekeyUsed domain.X25519Public) (secret []byte, prekey domain.X25519Pair, err error) {
	switch {
	case prekeyUsed == id.Prekey.Pub:
		prekey = id.Prekey
	case id.PrevPrekey != nil && prekeyUsed == id.PrevPrekey.Pub:
		prekey = *id.PrevPrekey
	default:
		return nil, prekey, domain.ErrUnknownPrekey
	}

	dh1, err := crypto.DH(prekey.Priv, senderIK) // DH(SPK_B, IK_A)
	if err != nil {
		return nil, prekey, err
	}
	dh2, err := crypto.DH(id.IdentityKey.Priv, ek) // DH(IK_B, EK_A)
	if err != nil {
		return nil, prekey, err
	}
	dh3, err := crypto.DH(prekey.Priv, ek) // DH(SPK_B, EK_A)
	if err != nil {
		return nil, prekey, err
	}

	secret = derive(dh1, dh2, dh3)
	return secret, prekey, nil
}

// AssociatedData binds both identity keys to every payload of the session,
// sender first.
func AssociatedData(senderIK, receiverIK domain.X25519Public) []byte {
	ad := make([]byte, 0, 64)
	ad = append(ad, senderIK[:]...)
	ad = append(ad, receiverIK[:]...)
	return ad
}

func derive(dh1, dh2, dh3 [32]byte) []byte {
	ikm := make([]byte, 0, 96)
	ikm = append(ikm, dh1[:]...)
	ikm = append(ikm, dh2[:]...)
	ikm = append(ikm, dh3[:]...)
	secret := crypto.KDFInitial(ikm)
	memzero.Zero(ikm)
	memzero.Zero32(&dh1)
	memzero.Zero32(&dh2)
	memzero.Zero32(&dh3)
	return secret
}
