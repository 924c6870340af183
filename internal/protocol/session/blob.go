package session

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"mizu/internal/domain"
)

// Blob framing: magic(4) || version(u16 big-endian) || cbor payload.
// The payload must round-trip identically, and encoding is deterministic:
// the same session always serializes to the same bytes. Re-applying an
// envelope after a crash rebuilds the same blob only when that envelope
// does not trigger a DH ratchet step; a step generates a fresh random
// ratchet key pair, so the rebuilt blob then differs from the lost one.
const blobVersion uint16 = 1

var blobMagic = [4]byte{'M', 'I', 'Z', 'U'}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal serializes the session into its versioned opaque blob.
func (s *Session) Marshal() ([]byte, error) {
	payload, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session payload: %w", err)
	}
	out := make([]byte, 0, 6+len(payload))
	out = append(out, blobMagic[:]...)
	out = binary.BigEndian.AppendUint16(out, blobVersion)
	out = append(out, payload...)
	return out, nil
}

// Unmarshal parses a blob produced by Marshal. Blobs from a newer
// implementation are refused, never guessed at.
func Unmarshal(b []byte) (*Session, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("session blob truncated: %w", domain.ErrCodec)
	}
	if [4]byte(b[:4]) != blobMagic {
		return nil, fmt.Errorf("session blob magic: %w", domain.ErrCodec)
	}
	if v := binary.BigEndian.Uint16(b[4:6]); v != blobVersion {
		return nil, fmt.Errorf("session blob version %d: %w", v, domain.ErrUnsupportedVersion)
	}
	s := New()
	if err := decMode.Unmarshal(b[6:], s); err != nil {
		return nil, fmt.Errorf("session payload: %w", domain.ErrCodec)
	}
	return s, nil
}
