package domain

import "errors"

// Sentinel errors shared across the protocol stack. Wrap with
// fmt.Errorf("...: %w", err) to add context; match with errors.Is.
var (
	// ErrAuthFail is an AEAD authentication failure. The envelope is
	// skipped and never corrupts session state.
	ErrAuthFail = errors.New("aead authentication failed")

	// ErrTooManySkipped means the skipped-message-key cache bound was hit.
	// Fatal for the session: it is quarantined until the user resets it.
	ErrTooManySkipped = errors.New("too many skipped message keys")

	// ErrHeaderInvalid reports a malformed ratchet header.
	ErrHeaderInvalid = errors.New("invalid ratchet header")

	// ErrNoSession reports a ratchet envelope with no session to decrypt it.
	ErrNoSession = errors.New("no session with peer")

	// ErrProtocolReplay reports a well-formed envelope inconsistent with
	// the current session state; it is skipped with a warning.
	ErrProtocolReplay = errors.New("envelope replays stale protocol state")

	// ErrDuplicateEnvelope reports an envelope already consumed (its
	// position is not past the high-water mark); skipped quietly.
	ErrDuplicateEnvelope = errors.New("duplicate envelope")

	// ErrX3DHAuth reports an initial message whose first payload failed to
	// decrypt under the derived shared secret.
	ErrX3DHAuth = errors.New("initial message authentication failed")

	// ErrUnknownPrekey reports an initial message targeting a prekey that
	// is neither the current nor the immediately-previous one.
	ErrUnknownPrekey = errors.New("initial message targets unknown prekey")

	// ErrUnsupportedVersion reports a session blob from a newer
	// implementation.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrCodec reports malformed bytes at the codec layer.
	ErrCodec = errors.New("malformed encoding")

	// ErrQuarantined reports an operation on a quarantined session.
	ErrQuarantined = errors.New("session is quarantined")

	// ErrNotRegistered reports a chain operation by an unregistered address.
	ErrNotRegistered = errors.New("address is not registered")
)
