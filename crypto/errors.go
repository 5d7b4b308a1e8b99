package crypto

import "errors"

// Sentinel errors for the client-side encryption core. Callers are expected
// to classify failures with errors.Is and surface distinct messages for each:
// a failed EDEK unwrap means "wrong account key or corrupted file", a bad
// share fragment means "link incomplete", and so on. None of these may be
// downgraded to a warning or retried with the same key material.
var (
	// ErrCryptoInit indicates key derivation parameters were missing or
	// malformed at session start. Fatal to all crypto operations until the
	// parameters are re-fetched (re-login).
	ErrCryptoInit = errors.New("key derivation parameters missing or malformed")

	// ErrWrongKeyOrCorrupted indicates an AEAD tag verification failure
	// during DEK unwrap or content/metadata decryption.
	ErrWrongKeyOrCorrupted = errors.New("wrong key or corrupted data")

	// ErrMalformedShareLink indicates a share fragment failed structural
	// validation (missing fields, bad encoding).
	ErrMalformedShareLink = errors.New("malformed share link")

	// ErrShareKeyMissing indicates an encrypted object was found but no
	// key-bearing fragment is present. Decryption must not be attempted.
	ErrShareKeyMissing = errors.New("decryption key missing: use the complete share link")

	// ErrNoMasterKey indicates no master key is available in the session,
	// either because derivation has not completed or logout cleared it.
	ErrNoMasterKey = errors.New("no master key available in session")
)
