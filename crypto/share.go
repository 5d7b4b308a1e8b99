package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Share fragment wire format: four base64url fields joined by "." in fixed
// order DEK.cipherIv.metaNameEnc.metaNameIv, placed after "#" in a share
// URL. Browsers and HTTP clients do not transmit the fragment, so the
// server, which may log URLs, never observes the key. The format is a
// versionless minimal ABI; any change requires a new delimiter scheme or an
// explicit version tag.
const (
	ShareFragmentDelimiter = "."
	shareFragmentFields    = 4
)

var shareFragmentEncoding = base64.RawURLEncoding

// ShareSecret is the out-of-band bundle a recipient needs to decrypt a
// shared object without contacting the server with any key material. The
// DEK here is the unwrapped key, not the EDEK.
type ShareSecret struct {
	DEK         []byte
	CipherIV    []byte
	MetaNameEnc []byte
	MetaNameIV  []byte
}

// ExportShareSecret packs an unwrapped DEK and the object's metadata fields
// into a URL-fragment-safe string. The caller must only ever append the
// result after "#" in a share URL, never attach it to a request.
func ExportShareSecret(dek, cipherIV, metaNameEnc, metaNameIV []byte) (string, error) {
	if len(dek) != KeySize {
		return "", fmt.Errorf("DEK must be %d bytes, got %d", KeySize, len(dek))
	}
	if len(cipherIV) != BaseIVSize {
		return "", fmt.Errorf("cipher IV must be %d bytes, got %d", BaseIVSize, len(cipherIV))
	}
	if len(metaNameEnc) < TagSize {
		return "", fmt.Errorf("encrypted filename too short")
	}
	if len(metaNameIV) != NonceSize {
		return "", fmt.Errorf("filename IV must be %d bytes, got %d", NonceSize, len(metaNameIV))
	}

	fields := []string{
		shareFragmentEncoding.EncodeToString(dek),
		shareFragmentEncoding.EncodeToString(cipherIV),
		shareFragmentEncoding.EncodeToString(metaNameEnc),
		shareFragmentEncoding.EncodeToString(metaNameIV),
	}
	return strings.Join(fields, ShareFragmentDelimiter), nil
}

// ImportShareSecret parses a share fragment back into its fields. Fails
// closed with ErrMalformedShareLink on any structural defect; a missing
// field is never treated as "unencrypted metadata".
func ImportShareSecret(fragment string) (*ShareSecret, error) {
	if fragment == "" {
		return nil, fmt.Errorf("%w: empty fragment", ErrMalformedShareLink)
	}
	parts := strings.Split(fragment, ShareFragmentDelimiter)
	if len(parts) != shareFragmentFields {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedShareLink, shareFragmentFields, len(parts))
	}

	decoded := make([][]byte, shareFragmentFields)
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: field %d is empty", ErrMalformedShareLink, i)
		}
		b, err := shareFragmentEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d is not valid base64url", ErrMalformedShareLink, i)
		}
		decoded[i] = b
	}

	secret := &ShareSecret{
		DEK:         decoded[0],
		CipherIV:    decoded[1],
		MetaNameEnc: decoded[2],
		MetaNameIV:  decoded[3],
	}
	if len(secret.DEK) != KeySize {
		return nil, fmt.Errorf("%w: DEK has length %d, expected %d", ErrMalformedShareLink, len(secret.DEK), KeySize)
	}
	if len(secret.CipherIV) != BaseIVSize {
		return nil, fmt.Errorf("%w: cipher IV has length %d, expected %d", ErrMalformedShareLink, len(secret.CipherIV), BaseIVSize)
	}
	if len(secret.MetaNameEnc) < TagSize {
		return nil, fmt.Errorf("%w: encrypted filename too short", ErrMalformedShareLink)
	}
	if len(secret.MetaNameIV) != NonceSize {
		return nil, fmt.Errorf("%w: filename IV has length %d, expected %d", ErrMalformedShareLink, len(secret.MetaNameIV), NonceSize)
	}
	return secret, nil
}
