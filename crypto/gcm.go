package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	// KeySize is the AES-256 key size in bytes, used for both master keys
	// and data encryption keys.
	KeySize = 32

	// NonceSize is the AES-GCM nonce size in bytes.
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag size in bytes.
	TagSize = 16
)

// AAD label for DEK wrapping. Domain separation keeps an EDEK from being
// replayed as some other ciphertext under the same master key.
const edekAAD = "coffer:edek:v1"

// GenerateDEK generates a fresh random 256-bit data encryption key.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}
	return dek, nil
}

// GenerateNonce generates a fresh random 96-bit GCM nonce. Every (key, nonce)
// pair handed to EncryptGCM must be used exactly once.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes for AES-256, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptGCM encrypts data using AES-256-GCM with the caller-supplied nonce
// and associated data. Returns ciphertext with the tag appended; the nonce is
// stored separately by the envelope and is not prepended here.
func EncryptGCM(plaintext, key, nonce, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes for AES-GCM, got %d", NonceSize, len(nonce))
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// DecryptGCM decrypts AES-256-GCM ciphertext (tag appended) with the given
// nonce and associated data. A tag verification failure surfaces as
// ErrWrongKeyOrCorrupted; no plaintext is ever returned in that case.
func DecryptGCM(ciphertext, key, nonce, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes for AES-GCM, got %d", NonceSize, len(nonce))
	}
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than authentication tag", ErrWrongKeyOrCorrupted)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongKeyOrCorrupted, err)
	}
	return plaintext, nil
}

// WrapDEK encrypts a data encryption key under the master key, producing the
// EDEK and its nonce. This is the only form in which a DEK may be persisted.
func WrapDEK(dek, masterKey []byte) (edek, edekIV []byte, err error) {
	if len(dek) != KeySize {
		return nil, nil, fmt.Errorf("DEK must be %d bytes, got %d", KeySize, len(dek))
	}
	edekIV, err = GenerateNonce()
	if err != nil {
		return nil, nil, err
	}
	edek, err = EncryptGCM(dek, masterKey, edekIV, []byte(edekAAD))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wrap DEK: %w", err)
	}
	return edek, edekIV, nil
}

// UnwrapDEK decrypts an EDEK under the master key. A tag failure means the
// master key does not match the one that wrapped the DEK (wrong password) or
// the EDEK was corrupted; both surface as ErrWrongKeyOrCorrupted.
func UnwrapDEK(edek, edekIV, masterKey []byte) ([]byte, error) {
	dek, err := DecryptGCM(edek, masterKey, edekIV, []byte(edekAAD))
	if err != nil {
		return nil, fmt.Errorf("DEK unwrap failed: %w", err)
	}
	if len(dek) != KeySize {
		return nil, fmt.Errorf("%w: unwrapped DEK has unexpected length %d", ErrWrongKeyOrCorrupted, len(dek))
	}
	return dek, nil
}
