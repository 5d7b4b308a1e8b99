package crypto

import (
	"crypto/rand"
	"crypto/subtle"
)

// GenerateRandomBytes creates a slice of the specified length filled with
// cryptographically secure random data.
func GenerateRandomBytes(length int) []byte {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		// The OS entropy source failing is unrecoverable for a crypto client.
		panic("failed to generate random bytes: " + err.Error())
	}
	return randomBytes
}

// SecureCompare performs a constant-time comparison of two byte slices.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SecureZeroBytes zeros out a byte slice so sensitive data does not linger
// in memory. Best effort: the GC may have copied the slice earlier; long
// lived keys belong in the Session's locked buffer instead.
func SecureZeroBytes(slice []byte) {
	for i := range slice {
		slice[i] = 0
	}
}
