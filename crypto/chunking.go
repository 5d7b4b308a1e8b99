package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

const (
	// DefaultChunkSize is the plaintext chunk size for streaming operations
	// (16MB). Large files are encrypted and transferred chunk by chunk so
	// neither side buffers the whole object.
	DefaultChunkSize = 16 * 1024 * 1024

	// BaseIVSize is the random prefix of per-chunk nonces in bytes. The
	// remaining 4 bytes of each 12-byte GCM nonce carry the big-endian chunk
	// index, the standard counter-appended construction.
	BaseIVSize = 8

	// MaxChunks bounds the chunk counter so the 32-bit index can never wrap
	// into a repeated (key, nonce) pair.
	MaxChunks = int64(1) << 32
)

// GenerateBaseIV generates the random 8-byte nonce prefix for a chunked
// encryption operation. Fresh per DEK; combined with the per-chunk counter it
// guarantees no two chunks of any object reuse a (key, IV) pair.
func GenerateBaseIV() ([]byte, error) {
	iv := make([]byte, BaseIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate base IV: %w", err)
	}
	return iv, nil
}

// ChunkNonce derives the GCM nonce for a chunk: baseIV followed by the
// big-endian chunk index. Index-pure, so concurrent derivation is safe, but
// chunks must still be encrypted in index order by the stream types below.
func ChunkNonce(baseIV []byte, index uint32) ([]byte, error) {
	if len(baseIV) != BaseIVSize {
		return nil, fmt.Errorf("base IV must be %d bytes, got %d", BaseIVSize, len(baseIV))
	}
	nonce := make([]byte, NonceSize)
	copy(nonce, baseIV)
	binary.BigEndian.PutUint32(nonce[BaseIVSize:], index)
	return nonce, nil
}

// TotalChunksFor returns the chunk count for a plaintext of the given size.
// Empty files still occupy one (empty) chunk so the envelope always carries
// at least one authentication tag over the AAD.
func TotalChunksFor(sizeBytes int64, chunkSize int) int64 {
	if chunkSize <= 0 {
		return 0
	}
	if sizeBytes <= 0 {
		return 1
	}
	return (sizeBytes + int64(chunkSize) - 1) / int64(chunkSize)
}

// CiphertextSizeFor returns the total ciphertext length for a plaintext of
// the given size: the plaintext plus one GCM tag per chunk. Nonces are
// derived, not stored, so they add nothing to the ciphertext.
func CiphertextSizeFor(sizeBytes int64, chunkSize int) int64 {
	return sizeBytes + TotalChunksFor(sizeBytes, chunkSize)*int64(TagSize)
}

// ChunkPlaintextLen returns the plaintext length of chunk index for an object
// of the given size, or -1 if the index is out of range.
func ChunkPlaintextLen(sizeBytes int64, chunkSize int, index int64) int64 {
	total := TotalChunksFor(sizeBytes, chunkSize)
	if index < 0 || index >= total {
		return -1
	}
	if index < total-1 {
		return int64(chunkSize)
	}
	last := sizeBytes - index*int64(chunkSize)
	if last < 0 {
		return -1
	}
	return last
}
