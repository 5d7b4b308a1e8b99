package crypto

import (
	"fmt"
)

// ChunkEncryptor encrypts an object's content chunk by chunk in strict index
// order. Per-chunk nonces are derived from the descriptor's base IV plus the
// chunk index, and the descriptor itself is bound into every chunk's
// associated data. The orchestrator hands each output chunk to the transport
// as soon as it is produced.
type ChunkEncryptor struct {
	dek  []byte
	meta EncMeta
	next int64
}

// NewChunkEncryptor creates an encryptor for the given DEK and descriptor.
// The DEK is copied; the caller may zeroize its own copy independently.
func NewChunkEncryptor(dek []byte, meta EncMeta) (*ChunkEncryptor, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(dek) != KeySize {
		return nil, fmt.Errorf("DEK must be %d bytes, got %d", KeySize, len(dek))
	}
	e := &ChunkEncryptor{dek: make([]byte, KeySize), meta: meta}
	copy(e.dek, dek)
	return e, nil
}

// EncryptChunk encrypts the next chunk. Every chunk except the last must be
// exactly ChunkSize bytes; the last must carry the declared remainder. Order
// is enforced so the derived nonces line up with the indices the decryptor
// will use.
func (e *ChunkEncryptor) EncryptChunk(plain []byte) ([]byte, error) {
	if e.next >= e.meta.TotalChunks {
		return nil, fmt.Errorf("all %d chunks already encrypted", e.meta.TotalChunks)
	}
	want := ChunkPlaintextLen(e.meta.SizeBytes, e.meta.ChunkSize, e.next)
	if int64(len(plain)) != want {
		return nil, fmt.Errorf("chunk %d must be %d bytes, got %d", e.next, want, len(plain))
	}
	nonce, err := ChunkNonce(e.meta.BaseIV, uint32(e.next))
	if err != nil {
		return nil, err
	}
	aad, err := e.meta.chunkAAD(uint32(e.next))
	if err != nil {
		return nil, err
	}
	ct, err := EncryptGCM(plain, e.dek, nonce, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt chunk %d: %w", e.next, err)
	}
	e.next++
	return ct, nil
}

// Done reports whether every declared chunk has been encrypted.
func (e *ChunkEncryptor) Done() bool {
	return e.next == e.meta.TotalChunks
}

// Wipe zeroizes the encryptor's DEK copy. Call when the operation completes
// or is cancelled.
func (e *ChunkEncryptor) Wipe() {
	SecureZeroBytes(e.dek)
}

// ChunkDecryptor verifies and decrypts content chunks in index order. Each
// chunk's tag is self-contained, so corruption is caught at the earliest bad
// chunk; no plaintext for that chunk or any later one is ever emitted.
type ChunkDecryptor struct {
	dek  []byte
	meta EncMeta
	next int64
}

// NewChunkDecryptor creates a decryptor for the given DEK and descriptor.
func NewChunkDecryptor(dek []byte, meta EncMeta) (*ChunkDecryptor, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(dek) != KeySize {
		return nil, fmt.Errorf("DEK must be %d bytes, got %d", KeySize, len(dek))
	}
	d := &ChunkDecryptor{dek: make([]byte, KeySize), meta: meta}
	copy(d.dek, dek)
	return d, nil
}

// ExpectedChunkLen returns the ciphertext length (plaintext plus tag) of the
// next chunk, or -1 if all chunks have been consumed. The transport uses this
// to frame ranged reads.
func (d *ChunkDecryptor) ExpectedChunkLen() int64 {
	plain := ChunkPlaintextLen(d.meta.SizeBytes, d.meta.ChunkSize, d.next)
	if plain < 0 {
		return -1
	}
	return plain + int64(TagSize)
}

// DecryptChunk verifies and decrypts the next chunk. A tag failure surfaces
// as ErrWrongKeyOrCorrupted, identifying the chunk index for diagnostics.
func (d *ChunkDecryptor) DecryptChunk(ciphertext []byte) ([]byte, error) {
	if d.next >= d.meta.TotalChunks {
		return nil, fmt.Errorf("all %d chunks already decrypted", d.meta.TotalChunks)
	}
	if want := d.ExpectedChunkLen(); int64(len(ciphertext)) != want {
		return nil, fmt.Errorf("%w: chunk %d has length %d, expected %d",
			ErrWrongKeyOrCorrupted, d.next, len(ciphertext), want)
	}
	nonce, err := ChunkNonce(d.meta.BaseIV, uint32(d.next))
	if err != nil {
		return nil, err
	}
	aad, err := d.meta.chunkAAD(uint32(d.next))
	if err != nil {
		return nil, err
	}
	plain, err := DecryptGCM(ciphertext, d.dek, nonce, aad)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", d.next, err)
	}
	d.next++
	return plain, nil
}

// Done reports whether every declared chunk has been decrypted.
func (d *ChunkDecryptor) Done() bool {
	return d.next == d.meta.TotalChunks
}

// Wipe zeroizes the decryptor's DEK copy.
func (d *ChunkDecryptor) Wipe() {
	SecureZeroBytes(d.dek)
}
