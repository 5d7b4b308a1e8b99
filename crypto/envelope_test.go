package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func mustDerive(t *testing.T, password string) []byte {
	t.Helper()
	mk, err := DeriveMasterKey([]byte(password), fastParams(testSalt()))
	if err != nil {
		t.Fatalf("DeriveMasterKey() error = %v", err)
	}
	return mk
}

func TestWrapNewFileRoundTrip(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")

	env, ciphertext, err := WrapNewFile([]byte("hello"), "a.txt", "text/plain", mk)
	if err != nil {
		t.Fatalf("WrapNewFile() error = %v", err)
	}
	if len(ciphertext) != 5+TagSize {
		t.Errorf("ciphertext length = %d, expected %d", len(ciphertext), 5+TagSize)
	}
	if bytes.Contains(ciphertext, []byte("hello")) {
		t.Error("ciphertext contains the plaintext")
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("envelope failed validation: %v", err)
	}

	plaintext, filename, mimeType, err := UnwrapAndDecrypt(env, ciphertext, mk)
	if err != nil {
		t.Fatalf("UnwrapAndDecrypt() error = %v", err)
	}
	if string(plaintext) != "hello" {
		t.Errorf("plaintext = %q, expected %q", plaintext, "hello")
	}
	if filename != "a.txt" {
		t.Errorf("filename = %q, expected %q", filename, "a.txt")
	}
	if mimeType != "text/plain" {
		t.Errorf("mime type = %q, expected %q", mimeType, "text/plain")
	}
}

func TestUnwrapAndDecryptWrongPassword(t *testing.T) {
	rightKey := mustDerive(t, "correct horse battery staple")
	wrongKey := mustDerive(t, "wrong horse battery staple")

	env, ciphertext, err := WrapNewFile([]byte("hello"), "a.txt", "", rightKey)
	if err != nil {
		t.Fatalf("WrapNewFile() error = %v", err)
	}

	_, _, _, err = UnwrapAndDecrypt(env, ciphertext, wrongKey)
	if !errors.Is(err, ErrWrongKeyOrCorrupted) {
		t.Errorf("error = %v, expected ErrWrongKeyOrCorrupted", err)
	}
}

func TestWrapNewFileFreshKeysPerFile(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")
	content := []byte("identical content")

	env1, ct1, err := WrapNewFile(content, "a.txt", "", mk)
	if err != nil {
		t.Fatalf("WrapNewFile() error = %v", err)
	}
	env2, ct2, err := WrapNewFile(content, "a.txt", "", mk)
	if err != nil {
		t.Fatalf("WrapNewFile() error = %v", err)
	}

	if bytes.Equal(ct1, ct2) {
		t.Error("two encryptions of the same content produced identical ciphertext")
	}
	if bytes.Equal(env1.EDEK, env2.EDEK) {
		t.Error("two files share an EDEK; DEKs must be fresh per file")
	}
	if bytes.Equal(env1.CipherIV, env2.CipherIV) {
		t.Error("two files share a base IV")
	}
	if bytes.Equal(env1.MetaNameIV, env2.MetaNameIV) {
		t.Error("two files share a filename IV")
	}
}

func TestWrapNewFileEmptyContent(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")

	env, ciphertext, err := WrapNewFile(nil, "empty.bin", "", mk)
	if err != nil {
		t.Fatalf("WrapNewFile() error = %v", err)
	}
	if env.EncMeta.TotalChunks != 1 {
		t.Errorf("empty file chunk count = %d, expected 1", env.EncMeta.TotalChunks)
	}
	if len(ciphertext) != TagSize {
		t.Errorf("empty file ciphertext length = %d, expected %d", len(ciphertext), TagSize)
	}

	plaintext, filename, _, err := UnwrapAndDecrypt(env, ciphertext, mk)
	if err != nil {
		t.Fatalf("UnwrapAndDecrypt() error = %v", err)
	}
	if len(plaintext) != 0 {
		t.Errorf("plaintext length = %d, expected 0", len(plaintext))
	}
	if filename != "empty.bin" {
		t.Errorf("filename = %q, expected %q", filename, "empty.bin")
	}
}

func TestWrapNewFileRejectsEmptyFilename(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")
	if _, _, err := WrapNewFile([]byte("x"), "", "", mk); err == nil {
		t.Error("expected error for empty filename")
	}
}

func TestTamperDetection(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")

	tests := []struct {
		name   string
		tamper func(env *Envelope, ciphertext []byte)
	}{
		{"flip ciphertext bit", func(env *Envelope, ct []byte) { ct[2] ^= 0x01 }},
		{"flip ciphertext tag bit", func(env *Envelope, ct []byte) { ct[len(ct)-1] ^= 0x01 }},
		{"flip EDEK bit", func(env *Envelope, ct []byte) { env.EDEK[0] ^= 0x01 }},
		{"flip EDEK IV bit", func(env *Envelope, ct []byte) { env.EDEKIV[0] ^= 0x01 }},
		{"flip base IV bit", func(env *Envelope, ct []byte) {
			// CipherIV aliases the descriptor base IV; flip both through a
			// fresh slice so the envelope stays internally consistent but
			// every derived nonce changes.
			iv := append([]byte{}, env.CipherIV...)
			iv[0] ^= 0x01
			env.CipherIV = iv
			env.EncMeta.BaseIV = iv
		}},
		{"cipher IV descriptor mismatch", func(env *Envelope, ct []byte) {
			iv := append([]byte{}, env.CipherIV...)
			iv[0] ^= 0x01
			env.CipherIV = iv
		}},
		{"flip encrypted filename bit", func(env *Envelope, ct []byte) { env.MetaNameEnc[0] ^= 0x01 }},
		{"flip filename IV bit", func(env *Envelope, ct []byte) { env.MetaNameIV[0] ^= 0x01 }},
		{"grow declared size", func(env *Envelope, ct []byte) {
			env.EncMeta.SizeBytes++
			env.EncMeta.TotalChunks = TotalChunksFor(env.EncMeta.SizeBytes, env.EncMeta.ChunkSize)
		}},
		{"inconsistent chunk count", func(env *Envelope, ct []byte) { env.EncMeta.TotalChunks++ }},
		{"swap algorithm label", func(env *Envelope, ct []byte) { env.EncMeta.Algorithm = "AES-128-GCM" }},
		{"unknown header version", func(env *Envelope, ct []byte) { env.EncMeta.HeaderVersion = 0x7F }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, ciphertext, err := WrapNewFile([]byte("sensitive payload bytes"), "a.txt", "text/plain", mk)
			if err != nil {
				t.Fatalf("WrapNewFile() error = %v", err)
			}
			ct := make([]byte, len(ciphertext))
			copy(ct, ciphertext)
			tt.tamper(env, ct)

			_, _, _, err = UnwrapAndDecrypt(env, ct, mk)
			if !errors.Is(err, ErrWrongKeyOrCorrupted) {
				t.Errorf("error = %v, expected ErrWrongKeyOrCorrupted", err)
			}
		})
	}
}

func TestTruncatedCiphertext(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")
	env, ciphertext, err := WrapNewFile([]byte("some content"), "a.txt", "", mk)
	if err != nil {
		t.Fatalf("WrapNewFile() error = %v", err)
	}

	_, _, _, err = UnwrapAndDecrypt(env, ciphertext[:len(ciphertext)-1], mk)
	if !errors.Is(err, ErrWrongKeyOrCorrupted) {
		t.Errorf("truncated: error = %v, expected ErrWrongKeyOrCorrupted", err)
	}

	extended := append(append([]byte{}, ciphertext...), 0x00)
	_, _, _, err = UnwrapAndDecrypt(env, extended, mk)
	if !errors.Is(err, ErrWrongKeyOrCorrupted) {
		t.Errorf("extended: error = %v, expected ErrWrongKeyOrCorrupted", err)
	}
}

func TestChunkedRoundTrip(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")
	plaintext := []byte("0123456789abcdefghij") // 20 bytes, chunk size 8 -> 3 chunks

	env, ciphertext, err := WrapNewFileChunked(plaintext, "chunks.bin", "", mk, 8)
	if err != nil {
		t.Fatalf("WrapNewFileChunked() error = %v", err)
	}
	if env.EncMeta.TotalChunks != 3 {
		t.Fatalf("chunk count = %d, expected 3", env.EncMeta.TotalChunks)
	}
	if int64(len(ciphertext)) != CiphertextSizeFor(20, 8) {
		t.Fatalf("ciphertext length = %d, expected %d", len(ciphertext), CiphertextSizeFor(20, 8))
	}

	decrypted, _, _, err := UnwrapAndDecrypt(env, ciphertext, mk)
	if err != nil {
		t.Fatalf("UnwrapAndDecrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("chunked round trip lost data")
	}
}

func TestChunkIndependence(t *testing.T) {
	// Corrupting chunk 1 must not affect chunk 0's decryptability, and the
	// decryptor must stop at the corrupted chunk without emitting its
	// plaintext.
	mk := mustDerive(t, "correct horse battery staple")
	plaintext := []byte("0123456789abcdefghij")

	env, ciphertext, err := WrapNewFileChunked(plaintext, "chunks.bin", "", mk, 8)
	if err != nil {
		t.Fatalf("WrapNewFileChunked() error = %v", err)
	}
	chunkLen := 8 + TagSize
	ciphertext[chunkLen+3] ^= 0x01 // inside chunk 1

	dek, err := UnwrapDEK(env.EDEK, env.EDEKIV, mk)
	if err != nil {
		t.Fatalf("UnwrapDEK() error = %v", err)
	}
	dec, err := NewChunkDecryptor(dek, env.EncMeta)
	if err != nil {
		t.Fatalf("NewChunkDecryptor() error = %v", err)
	}

	chunk0, err := dec.DecryptChunk(ciphertext[:chunkLen])
	if err != nil {
		t.Fatalf("chunk 0 failed despite corruption being in chunk 1: %v", err)
	}
	if !bytes.Equal(chunk0, plaintext[:8]) {
		t.Error("chunk 0 plaintext mismatch")
	}

	_, err = dec.DecryptChunk(ciphertext[chunkLen : 2*chunkLen])
	if !errors.Is(err, ErrWrongKeyOrCorrupted) {
		t.Errorf("chunk 1: error = %v, expected ErrWrongKeyOrCorrupted", err)
	}
}

func TestChunkReorderDetected(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")
	plaintext := []byte("aaaaaaaabbbbbbbb") // two full chunks of 8

	env, ciphertext, err := WrapNewFileChunked(plaintext, "chunks.bin", "", mk, 8)
	if err != nil {
		t.Fatalf("WrapNewFileChunked() error = %v", err)
	}
	chunkLen := 8 + TagSize
	swapped := make([]byte, len(ciphertext))
	copy(swapped, ciphertext[chunkLen:])
	copy(swapped[chunkLen:], ciphertext[:chunkLen])

	_, _, _, err = UnwrapAndDecrypt(env, swapped, mk)
	if !errors.Is(err, ErrWrongKeyOrCorrupted) {
		t.Errorf("error = %v, expected ErrWrongKeyOrCorrupted", err)
	}
}

func TestChunkTransplantDetected(t *testing.T) {
	// A chunk from another object, even one encrypted at the same index
	// under a different DEK, must not verify.
	mk := mustDerive(t, "correct horse battery staple")

	envA, ctA, err := WrapNewFileChunked([]byte("object A content"), "a.bin", "", mk, 8)
	if err != nil {
		t.Fatalf("WrapNewFileChunked() error = %v", err)
	}
	_, ctB, err := WrapNewFileChunked([]byte("object B content"), "b.bin", "", mk, 8)
	if err != nil {
		t.Fatalf("WrapNewFileChunked() error = %v", err)
	}

	chunkLen := 8 + TagSize
	mixed := make([]byte, len(ctA))
	copy(mixed, ctA)
	copy(mixed[:chunkLen], ctB[:chunkLen])

	_, _, _, err = UnwrapAndDecrypt(envA, mixed, mk)
	if !errors.Is(err, ErrWrongKeyOrCorrupted) {
		t.Errorf("error = %v, expected ErrWrongKeyOrCorrupted", err)
	}
}

func TestStreamEnvelopeMatchesWrapNewFile(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")
	plaintext := []byte("streamed content spanning chunks")

	dek, err := GenerateDEK()
	if err != nil {
		t.Fatalf("GenerateDEK() error = %v", err)
	}
	baseIV, err := GenerateBaseIV()
	if err != nil {
		t.Fatalf("GenerateBaseIV() error = %v", err)
	}
	meta := NewEncMetaV1(int64(len(plaintext)), 8, baseIV)

	env, err := NewStreamEnvelope(dek, meta, "stream.bin", "application/octet-stream", mk)
	if err != nil {
		t.Fatalf("NewStreamEnvelope() error = %v", err)
	}

	enc, err := NewChunkEncryptor(dek, meta)
	if err != nil {
		t.Fatalf("NewChunkEncryptor() error = %v", err)
	}
	var ciphertext []byte
	for i := int64(0); i < meta.TotalChunks; i++ {
		start := i * 8
		end := start + ChunkPlaintextLen(meta.SizeBytes, 8, i)
		chunk, err := enc.EncryptChunk(plaintext[start:end])
		if err != nil {
			t.Fatalf("EncryptChunk(%d) error = %v", i, err)
		}
		ciphertext = append(ciphertext, chunk...)
	}
	if !enc.Done() {
		t.Error("encryptor not done after all chunks")
	}

	decrypted, filename, mimeType, err := UnwrapAndDecrypt(env, ciphertext, mk)
	if err != nil {
		t.Fatalf("UnwrapAndDecrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("stream-encrypted content did not round trip")
	}
	if filename != "stream.bin" || mimeType != "application/octet-stream" {
		t.Errorf("metadata = (%q, %q), expected (stream.bin, application/octet-stream)", filename, mimeType)
	}
}

func TestChunkEncryptorEnforcesOrderAndLength(t *testing.T) {
	dek, _ := GenerateDEK()
	baseIV, _ := GenerateBaseIV()
	meta := NewEncMetaV1(20, 8, baseIV)

	enc, err := NewChunkEncryptor(dek, meta)
	if err != nil {
		t.Fatalf("NewChunkEncryptor() error = %v", err)
	}

	// Chunk 0 must be a full 8 bytes.
	if _, err := enc.EncryptChunk(make([]byte, 4)); err == nil {
		t.Error("expected error for short non-final chunk")
	}
	for i := 0; i < 2; i++ {
		if _, err := enc.EncryptChunk(make([]byte, 8)); err != nil {
			t.Fatalf("EncryptChunk() error = %v", err)
		}
	}
	// Final chunk carries the 4-byte remainder, nothing else.
	if _, err := enc.EncryptChunk(make([]byte, 8)); err == nil {
		t.Error("expected error for oversized final chunk")
	}
	if _, err := enc.EncryptChunk(make([]byte, 4)); err != nil {
		t.Fatalf("EncryptChunk() error = %v", err)
	}
	if _, err := enc.EncryptChunk(make([]byte, 4)); err == nil {
		t.Error("expected error for chunk past the declared count")
	}
}

func TestContentHashVerification(t *testing.T) {
	mk := mustDerive(t, "correct horse battery staple")
	env, ciphertext, err := WrapNewFile([]byte("hashed content"), "a.txt", "", mk)
	if err != nil {
		t.Fatalf("WrapNewFile() error = %v", err)
	}

	sum := sha256.Sum256([]byte("hashed content"))
	if env.ContentSHA256 != hex.EncodeToString(sum[:]) {
		t.Error("envelope hash does not match plaintext hash")
	}

	env.ContentSHA256 = hex.EncodeToString(make([]byte, 32))
	_, _, _, err = UnwrapAndDecrypt(env, ciphertext, mk)
	if !errors.Is(err, ErrWrongKeyOrCorrupted) {
		t.Errorf("error = %v, expected ErrWrongKeyOrCorrupted", err)
	}
}
