package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Header and AAD format versions. Old encrypted objects must remain
// decryptable after the scheme evolves, so every read path dispatches on
// these fields instead of assuming the current format.
type HeaderVersion byte

const (
	HeaderV1 HeaderVersion = 0x01
)

type AADVersion byte

const (
	AADV1 AADVersion = 0x01
)

// AlgorithmAES256GCM is the only content cipher in the v1 format.
const AlgorithmAES256GCM = "AES-256-GCM"

// AAD labels for metadata fields encrypted under the DEK. Constant strings,
// so a share recipient can decrypt the filename from the fragment alone.
const (
	aadFilename = "coffer:meta:filename:v1"
	aadMimeType = "coffer:meta:mimetype:v1"
)

// EncMeta is the cleartext descriptor persisted alongside an encrypted
// object. Its fields are not secret, but the descriptor is bound into the
// AEAD associated data of every chunk so it cannot be swapped without
// detection.
type EncMeta struct {
	HeaderVersion HeaderVersion
	AADVersion    AADVersion
	Algorithm     string
	ChunkSize     int
	TotalChunks   int64
	BaseIV        []byte
	SizeBytes     int64
}

// NewEncMetaV1 builds the current-format descriptor for a plaintext of the
// given size.
func NewEncMetaV1(sizeBytes int64, chunkSize int, baseIV []byte) EncMeta {
	return EncMeta{
		HeaderVersion: HeaderV1,
		AADVersion:    AADV1,
		Algorithm:     AlgorithmAES256GCM,
		ChunkSize:     chunkSize,
		TotalChunks:   TotalChunksFor(sizeBytes, chunkSize),
		BaseIV:        baseIV,
		SizeBytes:     sizeBytes,
	}
}

// Validate checks structural consistency of the descriptor, dispatching on
// HeaderVersion. An inconsistent chunk geometry is a tamper signal.
func (m EncMeta) Validate() error {
	switch m.HeaderVersion {
	case HeaderV1:
	default:
		return fmt.Errorf("%w: unsupported header version 0x%02x", ErrWrongKeyOrCorrupted, byte(m.HeaderVersion))
	}
	switch m.AADVersion {
	case AADV1:
	default:
		return fmt.Errorf("%w: unsupported AAD version 0x%02x", ErrWrongKeyOrCorrupted, byte(m.AADVersion))
	}
	if m.Algorithm != AlgorithmAES256GCM {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrWrongKeyOrCorrupted, m.Algorithm)
	}
	if m.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrWrongKeyOrCorrupted, m.ChunkSize)
	}
	if len(m.BaseIV) != BaseIVSize {
		return fmt.Errorf("%w: base IV must be %d bytes, got %d", ErrWrongKeyOrCorrupted, BaseIVSize, len(m.BaseIV))
	}
	if m.SizeBytes < 0 {
		return fmt.Errorf("%w: negative size", ErrWrongKeyOrCorrupted)
	}
	if m.TotalChunks != TotalChunksFor(m.SizeBytes, m.ChunkSize) {
		return fmt.Errorf("%w: chunk count %d inconsistent with size %d and chunk size %d",
			ErrWrongKeyOrCorrupted, m.TotalChunks, m.SizeBytes, m.ChunkSize)
	}
	if m.TotalChunks > MaxChunks {
		return fmt.Errorf("%w: chunk count %d exceeds maximum", ErrWrongKeyOrCorrupted, m.TotalChunks)
	}
	return nil
}

// chunkAAD builds the associated data for one content chunk. Binding the
// full descriptor plus the chunk index means chunks cannot be reordered,
// dropped, or transplanted between objects.
func (m EncMeta) chunkAAD(index uint32) ([]byte, error) {
	switch m.AADVersion {
	case AADV1:
		aad := fmt.Sprintf("coffer:chunk:v1|%s|%d|%d|%s|%d|%d",
			m.Algorithm, m.ChunkSize, m.TotalChunks,
			base64.RawStdEncoding.EncodeToString(m.BaseIV), m.SizeBytes, index)
		return []byte(aad), nil
	default:
		return nil, fmt.Errorf("%w: unsupported AAD version 0x%02x", ErrWrongKeyOrCorrupted, byte(m.AADVersion))
	}
}

// Envelope is the unit persisted and transferred for one encrypted object:
// the wrapped DEK, the metadata ciphertexts and their IVs, and the
// authenticated cleartext descriptor. The content ciphertext travels
// separately (streamed).
type Envelope struct {
	CipherIV      []byte // base IV for content encryption, equals EncMeta.BaseIV
	EDEK          []byte
	EDEKIV        []byte
	MetaNameEnc   []byte
	MetaNameIV    []byte
	MimeEnc       []byte // optional
	MimeIV        []byte
	EncMeta       EncMeta
	ContentSHA256 string // hex over plaintext, optional
}

// Validate checks the envelope's structural invariants before any key
// material is touched.
func (e *Envelope) Validate() error {
	if err := e.EncMeta.Validate(); err != nil {
		return err
	}
	if !bytes.Equal(e.CipherIV, e.EncMeta.BaseIV) {
		return fmt.Errorf("%w: cipher IV does not match descriptor base IV", ErrWrongKeyOrCorrupted)
	}
	if len(e.EDEK) < KeySize+TagSize {
		return fmt.Errorf("%w: EDEK too short", ErrWrongKeyOrCorrupted)
	}
	if len(e.EDEKIV) != NonceSize {
		return fmt.Errorf("%w: EDEK IV must be %d bytes", ErrWrongKeyOrCorrupted, NonceSize)
	}
	if len(e.MetaNameEnc) < TagSize || len(e.MetaNameIV) != NonceSize {
		return fmt.Errorf("%w: encrypted filename missing or malformed", ErrWrongKeyOrCorrupted)
	}
	if len(e.MimeEnc) > 0 && len(e.MimeIV) != NonceSize {
		return fmt.Errorf("%w: encrypted MIME type present without valid IV", ErrWrongKeyOrCorrupted)
	}
	return nil
}

// VerifyCiphertextLength checks the declared chunk geometry against the
// actual ciphertext length. A mismatch is treated as tampering.
func (e *Envelope) VerifyCiphertextLength(n int64) error {
	expected := CiphertextSizeFor(e.EncMeta.SizeBytes, e.EncMeta.ChunkSize)
	if n != expected {
		return fmt.Errorf("%w: ciphertext length %d does not match declared size (expected %d)",
			ErrWrongKeyOrCorrupted, n, expected)
	}
	return nil
}

// encryptMetaField encrypts a small metadata value (filename, MIME type)
// under the DEK with a fresh IV and a constant domain-separation label.
func encryptMetaField(value, dek []byte, label string) (enc, iv []byte, err error) {
	iv, err = GenerateNonce()
	if err != nil {
		return nil, nil, err
	}
	enc, err = EncryptGCM(value, dek, iv, []byte(label))
	if err != nil {
		return nil, nil, err
	}
	return enc, iv, nil
}

// DecryptFilename decrypts the envelope filename field with an already
// unwrapped DEK. Used by both the owner path and the share-recipient path.
func DecryptFilename(metaNameEnc, metaNameIV, dek []byte) (string, error) {
	name, err := DecryptGCM(metaNameEnc, dek, metaNameIV, []byte(aadFilename))
	if err != nil {
		return "", fmt.Errorf("filename decryption failed: %w", err)
	}
	return string(name), nil
}

// DecryptMimeType decrypts the optional MIME type field under the DEK.
func DecryptMimeType(mimeEnc, mimeIV, dek []byte) (string, error) {
	mime, err := DecryptGCM(mimeEnc, dek, mimeIV, []byte(aadMimeType))
	if err != nil {
		return "", fmt.Errorf("MIME type decryption failed: %w", err)
	}
	return string(mime), nil
}

// NewStreamEnvelope builds the envelope for a streaming upload: it wraps the
// caller's DEK under the master key and encrypts the metadata fields. The
// content chunks are produced separately by a ChunkEncryptor sharing the same
// DEK and descriptor, so the envelope can be sent before the last chunk is
// read. ContentSHA256 is left empty; streaming callers do not know the hash
// up front.
func NewStreamEnvelope(dek []byte, meta EncMeta, filename, mimeType string, masterKey []byte) (*Envelope, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	nameEnc, nameIV, err := encryptMetaField([]byte(filename), dek, aadFilename)
	if err != nil {
		return nil, fmt.Errorf("filename encryption failed: %w", err)
	}

	var mimeEnc, mimeIV []byte
	if mimeType != "" {
		mimeEnc, mimeIV, err = encryptMetaField([]byte(mimeType), dek, aadMimeType)
		if err != nil {
			return nil, fmt.Errorf("MIME type encryption failed: %w", err)
		}
	}

	edek, edekIV, err := WrapDEK(dek, masterKey)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		CipherIV:    meta.BaseIV,
		EDEK:        edek,
		EDEKIV:      edekIV,
		MetaNameEnc: nameEnc,
		MetaNameIV:  nameIV,
		MimeEnc:     mimeEnc,
		MimeIV:      mimeIV,
		EncMeta:     meta,
	}, nil
}

// WrapNewFile encrypts a complete in-memory plaintext with a fresh DEK and
// wraps the DEK under the master key, returning the envelope and the content
// ciphertext. Streaming callers should use ChunkEncryptor directly; this is
// the convenience path for small objects and tests.
func WrapNewFile(plaintext []byte, filename, mimeType string, masterKey []byte) (*Envelope, []byte, error) {
	return WrapNewFileChunked(plaintext, filename, mimeType, masterKey, DefaultChunkSize)
}

// WrapNewFileChunked is WrapNewFile with an explicit chunk size.
func WrapNewFileChunked(plaintext []byte, filename, mimeType string, masterKey []byte, chunkSize int) (*Envelope, []byte, error) {
	if filename == "" {
		return nil, nil, fmt.Errorf("filename cannot be empty")
	}
	if chunkSize <= 0 {
		return nil, nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	dek, err := GenerateDEK()
	if err != nil {
		return nil, nil, err
	}
	defer SecureZeroBytes(dek)

	baseIV, err := GenerateBaseIV()
	if err != nil {
		return nil, nil, err
	}
	meta := NewEncMetaV1(int64(len(plaintext)), chunkSize, baseIV)

	enc, err := NewChunkEncryptor(dek, meta)
	if err != nil {
		return nil, nil, err
	}
	ciphertext := make([]byte, 0, CiphertextSizeFor(meta.SizeBytes, chunkSize))
	for i := int64(0); i < meta.TotalChunks; i++ {
		start := i * int64(chunkSize)
		end := start + int64(chunkSize)
		if end > int64(len(plaintext)) {
			end = int64(len(plaintext))
		}
		chunk, err := enc.EncryptChunk(plaintext[start:end])
		if err != nil {
			return nil, nil, err
		}
		ciphertext = append(ciphertext, chunk...)
	}

	env, err := NewStreamEnvelope(dek, meta, filename, mimeType, masterKey)
	if err != nil {
		return nil, nil, err
	}
	sum := sha256.Sum256(plaintext)
	env.ContentSHA256 = hex.EncodeToString(sum[:])
	return env, ciphertext, nil
}

// UnwrapAndDecrypt unwraps the envelope's DEK under the master key and
// decrypts content, filename, and MIME type. An AEAD failure at any stage
// aborts with ErrWrongKeyOrCorrupted and no partial plaintext.
func UnwrapAndDecrypt(env *Envelope, ciphertext, masterKey []byte) (plaintext []byte, filename, mimeType string, err error) {
	if err := env.Validate(); err != nil {
		return nil, "", "", err
	}
	dek, err := UnwrapDEK(env.EDEK, env.EDEKIV, masterKey)
	if err != nil {
		return nil, "", "", err
	}
	defer SecureZeroBytes(dek)
	return DecryptWithDEK(env, ciphertext, dek)
}

// DecryptWithDEK decrypts an envelope's content and metadata with an already
// unwrapped DEK. Share recipients land here directly: they hold the DEK from
// the link fragment and never see the owner's master key.
func DecryptWithDEK(env *Envelope, ciphertext, dek []byte) (plaintext []byte, filename, mimeType string, err error) {
	if err := env.Validate(); err != nil {
		return nil, "", "", err
	}
	if err := env.VerifyCiphertextLength(int64(len(ciphertext))); err != nil {
		return nil, "", "", err
	}

	dec, err := NewChunkDecryptor(dek, env.EncMeta)
	if err != nil {
		return nil, "", "", err
	}
	plaintext = make([]byte, 0, env.EncMeta.SizeBytes)
	offset := int64(0)
	for i := int64(0); i < env.EncMeta.TotalChunks; i++ {
		clen := ChunkPlaintextLen(env.EncMeta.SizeBytes, env.EncMeta.ChunkSize, i) + int64(TagSize)
		chunk, err := dec.DecryptChunk(ciphertext[offset : offset+clen])
		if err != nil {
			return nil, "", "", err
		}
		plaintext = append(plaintext, chunk...)
		offset += clen
	}

	filename, err = DecryptFilename(env.MetaNameEnc, env.MetaNameIV, dek)
	if err != nil {
		return nil, "", "", err
	}
	if len(env.MimeEnc) > 0 {
		mimeType, err = DecryptMimeType(env.MimeEnc, env.MimeIV, dek)
		if err != nil {
			return nil, "", "", err
		}
	}

	// Defense in depth beyond the per-chunk tags; catches client-side
	// reassembly bugs rather than adversarial tampering.
	if env.ContentSHA256 != "" {
		sum := sha256.Sum256(plaintext)
		if hex.EncodeToString(sum[:]) != env.ContentSHA256 {
			return nil, "", "", fmt.Errorf("%w: plaintext hash mismatch after decryption", ErrWrongKeyOrCorrupted)
		}
	}
	return plaintext, filename, mimeType, nil
}
