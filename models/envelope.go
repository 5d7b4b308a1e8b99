package models

import (
	"encoding/base64"
	"fmt"

	"github.com/coffercloud/coffer/crypto"
)

// EncMetaDTO is the wire form of the cleartext encryption descriptor. The
// fields are public but authenticated: they are bound into the AEAD
// associated data of every content chunk, so the server cannot swap them
// undetected.
type EncMetaDTO struct {
	HeaderVersion int    `json:"headerVersion"`
	AADVersion    int    `json:"aadVersion"`
	Algorithm     string `json:"algorithm"`
	ChunkSize     int    `json:"chunkSize"`
	TotalChunks   int64  `json:"totalChunks"`
	BaseIV        string `json:"baseIv"` // base64
	SizeBytes     int64  `json:"sizeBytes"`
}

// EnvelopeDTO is the wire form of an Encrypted Object Envelope, with all
// binary fields base64-encoded. This is what crosses the network boundary
// alongside the ciphertext; it never contains an unwrapped DEK.
type EnvelopeDTO struct {
	CipherIV      string     `json:"cipherIv"`
	EDEK          string     `json:"edek"`
	EDEKIV        string     `json:"edekIv"`
	MetaNameEnc   string     `json:"metaNameEnc"`
	MetaNameIV    string     `json:"metaNameIv"`
	MimeEnc       string     `json:"mimeEnc,omitempty"`
	MimeIV        string     `json:"mimeIv,omitempty"`
	EncMeta       EncMetaDTO `json:"encMeta"`
	ContentSHA256 string     `json:"contentSha256,omitempty"`
}

// NewEnvelopeDTO encodes a crypto envelope for transport.
func NewEnvelopeDTO(env *crypto.Envelope) *EnvelopeDTO {
	enc := base64.StdEncoding.EncodeToString
	dto := &EnvelopeDTO{
		CipherIV:    enc(env.CipherIV),
		EDEK:        enc(env.EDEK),
		EDEKIV:      enc(env.EDEKIV),
		MetaNameEnc: enc(env.MetaNameEnc),
		MetaNameIV:  enc(env.MetaNameIV),
		EncMeta: EncMetaDTO{
			HeaderVersion: int(env.EncMeta.HeaderVersion),
			AADVersion:    int(env.EncMeta.AADVersion),
			Algorithm:     env.EncMeta.Algorithm,
			ChunkSize:     env.EncMeta.ChunkSize,
			TotalChunks:   env.EncMeta.TotalChunks,
			BaseIV:        enc(env.EncMeta.BaseIV),
			SizeBytes:     env.EncMeta.SizeBytes,
		},
		ContentSHA256: env.ContentSHA256,
	}
	if len(env.MimeEnc) > 0 {
		dto.MimeEnc = enc(env.MimeEnc)
		dto.MimeIV = enc(env.MimeIV)
	}
	return dto
}

// ToEnvelope decodes the wire form back into a crypto envelope. Decoding
// failures are structural corruption, reported before any key material is
// touched.
func (d *EnvelopeDTO) ToEnvelope() (*crypto.Envelope, error) {
	dec := func(field, s string) ([]byte, error) {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("envelope field %s is not valid base64: %w", field, err)
		}
		return b, nil
	}

	env := &crypto.Envelope{ContentSHA256: d.ContentSHA256}
	var err error
	if env.CipherIV, err = dec("cipherIv", d.CipherIV); err != nil {
		return nil, err
	}
	if env.EDEK, err = dec("edek", d.EDEK); err != nil {
		return nil, err
	}
	if env.EDEKIV, err = dec("edekIv", d.EDEKIV); err != nil {
		return nil, err
	}
	if env.MetaNameEnc, err = dec("metaNameEnc", d.MetaNameEnc); err != nil {
		return nil, err
	}
	if env.MetaNameIV, err = dec("metaNameIv", d.MetaNameIV); err != nil {
		return nil, err
	}
	if d.MimeEnc != "" {
		if env.MimeEnc, err = dec("mimeEnc", d.MimeEnc); err != nil {
			return nil, err
		}
		if env.MimeIV, err = dec("mimeIv", d.MimeIV); err != nil {
			return nil, err
		}
	}
	baseIV, err := dec("encMeta.baseIv", d.EncMeta.BaseIV)
	if err != nil {
		return nil, err
	}
	env.EncMeta = crypto.EncMeta{
		HeaderVersion: crypto.HeaderVersion(d.EncMeta.HeaderVersion),
		AADVersion:    crypto.AADVersion(d.EncMeta.AADVersion),
		Algorithm:     d.EncMeta.Algorithm,
		ChunkSize:     d.EncMeta.ChunkSize,
		TotalChunks:   d.EncMeta.TotalChunks,
		BaseIV:        baseIV,
		SizeBytes:     d.EncMeta.SizeBytes,
	}
	return env, nil
}

// KdfParamsDTO is the wire form of the server-issued key derivation
// parameters returned by the crypto-init endpoint.
type KdfParamsDTO struct {
	Algorithm  string `json:"algorithm"`
	Salt       string `json:"salt"` // base64
	Iterations int    `json:"iterations"`
	Memory     uint32 `json:"memory,omitempty"`
	Threads    uint8  `json:"threads,omitempty"`
}

// NewKdfParamsDTO encodes KDF parameters for transport.
func NewKdfParamsDTO(p crypto.KdfParams) KdfParamsDTO {
	return KdfParamsDTO{
		Algorithm:  p.Algorithm,
		Salt:       base64.StdEncoding.EncodeToString(p.Salt),
		Iterations: p.Iterations,
		Memory:     p.Memory,
		Threads:    p.Threads,
	}
}

// ToKdfParams decodes and validates the wire form. A malformed parameter
// set fails with ErrCryptoInit via Validate.
func (d KdfParamsDTO) ToKdfParams() (crypto.KdfParams, error) {
	salt, err := base64.StdEncoding.DecodeString(d.Salt)
	if err != nil {
		return crypto.KdfParams{}, fmt.Errorf("%w: salt is not valid base64", crypto.ErrCryptoInit)
	}
	p := crypto.KdfParams{
		Algorithm:  d.Algorithm,
		Salt:       salt,
		Iterations: d.Iterations,
		Memory:     d.Memory,
		Threads:    d.Threads,
	}
	if err := p.Validate(); err != nil {
		return crypto.KdfParams{}, err
	}
	return p, nil
}
