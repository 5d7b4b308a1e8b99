package models

import (
	"time"

	"github.com/google/uuid"
)

// File is the server-side record of an encrypted object as seen over the
// REST ABI. Everything identifying the content is ciphertext; the server
// stores and returns it without being able to read it.
type File struct {
	FileID     string       `json:"fileId"`     // UUID v4 for file identification
	StorageID  string       `json:"storageId"`  // UUID v4 addressing the ciphertext blob
	Owner      string       `json:"owner"`
	Version    int          `json:"version"`    // increments on re-upload of the same logical path
	Envelope   *EnvelopeDTO `json:"envelope"`
	SizeBytes  int64        `json:"sizeBytes"`  // original plaintext size, as declared by the client
	UploadDate time.Time    `json:"uploadDate"`
}

// GenerateFileID creates a new UUID v4 for file identification.
func GenerateFileID() string {
	return uuid.New().String()
}

// GenerateStorageID creates a new UUID v4 addressing a ciphertext blob.
func GenerateStorageID() string {
	return uuid.New().String()
}

// FileUploadRequest is the metadata half of an upload; the ciphertext bytes
// stream separately.
type FileUploadRequest struct {
	Envelope     *EnvelopeDTO `json:"envelope"`
	SizeBytes    int64        `json:"sizeBytes"`
	NewVersionOf string       `json:"newVersionOf,omitempty"` // fileId being re-uploaded, if any
}

// FileUploadResponse returns the server-assigned identifiers.
type FileUploadResponse struct {
	FileID    string `json:"fileId"`
	StorageID string `json:"storageId"`
	Version   int    `json:"version"`
}

// Share is the server-side record of a share link. It carries the share
// token and the file it points at, never any key material: the DEK travels
// only in the client-built URL fragment.
type Share struct {
	Token     string     `json:"token"`
	FileID    string     `json:"fileId"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// GenerateShareToken creates a new opaque share token.
func GenerateShareToken() string {
	return uuid.New().String()
}

// CryptoInitResponse is the payload of POST /api/crypto/init.
type CryptoInitResponse struct {
	KdfParams KdfParamsDTO `json:"kdfParams"`
}

// LoginRequest authenticates a client to the backend. The password here is
// the account login credential; the encryption password never leaves the
// device.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for subsequent API calls.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ErrorResponse is the uniform error payload of the REST ABI.
type ErrorResponse struct {
	Error string `json:"error"`
}
