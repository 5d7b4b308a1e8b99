package storage

import (
	"context"
	"fmt"
	"io"
)

// BlobStore is the durable-storage collaborator for ciphertext blobs. Blobs
// are opaque to the store: everything it holds is AEAD ciphertext addressed
// by a storage ID, so any S3-compatible bucket or local stand-in works
// without trust.
type BlobStore interface {
	// PutObject stores a blob. size is the exact ciphertext length.
	PutObject(ctx context.Context, storageID string, reader io.Reader, size int64, opts PutObjectOptions) (UploadInfo, error)
	// GetObject retrieves a blob, optionally a byte range of it.
	GetObject(ctx context.Context, storageID string, opts GetObjectOptions) (io.ReadCloser, error)
	// RemoveObject deletes a blob.
	RemoveObject(ctx context.Context, storageID string) error
}

// PutObjectOptions carries optional metadata for stored blobs.
type PutObjectOptions struct {
	ContentType  string
	UserMetadata map[string]string
}

// UploadInfo describes a completed upload.
type UploadInfo struct {
	Key  string
	ETag string
	Size int64
}

// GetObjectOptions selects an optional byte range.
type GetObjectOptions struct {
	startOffset int64
	endOffset   int64
	hasRange    bool
}

// SetRange sets the inclusive byte range to retrieve.
func (o *GetObjectOptions) SetRange(start, end int64) error {
	if start < 0 || (end >= 0 && start > end) {
		return fmt.Errorf("invalid range specified: start=%d end=%d", start, end)
	}
	o.startOffset = start
	o.endOffset = end
	o.hasRange = true
	return nil
}

// GetRange returns the start and end offsets and whether a range is set.
func (o *GetObjectOptions) GetRange() (int64, int64, bool) {
	return o.startOffset, o.endOffset, o.hasRange
}
