package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-memory BlobStore used by the dev server and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// PutObject stores a blob in memory.
func (m *MemoryStore) PutObject(ctx context.Context, storageID string, reader io.Reader, size int64, opts PutObjectOptions) (UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return UploadInfo{}, fmt.Errorf("failed to read object body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return UploadInfo{}, fmt.Errorf("object size mismatch: declared %d, got %d", size, len(data))
	}
	m.mu.Lock()
	m.blobs[storageID] = data
	m.mu.Unlock()
	return UploadInfo{Key: storageID, Size: int64(len(data))}, nil
}

// GetObject retrieves a blob or range of it from memory.
func (m *MemoryStore) GetObject(ctx context.Context, storageID string, opts GetObjectOptions) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.blobs[storageID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object not found: %s", storageID)
	}
	if start, end, hasRange := opts.GetRange(); hasRange {
		if start >= int64(len(data)) {
			return nil, fmt.Errorf("range start %d beyond object size %d", start, len(data))
		}
		if end < 0 || end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// RemoveObject deletes a blob from memory.
func (m *MemoryStore) RemoveObject(ctx context.Context, storageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[storageID]; !ok {
		return fmt.Errorf("object not found: %s", storageID)
	}
	delete(m.blobs, storageID)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
