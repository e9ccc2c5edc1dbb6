package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"treesync/internal/models"
)

// Memory is an in-process blob store. It counts uploads and downloads so
// callers can assert how much copying happened.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	codec   RefCodec

	uploads   atomic.Int64
	downloads atomic.Int64
}

// NewMemory creates an empty in-memory store.
func NewMemory(codec RefCodec) *Memory {
	return &Memory{objects: map[string][]byte{}, codec: codec}
}

// Codec returns the reference codec of this store.
func (m *Memory) Codec() RefCodec {
	return m.codec
}

// Put stores data under key without counting it as an upload.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Remove deletes key if present.
func (m *Memory) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

// Bytes returns a copy of the stored content of key.
func (m *Memory) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Uploads returns the number of completed uploads.
func (m *Memory) Uploads() int64 {
	return m.uploads.Load()
}

// Downloads returns the number of opened downloads.
func (m *Memory) Downloads() int64 {
	return m.downloads.Load()
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := m.Bytes(key)
	return ok, nil
}

func (m *Memory) Checksum(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	data, ok := m.Bytes(key)
	if !ok {
		return "", false, nil
	}
	sum, _, err := HashReader(bytes.NewReader(data))
	return sum, err == nil, err
}

func (m *Memory) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m.Bytes(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	m.downloads.Add(1)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Upload(ctx context.Context, key string, r io.Reader, info UploadInfo) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(contextReader{ctx: ctx, r: r})
	if err != nil {
		return err
	}
	if info.SHA256 != "" {
		sum, _, _ := HashReader(bytes.NewReader(data))
		if sum != info.SHA256 {
			return fmt.Errorf("upload %s: content digest %s does not match declared %s", key, sum, info.SHA256)
		}
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	m.uploads.Add(1)
	return nil
}

func (m *Memory) List(ctx context.Context) ([]models.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Blob, 0, len(m.objects))
	for key, data := range m.objects {
		out = append(out, models.Blob{Key: key, SizeBytes: int64(len(data)), StorageBackend: "memory"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

var (
	_ BlobStore = (*Memory)(nil)
	_ BlobStore = (*Local)(nil)
)
