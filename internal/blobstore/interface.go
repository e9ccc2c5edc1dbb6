package blobstore

import (
	"context"
	"errors"
	"io"

	"treesync/internal/models"
)

// ErrBlobNotFound is returned by Download for absent keys.
var ErrBlobNotFound = errors.New("blob not found")

// UploadInfo carries what the caller already knows about an upload payload.
type UploadInfo struct {
	SizeBytes int64
	SHA256    string
	// CRC32C is the Castagnoli checksum; it is only sent when HasCRC32C is set.
	CRC32C      uint32
	HasCRC32C   bool
	ContentType string
}

// BlobStore is the byte-storage abstraction used by the transfer engine.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Checksum returns the hex SHA-256 of the blob, or ok=false when absent.
	Checksum(ctx context.Context, key string) (sum string, ok bool, err error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Upload replaces key atomically: a failed or cancelled upload leaves the
	// previous object (or no object) in place.
	Upload(ctx context.Context, key string, r io.Reader, info UploadInfo) error
	List(ctx context.Context) ([]models.Blob, error)
	Codec() RefCodec
}
