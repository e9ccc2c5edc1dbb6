package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"treesync/internal/models"
)

// GCSOptions configures a Google Cloud Storage backed blob store.
type GCSOptions struct {
	Bucket          string
	KeyPrefix       string
	CredentialsFile string
	Endpoint        string
	Style           RefStyle
}

// GCS stores blobs as objects in one bucket.
type GCS struct {
	client    *storage.Client
	bucket    *storage.BucketHandle
	keyPrefix string
	codec     RefCodec
}

// NewGCS creates a GCS blob store. Without a credentials file the default
// application credentials are used.
func NewGCS(ctx context.Context, opts GCSOptions) (*GCS, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, err
	}
	return &GCS{
		client:    client,
		bucket:    client.Bucket(opts.Bucket),
		keyPrefix: opts.KeyPrefix,
		codec:     RefCodec{Style: opts.Style, Scheme: "gs", Bucket: opts.Bucket},
	}, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Codec returns the reference codec of this store.
func (g *GCS) Codec() RefCodec {
	return g.codec
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := g.attrs(ctx, key)
	return ok, err
}

// Checksum prefers the digest recorded at upload time and falls back to
// hashing the object content.
func (g *GCS) Checksum(ctx context.Context, key string) (string, bool, error) {
	attrs, ok, err := g.attrs(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	if sum := attrs.Metadata[checksumMetadataKey]; sum != "" {
		return sum, true, nil
	}
	rc, err := g.Download(ctx, key)
	if err != nil {
		return "", false, err
	}
	defer rc.Close()
	sum, _, err := HashReader(rc)
	if err != nil {
		return "", false, classifyGCSError("checksum", key, err)
	}
	return sum, true, nil
}

func (g *GCS) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := g.objectName(key)
	if err != nil {
		return nil, err
	}
	r, err := g.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, classifyGCSError("download", key, err)
	}
	return r, nil
}

// Upload writes the object through a resumable writer. GCS only finalizes
// the object when Close succeeds, so a cancelled upload never becomes
// visible.
func (g *GCS) Upload(ctx context.Context, key string, r io.Reader, info UploadInfo) error {
	name, err := g.objectName(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.bucket.Object(name).NewWriter(ctx)
	applyWriterInfo(w, info)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return classifyGCSError("upload", key, err)
	}
	if err := w.Close(); err != nil {
		return classifyGCSError("upload", key, err)
	}
	return nil
}

// applyWriterInfo sets metadata and, when known, the CRC32C that GCS checks
// against the received bytes before finalizing the object.
func applyWriterInfo(w *storage.Writer, info UploadInfo) {
	if info.SHA256 != "" {
		w.Metadata = map[string]string{checksumMetadataKey: info.SHA256}
	}
	if info.ContentType != "" {
		w.ContentType = info.ContentType
	}
	if info.HasCRC32C {
		w.CRC32C = info.CRC32C
		w.SendCRC32C = true
	}
}

func (g *GCS) List(ctx context.Context) ([]models.Blob, error) {
	var out []models.Blob
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: g.keyPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classifyGCSError("list", g.keyPrefix, err)
		}
		out = append(out, models.Blob{
			Key:            strings.TrimPrefix(attrs.Name, g.keyPrefix),
			SHA256:         attrs.Metadata[checksumMetadataKey],
			SizeBytes:      attrs.Size,
			StorageBackend: "gcs",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (g *GCS) attrs(ctx context.Context, key string) (*storage.ObjectAttrs, bool, error) {
	name, err := g.objectName(key)
	if err != nil {
		return nil, false, err
	}
	attrs, err := g.bucket.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classifyGCSError("stat", key, err)
	}
	return attrs, true, nil
}

func (g *GCS) objectName(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return g.keyPrefix + key, nil
}

func classifyGCSError(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	transient := false
	if errors.As(err, &apiErr) {
		transient = apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return models.NewStoreError(op, key, transient, err)
}

var _ BlobStore = (*GCS)(nil)
