package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"treesync/internal/models"
)

const localTmpDir = "tmp"

// Local stores blob bytes in a directory tree keyed by blob key.
type Local struct {
	root  string
	codec RefCodec
}

// NewLocal creates a local blob store rooted at root.
func NewLocal(root string, codec RefCodec) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local blob root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, localTmpDir), 0o755); err != nil {
		return nil, err
	}
	if codec.Scheme == "" {
		codec.Scheme = "file"
	}
	return &Local{root: abs, codec: codec}, nil
}

// Codec returns the reference codec of this store.
func (c *Local) Codec() RefCodec {
	return c.codec
}

// Exists reports whether key is stored.
func (c *Local) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, models.NewStoreError("stat", key, false, err)
}

// Checksum streams the stored file and returns its SHA-256.
func (c *Local) Checksum(ctx context.Context, key string) (string, bool, error) {
	rc, err := c.Download(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer rc.Close()
	sum, _, err := HashReader(rc)
	if err != nil {
		return "", false, models.NewStoreError("checksum", key, false, err)
	}
	return sum, true, nil
}

// Download returns a reader for blob key content.
func (c *Local) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := c.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, models.NewStoreError("open", key, false, err)
	}
	return f, nil
}

// Upload streams r into a temp file and renames it over key once complete.
func (c *Local) Upload(ctx context.Context, key string, r io.Reader, info UploadInfo) error {
	if r == nil {
		return fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := c.pathFromKey(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Join(c.root, localTmpDir), "put-*")
	if err != nil {
		return models.NewStoreError("upload", key, false, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	sum, n, err := HashReader(io.TeeReader(contextReader{ctx: ctx, r: r}, tmp))
	if err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return models.NewStoreError("upload", key, false, err)
	}
	if info.SizeBytes > 0 && n != info.SizeBytes {
		cleanup()
		return fmt.Errorf("upload %s: wrote %d bytes, expected %d", key, n, info.SizeBytes)
	}
	if info.SHA256 != "" && sum != info.SHA256 {
		cleanup()
		return fmt.Errorf("upload %s: content digest %s does not match declared %s", key, sum, info.SHA256)
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		cleanup()
		return models.NewStoreError("upload", key, false, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return models.NewStoreError("upload", key, false, err)
	}
	return nil
}

// List walks the store and returns every blob key with its size.
func (c *Local) List(ctx context.Context) ([]models.Blob, error) {
	var out []models.Blob
	tmpRoot := filepath.Join(c.root, localTmpDir)
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path == tmpRoot {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		out = append(out, models.Blob{Key: filepath.ToSlash(rel), SizeBytes: info.Size(), StorageBackend: "local"})
		return nil
	})
	if err != nil {
		return nil, models.NewStoreError("list", c.root, false, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (c *Local) pathFromKey(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == localTmpDir || strings.HasPrefix(clean, localTmpDir+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key %q uses a reserved prefix", key)
	}
	return filepath.Join(c.root, clean), nil
}

// contextReader stops a copy as soon as ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
