package blobstore

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// RefStyle selects how keys are rendered as blob references.
type RefStyle string

const (
	// RefStylePath renders "bucket/key".
	RefStylePath RefStyle = "path"
	// RefStyleFirebase renders Firebase-storage download URLs.
	RefStyleFirebase RefStyle = "firebase"
	// RefStyleURI renders "scheme://bucket/key".
	RefStyleURI RefStyle = "uri"
)

const firebaseStorageHost = "firebasestorage.googleapis.com"

// ParseRefStyle validates a configured reference style.
func ParseRefStyle(raw string) (RefStyle, error) {
	value := RefStyle(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "":
		return RefStylePath, nil
	case RefStylePath, RefStyleFirebase, RefStyleURI:
		return value, nil
	default:
		return "", fmt.Errorf("invalid ref style: %s", value)
	}
}

// RefCodec converts between keys and the references stored in records.
// A reference is only meaningful to the backend whose codec issued it.
type RefCodec struct {
	Style  RefStyle
	Scheme string
	Bucket string
}

// Ref renders key as a reference of this backend.
func (c RefCodec) Ref(key string) string {
	key = strings.TrimLeft(key, "/")
	switch c.Style {
	case RefStyleFirebase:
		return fmt.Sprintf("https://%s/v0/b/%s/o/%s?alt=media", firebaseStorageHost, c.Bucket, url.PathEscape(key))
	case RefStyleURI:
		return fmt.Sprintf("%s://%s/%s", c.scheme(), c.Bucket, key)
	default:
		if c.Bucket == "" {
			return key
		}
		return c.Bucket + "/" + key
	}
}

// ParseRef extracts the key from a reference issued by this backend. Every
// supported style is accepted, but the bucket must match.
func (c RefCodec) ParseRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty blob reference")
	}

	var bucket, key string
	switch {
	case strings.HasPrefix(ref, "https://"+firebaseStorageHost+"/"), strings.HasPrefix(ref, "http://"+firebaseStorageHost+"/"):
		var err error
		bucket, key, err = parseFirebaseURL(ref)
		if err != nil {
			return "", err
		}
	case strings.Contains(ref, "://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("invalid blob reference %q: %w", ref, err)
		}
		if u.Scheme != c.scheme() {
			return "", fmt.Errorf("blob reference %q does not use scheme %s", ref, c.scheme())
		}
		bucket = u.Host
		key = strings.TrimPrefix(u.Path, "/")
	default:
		if c.Bucket == "" {
			key = ref
			break
		}
		var ok bool
		bucket, key, ok = strings.Cut(ref, "/")
		if !ok {
			return "", fmt.Errorf("blob reference %q has no bucket", ref)
		}
	}

	if c.Bucket != "" && bucket != c.Bucket {
		return "", fmt.Errorf("blob reference %q belongs to bucket %q, not %q", ref, bucket, c.Bucket)
	}
	if err := ValidateKey(key); err != nil {
		return "", fmt.Errorf("blob reference %q: %w", ref, err)
	}
	return key, nil
}

func (c RefCodec) scheme() string {
	if c.Scheme == "" {
		return "gs"
	}
	return c.Scheme
}

// parseFirebaseURL splits a download URL of the form
// https://firebasestorage.googleapis.com/v0/b/{bucket}/o/{escaped key}?alt=media&token=...
func parseFirebaseURL(ref string) (string, string, error) {
	head, rest, ok := strings.Cut(ref, "/o/")
	if !ok {
		return "", "", fmt.Errorf("blob reference %q has no object segment", ref)
	}
	escaped, _, _ := strings.Cut(rest, "?")
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", "", fmt.Errorf("blob reference %q: %w", ref, err)
	}
	_, bucket, ok := strings.Cut(head, "/v0/b/")
	if !ok || bucket == "" {
		return "", "", fmt.Errorf("blob reference %q has no bucket segment", ref)
	}
	return bucket, key, nil
}

// ValidateKey rejects empty, absolute and escaping keys.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("blob key is required")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("blob key must be relative")
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("invalid blob key")
	}
	return nil
}
