package blobstore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
)

// checksumMetadataKey is the object metadata entry holding the hex SHA-256.
const checksumMetadataKey = "sha256"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Digest is what one pass over a blob yields.
type Digest struct {
	SHA256 string
	CRC32C uint32
	Size   int64
}

// HashReader consumes r and returns its hex SHA-256 and length.
func HashReader(r io.Reader) (string, int64, error) {
	d, err := DigestReader(r)
	return d.SHA256, d.Size, err
}

// DigestReader consumes r and returns its SHA-256, CRC32C and length.
func DigestReader(r io.Reader) (Digest, error) {
	sh := sha256.New()
	crc := crc32.New(castagnoli)
	n, err := io.Copy(io.MultiWriter(sh, crc), r)
	if err != nil {
		return Digest{Size: n}, err
	}
	return Digest{SHA256: hex.EncodeToString(sh.Sum(nil)), CRC32C: crc.Sum32(), Size: n}, nil
}

// base64SHA256 converts a hex digest into the base64 form S3 expects.
func base64SHA256(hexSum string) (string, error) {
	raw, err := hex.DecodeString(hexSum)
	if err != nil || len(raw) != sha256.Size {
		return "", fmt.Errorf("invalid sha256 %q", hexSum)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
