package models

// Blob describes one stored content object in a blob backend.
type Blob struct {
	Key            string `json:"key" yaml:"key"`
	SHA256         string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	SizeBytes      int64  `json:"size_bytes" yaml:"size_bytes"`
	StorageBackend string `json:"storage_backend,omitempty" yaml:"storage_backend,omitempty"`
}
