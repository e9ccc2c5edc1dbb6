package store

import "context"

// RecordStore reads and writes JSON-shaped subtrees addressed by
// slash-separated paths. The empty path is the root of the tree.
//
// Get returns ok=false when nothing is stored at path. Set replaces the whole
// subtree at path; a nil value removes it.
type RecordStore interface {
	Get(ctx context.Context, path string) (any, bool, error)
	Set(ctx context.Context, path string, value any) error
}

var (
	_ RecordStore = (*Store)(nil)
	_ RecordStore = (*Memory)(nil)
	_ RecordStore = (*REST)(nil)
)
