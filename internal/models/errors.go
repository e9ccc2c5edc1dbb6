package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested scope is absent from the source.
	ErrNotFound = errors.New("no data found")
	// ErrTransferFailed matches every *TransferError.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrStore matches every *StoreError.
	ErrStore = errors.New("store error")
	// ErrStructuralMismatch marks record trees that differ after migration.
	ErrStructuralMismatch = errors.New("structural mismatch")
)

// TransferError reports a failed blob copy for one source key.
type TransferError struct {
	SourceKey string
	Cause     error
}

func (e *TransferError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("transfer %s failed", e.SourceKey)
	}
	return fmt.Sprintf("transfer %s failed: %v", e.SourceKey, e.Cause)
}

func (e *TransferError) Unwrap() error {
	return e.Cause
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}

// TransferFailed wraps cause as a TransferError for sourceKey.
func TransferFailed(sourceKey string, cause error) error {
	return &TransferError{SourceKey: sourceKey, Cause: cause}
}

// StoreError reports a backend I/O failure.
type StoreError struct {
	Op        string
	Path      string
	Transient bool
	Cause     error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// NewStoreError wraps cause as a StoreError. A nil cause yields nil.
func NewStoreError(op, path string, transient bool, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *StoreError
	if errors.As(cause, &existing) {
		return cause
	}
	return &StoreError{Op: op, Path: path, Transient: transient, Cause: cause}
}

// IsTransient reports whether err is a StoreError worth retrying.
func IsTransient(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Transient
	}
	return false
}
