// Package transfer copies manifest blobs between two blob stores.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/wait"

	"treesync/internal/blobstore"
	"treesync/internal/models"
)

const (
	DefaultConcurrency  = 8
	DefaultRetrySteps   = 4
	DefaultRetryInitial = 200 * time.Millisecond

	maxJoinAttempts = 3
)

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	Concurrency  int
	StagingDir   string
	RetrySteps   int
	RetryInitial time.Duration
	// Timeout bounds one attempt of one transfer. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Result describes the target state of one transferred blob.
type Result struct {
	SourceKey string `json:"source_key" yaml:"source_key"`
	TargetKey string `json:"target_key" yaml:"target_key"`
	TargetRef string `json:"target_ref" yaml:"target_ref"`
	SHA256    string `json:"sha256" yaml:"sha256"`
	SizeBytes int64  `json:"size_bytes" yaml:"size_bytes"`
	// Copied is false when the target already held identical content.
	Copied bool `json:"copied" yaml:"copied"`
}

// Engine copies blobs from source to target. Transfers to the same target
// key are collapsed into one, and at most Concurrency run at a time.
type Engine struct {
	source blobstore.BlobStore
	target blobstore.BlobStore

	stagingDir string
	timeout    time.Duration
	backoff    wait.Backoff
	logger     *slog.Logger

	sem      *semaphore.Weighted
	inFlight singleflight.Group
}

// New creates an engine and its staging directory.
func New(source, target blobstore.BlobStore, opts Options) (*Engine, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("source and target blob stores are required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RetrySteps <= 0 {
		opts.RetrySteps = DefaultRetrySteps
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = DefaultRetryInitial
	}
	if strings.TrimSpace(opts.StagingDir) == "" {
		opts.StagingDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registerMetrics()
	return &Engine{
		source:     source,
		target:     target,
		stagingDir: opts.StagingDir,
		timeout:    opts.Timeout,
		backoff: wait.Backoff{
			Duration: opts.RetryInitial,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    opts.RetrySteps,
		},
		logger: logger.With("component", "transfer"),
		sem:    semaphore.NewWeighted(int64(opts.Concurrency)),
	}, nil
}

// Transfer makes entry.TargetKey hold the same bytes as entry.SourceKey. It
// is safe to call repeatedly: once the target matches, nothing is copied.
// Every error matches models.ErrTransferFailed.
func (e *Engine) Transfer(ctx context.Context, entry models.ManifestEntry) (Result, error) {
	var (
		v   any
		err error
	)
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		var shared bool
		v, err, shared = e.inFlight.Do(entry.TargetKey, func() (any, error) {
			return e.transferWithRetry(ctx, entry)
		})
		// A joined flight that died with its leader's context is not our failure.
		if err != nil && shared && ctx.Err() == nil && isContextError(err) {
			continue
		}
		break
	}
	if err != nil {
		return Result{}, err
	}
	result := v.(Result)
	result.TargetRef = entry.TargetRef
	return result, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) transferWithRetry(ctx context.Context, entry models.ManifestEntry) (Result, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Result{}, models.TransferFailed(entry.SourceKey, err)
	}
	defer e.sem.Release(1)

	start := time.Now()
	var (
		result  Result
		lastErr error
		attempt int
	)
	err := wait.ExponentialBackoffWithContext(ctx, e.backoff, func(ctx context.Context) (bool, error) {
		attempt++
		res, err := e.transferOnce(ctx, entry)
		if err == nil {
			result = res
			return true, nil
		}
		if models.IsTransient(err) {
			lastErr = err
			transferRetriesTotal.Inc()
			e.logger.Debug("transient transfer error", "source_key", entry.SourceKey, "attempt", attempt, "error", err)
			return false, nil
		}
		return false, err
	})
	if err != nil && wait.Interrupted(err) && lastErr != nil && ctx.Err() == nil {
		err = lastErr
	}

	outcome := outcomeCopied
	switch {
	case err != nil:
		outcome = outcomeFailed
	case !result.Copied:
		outcome = outcomeReused
	default:
		transferCopiedBytesTotal.Add(float64(result.SizeBytes))
	}
	transferOperationsTotal.WithLabelValues(outcome).Inc()
	transferOperationsDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		e.logger.Warn("transfer failed", "source_key", entry.SourceKey, "target_key", entry.TargetKey, "attempts", attempt, "error", err)
		var transferErr *models.TransferError
		if errors.As(err, &transferErr) {
			return Result{}, err
		}
		return Result{}, models.TransferFailed(entry.SourceKey, err)
	}
	e.logger.Debug("transfer complete", "source_key", entry.SourceKey, "target_key", entry.TargetKey, "copied", result.Copied, "size_bytes", result.SizeBytes)
	return result, nil
}

func (e *Engine) transferOnce(ctx context.Context, entry models.ManifestEntry) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	result := Result{SourceKey: entry.SourceKey, TargetKey: entry.TargetKey}

	sourceSum, ok, err := e.source.Checksum(ctx, entry.SourceKey)
	if err != nil {
		return result, err
	}
	if !ok {
		return result, models.TransferFailed(entry.SourceKey, fmt.Errorf("source object %s does not exist", entry.SourceKey))
	}

	targetSum, ok, err := e.target.Checksum(ctx, entry.TargetKey)
	if err != nil {
		return result, err
	}
	if ok && targetSum == sourceSum {
		result.SHA256 = sourceSum
		return result, nil
	}

	staged, err := os.CreateTemp(e.stagingDir, "stage-*")
	if err != nil {
		return result, fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		_ = staged.Close()
		_ = os.Remove(staged.Name())
	}()

	rc, err := e.source.Download(ctx, entry.SourceKey)
	if err != nil {
		return result, err
	}
	digest, err := blobstore.DigestReader(io.TeeReader(rc, staged))
	_ = rc.Close()
	sum, n := digest.SHA256, digest.Size
	if err != nil {
		return result, models.NewStoreError("download", entry.SourceKey, true, err)
	}
	if sum != sourceSum {
		return result, models.TransferFailed(entry.SourceKey, fmt.Errorf("read digest %s does not match source checksum %s", sum, sourceSum))
	}

	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return result, fmt.Errorf("rewind staging file: %w", err)
	}
	if err := e.target.Upload(ctx, entry.TargetKey, staged, blobstore.UploadInfo{
		SizeBytes: n,
		SHA256:    sum,
		CRC32C:    digest.CRC32C,
		HasCRC32C: true,
	}); err != nil {
		return result, err
	}

	written, ok, err := e.target.Checksum(ctx, entry.TargetKey)
	if err != nil {
		return result, err
	}
	if !ok || written != sum {
		return result, models.TransferFailed(entry.SourceKey, fmt.Errorf("target %s does not match source after upload", entry.TargetKey))
	}

	result.SHA256 = sum
	result.SizeBytes = n
	result.Copied = true
	return result, nil
}
