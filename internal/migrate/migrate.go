// Package migrate replicates a record tree scope and its blobs from a
// source backend to a target backend.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"treesync/internal/models"
	"treesync/internal/resolve"
	"treesync/internal/store"
	"treesync/internal/transfer"
)

// Transferer copies one manifest blob. *transfer.Engine implements it.
type Transferer interface {
	Transfer(ctx context.Context, entry models.ManifestEntry) (transfer.Result, error)
}

// Entry statuses in a Report.
const (
	StatusCopied    = "copied"
	StatusReused    = "reused"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// EntryOutcome is the transfer outcome of one manifest entry.
type EntryOutcome struct {
	SourceKey string `json:"source_key" yaml:"source_key"`
	TargetKey string `json:"target_key" yaml:"target_key"`
	TargetRef string `json:"target_ref" yaml:"target_ref"`
	Status    string `json:"status" yaml:"status"`
	SHA256    string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarizes one migration run. It is returned with an error too,
// listing whatever completed before the run stopped.
type Report struct {
	RunID        string         `json:"run_id" yaml:"run_id"`
	Scope        models.Scope   `json:"scope" yaml:"scope"`
	ManifestSize int            `json:"manifest_size" yaml:"manifest_size"`
	Transferred  int            `json:"transferred" yaml:"transferred"`
	Reused       int            `json:"reused" yaml:"reused"`
	Failed       int            `json:"failed" yaml:"failed"`
	Entries      []EntryOutcome `json:"entries" yaml:"entries"`
	Gaps         []models.Gap   `json:"gaps" yaml:"gaps"`
	Written      []string       `json:"written" yaml:"written"`
	StartedAt    time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time      `json:"finished_at" yaml:"finished_at"`
}

// Orchestrator runs resolve, transfer and write for one scope.
type Orchestrator struct {
	source   store.RecordStore
	target   store.RecordStore
	resolver *resolve.Resolver
	engine   Transferer
	logger   *slog.Logger
}

// New creates an orchestrator. Record stores that do not already retry are
// wrapped with store.WithRetry defaults.
func New(source, target store.RecordStore, resolver *resolve.Resolver, engine Transferer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	retry := store.RetryOptions{Logger: logger}
	return &Orchestrator{
		source:   store.WithRetry(source, retry),
		target:   store.WithRetry(target, retry),
		resolver: resolver,
		engine:   engine,
		logger:   logger.With("component", "migrate"),
	}
}

// Migrate copies scope to the target. Records are written only after every
// blob of the scope is verified in the target; a failed transfer leaves the
// target records untouched.
func (o *Orchestrator) Migrate(ctx context.Context, scope models.Scope) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Scope: scope, StartedAt: time.Now().UTC()}
	logger := o.logger.With("run_id", report.RunID, "scope", scope.String())

	plan, err := o.Plan(ctx, scope)
	if err != nil {
		report.FinishedAt = time.Now().UTC()
		return report, err
	}
	report.ManifestSize = plan.Result.Manifest.Len()
	report.Gaps = plan.Result.Gaps
	for _, gap := range plan.Result.Gaps {
		logger.Warn("unresolved reference", "kind", gap.Kind, "path", gap.Path, "ref", gap.Ref)
	}

	report.Entries, err = o.TransferAll(ctx, plan.Result.Manifest)
	report.count()
	if err != nil {
		report.FinishedAt = time.Now().UTC()
		logger.Error("migration aborted before record write", "error", err, "transferred", report.Transferred, "failed", report.Failed)
		return report, err
	}

	report.Written, err = o.WritePlan(ctx, plan)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		return report, err
	}
	logger.Info("migration complete",
		"manifest_size", report.ManifestSize,
		"transferred", report.Transferred,
		"reused", report.Reused,
		"gaps", len(report.Gaps),
		"written", len(report.Written))
	return report, nil
}

// TransferAll transfers every manifest entry concurrently and returns the
// outcomes in manifest order. The first failure cancels the rest.
func (o *Orchestrator) TransferAll(ctx context.Context, manifest models.Manifest) ([]EntryOutcome, error) {
	outcomes := make([]EntryOutcome, len(manifest.Entries))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range manifest.Entries {
		outcomes[i] = EntryOutcome{SourceKey: entry.SourceKey, TargetKey: entry.TargetKey, TargetRef: entry.TargetRef, Status: StatusCancelled}
		g.Go(func() error {
			result, err := o.engine.Transfer(gctx, entry)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && errors.Is(err, context.Canceled) && gctx.Err() != nil:
				outcomes[i].Error = err.Error()
			case err != nil:
				outcomes[i].Status = StatusFailed
				outcomes[i].Error = err.Error()
			case result.Copied:
				outcomes[i].Status = StatusCopied
			default:
				outcomes[i].Status = StatusReused
			}
			if err == nil {
				outcomes[i].SHA256 = result.SHA256
				outcomes[i].SizeBytes = result.SizeBytes
			}
			return err
		})
	}
	err := g.Wait()
	return outcomes, err
}

// WritePlan issues the plan's record writes in order and returns the paths
// written.
func (o *Orchestrator) WritePlan(ctx context.Context, plan *Plan) ([]string, error) {
	var written []string
	for _, write := range plan.Writes() {
		if err := o.target.Set(ctx, write.Path, write.Value); err != nil {
			return written, fmt.Errorf("write %q: %w", write.Path, err)
		}
		if write.Path == "" {
			written = append(written, "/")
		} else {
			written = append(written, write.Path)
		}
	}
	return written, nil
}

func (r *Report) count() {
	r.Transferred, r.Reused, r.Failed = 0, 0, 0
	for _, entry := range r.Entries {
		switch entry.Status {
		case StatusCopied:
			r.Transferred++
		case StatusReused:
			r.Reused++
		case StatusFailed:
			r.Failed++
		}
	}
}
