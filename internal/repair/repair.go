// Package repair compares a migrated scope against its source and repairs
// only what diverged.
package repair

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"treesync/internal/blobstore"
	"treesync/internal/migrate"
	"treesync/internal/models"
	"treesync/internal/store"
)

const maxDiffDetail = 512

// Options tunes one verification run.
type Options struct {
	// ScanOrphans lists both blob stores to report objects no manifest entry
	// accounts for. Only honoured for the full scope.
	ScanOrphans bool `json:"scan_orphans" yaml:"scan_orphans"`
}

// Orphan sides.
const (
	SideSource = "source"
	SideTarget = "target"
)

// Orphan is a stored blob that no manifest entry owns or targets. Orphans
// are reported and never deleted.
type Orphan struct {
	Side string `json:"side" yaml:"side"`
	Key  string `json:"key" yaml:"key"`
}

// Result lists what one verification run found and did.
type Result struct {
	Scope                 models.Scope         `json:"scope" yaml:"scope"`
	StorageDiscrepancies  []models.Discrepancy `json:"storageDiscrepancies" yaml:"storage_discrepancies"`
	DatabaseDiscrepancies []models.Discrepancy `json:"databaseDiscrepancies" yaml:"database_discrepancies"`
	Orphans               []Orphan             `json:"orphans" yaml:"orphans"`
	Gaps                  []models.Gap         `json:"gaps" yaml:"gaps"`
}

// Clean reports whether source and target agree.
func (r *Result) Clean() bool {
	return len(r.StorageDiscrepancies) == 0 && len(r.DatabaseDiscrepancies) == 0
}

// Engine verifies and repairs scopes replicated by an Orchestrator.
type Engine struct {
	planner     *migrate.Orchestrator
	engine      migrate.Transferer
	sourceBlobs blobstore.BlobStore
	targetBlobs blobstore.BlobStore
	target      store.RecordStore
	logger      *slog.Logger
}

// New creates a repair engine. planner resolves scopes and writes records;
// transfers re-copy divergent blobs.
func New(planner *migrate.Orchestrator, transfers migrate.Transferer, sourceBlobs, targetBlobs blobstore.BlobStore, target store.RecordStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		planner:     planner,
		engine:      transfers,
		sourceBlobs: sourceBlobs,
		targetBlobs: targetBlobs,
		target:      store.WithRetry(target, store.RetryOptions{Logger: logger}),
		logger:      logger.With("component", "repair"),
	}
}

// VerifyAndRepair checks every blob and record of scope. Divergent blobs are
// re-transferred one by one. Divergent records cause the whole scope to be
// rewritten, but only when every blob of the scope is in place.
func (e *Engine) VerifyAndRepair(ctx context.Context, scope models.Scope, opts Options) (*Result, error) {
	plan, err := e.planner.Plan(ctx, scope)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Scope:                 scope,
		StorageDiscrepancies:  []models.Discrepancy{},
		DatabaseDiscrepancies: []models.Discrepancy{},
		Orphans:               []Orphan{},
		Gaps:                  plan.Result.Gaps,
	}
	if result.Gaps == nil {
		result.Gaps = []models.Gap{}
	}

	storage, blobsOK, err := e.verifyBlobs(ctx, plan.Result.Manifest)
	if err != nil {
		return nil, err
	}
	result.StorageDiscrepancies = storage

	if scope.IsFull() && opts.ScanOrphans {
		orphans, err := e.scanOrphans(ctx, plan.Result.Manifest)
		if err != nil {
			return nil, err
		}
		result.Orphans = orphans
	}

	records, err := e.verifyRecords(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		action := models.ActionDeferred
		detail := ""
		if blobsOK {
			if _, err := e.planner.WritePlan(ctx, plan); err != nil {
				action = models.ActionRepairFailed
				detail = err.Error()
				e.logger.Error("database mismatch, re-sync failed", "scope", scope.String(), "error", err)
			} else {
				action = models.ActionReSynced
				e.logger.Info("database mismatch, re-synced", "scope", scope.String(), "records", len(records))
			}
		} else {
			e.logger.Warn("database mismatch, re-sync deferred until blobs are repaired", "scope", scope.String())
		}
		for i := range records {
			records[i].Action = action
			if detail != "" {
				records[i].Detail = detail
			}
		}
	}
	result.DatabaseDiscrepancies = records

	e.logger.Info("verification complete",
		"scope", scope.String(),
		"storage_discrepancies", len(result.StorageDiscrepancies),
		"database_discrepancies", len(result.DatabaseDiscrepancies),
		"orphans", len(result.Orphans))
	return result, nil
}

// verifyBlobs checks each manifest entry concurrently and re-transfers the
// divergent ones. Discrepancies come back in manifest order.
func (e *Engine) verifyBlobs(ctx context.Context, manifest models.Manifest) ([]models.Discrepancy, bool, error) {
	found := make([]*models.Discrepancy, len(manifest.Entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range manifest.Entries {
		g.Go(func() error {
			d, err := e.verifyBlob(gctx, entry)
			if err != nil {
				return err
			}
			found[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	out := []models.Discrepancy{}
	ok := true
	for _, d := range found {
		if d == nil {
			continue
		}
		if d.Action != models.ActionReTransferred {
			ok = false
		}
		out = append(out, *d)
	}
	return out, ok, nil
}

func (e *Engine) verifyBlob(ctx context.Context, entry models.ManifestEntry) (*models.Discrepancy, error) {
	sourceSum, ok, err := e.sourceBlobs.Checksum(ctx, entry.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("checksum source %s: %w", entry.SourceKey, err)
	}
	if !ok {
		return &models.Discrepancy{
			Subject: models.SubjectBlob,
			Key:     entry.SourceKey,
			Reason:  models.ReasonMissingInSource,
			Action:  models.ActionNone,
			Detail:  "referenced by " + strings.Join(entry.Owners, ", "),
		}, nil
	}

	targetSum, ok, err := e.targetBlobs.Checksum(ctx, entry.TargetKey)
	if err != nil {
		return nil, fmt.Errorf("checksum target %s: %w", entry.TargetKey, err)
	}
	var d *models.Discrepancy
	switch {
	case !ok:
		d = &models.Discrepancy{Subject: models.SubjectBlob, Key: entry.TargetKey, Reason: models.ReasonMissingInTarget}
	case targetSum != sourceSum:
		d = &models.Discrepancy{Subject: models.SubjectBlob, Key: entry.TargetKey, Reason: models.ReasonChecksumMismatch}
	default:
		return nil, nil
	}

	if _, err := e.engine.Transfer(ctx, entry); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.Action = models.ActionRepairFailed
		d.Detail = err.Error()
		e.logger.Warn("blob repair failed", "target_key", entry.TargetKey, "reason", d.Reason, "error", err)
		return d, nil
	}
	d.Action = models.ActionReTransferred
	e.logger.Info("blob repaired", "target_key", entry.TargetKey, "reason", d.Reason)
	return d, nil
}

func (e *Engine) scanOrphans(ctx context.Context, manifest models.Manifest) ([]Orphan, error) {
	var sourceBlobs, targetBlobs []models.Blob
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceBlobs, err = e.sourceBlobs.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		targetBlobs, err = e.targetBlobs.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	orphans := []Orphan{}
	owned := manifest.SourceKeys()
	for _, blob := range sourceBlobs {
		if _, ok := owned[blob.Key]; !ok {
			orphans = append(orphans, Orphan{Side: SideSource, Key: blob.Key})
		}
	}
	targeted := manifest.TargetKeys()
	for _, blob := range targetBlobs {
		if _, ok := targeted[blob.Key]; !ok {
			orphans = append(orphans, Orphan{Side: SideTarget, Key: blob.Key})
		}
	}
	return orphans, nil
}

// verifyRecords compares the rewritten source records with the target, per
// record path. Actions are filled in by the caller.
func (e *Engine) verifyRecords(ctx context.Context, plan *migrate.Plan) ([]models.Discrepancy, error) {
	expected, err := normalizeAll(plan.ExpectedRecords())
	if err != nil {
		return nil, err
	}

	actual := map[string]any{}
	if plan.Scope.IsFull() {
		root, _, err := e.target.Get(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("read target root: %w", err)
		}
		actual = models.FlattenRecords(root)
	} else {
		for path := range expected {
			value, ok, err := e.target.Get(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("read target %s: %w", path, err)
			}
			if ok {
				actual[path] = value
			}
		}
	}
	actual, err = normalizeAll(actual)
	if err != nil {
		return nil, err
	}

	out := []models.Discrepancy{}
	for _, path := range models.SortedKeys(expected) {
		got, ok := actual[path]
		switch {
		case !ok:
			out = append(out, models.Discrepancy{Subject: models.SubjectRecord, Key: path, Reason: models.ReasonMissingInTarget})
		case !cmp.Equal(expected[path], got):
			out = append(out, models.Discrepancy{
				Subject: models.SubjectRecord,
				Key:     path,
				Reason:  models.ReasonContentMismatch,
				Detail:  fmt.Sprintf("%v: %s", models.ErrStructuralMismatch, truncate(cmp.Diff(expected[path], got), maxDiffDetail)),
			})
		}
	}
	for _, path := range models.SortedKeys(actual) {
		if _, ok := expected[path]; !ok {
			out = append(out, models.Discrepancy{Subject: models.SubjectRecord, Key: path, Reason: models.ReasonMissingInSource})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func normalizeAll(records map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(records))
	for path, value := range records {
		normalized, err := models.Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("normalize %s: %w", path, err)
		}
		out[path] = normalized
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
