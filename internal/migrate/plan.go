package migrate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"treesync/internal/models"
	"treesync/internal/resolve"
)

// Write is one record-store write a plan will issue.
type Write struct {
	Path  string
	Value any
}

// Plan is a resolved scope: everything needed to transfer its blobs and
// write its records, computed without touching the target.
type Plan struct {
	Scope  models.Scope
	Layout models.Layout
	// Root is the source root of a full-tree plan and nil otherwise.
	Root   any
	Result resolve.Result
}

// Plan reads the source scope and resolves its references.
func (o *Orchestrator) Plan(ctx context.Context, scope models.Scope) (*Plan, error) {
	layout := o.resolver.Layout
	if scope.IsFull() {
		root, ok, err := o.source.Get(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("read source root: %w", err)
		}
		if !ok || models.IsEmpty(root) {
			return nil, models.ErrNotFound
		}
		return &Plan{
			Scope:  scope,
			Layout: layout,
			Root:   root,
			Result: o.resolver.Resolve(resolve.SnapshotFromRoot(root, layout)),
		}, nil
	}

	var (
		node  any
		found bool
		files any
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		node, found, err = o.source.Get(gctx, layout.NodePath(scope.ProjectID))
		if err != nil {
			return fmt.Errorf("read project %s: %w", scope.ProjectID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		files, _, err = o.source.Get(gctx, layout.FileCollection)
		if err != nil {
			return fmt.Errorf("read %s: %w", layout.FileCollection, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc, isDoc := models.AsDocument(node)
	if !found || !isDoc || len(doc) == 0 {
		return nil, fmt.Errorf("project %s: %w", scope.ProjectID, models.ErrNotFound)
	}
	snap := resolve.Snapshot{
		Nodes: map[string]models.Document{scope.ProjectID: doc},
		Files: models.Collection(map[string]any{layout.FileCollection: files}, layout.FileCollection),
	}
	return &Plan{Scope: scope, Layout: layout, Result: o.resolver.Resolve(snap)}, nil
}

// Writes lists the record writes of the plan. Subtree plans write the
// referenced file records before the node that points at them.
func (p *Plan) Writes() []Write {
	if p.Scope.IsFull() {
		return []Write{{Path: "", Value: resolve.ApplyToRoot(p.Root, p.Layout, p.Result)}}
	}
	writes := make([]Write, 0, len(p.Result.ReferencedFiles)+1)
	for _, id := range p.Result.ReferencedFiles {
		writes = append(writes, Write{Path: p.Layout.FilePath(id), Value: p.Result.Files[id]})
	}
	writes = append(writes, Write{Path: p.Layout.NodePath(p.Scope.ProjectID), Value: p.Result.Nodes[p.Scope.ProjectID]})
	return writes
}

// ExpectedRecords returns the rewritten records the target should hold,
// keyed by record path.
func (p *Plan) ExpectedRecords() map[string]any {
	if p.Scope.IsFull() {
		return models.FlattenRecords(resolve.ApplyToRoot(p.Root, p.Layout, p.Result))
	}
	out := map[string]any{}
	for _, write := range p.Writes() {
		out[write.Path] = write.Value
	}
	return out
}
