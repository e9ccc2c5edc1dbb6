package resolve

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"treesync/internal/blobstore"
	"treesync/internal/models"
)

var (
	sourceCodec = blobstore.RefCodec{Style: blobstore.RefStylePath, Bucket: "A"}
	targetCodec = blobstore.RefCodec{Style: blobstore.RefStylePath, Bucket: "B"}
)

func scenarioRoot() map[string]any {
	return map[string]any{
		"projects": map[string]any{
			"p1": map[string]any{
				"title":         "One",
				"coverImageUrl": "A/img1",
				"sections": []any{
					map[string]any{"type": "Text", "body": "hello"},
					map[string]any{"type": "File", "refId": "f1"},
				},
			},
			"p2": map[string]any{
				"title":         "Two",
				"coverImageUrl": "A/img1",
				"sections": []any{
					map[string]any{"type": "File", "refId": "f1"},
					map[string]any{"type": "File", "refId": "f9"},
				},
			},
		},
		"files": map[string]any{
			"f1": map[string]any{"storagePath": "A/doc1"},
			"f2": map[string]any{"storagePath": "A/doc2"},
			"f3": map[string]any{"name": "no blob"},
		},
	}
}

func newTestResolver() *Resolver {
	return New(models.DefaultLayout(), sourceCodec, targetCodec, nil)
}

func TestResolveFullTree(t *testing.T) {
	root := scenarioRoot()
	result := newTestResolver().Resolve(SnapshotFromRoot(root, models.DefaultLayout()))

	wantEntries := []models.ManifestEntry{
		{
			SourceRef: "A/img1", SourceKey: "img1", TargetKey: "img1", TargetRef: "B/img1",
			Owners: []string{"projects/p1/coverImageUrl", "projects/p2/coverImageUrl"},
		},
		{
			SourceRef: "A/doc1", SourceKey: "doc1", TargetKey: "doc1", TargetRef: "B/doc1",
			Owners: []string{"files/f1/storagePath", "projects/p1/sections/1/storagePath", "projects/p2/sections/0/storagePath"},
		},
		{
			SourceRef: "A/doc2", SourceKey: "doc2", TargetKey: "doc2", TargetRef: "B/doc2",
			Owners: []string{"files/f2/storagePath"},
		},
	}
	if diff := cmp.Diff(wantEntries, result.Manifest.Entries); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}

	wantGaps := []models.Gap{
		{Kind: models.GapReferenceUnresolved, Path: "projects/p2/sections/1", Ref: "f9", Detail: "file record not found"},
	}
	if diff := cmp.Diff(wantGaps, result.Gaps); diff != "" {
		t.Fatalf("gaps mismatch (-want +got):\n%s", diff)
	}

	p1 := result.Nodes["p1"]
	if p1["coverImageUrl"] != "B/img1" {
		t.Fatalf("cover not rewritten: %v", p1["coverImageUrl"])
	}
	section := p1["sections"].([]any)[1].(map[string]any)
	if section["storagePath"] != "B/doc1" || section["refId"] != "f1" {
		t.Fatalf("file section not rewritten: %#v", section)
	}
	unresolved := result.Nodes["p2"]["sections"].([]any)[1].(map[string]any)
	if _, ok := unresolved["storagePath"]; ok {
		t.Fatalf("unresolved section must stay unmodified: %#v", unresolved)
	}
	if result.Files["f1"]["storagePath"] != "B/doc1" || result.Files["f2"]["storagePath"] != "B/doc2" {
		t.Fatalf("file records not rewritten: %#v", result.Files)
	}
	if diff := cmp.Diff([]string{"f1"}, result.ReferencedFiles); diff != "" {
		t.Fatalf("referenced files mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	root := scenarioRoot()
	newTestResolver().Resolve(SnapshotFromRoot(root, models.DefaultLayout()))

	if diff := cmp.Diff(scenarioRoot(), root); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	first := newTestResolver().Resolve(SnapshotFromRoot(scenarioRoot(), models.DefaultLayout()))
	for i := 0; i < 5; i++ {
		again := newTestResolver().Resolve(SnapshotFromRoot(scenarioRoot(), models.DefaultLayout()))
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
}

func TestResolveSubtreeOnlyReferencedFiles(t *testing.T) {
	root := scenarioRoot()
	layout := models.DefaultLayout()
	snap := Snapshot{
		Nodes: map[string]models.Document{"p1": models.Collection(root, "projects")["p1"]},
		Files: models.Collection(root, layout.FileCollection),
	}
	result := newTestResolver().Resolve(snap)

	if result.Manifest.Len() != 2 {
		t.Fatalf("expected 2 entries, got %#v", result.Manifest.Entries)
	}
	if _, ok := result.Manifest.SourceKeys()["doc2"]; ok {
		t.Fatal("unreferenced file blob must not be enqueued for a subtree")
	}
	if diff := cmp.Diff([]string{"f1"}, result.ReferencedFiles); diff != "" {
		t.Fatalf("referenced files mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveGapKinds(t *testing.T) {
	snap := Snapshot{
		Nodes: map[string]models.Document{
			"p1": {
				"coverImageUrl": "gs://elsewhere/x.png",
				"sections": map[string]any{
					"1": map[string]any{"type": "File", "refId": "nob"},
					"0": map[string]any{"type": "File"},
				},
			},
		},
		Files: map[string]models.Document{
			"nob": {"name": "no blob"},
		},
	}
	result := newTestResolver().Resolve(snap)

	if result.Manifest.Len() != 0 {
		t.Fatalf("expected empty manifest, got %#v", result.Manifest.Entries)
	}
	kinds := map[models.GapKind]string{}
	for _, gap := range result.Gaps {
		kinds[gap.Kind] = gap.Path
	}
	want := map[models.GapKind]string{
		models.GapUnrecognizedReference: "projects/p1/coverImageUrl",
		models.GapReferenceUnresolved:   "projects/p1/sections/0",
		models.GapFileWithoutBlob:       "files/nob",
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("gap mismatch (-want +got):\n%s", diff)
	}
	if result.Nodes["p1"]["coverImageUrl"] != "gs://elsewhere/x.png" {
		t.Fatal("unrecognized reference must be left unchanged")
	}
}

func TestResolveWithKeyPrefixAndFirebaseRefs(t *testing.T) {
	source := blobstore.RefCodec{Style: blobstore.RefStyleFirebase, Bucket: "src.appspot.com"}
	target := blobstore.RefCodec{Style: blobstore.RefStyleURI, Scheme: "gs", Bucket: "dst"}
	resolver := New(models.DefaultLayout(), source, target, PrefixKeys("/mirror/"))

	result := resolver.Resolve(Snapshot{Nodes: map[string]models.Document{
		"p1": {"coverImageUrl": source.Ref("covers/p1.png") + "&token=abc"},
	}})

	if result.Manifest.Len() != 1 {
		t.Fatalf("expected one entry, got %#v", result.Manifest.Entries)
	}
	entry := result.Manifest.Entries[0]
	if entry.SourceKey != "covers/p1.png" || entry.TargetKey != "mirror/covers/p1.png" {
		t.Fatalf("unexpected keys %#v", entry)
	}
	if result.Nodes["p1"]["coverImageUrl"] != "gs://dst/mirror/covers/p1.png" {
		t.Fatalf("unexpected rewritten ref %v", result.Nodes["p1"]["coverImageUrl"])
	}
}

func TestApplyToRootKeepsOtherEntries(t *testing.T) {
	root := scenarioRoot()
	root["settings"] = map[string]any{"theme": "dark"}
	layout := models.DefaultLayout()
	result := newTestResolver().Resolve(SnapshotFromRoot(root, layout))

	out := ApplyToRoot(root, layout, result)
	if got, _ := models.Lookup(out, "settings", "theme"); got != "dark" {
		t.Fatalf("expected untouched entry to survive, got %v", got)
	}
	if got, _ := models.Lookup(out, "projects", "p1", "coverImageUrl"); got != "B/img1" {
		t.Fatalf("expected rewritten cover, got %v", got)
	}
	if got, _ := models.Lookup(root, "projects", "p1", "coverImageUrl"); got != "A/img1" {
		t.Fatalf("input root mutated, got %v", got)
	}
}
