package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplitAndJoinPath(t *testing.T) {
	if got := SplitPath(" /projects//p1/ "); !reflect.DeepEqual(got, []string{"projects", "p1"}) {
		t.Fatalf("unexpected split: %#v", got)
	}
	if got := SplitPath("/"); got != nil {
		t.Fatalf("expected nil for root, got %#v", got)
	}
	if got := JoinPath("", "projects/", "/p1"); got != "projects/p1" {
		t.Fatalf("unexpected join: %q", got)
	}
}

func TestDeepCopyIsIndependent(t *testing.T) {
	src := map[string]any{
		"sections": []any{map[string]any{"type": "File"}},
	}
	dup := DeepCopy(src).(map[string]any)
	dup["sections"].([]any)[0].(map[string]any)["type"] = "Text"

	got, _ := Lookup(src, "sections")
	if got.([]any)[0].(map[string]any)["type"] != "File" {
		t.Fatal("mutating the copy changed the source")
	}
}

func TestNormalizeUnifiesNumbers(t *testing.T) {
	a, err := Normalize(map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	b, err := Normalize(map[string]any{"n": 3.0})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected normalized values to match: %#v vs %#v", a, b)
	}
}

func TestCollectionSkipsNonObjects(t *testing.T) {
	tree := map[string]any{
		"files": map[string]any{
			"f1": map[string]any{"storagePath": "A/doc1"},
			"f2": "broken",
		},
	}
	files := Collection(tree, "files")
	if len(files) != 1 {
		t.Fatalf("expected one file record, got %d", len(files))
	}
	if _, ok := files["f1"]; !ok {
		t.Fatal("expected f1")
	}
}

func TestStoreErrorClassification(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewStoreError("get", "projects/p1", true, cause)
	if !errors.Is(err, ErrStore) {
		t.Fatal("expected ErrStore")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to unwrap")
	}
	if !IsTransient(err) {
		t.Fatal("expected transient")
	}
	if NewStoreError("get", "", false, nil) != nil {
		t.Fatal("expected nil for nil cause")
	}

	transferErr := TransferFailed("A/img1", err)
	if !errors.Is(transferErr, ErrTransferFailed) {
		t.Fatal("expected ErrTransferFailed")
	}
	if !IsTransient(transferErr) {
		t.Fatal("expected transient store cause to be visible through transfer error")
	}
}

func TestLookupIndexesLists(t *testing.T) {
	tree := map[string]any{"sections": []any{"a", map[string]any{"refId": "f1"}}}
	if got, ok := Lookup(tree, "sections", "1", "refId"); !ok || got != "f1" {
		t.Fatalf("expected f1, got %v ok=%v", got, ok)
	}
	for _, segments := range [][]string{{"sections", "2"}, {"sections", "-1"}, {"sections", "x"}} {
		if _, ok := Lookup(tree, segments...); ok {
			t.Fatalf("expected %v to be absent", segments)
		}
	}
}

func TestSetInCreatesAndPrunes(t *testing.T) {
	tree := SetIn(nil, []string{"projects", "p1", "title"}, "One")
	if got, _ := Lookup(tree, "projects", "p1", "title"); got != "One" {
		t.Fatalf("expected nested value, got %#v", tree)
	}
	tree = SetIn(tree, []string{"projects", "p1", "title"}, nil)
	if !IsEmpty(tree) {
		t.Fatalf("expected removal to prune empty parents, got %#v", tree)
	}
	if got := SetIn("scalar", []string{"a"}, nil); got != "scalar" {
		t.Fatalf("removing below a scalar must leave it alone, got %#v", got)
	}
}

func TestFlattenRecords(t *testing.T) {
	root := map[string]any{
		"projects": map[string]any{"p1": map[string]any{"t": "x"}, "empty": map[string]any{}},
		"files":    map[string]any{"f1": "raw"},
		"version":  float64(2),
	}
	got := FlattenRecords(root)
	want := map[string]any{
		"projects/p1": map[string]any{"t": "x"},
		"files/f1":    "raw",
		"version":     float64(2),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected records %#v", got)
	}
}
