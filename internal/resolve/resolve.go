// Package resolve finds blob references in a record tree and plans their
// rewrite for a target backend.
package resolve

import (
	"slices"
	"strconv"
	"strings"

	"treesync/internal/blobstore"
	"treesync/internal/models"
)

// KeyDeriver maps a source blob key to its target key. It must be
// deterministic so repeated runs agree on where each blob lives.
type KeyDeriver func(sourceKey string) string

// PrefixKeys returns a KeyDeriver that prepends prefix to every key.
func PrefixKeys(prefix string) KeyDeriver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return func(key string) string { return key }
	}
	return func(key string) string { return prefix + "/" + key }
}

// Snapshot is the part of the source tree a resolver run looks at.
type Snapshot struct {
	Nodes map[string]models.Document
	Files map[string]models.Document
	// AllFiles enqueues every file record with a blob, not only those a
	// node references. Full-tree runs set it.
	AllFiles bool
}

// SnapshotFromRoot builds a full-tree snapshot from a decoded root.
func SnapshotFromRoot(root any, layout models.Layout) Snapshot {
	return Snapshot{
		Nodes:    models.Collection(root, layout.NodeCollection),
		Files:    models.Collection(root, layout.FileCollection),
		AllFiles: true,
	}
}

// Result is the rewritten snapshot plus the transfer plan.
type Result struct {
	Nodes    map[string]models.Document
	Files    map[string]models.Document
	Manifest models.Manifest
	Gaps     []models.Gap
	// ReferencedFiles lists, sorted, the file ids some node references.
	ReferencedFiles []string
}

// Resolver plans the rewrite of references issued by Source into
// references of Target.
type Resolver struct {
	Layout models.Layout
	Source blobstore.RefCodec
	Target blobstore.RefCodec
	Keys   KeyDeriver
}

// New creates a resolver with a normalized layout.
func New(layout models.Layout, source, target blobstore.RefCodec, keys KeyDeriver) *Resolver {
	if keys == nil {
		keys = PrefixKeys("")
	}
	return &Resolver{Layout: layout.Normalize(), Source: source, Target: target, Keys: keys}
}

// run holds the mutable state of one Resolve call.
type run struct {
	*Resolver
	result     Result
	index      map[string]int
	referenced map[string]struct{}
	filesDone  map[string]bool
}

// Resolve walks snap without touching it and returns the rewritten copy.
func (r *Resolver) Resolve(snap Snapshot) Result {
	st := &run{
		Resolver: r,
		result: Result{
			Nodes: copyDocs(snap.Nodes),
			Files: copyDocs(snap.Files),
		},
		index:      map[string]int{},
		referenced: map[string]struct{}{},
		filesDone:  map[string]bool{},
	}

	for _, id := range models.SortedKeys(st.result.Nodes) {
		st.resolveNode(id, st.result.Nodes[id])
	}
	if snap.AllFiles {
		for _, id := range models.SortedKeys(st.result.Files) {
			if _, ok := st.filesDone[id]; ok {
				continue
			}
			doc := st.result.Files[id]
			if _, ok := models.StringField(doc, r.Layout.FileBlobField); ok {
				st.resolveFile(id, doc)
			}
		}
	}

	st.result.ReferencedFiles = models.SortedKeys(st.referenced)
	return st.result
}

func (st *run) resolveNode(id string, node models.Document) {
	layout := st.Layout
	nodePath := layout.NodePath(id)

	if ref, ok := models.StringField(node, layout.CoverField); ok {
		if target, ok := st.enqueue(models.JoinPath(nodePath, layout.CoverField), ref); ok {
			node[layout.CoverField] = target
		}
	}

	forEachSection(node[layout.SectionsField], func(index string, section models.Document) {
		kind, _ := models.StringField(section, layout.SectionTypeField)
		if kind != layout.FileSectionType {
			return
		}
		sectionPath := models.JoinPath(nodePath, layout.SectionsField, index)
		fileID, ok := st.sectionFileID(section)
		if !ok {
			st.gap(models.GapReferenceUnresolved, sectionPath, "", "file section has no file id")
			return
		}
		file, ok := st.result.Files[fileID]
		if !ok {
			st.gap(models.GapReferenceUnresolved, sectionPath, fileID, "file record not found")
			return
		}
		st.referenced[fileID] = struct{}{}
		target, ok := st.resolveFile(fileID, file)
		if !ok {
			return
		}
		st.addOwner(target, models.JoinPath(sectionPath, layout.SectionBlobField))
		section[layout.SectionBlobField] = target
	})
}

// resolveFile rewrites the blob field of one file record once and returns
// the target reference.
func (st *run) resolveFile(id string, file models.Document) (string, bool) {
	field := st.Layout.FileBlobField
	if done, seen := st.filesDone[id]; seen {
		if !done {
			return "", false
		}
		target, _ := models.StringField(file, field)
		return target, true
	}

	filePath := models.JoinPath(st.Layout.FilePath(id), field)
	ref, ok := models.StringField(file, field)
	if !ok {
		st.filesDone[id] = false
		st.gap(models.GapFileWithoutBlob, st.Layout.FilePath(id), "", "file record has no "+field)
		return "", false
	}
	target, ok := st.enqueue(filePath, ref)
	st.filesDone[id] = ok
	if ok {
		file[field] = target
	}
	return target, ok
}

// enqueue adds ref to the manifest, or adds owner to the existing entry for
// the same source key.
func (st *run) enqueue(owner, ref string) (string, bool) {
	key, err := st.Source.ParseRef(ref)
	if err != nil {
		st.gap(models.GapUnrecognizedReference, owner, ref, err.Error())
		return "", false
	}
	if i, ok := st.index[key]; ok {
		entry := &st.result.Manifest.Entries[i]
		if !slices.Contains(entry.Owners, owner) {
			entry.Owners = append(entry.Owners, owner)
		}
		return entry.TargetRef, true
	}
	targetKey := st.Keys(key)
	entry := models.ManifestEntry{
		SourceRef: ref,
		SourceKey: key,
		TargetKey: targetKey,
		TargetRef: st.Target.Ref(targetKey),
		Owners:    []string{owner},
	}
	st.index[key] = len(st.result.Manifest.Entries)
	st.result.Manifest.Entries = append(st.result.Manifest.Entries, entry)
	return entry.TargetRef, true
}

// addOwner records an extra owner for an already enqueued target reference.
func (st *run) addOwner(targetRef, owner string) {
	for i := range st.result.Manifest.Entries {
		entry := &st.result.Manifest.Entries[i]
		if entry.TargetRef == targetRef {
			if !slices.Contains(entry.Owners, owner) {
				entry.Owners = append(entry.Owners, owner)
			}
			return
		}
	}
}

func (st *run) gap(kind models.GapKind, path, ref, detail string) {
	st.result.Gaps = append(st.result.Gaps, models.Gap{Kind: kind, Path: path, Ref: ref, Detail: detail})
}

func (st *run) sectionFileID(section models.Document) (string, bool) {
	for _, field := range st.Layout.SectionRefFields {
		switch value := section[field].(type) {
		case string:
			if id := strings.TrimSpace(value); id != "" && !strings.Contains(id, "/") {
				return id, true
			}
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64), true
		}
	}
	return "", false
}

// forEachSection visits list sections in order. Sections stored as an
// object keyed by index are visited in key order.
func forEachSection(raw any, fn func(index string, section models.Document)) {
	switch sections := raw.(type) {
	case []any:
		for i, item := range sections {
			if section, ok := item.(map[string]any); ok {
				fn(strconv.Itoa(i), section)
			}
		}
	case map[string]any:
		keys := models.SortedKeys(sections)
		slices.SortStableFunc(keys, compareIndexKeys)
		for _, key := range keys {
			if section, ok := sections[key].(map[string]any); ok {
				fn(key, section)
			}
		}
	}
}

func compareIndexKeys(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai - bi
	}
	return strings.Compare(a, b)
}

func copyDocs(in map[string]models.Document) map[string]models.Document {
	out := make(map[string]models.Document, len(in))
	for id, doc := range in {
		out[id] = models.DeepCopy(doc).(map[string]any)
	}
	return out
}

// ApplyToRoot returns a copy of root with the rewritten nodes and files put
// back in place. Entries the snapshot skipped are kept as they are.
func ApplyToRoot(root any, layout models.Layout, result Result) any {
	out, ok := models.DeepCopy(root).(map[string]any)
	if !ok {
		out = map[string]any{}
	}
	for id, node := range result.Nodes {
		out = models.SetIn(out, []string{layout.NodeCollection, id}, models.DeepCopy(node)).(map[string]any)
	}
	for id, file := range result.Files {
		out = models.SetIn(out, []string{layout.FileCollection, id}, models.DeepCopy(file)).(map[string]any)
	}
	return out
}
