package models

// ManifestEntry is one distinct source blob that must exist, verified, in the
// target before its owning records count as migrated.
type ManifestEntry struct {
	SourceRef string   `json:"source_ref" yaml:"source_ref"`
	SourceKey string   `json:"source_key" yaml:"source_key"`
	TargetKey string   `json:"target_key" yaml:"target_key"`
	TargetRef string   `json:"target_ref" yaml:"target_ref"`
	Owners    []string `json:"owners" yaml:"owners"`
}

// Manifest is the ordered, de-duplicated transfer work list of one scope.
type Manifest struct {
	Entries []ManifestEntry `json:"entries" yaml:"entries"`
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

// SourceKeys returns the set of source keys in the manifest.
func (m *Manifest) SourceKeys() map[string]struct{} {
	out := map[string]struct{}{}
	if m == nil {
		return out
	}
	for _, entry := range m.Entries {
		out[entry.SourceKey] = struct{}{}
	}
	return out
}

// TargetKeys returns the set of target keys in the manifest.
func (m *Manifest) TargetKeys() map[string]struct{} {
	out := map[string]struct{}{}
	if m == nil {
		return out
	}
	for _, entry := range m.Entries {
		out[entry.TargetKey] = struct{}{}
	}
	return out
}

// GapKind classifies a reference the resolver could not resolve.
type GapKind string

const (
	GapReferenceUnresolved   GapKind = "reference-unresolved"
	GapFileWithoutBlob       GapKind = "file-without-blob"
	GapUnrecognizedReference GapKind = "unrecognized-reference"
)

// Gap records one unresolved reference. Gaps never abort a run.
type Gap struct {
	Kind   GapKind `json:"kind" yaml:"kind"`
	Path   string  `json:"path" yaml:"path"`
	Ref    string  `json:"ref,omitempty" yaml:"ref,omitempty"`
	Detail string  `json:"detail,omitempty" yaml:"detail,omitempty"`
}
