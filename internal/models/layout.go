package models

import (
	"fmt"
	"strings"
)

const (
	DefaultNodeCollection   = "projects"
	DefaultFileCollection   = "files"
	DefaultCoverField       = "coverImageUrl"
	DefaultSectionsField    = "sections"
	DefaultSectionTypeField = "type"
	DefaultFileSectionType  = "File"
	DefaultSectionBlobField = "storagePath"
	DefaultFileBlobField    = "storagePath"
)

// Layout names the collections and fields that carry references in a record tree.
type Layout struct {
	NodeCollection   string   `toml:"node_collection" json:"node_collection" yaml:"node_collection"`
	FileCollection   string   `toml:"file_collection" json:"file_collection" yaml:"file_collection"`
	CoverField       string   `toml:"cover_field" json:"cover_field" yaml:"cover_field"`
	SectionsField    string   `toml:"sections_field" json:"sections_field" yaml:"sections_field"`
	SectionTypeField string   `toml:"section_type_field" json:"section_type_field" yaml:"section_type_field"`
	FileSectionType  string   `toml:"file_section_type" json:"file_section_type" yaml:"file_section_type"`
	SectionRefFields []string `toml:"section_ref_fields" json:"section_ref_fields" yaml:"section_ref_fields"`
	SectionBlobField string   `toml:"section_blob_field" json:"section_blob_field" yaml:"section_blob_field"`
	FileBlobField    string   `toml:"file_blob_field" json:"file_blob_field" yaml:"file_blob_field"`
}

// DefaultLayout returns the layout used by project trees.
func DefaultLayout() Layout {
	return Layout{
		NodeCollection:   DefaultNodeCollection,
		FileCollection:   DefaultFileCollection,
		CoverField:       DefaultCoverField,
		SectionsField:    DefaultSectionsField,
		SectionTypeField: DefaultSectionTypeField,
		FileSectionType:  DefaultFileSectionType,
		SectionRefFields: []string{"refId", "id"},
		SectionBlobField: DefaultSectionBlobField,
		FileBlobField:    DefaultFileBlobField,
	}
}

// Normalize fills empty fields with defaults.
func (l Layout) Normalize() Layout {
	def := DefaultLayout()
	if strings.TrimSpace(l.NodeCollection) == "" {
		l.NodeCollection = def.NodeCollection
	}
	if strings.TrimSpace(l.FileCollection) == "" {
		l.FileCollection = def.FileCollection
	}
	if strings.TrimSpace(l.CoverField) == "" {
		l.CoverField = def.CoverField
	}
	if strings.TrimSpace(l.SectionsField) == "" {
		l.SectionsField = def.SectionsField
	}
	if strings.TrimSpace(l.SectionTypeField) == "" {
		l.SectionTypeField = def.SectionTypeField
	}
	if strings.TrimSpace(l.FileSectionType) == "" {
		l.FileSectionType = def.FileSectionType
	}
	if len(l.SectionRefFields) == 0 {
		l.SectionRefFields = def.SectionRefFields
	}
	if strings.TrimSpace(l.SectionBlobField) == "" {
		l.SectionBlobField = def.SectionBlobField
	}
	if strings.TrimSpace(l.FileBlobField) == "" {
		l.FileBlobField = def.FileBlobField
	}
	return l
}

// NodePath returns the record path of one node.
func (l Layout) NodePath(id string) string {
	return JoinPath(l.NodeCollection, id)
}

// FilePath returns the record path of one file record.
func (l Layout) FilePath(id string) string {
	return JoinPath(l.FileCollection, id)
}

// ScopeKind selects how much of the tree an operation touches.
type ScopeKind string

const (
	ScopeFull    ScopeKind = "full"
	ScopeProject ScopeKind = "project"
)

// Scope is either the full tree or one node subtree.
type Scope struct {
	Kind      ScopeKind `json:"scope" yaml:"scope"`
	ProjectID string    `json:"project_id,omitempty" yaml:"project_id,omitempty"`
}

// FullScope returns the full-tree scope.
func FullScope() Scope {
	return Scope{Kind: ScopeFull}
}

// ProjectScope returns the scope of one node subtree.
func ProjectScope(id string) Scope {
	return Scope{Kind: ScopeProject, ProjectID: strings.TrimSpace(id)}
}

// IsFull reports whether the scope covers the whole tree.
func (s Scope) IsFull() bool {
	return s.Kind == ScopeFull
}

func (s Scope) String() string {
	if s.IsFull() {
		return string(ScopeFull)
	}
	return fmt.Sprintf("%s:%s", ScopeProject, s.ProjectID)
}

// ParseScope validates a raw scope kind and project id.
func ParseScope(kind, projectID string) (Scope, error) {
	value := ScopeKind(strings.ToLower(strings.TrimSpace(kind)))
	projectID = strings.TrimSpace(projectID)
	switch value {
	case "":
		if projectID == "" {
			return Scope{}, fmt.Errorf("scope is required")
		}
		fallthrough
	case ScopeProject:
		if projectID == "" {
			return Scope{}, fmt.Errorf("project_id is required for project scope")
		}
		if strings.Contains(projectID, "/") {
			return Scope{}, fmt.Errorf("invalid project_id: %s", projectID)
		}
		return ProjectScope(projectID), nil
	case ScopeFull:
		return FullScope(), nil
	default:
		return Scope{}, fmt.Errorf("invalid scope: %s", value)
	}
}
