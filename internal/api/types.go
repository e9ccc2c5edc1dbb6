package api

import (
	"fmt"

	"treesync/internal/migrate"
	"treesync/internal/models"
	"treesync/internal/repair"
)

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Message   string          `json:"message"`
	Code      string          `json:"code,omitempty"`
	ErrorCode int             `json:"error_code,omitempty"`
	Report    *migrate.Report `json:"report,omitempty"`
}

// ScopeRequest selects the tree a run operates on.
type ScopeRequest struct {
	Scope     string `json:"scope"`
	ProjectID string `json:"project_id,omitempty"`
}

// ParseScope validates the request into a models.Scope.
func (r ScopeRequest) ParseScope() (models.Scope, error) {
	return models.ParseScope(r.Scope, r.ProjectID)
}

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	ScopeRequest
	ScanOrphans bool `json:"scan_orphans,omitempty"`
}

// MigrateResponse is returned by a successful migration.
type MigrateResponse struct {
	Message string          `json:"message" yaml:"message"`
	Report  *migrate.Report `json:"report" yaml:"report"`
}

// VerifyResponse lists everything verify found and what it did about it.
type VerifyResponse struct {
	Scope                 models.Scope         `json:"scope" yaml:"scope"`
	StorageDiscrepancies  []models.Discrepancy `json:"storageDiscrepancies" yaml:"storage_discrepancies"`
	DatabaseDiscrepancies []models.Discrepancy `json:"databaseDiscrepancies" yaml:"database_discrepancies"`
	Orphans               []repair.Orphan      `json:"orphans" yaml:"orphans"`
	Gaps                  []models.Gap         `json:"gaps" yaml:"gaps"`
	Message               string               `json:"message" yaml:"message"`
}

// NewVerifyResponse converts a repair result, filling empty lists so they
// encode as [] rather than null.
func NewVerifyResponse(result *repair.Result) VerifyResponse {
	resp := VerifyResponse{
		Scope:                 result.Scope,
		StorageDiscrepancies:  result.StorageDiscrepancies,
		DatabaseDiscrepancies: result.DatabaseDiscrepancies,
		Orphans:               result.Orphans,
		Gaps:                  result.Gaps,
		Message:               VerifyMessage(result),
	}
	if resp.StorageDiscrepancies == nil {
		resp.StorageDiscrepancies = []models.Discrepancy{}
	}
	if resp.DatabaseDiscrepancies == nil {
		resp.DatabaseDiscrepancies = []models.Discrepancy{}
	}
	if resp.Orphans == nil {
		resp.Orphans = []repair.Orphan{}
	}
	if resp.Gaps == nil {
		resp.Gaps = []models.Gap{}
	}
	return resp
}

// VerifyMessage summarizes a repair result in one line.
func VerifyMessage(result *repair.Result) string {
	if result.Clean() {
		return "source and target are consistent"
	}
	return fmt.Sprintf("found %d storage and %d database discrepancies",
		len(result.StorageDiscrepancies), len(result.DatabaseDiscrepancies))
}

// ManifestResponse is the dry-run view of a scope.
type ManifestResponse struct {
	Scope   models.Scope           `json:"scope" yaml:"scope"`
	Entries []models.ManifestEntry `json:"entries" yaml:"entries"`
	Gaps    []models.Gap           `json:"gaps" yaml:"gaps"`
	Records []string               `json:"records" yaml:"records"`
}

// NewManifestResponse converts a migration plan.
func NewManifestResponse(plan *migrate.Plan) ManifestResponse {
	resp := ManifestResponse{
		Scope:   plan.Scope,
		Entries: plan.Result.Manifest.Entries,
		Gaps:    plan.Result.Gaps,
		Records: []string{},
	}
	if resp.Entries == nil {
		resp.Entries = []models.ManifestEntry{}
	}
	if resp.Gaps == nil {
		resp.Gaps = []models.Gap{}
	}
	for _, write := range plan.Writes() {
		path := write.Path
		if path == "" {
			path = "/"
		}
		resp.Records = append(resp.Records, path)
	}
	return resp
}
