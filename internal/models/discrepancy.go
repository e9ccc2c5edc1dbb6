package models

// SubjectKind says whether a discrepancy concerns a record or a blob.
type SubjectKind string

const (
	SubjectRecord SubjectKind = "record"
	SubjectBlob   SubjectKind = "blob"
)

// DiscrepancyReason describes how source and target diverge.
type DiscrepancyReason string

const (
	ReasonMissingInTarget  DiscrepancyReason = "missing-in-target"
	ReasonMissingInSource  DiscrepancyReason = "missing-in-source"
	ReasonChecksumMismatch DiscrepancyReason = "checksum-mismatch"
	ReasonContentMismatch  DiscrepancyReason = "content-mismatch"
)

// RepairAction records what the repair engine did about a discrepancy.
type RepairAction string

const (
	ActionReTransferred RepairAction = "re-transferred"
	ActionReSynced      RepairAction = "re-synced"
	ActionNone          RepairAction = "none"
	ActionRepairFailed  RepairAction = "repair-failed"
	ActionDeferred      RepairAction = "deferred"
)

// Discrepancy is one detected divergence and the action taken for it.
type Discrepancy struct {
	Subject SubjectKind       `json:"subject" yaml:"subject"`
	Key     string            `json:"key" yaml:"key"`
	Reason  DiscrepancyReason `json:"reason" yaml:"reason"`
	Action  RepairAction      `json:"action" yaml:"action"`
	Detail  string            `json:"detail,omitempty" yaml:"detail,omitempty"`
}
