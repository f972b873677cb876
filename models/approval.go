package models

import "time"

// ApprovalType enumerates the kinds of human (or auto-) approval gates.
type ApprovalType string

const (
	ApprovalIssueCreation ApprovalType = "issue_creation"
	ApprovalSpec          ApprovalType = "spec_approval"
	ApprovalMerge         ApprovalType = "merge_approval"
	ApprovalDeploy        ApprovalType = "deploy_approval"
)

// ApprovalStatus is the Approval state machine's state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval gates a sensitive action behind a human (or, in full-autonomy
// mode, policy-evaluated) sign-off.
type Approval struct {
	ID           string         `db:"id"            json:"id"`
	RepoID       int64          `db:"repo_id"       json:"repo_id"`
	ApprovalType ApprovalType   `db:"approval_type" json:"approval_type"`
	Title        string         `db:"title"         json:"title"`
	Description  string         `db:"description"   json:"description"`
	// Context is opaque JSON carrying whatever the submitting task-type
	// handler needs a reviewer (or the auto-approval policy) to see —
	// e.g. architect confidence, reviewer score, test coverage percent.
	Context        []byte         `db:"context"         json:"context"`
	SubmittedBy    string         `db:"submitted_by"    json:"submitted_by"`
	Status         ApprovalStatus `db:"status"          json:"status"`
	ReviewerNotes  *string        `db:"reviewer_notes"  json:"reviewer_notes,omitempty"`
	ForgeRef       *string        `db:"forge_ref"       json:"forge_ref,omitempty"`
	CreatedAt      time.Time      `db:"created_at"      json:"created_at"`
	ReviewedAt     *time.Time     `db:"reviewed_at"     json:"reviewed_at,omitempty"`
	// SourceTaskID links the Approval back to the task that created it
	// (e.g. the spec-writing task awaiting spec_approval). Kept as a
	// plain column, never an object-graph back-reference.
	SourceTaskID *string `db:"source_task_id" json:"source_task_id,omitempty"`
}

// ApprovalContext is the structured view of Approval.Context used by the
// auto-approval policy.
type ApprovalContext struct {
	ArchitectConfidence int `json:"architect_confidence,omitempty"`
	ReviewerScore       int `json:"reviewer_score,omitempty"`
	TestCoveragePercent int `json:"test_coverage_percent,omitempty"`
}
