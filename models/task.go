package models

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether status cannot transition further on its own.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Universal task types every agent accepts regardless of its task-type
// mapping, per the agent-type <-> task-type catalog.
const (
	TaskTypeDirective      = "directive"
	TaskTypeHumanDirective = "human_directive"
)

// AgentTaskTypes is the fixed agent-type -> accepted-task-types mapping.
// Every agent additionally accepts TaskTypeDirective and
// TaskTypeHumanDirective regardless of what's listed here.
var AgentTaskTypes = map[string][]string{
	"pm":        {"triage_issue", "write_spec", "plan_feature"},
	"architect": {"review_spec", "design_review"},
	"builder":   {"implement_feature", "implement_fix", "auto_feature_creation"},
	"reviewer":  {"review_mr"},
	"tester":    {"run_tests", "write_tests"},
	"security":  {"security_review"},
	"devops":    {"deploy", "pipeline_fix"},
	"bug_finder": {"bug_scan"},
}

// Task is one unit of work in the queue.
type Task struct {
	ID       string `db:"id"       json:"id"`
	RepoID   *int64 `db:"repo_id"  json:"repo_id,omitempty"`
	Type     string `db:"type"     json:"type"`
	Priority int    `db:"priority" json:"priority"`
	// Payload is opaque JSON; each task-type handler owns its own schema.
	Payload     []byte     `db:"payload"      json:"payload"`
	Status      TaskStatus `db:"status"       json:"status"`
	AssignedTo  *string    `db:"assigned_to"  json:"assigned_to,omitempty"`
	CreatedBy   string     `db:"created_by"   json:"created_by"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	ClaimedAt   *time.Time `db:"claimed_at"   json:"claimed_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Result      *string    `db:"result"       json:"result,omitempty"`
	Error       *string    `db:"error"        json:"error,omitempty"`
	ParentTaskID *string   `db:"parent_task_id" json:"parent_task_id,omitempty"`

	NeedsApproval    bool    `db:"needs_approval"    json:"needs_approval"`
	ApprovalStatus   *string `db:"approval_status"   json:"approval_status,omitempty"`
	ApprovalType     *string `db:"approval_type"     json:"approval_type,omitempty"`
	ApprovedBy       *string `db:"approved_by"       json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `db:"approved_at"    json:"approved_at,omitempty"`
	RejectionReason  *string `db:"rejection_reason"  json:"rejection_reason,omitempty"`
}

// ClampPriority clamps p into the valid [1,10] range.
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// TaskOutcome is an append-only record of how a claimed task ended. It is
// never consulted by task-state logic — purely a history/metrics trail.
type TaskOutcome struct {
	ID             string    `db:"id"              json:"id"`
	TaskID         string    `db:"task_id"         json:"task_id"`
	AgentID        string    `db:"agent_id"        json:"agent_id"`
	TaskType       string    `db:"task_type"       json:"task_type"`
	Outcome        string    `db:"outcome"         json:"outcome"` // success|failure|partial
	DurationSeconds float64  `db:"duration_seconds" json:"duration_seconds"`
	ErrorSummary   *string   `db:"error_summary"   json:"error_summary,omitempty"`
	ContextSummary *string   `db:"context_summary" json:"context_summary,omitempty"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}

// ProcessedEvent guards webhook/polling dedup via a (event_id, repo_id,
// action) uniqueness constraint at the store layer.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"     json:"event_id"`
	RepoID      int64     `db:"repo_id"      json:"repo_id"`
	Action      string    `db:"action"       json:"action"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}
