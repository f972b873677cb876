// Package orchestrator implements the task queue protocol and approval
// workflow atop the Store. It never discovers the store itself — it is
// always constructor-injected, never a module-level singleton.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/autodevhq/fleet-orchestrator/internal/notify"
	"github.com/autodevhq/fleet-orchestrator/internal/store"
	"github.com/autodevhq/fleet-orchestrator/models"
)

// Notifier publishes an advisory, repo-scoped message. Implementations
// must never block the caller and must never be treated as
// authoritative — a missed notification cannot cause the system to
// diverge from the Store's state.
type Notifier interface {
	Publish(ctx context.Context, channel string, payload map[string]any)
}

// noopNotifier is used when no redis_url is configured.
type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, string, map[string]any) {}

// Options configures optional Orchestrator behaviour.
type Options struct {
	AbandonTimeout time.Duration
	Notifier       Notifier
	Notify         *notify.Dispatcher
}

// Orchestrator is the task-queue and approval-workflow API. It holds no
// in-process lock over task state — atomicity for claims comes from the
// Store's SQL CAS, not a mutex, so claim-race-freedom never depends on
// a single process's wall clock or lock.
type Orchestrator struct {
	store store.Store
	opts  Options
}

// New constructs an Orchestrator. store is always injected by the
// caller (cmd/gateway.go, cmd/runner.go) — components never look it up
// themselves.
func New(st store.Store, opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.AbandonTimeout == 0 {
		opts.AbandonTimeout = 2 * time.Hour
	}
	return &Orchestrator{store: st, opts: opts}
}

// CreateTask clamps priority, applies dedup (unless allowDuplicates),
// inserts a pending row and publishes an advisory repo-scoped
// notification. Returns (nil, nil) when dedup blocks creation.
func (o *Orchestrator) CreateTask(ctx context.Context, repoID *int64, taskType string, payload map[string]any, priority int, createdBy string, assignedTo *string, allowDuplicates bool, parentTaskID *string) (*models.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	t := &models.Task{
		RepoID:       repoID,
		Type:         taskType,
		Priority:     priority,
		Payload:      data,
		CreatedBy:    createdBy,
		AssignedTo:   assignedTo,
		ParentTaskID: parentTaskID,
	}
	created, err := o.store.CreateTask(ctx, t, allowDuplicates)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, nil
	}

	channel := "tasks"
	if repoID != nil {
		channel = fmt.Sprintf("tasks.repo.%d", *repoID)
	}
	o.opts.Notifier.Publish(ctx, channel, map[string]any{
		"event":    "task.created",
		"task_id":  created.ID,
		"type":     created.Type,
		"priority": created.Priority,
	})
	return created, nil
}

// ClaimTask hands agentID the highest-priority, oldest eligible pending
// task, first recovering any abandoned claims. repoID nil means any
// repo. Unassigned tasks must match taskTypes, to which directive and
// human_directive are always added; with taskTypes empty only those two
// types (and tasks assigned directly to agentID) are eligible.
func (o *Orchestrator) ClaimTask(ctx context.Context, agentID string, repoID *int64, taskTypes []string) (*models.Task, error) {
	return o.store.ClaimTask(ctx, agentID, repoID, taskTypes, o.opts.AbandonTimeout)
}

// CompleteTask finalises a claimed/in_progress task as completed or
// failed (error non-empty selects failed) and emits an advisory alert
// on failure.
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID, agentID string, result, taskErr *string) (bool, error) {
	ok, err := o.store.CompleteTask(ctx, taskID, agentID, result, taskErr)
	if err != nil || !ok {
		return ok, err
	}
	if taskErr != nil && *taskErr != "" {
		o.opts.Notifier.Publish(ctx, "tasks", map[string]any{
			"event": "task.failed", "task_id": taskID, "agent_id": agentID, "error": *taskErr,
		})
		if o.opts.Notify != nil {
			o.opts.Notify.Notify(ctx, notify.Event{
				Type: "task_failed", Title: "Task failed", Body: *taskErr, Severity: "high",
			})
		}
	}
	return true, nil
}

// CancelTask marks a non-terminal task cancelled. Cancellation is
// advisory against an in-progress worker: the row becomes terminal
// immediately, but nothing forcibly kills the worker — its eventual
// CompleteTask call will simply find the row already terminal and no-op.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID, reason, cancelledBy string) (bool, error) {
	return o.store.CancelTask(ctx, taskID, reason, cancelledBy)
}

// CancelDuplicateTasks cancels all pending tasks of taskType matching
// identifier except one keeper.
func (o *Orchestrator) CancelDuplicateTasks(ctx context.Context, taskType, identifier string, keep *string) (int, error) {
	return o.store.CancelDuplicateTasks(ctx, taskType, identifier, keep)
}

// RecordOutcome appends a Task Outcome row. Never consulted by
// task-state logic — a pure history/metrics trail.
func (o *Orchestrator) RecordOutcome(ctx context.Context, taskID, agentID, taskType, outcome string, duration time.Duration, errSummary, ctxSummary *string) error {
	return o.store.RecordOutcome(ctx, &models.TaskOutcome{
		TaskID:          taskID,
		AgentID:         agentID,
		TaskType:        taskType,
		Outcome:         outcome,
		DurationSeconds: duration.Seconds(),
		ErrorSummary:    errSummary,
		ContextSummary:  ctxSummary,
	})
}

// --- Approvals ---

// autoApprovalEligible evaluates the full-autonomy policy against a
// repo's configured thresholds. Implemented as an orthogonal policy
// check at the create boundary, always evaluated — unlike a prior
// version of this helper that computed eligibility but was never wired
// into the approve path.
func autoApprovalEligible(repo *models.Repo, a *models.Approval) bool {
	if repo.AutonomyMode != models.AutonomyFull {
		return false
	}
	var settings models.RepoSettings
	if len(repo.Settings) > 0 {
		_ = json.Unmarshal(repo.Settings, &settings)
	}
	var actx models.ApprovalContext
	if len(a.Context) > 0 {
		_ = json.Unmarshal(a.Context, &actx)
	}
	switch a.ApprovalType {
	case models.ApprovalSpec:
		threshold := settings.AutoApprove.SpecArchitectConfidence
		if threshold == 0 {
			threshold = 8
		}
		return actx.ArchitectConfidence >= threshold
	case models.ApprovalMerge:
		scoreThreshold := settings.AutoApprove.MergeReviewerScore
		if scoreThreshold == 0 {
			scoreThreshold = 9
		}
		covThreshold := settings.AutoApprove.MergeMinTestCoveragePct
		if covThreshold == 0 {
			covThreshold = 80
		}
		return actx.ReviewerScore >= scoreThreshold && actx.TestCoveragePercent >= covThreshold
	default:
		return false
	}
}

// CreateApproval inserts a pending approval, then — for repos in full
// autonomy mode whose context clears the configured threshold —
// immediately approves it via the same Approve path a human reviewer
// would use.
func (o *Orchestrator) CreateApproval(ctx context.Context, repo *models.Repo, approvalType models.ApprovalType, title, description string, approvalContext map[string]any, submittedBy string, sourceTaskID *string) (*models.Approval, error) {
	data, err := json.Marshal(approvalContext)
	if err != nil {
		return nil, fmt.Errorf("marshal approval context: %w", err)
	}
	a := &models.Approval{
		RepoID:       repo.ID,
		ApprovalType: approvalType,
		Title:        title,
		Description:  description,
		Context:      data,
		SubmittedBy:  submittedBy,
		SourceTaskID: sourceTaskID,
	}
	created, err := o.store.CreateApproval(ctx, a)
	if err != nil {
		return nil, err
	}

	if autoApprovalEligible(repo, created) {
		if _, err := o.Approve(ctx, created.ID, "auto-approved: full autonomy mode"); err != nil {
			slog.Warn("orchestrator: auto-approval failed, leaving pending", "approval_id", created.ID, "error", err)
		} else if refreshed, err := o.store.ApprovalByID(ctx, created.ID); err == nil && refreshed != nil {
			created = refreshed
		}
	}
	return created, nil
}

// Approve flips an approval to approved. For spec_approval the store
// then creates the follow-up implementation task as a separate write,
// not in one transaction with the status flip, and returns it.
func (o *Orchestrator) Approve(ctx context.Context, approvalID, notes string) (*models.Task, error) {
	followup, err := o.store.Approve(ctx, approvalID, notes)
	if err != nil {
		return nil, err
	}
	o.opts.Notifier.Publish(ctx, "approvals", map[string]any{"event": "approval.approved", "approval_id": approvalID})
	return followup, nil
}

// Reject flips an approval to rejected.
func (o *Orchestrator) Reject(ctx context.Context, approvalID, notes string) (bool, error) {
	ok, err := o.store.Reject(ctx, approvalID, notes)
	if err == nil && ok {
		o.opts.Notifier.Publish(ctx, "approvals", map[string]any{"event": "approval.rejected", "approval_id": approvalID})
	}
	return ok, err
}
