// Package store is the durable relational store: the single source of
// truth for Repo, Task, Approval, AgentStatus, TaskOutcome and
// ProcessedEvent rows, plus the atomic claim primitive the Orchestrator
// builds on. See method comments for the exact claim/abandonment/dedup
// SQL shapes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autodevhq/fleet-orchestrator/internal/database"
	"github.com/autodevhq/fleet-orchestrator/models"
)

// Store is the capability interface consumed by the Orchestrator,
// Webhook Router and Scheduler. Every method here is always present on
// the one implementation — callers never probe for optional methods.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	CreateRepo(ctx context.Context, r *models.Repo) (*models.Repo, error)
	RepoByID(ctx context.Context, id int64) (*models.Repo, error)
	RepoByProjectRef(ctx context.Context, provider models.Provider, projectRef string) (*models.Repo, error)
	RepoBySlug(ctx context.Context, slug string) (*models.Repo, error)
	ActiveRepos(ctx context.Context) ([]models.Repo, error)
	UpdateRepoSettings(ctx context.Context, repoID int64, settings models.RepoSettings) error
	SetRepoActive(ctx context.Context, repoID int64, active bool) error

	CreateTask(ctx context.Context, t *models.Task, allowDuplicates bool) (*models.Task, error)
	ClaimTask(ctx context.Context, agentID string, repoID *int64, taskTypes []string, abandonTimeout time.Duration) (*models.Task, error)
	CompleteTask(ctx context.Context, taskID, agentID string, result, taskErr *string) (bool, error)
	CancelTask(ctx context.Context, taskID, reason, cancelledBy string) (bool, error)
	CancelDuplicateTasks(ctx context.Context, taskType, identifier string, keep *string) (int, error)
	TaskByID(ctx context.Context, id string) (*models.Task, error)
	TasksAssignedTo(ctx context.Context, agentID string) ([]models.Task, error)
	RecordOutcome(ctx context.Context, o *models.TaskOutcome) error

	CreateApproval(ctx context.Context, a *models.Approval) (*models.Approval, error)
	Approve(ctx context.Context, approvalID, notes string) (*models.Task, error)
	Reject(ctx context.Context, approvalID, notes string) (bool, error)
	ApprovalByID(ctx context.Context, id string) (*models.Approval, error)
	PendingApprovals(ctx context.Context, repoID *int64) ([]models.Approval, error)

	UpsertAgentStatus(ctx context.Context, s *models.AgentStatus) error
	AgentStatusByID(ctx context.Context, agentID string) (*models.AgentStatus, error)

	MarkEventProcessed(ctx context.Context, eventID string, repoID int64, action string) (bool, error)
}

// countRow is the scan destination for COUNT(*) AS n queries. Get scans
// into struct fields by reflection, so a bare int dest panics.
type countRow struct {
	N int `db:"n"`
}

type store struct {
	db database.DB
}

// New wraps a database.DB as a Store.
func New(db database.DB) Store {
	return &store{db: db}
}

func (s *store) Migrate(ctx context.Context) error { return s.db.Migrate(ctx) }
func (s *store) Close() error                      { return s.db.Close() }

// --- Repo ---

// CreateRepo inserts a new repo row. Settings defaults to an empty JSON
// object when the caller leaves it nil; DefaultBranch defaults to "main"
// and AutonomyMode to guided.
func (s *store) CreateRepo(ctx context.Context, r *models.Repo) (*models.Repo, error) {
	if r.Settings == nil {
		r.Settings = []byte("{}")
	}
	if r.DefaultBranch == "" {
		r.DefaultBranch = "main"
	}
	if r.AutonomyMode == "" {
		r.AutonomyMode = models.AutonomyGuided
	}
	r.Active = true
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt

	id, err := s.db.Insert(ctx, "repos", r)
	if err != nil {
		return nil, fmt.Errorf("create repo: %w", err)
	}
	r.ID = id
	return r, nil
}

func (s *store) SetRepoActive(ctx context.Context, repoID int64, active bool) error {
	return s.db.Exec(ctx, `UPDATE repos SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC().Format(time.RFC3339), repoID)
}

func (s *store) RepoByID(ctx context.Context, id int64) (*models.Repo, error) {
	var r models.Repo
	if err := s.db.Get(ctx, &r, `SELECT * FROM repos WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo by id: %w", err)
	}
	return &r, nil
}

// RepoByProjectRef resolves a repo from webhook/polling payload metadata.
// Grounded on gitlab_webhook.py's _resolve_repo, but expressed as a plain
// store method instead of a hasattr-probed callable.
func (s *store) RepoByProjectRef(ctx context.Context, provider models.Provider, projectRef string) (*models.Repo, error) {
	var r models.Repo
	err := s.db.Get(ctx, &r, `SELECT * FROM repos WHERE provider = ? AND project_ref = ? AND active = 1`, provider, projectRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo by project ref: %w", err)
	}
	return &r, nil
}

func (s *store) RepoBySlug(ctx context.Context, slug string) (*models.Repo, error) {
	var r models.Repo
	if err := s.db.Get(ctx, &r, `SELECT * FROM repos WHERE slug = ?`, slug); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo by slug: %w", err)
	}
	return &r, nil
}

func (s *store) ActiveRepos(ctx context.Context) ([]models.Repo, error) {
	var repos []models.Repo
	if err := s.db.Select(ctx, &repos, `SELECT * FROM repos WHERE active = 1`); err != nil {
		return nil, fmt.Errorf("active repos: %w", err)
	}
	return repos, nil
}

func (s *store) UpdateRepoSettings(ctx context.Context, repoID int64, settings models.RepoSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `UPDATE repos SET settings = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC().Format(time.RFC3339), repoID)
}

// --- Task ---

// dedupWhereClause mirrors orchestrator.py's json_extract OR-chain: a
// pending/claimed task of the same type is considered a duplicate if any
// of title|product_name|name|product in its payload matches identifier.
const dedupWhereClause = `type = ? AND status IN ('pending','claimed') AND (
	json_extract(payload, '$.title') = ? OR
	json_extract(payload, '$.product_name') = ? OR
	json_extract(payload, '$.name') = ? OR
	json_extract(payload, '$.product') = ?
)`

// pendingDuplicateWhereClause is dedupWhereClause narrowed to pending
// tasks only: CancelDuplicateTasks must never cancel a task an agent
// has already claimed.
const pendingDuplicateWhereClause = `type = ? AND status = 'pending' AND (
	json_extract(payload, '$.title') = ? OR
	json_extract(payload, '$.product_name') = ? OR
	json_extract(payload, '$.name') = ? OR
	json_extract(payload, '$.product') = ?
)`

func payloadIdentifier(payload []byte) string {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return ""
	}
	for _, k := range []string{"title", "product_name", "name", "product"} {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// CreateTask inserts a new pending task, clamping priority and applying
// dedup unless allowDuplicates is set. Returns (nil, nil) when a
// duplicate blocks creation — contention is never an error.
func (s *store) CreateTask(ctx context.Context, t *models.Task, allowDuplicates bool) (*models.Task, error) {
	t.Priority = models.ClampPriority(t.Priority)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = models.TaskPending
	t.CreatedAt = time.Now().UTC()

	if !allowDuplicates {
		identifier := payloadIdentifier(t.Payload)
		if identifier != "" {
			var count countRow
			if err := s.db.Get(ctx, &count, `SELECT COUNT(*) AS n FROM tasks WHERE `+dedupWhereClause,
				t.Type, identifier, identifier, identifier, identifier); err != nil {
				return nil, fmt.Errorf("dedup check: %w", err)
			}
			if count.N > 0 {
				return nil, nil
			}
		}
	}

	if _, err := s.db.Insert(ctx, "tasks", t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// ClaimTask runs abandonment recovery, then atomically claims the
// highest-priority, oldest eligible pending task for agentID.
//
// Grounded on orchestrator.py:claim_task (lines ~800-886): candidate
// SELECT ordered priority DESC, created_at ASC, then a conditional
// UPDATE guarded by `WHERE id=? AND status='pending'`, then a re-SELECT
// to confirm no concurrent claimant won the race. Direct assignment
// (assigned_to already set to agentID) bypasses the task-type filter.
func (s *store) ClaimTask(ctx context.Context, agentID string, repoID *int64, taskTypes []string, abandonTimeout time.Duration) (*models.Task, error) {
	if _, err := s.releaseAbandoned(ctx, abandonTimeout); err != nil {
		return nil, fmt.Errorf("abandonment recovery: %w", err)
	}

	if len(taskTypes) == 0 {
		taskTypes = []string{models.TaskTypeDirective, models.TaskTypeHumanDirective}
	} else {
		taskTypes = append(append([]string{}, taskTypes...), models.TaskTypeDirective, models.TaskTypeHumanDirective)
	}

	placeholders := make([]string, len(taskTypes))
	args := []interface{}{agentID}
	for i, tt := range taskTypes {
		placeholders[i] = "?"
		args = append(args, tt)
	}
	query := fmt.Sprintf(`SELECT * FROM tasks
		WHERE status = 'pending'
		AND (? IS NULL OR repo_id = ?)
		AND (assigned_to = ? OR (assigned_to IS NULL AND type IN (%s)))
		ORDER BY priority DESC, created_at ASC
		LIMIT 20`, strings.Join(placeholders, ","))

	fullArgs := append([]interface{}{repoID, repoID}, args...)

	var candidates []models.Task
	if err := s.db.Select(ctx, &candidates, query, fullArgs...); err != nil {
		return nil, fmt.Errorf("claim candidates: %w", err)
	}

	now := time.Now().UTC()
	for _, c := range candidates {
		if err := s.db.Exec(ctx,
			`UPDATE tasks SET status = 'claimed', assigned_to = ?, claimed_at = ? WHERE id = ? AND status = 'pending'`,
			agentID, now.Format(time.RFC3339), c.ID); err != nil {
			return nil, fmt.Errorf("claim update: %w", err)
		}

		// Re-select to confirm this caller, not a racing one, won the row.
		var won models.Task
		err := s.db.Get(ctx, &won, `SELECT * FROM tasks WHERE id = ? AND assigned_to = ? AND status = 'claimed'`, c.ID, agentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue // another agent won; try the next candidate
			}
			return nil, fmt.Errorf("claim confirm: %w", err)
		}
		return &won, nil
	}
	return nil, nil
}

// releaseAbandoned resets claimed tasks whose claimed_at predates the
// abandonment cutoff back to pending. Uses the stored claimed_at
// timestamp, not any single agent's wall clock, and is idempotent:
// running it twice with no new abandonment is a no-op.
func (s *store) releaseAbandoned(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-timeout).Format(time.RFC3339)
	var before countRow
	_ = s.db.Get(ctx, &before, `SELECT COUNT(*) AS n FROM tasks WHERE status = 'claimed' AND claimed_at < ?`, cutoff)
	if err := s.db.Exec(ctx,
		`UPDATE tasks SET status = 'pending', assigned_to = NULL, claimed_at = NULL WHERE status = 'claimed' AND claimed_at < ?`,
		cutoff); err != nil {
		return 0, err
	}
	return before.N, nil
}

// CompleteTask transitions a claimed/in_progress task to completed or
// failed, only when assigned_to matches agentID (the CAS). Returns
// false, nil when no matching non-terminal row exists — a contention
// outcome, never an error.
func (s *store) CompleteTask(ctx context.Context, taskID, agentID string, result, taskErr *string) (bool, error) {
	status := models.TaskCompleted
	if taskErr != nil && *taskErr != "" {
		status = models.TaskFailed
	}
	now := time.Now().UTC().Format(time.RFC3339)

	var current models.Task
	err := s.db.Get(ctx, &current, `SELECT * FROM tasks WHERE id = ? AND assigned_to = ?`, taskID, agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("complete lookup: %w", err)
	}
	if current.Status.Terminal() {
		return false, nil
	}

	if err := s.db.Exec(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, result = ?, error = ? WHERE id = ? AND assigned_to = ?`,
		string(status), now, result, taskErr, taskID, agentID); err != nil {
		return false, fmt.Errorf("complete update: %w", err)
	}
	return true, nil
}

// CancelTask transitions a non-terminal task to cancelled. Returns
// false, nil if the task is already terminal or doesn't exist — a
// no-op, not an error.
func (s *store) CancelTask(ctx context.Context, taskID, reason, cancelledBy string) (bool, error) {
	var t models.Task
	if err := s.db.Get(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("cancel lookup: %w", err)
	}
	if t.Status.Terminal() {
		return false, nil
	}

	by := cancelledBy
	if by == "" {
		by = "system"
	}
	errMsg := fmt.Sprintf("Cancelled by %s: %s", by, reason)
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.db.Exec(ctx,
		`UPDATE tasks SET status = 'cancelled', completed_at = ?, error = ? WHERE id = ?`,
		now, errMsg, taskID); err != nil {
		return false, fmt.Errorf("cancel update: %w", err)
	}
	return true, nil
}

// CancelDuplicateTasks cancels all pending tasks of taskType matching
// identifier except one keeper (explicit keep, else the highest
// priority / earliest-created candidate). Only pending tasks are
// candidates — a claimed task is already being worked and is never
// cancelled as a duplicate.
func (s *store) CancelDuplicateTasks(ctx context.Context, taskType, identifier string, keep *string) (int, error) {
	var candidates []models.Task
	query := `SELECT * FROM tasks WHERE ` + pendingDuplicateWhereClause + ` ORDER BY priority DESC, created_at ASC`
	if err := s.db.Select(ctx, &candidates, query, taskType, identifier, identifier, identifier, identifier); err != nil {
		return 0, fmt.Errorf("duplicate candidates: %w", err)
	}
	if len(candidates) <= 1 {
		return 0, nil
	}

	keepID := candidates[0].ID
	if keep != nil && *keep != "" {
		keepID = *keep
	}

	cancelled := 0
	for _, c := range candidates {
		if c.ID == keepID {
			continue
		}
		ok, err := s.CancelTask(ctx, c.ID, "superseded by duplicate", "system")
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

func (s *store) TaskByID(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := s.db.Get(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *store) TasksAssignedTo(ctx context.Context, agentID string) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.Select(ctx, &tasks,
		`SELECT * FROM tasks WHERE assigned_to = ? AND status IN ('claimed','in_progress')`, agentID)
	return tasks, err
}

func (s *store) RecordOutcome(ctx context.Context, o *models.TaskOutcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = time.Now().UTC()
	_, err := s.db.Insert(ctx, "task_outcomes", o)
	return err
}

// --- Approval ---

func (s *store) CreateApproval(ctx context.Context, a *models.Approval) (*models.Approval, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = models.ApprovalPending
	a.CreatedAt = time.Now().UTC()
	if _, err := s.db.Insert(ctx, "approvals", a); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return a, nil
}

// Approve flips an approval to approved and, for spec_approval, then
// creates the follow-up implementation task. The status update and the
// task insert are two separate writes with no enclosing transaction: if
// the insert fails, the approval stays approved with no follow-up task.
func (s *store) Approve(ctx context.Context, approvalID, notes string) (*models.Task, error) {
	var a models.Approval
	if err := s.db.Get(ctx, &a, `SELECT * FROM approvals WHERE id = ?`, approvalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if a.Status != models.ApprovalPending {
		return nil, nil
	}

	now := time.Now().UTC()
	if err := s.db.Exec(ctx,
		`UPDATE approvals SET status = 'approved', reviewer_notes = ?, reviewed_at = ? WHERE id = ?`,
		notes, now.Format(time.RFC3339), approvalID); err != nil {
		return nil, fmt.Errorf("approve update: %w", err)
	}

	if a.ApprovalType != models.ApprovalSpec {
		return nil, nil
	}

	followup := &models.Task{
		RepoID:       &a.RepoID,
		Type:         "implement_feature",
		Priority:     5,
		Payload:      a.Context,
		CreatedBy:    "orchestrator",
		ParentTaskID: a.SourceTaskID,
	}
	return s.CreateTask(ctx, followup, true)
}

func (s *store) Reject(ctx context.Context, approvalID, notes string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	var a models.Approval
	if err := s.db.Get(ctx, &a, `SELECT * FROM approvals WHERE id = ?`, approvalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if a.Status != models.ApprovalPending {
		return false, nil
	}
	if err := s.db.Exec(ctx,
		`UPDATE approvals SET status = 'rejected', reviewer_notes = ?, reviewed_at = ? WHERE id = ?`,
		notes, now, approvalID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *store) ApprovalByID(ctx context.Context, id string) (*models.Approval, error) {
	var a models.Approval
	if err := s.db.Get(ctx, &a, `SELECT * FROM approvals WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (s *store) PendingApprovals(ctx context.Context, repoID *int64) ([]models.Approval, error) {
	var approvals []models.Approval
	var err error
	if repoID != nil {
		err = s.db.Select(ctx, &approvals, `SELECT * FROM approvals WHERE status = 'pending' AND repo_id = ?`, *repoID)
	} else {
		err = s.db.Select(ctx, &approvals, `SELECT * FROM approvals WHERE status = 'pending'`)
	}
	return approvals, err
}

// --- AgentStatus ---

func (s *store) UpsertAgentStatus(ctx context.Context, st *models.AgentStatus) error {
	st.LastHeartbeat = time.Now().UTC()
	return s.db.Upsert(ctx, "agent_status", st, []string{"agent_id"})
}

func (s *store) AgentStatusByID(ctx context.Context, agentID string) (*models.AgentStatus, error) {
	var st models.AgentStatus
	if err := s.db.Get(ctx, &st, `SELECT * FROM agent_status WHERE agent_id = ?`, agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// --- ProcessedEvent ---

// MarkEventProcessed inserts the dedup key, returning false when it
// already existed (duplicate inserts are silently dropped at the
// uniqueness constraint).
func (s *store) MarkEventProcessed(ctx context.Context, eventID string, repoID int64, action string) (bool, error) {
	var count countRow
	if err := s.db.Get(ctx, &count, `SELECT COUNT(*) AS n FROM processed_events WHERE event_id = ? AND repo_id = ? AND action = ?`,
		eventID, repoID, action); err != nil {
		return false, err
	}
	if count.N > 0 {
		return false, nil
	}
	evt := &models.ProcessedEvent{EventID: eventID, RepoID: repoID, Action: action, ProcessedAt: time.Now().UTC()}
	if _, err := s.db.Insert(ctx, "processed_events", evt); err != nil {
		// A racing insert may have won between the check and here; treat
		// any insert failure on this table as "already processed".
		return false, nil
	}
	return true, nil
}
