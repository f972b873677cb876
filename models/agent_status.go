package models

import "time"

// AgentRunnerState is the supervision loop's own state machine, reported
// in the per-runner status file and the AgentStatus store row.
type AgentRunnerState string

const (
	AgentIdle        AgentRunnerState = "idle"
	AgentRunning     AgentRunnerState = "running"
	AgentError       AgentRunnerState = "error"
	AgentStopped     AgentRunnerState = "stopped"
	AgentRateLimited AgentRunnerState = "rate_limited"
	AgentWaiting     AgentRunnerState = "waiting"
	AgentDisabled    AgentRunnerState = "disabled"
	AgentBudgetExceeded AgentRunnerState = "budget_exceeded"
)

// AgentStatus is the fleet-wide, store-backed view of one agent-type
// instance. A stale LastHeartbeat implies the agent is effectively
// offline even though no row update says so explicitly.
type AgentStatus struct {
	AgentID        string           `db:"agent_id"        json:"agent_id"`
	RepoID         *int64           `db:"repo_id"         json:"repo_id,omitempty"`
	Status         AgentRunnerState `db:"status"          json:"status"`
	CurrentTaskID  *string          `db:"current_task_id" json:"current_task_id,omitempty"`
	LastHeartbeat  time.Time        `db:"last_heartbeat"  json:"last_heartbeat"`
	TasksCompleted int              `db:"tasks_completed" json:"tasks_completed"`
	TokensUsed     int              `db:"tokens_used"     json:"tokens_used"`
}

// HeartbeatStaleAfter is the TTL beyond which a status row's heartbeat is
// considered stale and the agent treated as offline by readers.
const HeartbeatStaleAfter = 2 * time.Minute

// Stale reports whether the status's heartbeat is older than the TTL.
func (s AgentStatus) Stale(now time.Time) bool {
	return now.Sub(s.LastHeartbeat) > HeartbeatStaleAfter
}
