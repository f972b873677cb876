package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Status is the per-runner snapshot written to a local file on every
// iteration, read by peer runners for concurrency-cap counting and by
// any external dashboard process. Grounded on _write_status_file /
// get_status.
type Status struct {
	AgentID             string       `json:"agent_id"`
	AgentName           string       `json:"agent_name"`
	IsRunning           bool         `json:"is_running"`
	State               string       `json:"state"`
	CurrentSession      *SessionInfo `json:"current_session,omitempty"`
	CurrentTask         *TaskInfo    `json:"current_task,omitempty"`
	RateLimited         bool         `json:"rate_limited"`
	RateLimitWaitSeconds float64     `json:"rate_limit_wait_seconds,omitempty"`
	TotalSessions       int          `json:"total_sessions"`
	TasksCompleted      int          `json:"tasks_completed"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// SessionInfo describes the worker session currently (or most recently)
// attached to a runner.
type SessionInfo struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	StartTime time.Time `json:"start_time"`
}

// TaskInfo identifies the task currently being worked.
type TaskInfo struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func statusFileName(agentID string) string {
	return fmt.Sprintf("runner_status_%s.json", agentID)
}

func statusPath(dir, agentID string) string {
	return filepath.Join(dir, statusFileName(agentID))
}

// writeStatus atomically writes st to its per-agent status file,
// following the same tempfile+rename pattern as the Rate-Limit Register.
func writeStatus(dir string, st Status) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, statusPath(dir, st.AgentID))
}

// countWorkingPeers scans every other runner's status file in dir and
// counts those actively processing a task — running session, current
// task, not rate-limited — matching _check_concurrent_limit's
// "only count agents really busy, not merely waiting" rule, which exists
// to avoid a deadlock where idle-but-registered runners starve real work.
func countWorkingPeers(dir, selfAgentID string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	self := statusFileName(selfAgentID)
	count := 0
	for _, e := range entries {
		name := e.Name()
		if name == self || !strings.HasPrefix(name, "runner_status_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var st Status
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		if st.IsRunning && st.CurrentSession != nil && st.CurrentTask != nil && !st.RateLimited {
			count++
		}
	}
	return count
}
