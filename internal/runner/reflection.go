package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// reflectionInput is what the runner knows about a just-finished task;
// the actual reflection text is generated by the external LLM
// collaborator behind reflectionsURL — this package never calls an LLM
// API itself.
type reflectionInput struct {
	AgentID       string
	TaskID        string
	TaskType      string
	Success       bool
	ExitCode      int
	OutputExcerpt string
}

// Reflector ships a completed task's outcome to the external reflections
// endpoint, best-effort. Mirrors notify/webhook.go's HTTP-POST shape:
// a single outbound call, no ecosystem client needed for it.
type Reflector struct {
	url    string
	client *http.Client
}

// NewReflector builds a Reflector. url is typically read from the
// REFLECTIONS_URL environment variable; an empty url disables sending.
func NewReflector(url string) *Reflector {
	return &Reflector{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

// Configured reports whether a reflections endpoint is set.
func (r *Reflector) Configured() bool { return r.url != "" }

// Send posts the reflection input best-effort. Errors are returned to
// the caller for logging only — never treated as fatal to the
// supervision loop.
func (r *Reflector) Send(ctx context.Context, in reflectionInput) error {
	if !r.Configured() {
		return nil
	}
	payload := map[string]any{
		"agent_id":       in.AgentID,
		"task_id":        in.TaskID,
		"task_type":      in.TaskType,
		"outcome":        outcomeLabel(in.Success),
		"exit_code":      in.ExitCode,
		"output_excerpt": in.OutputExcerpt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req) // #nosec G107 -- URL is operator-configured, not attacker input
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("reflections endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func reflectionsURLFromEnv() string {
	return os.Getenv("REFLECTIONS_URL")
}
