package notify

import "context"

// Event represents a notification event from the orchestrator.
type Event struct {
	Type     string         // "task_failed" | "approval_created" | "rate_limit_set" | "rate_limit_cleared"
	Title    string
	Body     string
	URL      string         // optional deep link (e.g. PR URL, gateway UI link)
	Severity string         // "critical" | "high" | "medium" | "low" | ""
	RepoKey  string         // "github.com/owner/repo"
	Metadata map[string]any // extra structured data
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}
