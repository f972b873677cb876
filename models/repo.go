package models

import "time"

// AutonomyMode controls how much an orchestrator may act without a human
// in the loop for a given repo.
type AutonomyMode string

const (
	AutonomyGuided AutonomyMode = "guided"
	AutonomyFull   AutonomyMode = "full"
)

// Provider identifies which forge a Repo lives on.
type Provider string

const (
	ProviderGitLab Provider = "gitlab"
	ProviderGitHub Provider = "github"
)

// Repo is a tracked source-forge project the fleet may act on.
type Repo struct {
	ID            int64        `db:"id"              json:"id"`
	Name          string       `db:"name"            json:"name"`
	Provider      Provider     `db:"provider"        json:"provider"`
	ForgeBaseURL  string       `db:"forge_base_url"  json:"forge_base_url"`
	ProjectRef    string       `db:"project_ref"     json:"project_ref"`
	Slug          string       `db:"slug"            json:"slug"`
	DefaultBranch string       `db:"default_branch"  json:"default_branch"`
	AutonomyMode  AutonomyMode `db:"autonomy_mode"   json:"autonomy_mode"`
	// Settings is opaque JSON: webhook secret, polling cursor,
	// auto-approve thresholds, per-job overrides.
	Settings  []byte    `db:"settings"   json:"settings"`
	Active    bool      `db:"active"     json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RepoSettings is the structured view of Repo.Settings. Orchestrator and
// Webhook Router code should decode into this rather than poking at raw
// JSON inline.
type RepoSettings struct {
	WebhookSecret string `json:"webhook_secret,omitempty"`
	Polling       struct {
		LastPolledAt time.Time `json:"last_polled_at,omitempty"`
	} `json:"polling,omitempty"`
	AutoApprove struct {
		SpecArchitectConfidence  int `json:"spec_architect_confidence,omitempty"`
		MergeReviewerScore       int `json:"merge_reviewer_score,omitempty"`
		MergeMinTestCoveragePct  int `json:"merge_min_test_coverage_pct,omitempty"`
	} `json:"auto_approve,omitempty"`
	// JobOverrides maps scheduler job name to an explicit enabled flag,
	// overriding the global catalog entry for this repo only.
	JobOverrides map[string]bool `json:"job_overrides,omitempty"`
}
