// Package forge defines the outbound-operations contract against which
// the orchestrator core operates as an external collaborator: the core
// is ignorant of wire protocols and only demands these capabilities
// (issue/MR/branch/commit/file/pipeline operations), with GitLab issue
// listing supporting the label/state filters the scheduler's
// auto-feature-creation gating needs.
package forge

import (
	"context"
	"time"
)

// Issue is a forge-agnostic view of a tracked issue.
type Issue struct {
	ID        int64
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MergeRequest is a forge-agnostic view of a merge/pull request.
type MergeRequest struct {
	ID         int64
	Number     int
	Title      string
	Body       string
	State      string
	HeadBranch string
	BaseBranch string
	Draft      bool
}

// Commit is a forge-agnostic view of a single commit.
type Commit struct {
	SHA     string
	Message string
	URL     string
}

// Pipeline is a forge-agnostic view of a CI run (GitLab pipeline /
// GitHub Actions workflow run).
type Pipeline struct {
	ID     int64
	Status string
	Ref    string
	URL    string
}

// ListIssuesOptions filters Client.ListIssues, e.g. the scheduler's
// auto-feature-creation open-issue cap check (label + state="opened").
type ListIssuesOptions struct {
	State   string
	Labels  []string
	PerPage int
}

// Client is the capability contract every forge implementation (GitHub,
// GitLab) satisfies. Components depend only on this interface, never on
// a concrete SDK type: every Client always implements every method,
// callers never probe for optional support.
type Client interface {
	Name() string

	ListIssues(ctx context.Context, projectRef string, opts ListIssuesOptions) ([]Issue, error)
	CreateIssue(ctx context.Context, projectRef, title, body string, labels []string) (*Issue, error)
	UpdateIssue(ctx context.Context, projectRef string, number int, title, body *string) (*Issue, error)
	CommentOnIssue(ctx context.Context, projectRef string, number int, body string) error

	ListMergeRequests(ctx context.Context, projectRef string, state string) ([]MergeRequest, error)
	CreateMergeRequest(ctx context.Context, projectRef, title, body, headBranch, baseBranch string, draft bool) (*MergeRequest, error)
	MergeMergeRequest(ctx context.Context, projectRef string, number int) error
	ReviewMergeRequest(ctx context.Context, projectRef string, number int, approve bool, comment string) error

	ListBranches(ctx context.Context, projectRef string) ([]string, error)
	CreateBranch(ctx context.Context, projectRef, name, fromRef string) error
	DeleteBranch(ctx context.Context, projectRef, name string) error

	GetCommit(ctx context.Context, projectRef, sha string) (*Commit, error)
	ListCommits(ctx context.Context, projectRef, ref string) ([]Commit, error)
	CompareCommits(ctx context.Context, projectRef, base, head string) ([]Commit, error)

	ReadFile(ctx context.Context, projectRef, path, ref string) ([]byte, error)
	CreateFile(ctx context.Context, projectRef, path, branch, content, message string) error
	UpdateFile(ctx context.Context, projectRef, path, branch, content, message string) error
	DeleteFile(ctx context.Context, projectRef, path, branch, message string) error

	ListPipelines(ctx context.Context, projectRef, ref string) ([]Pipeline, error)
	TriggerPipeline(ctx context.Context, projectRef, ref string) (*Pipeline, error)
	RetryPipeline(ctx context.Context, projectRef string, pipelineID int64) error
	CancelPipeline(ctx context.Context, projectRef string, pipelineID int64) error
}
