package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
)

// GitHubClient implements Client against the GitHub REST API. Pipelines
// map onto GitHub Actions workflow runs, since GitHub has no native
// "pipeline" concept.
type GitHubClient struct {
	api *github.Client
}

// NewGitHubClient builds a GitHubClient authenticated with a personal
// access token or GitHub App installation token.
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{api: github.NewClient(nil).WithAuthToken(token)}
}

func (c *GitHubClient) Name() string { return "github" }

func splitRef(projectRef string) (owner, repo string, err error) {
	parts := strings.SplitN(projectRef, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("forge: github project ref %q must be \"owner/repo\"", projectRef)
	}
	return parts[0], parts[1], nil
}

func (c *GitHubClient) ListIssues(ctx context.Context, projectRef string, opts ListIssuesOptions) ([]Issue, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	ghOpts := &github.IssueListByRepoOptions{Labels: opts.Labels}
	if opts.State != "" {
		ghOpts.State = opts.State
	}
	if opts.PerPage > 0 {
		ghOpts.ListOptions.PerPage = opts.PerPage
	}
	issues, _, err := c.api.Issues.ListByRepo(ctx, owner, repo, ghOpts)
	if err != nil {
		return nil, fmt.Errorf("forge: github list issues: %w", err)
	}
	out := make([]Issue, 0, len(issues))
	for _, gi := range issues {
		if gi.IsPullRequest() {
			continue
		}
		out = append(out, ghIssueToIssue(gi))
	}
	return out, nil
}

func (c *GitHubClient) CreateIssue(ctx context.Context, projectRef, title, body string, labels []string) (*Issue, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	gi, _, err := c.api.Issues.Create(ctx, owner, repo, &github.IssueRequest{
		Title:  github.Ptr(title),
		Body:   github.Ptr(body),
		Labels: &labels,
	})
	if err != nil {
		return nil, fmt.Errorf("forge: github create issue: %w", err)
	}
	issue := ghIssueToIssue(gi)
	return &issue, nil
}

func (c *GitHubClient) UpdateIssue(ctx context.Context, projectRef string, number int, title, body *string) (*Issue, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	req := &github.IssueRequest{Title: title, Body: body}
	gi, _, err := c.api.Issues.Edit(ctx, owner, repo, number, req)
	if err != nil {
		return nil, fmt.Errorf("forge: github update issue: %w", err)
	}
	issue := ghIssueToIssue(gi)
	return &issue, nil
}

func (c *GitHubClient) CommentOnIssue(ctx context.Context, projectRef string, number int, body string) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	_, _, err = c.api.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return fmt.Errorf("forge: github comment issue: %w", err)
	}
	return nil
}

func (c *GitHubClient) ListMergeRequests(ctx context.Context, projectRef string, state string) ([]MergeRequest, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	opts := &github.PullRequestListOptions{}
	if state != "" {
		opts.State = state
	}
	prs, _, err := c.api.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: github list PRs: %w", err)
	}
	out := make([]MergeRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, ghPRToMR(pr))
	}
	return out, nil
}

func (c *GitHubClient) CreateMergeRequest(ctx context.Context, projectRef, title, body, headBranch, baseBranch string, draft bool) (*MergeRequest, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	pr, _, err := c.api.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(headBranch),
		Base:  github.Ptr(baseBranch),
		Draft: github.Ptr(draft),
	})
	if err != nil {
		return nil, fmt.Errorf("forge: github create PR: %w", err)
	}
	mr := ghPRToMR(pr)
	return &mr, nil
}

func (c *GitHubClient) MergeMergeRequest(ctx context.Context, projectRef string, number int) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	_, _, err = c.api.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{})
	if err != nil {
		return fmt.Errorf("forge: github merge PR: %w", err)
	}
	return nil
}

func (c *GitHubClient) ReviewMergeRequest(ctx context.Context, projectRef string, number int, approve bool, comment string) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	event := "COMMENT"
	if approve {
		event = "APPROVE"
	}
	_, _, err = c.api.PullRequests.CreateReview(ctx, owner, repo, number, &github.PullRequestReviewRequest{
		Body:  github.Ptr(comment),
		Event: github.Ptr(event),
	})
	if err != nil {
		return fmt.Errorf("forge: github review PR: %w", err)
	}
	return nil
}

func (c *GitHubClient) ListBranches(ctx context.Context, projectRef string) ([]string, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	branches, _, err := c.api.Repositories.ListBranches(ctx, owner, repo, nil)
	if err != nil {
		return nil, fmt.Errorf("forge: github list branches: %w", err)
	}
	out := make([]string, 0, len(branches))
	for _, b := range branches {
		out = append(out, b.GetName())
	}
	return out, nil
}

func (c *GitHubClient) CreateBranch(ctx context.Context, projectRef, name, fromRef string) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	base, _, err := c.api.Git.GetRef(ctx, owner, repo, "refs/heads/"+fromRef)
	if err != nil {
		return fmt.Errorf("forge: github resolve base ref: %w", err)
	}
	_, _, err = c.api.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + name),
		Object: base.Object,
	})
	if err != nil {
		return fmt.Errorf("forge: github create branch: %w", err)
	}
	return nil
}

func (c *GitHubClient) DeleteBranch(ctx context.Context, projectRef, name string) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	_, err = c.api.Git.DeleteRef(ctx, owner, repo, "refs/heads/"+name)
	if err != nil {
		return fmt.Errorf("forge: github delete branch: %w", err)
	}
	return nil
}

func (c *GitHubClient) GetCommit(ctx context.Context, projectRef, sha string) (*Commit, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	gc, _, err := c.api.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, fmt.Errorf("forge: github get commit: %w", err)
	}
	return ghCommitToCommit(gc), nil
}

func (c *GitHubClient) ListCommits(ctx context.Context, projectRef, ref string) ([]Commit, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	opts := &github.CommitsListOptions{}
	if ref != "" {
		opts.SHA = ref
	}
	commits, _, err := c.api.Repositories.ListCommits(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: github list commits: %w", err)
	}
	out := make([]Commit, 0, len(commits))
	for _, gc := range commits {
		out = append(out, *ghCommitToCommit(gc))
	}
	return out, nil
}

func (c *GitHubClient) CompareCommits(ctx context.Context, projectRef, base, head string) ([]Commit, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	cmp, _, err := c.api.Repositories.CompareCommits(ctx, owner, repo, base, head, nil)
	if err != nil {
		return nil, fmt.Errorf("forge: github compare commits: %w", err)
	}
	out := make([]Commit, 0, len(cmp.Commits))
	for _, gc := range cmp.Commits {
		out = append(out, *ghCommitToCommit(&gc))
	}
	return out, nil
}

func (c *GitHubClient) ReadFile(ctx context.Context, projectRef, path, ref string) ([]byte, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	fileContent, _, _, err := c.api.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: github read file: %w", err)
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("forge: github decode file: %w", err)
	}
	return []byte(content), nil
}

func (c *GitHubClient) CreateFile(ctx context.Context, projectRef, path, branch, content, message string) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	_, _, err = c.api.Repositories.CreateFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: []byte(content),
		Branch:  github.Ptr(branch),
	})
	if err != nil {
		return fmt.Errorf("forge: github create file: %w", err)
	}
	return nil
}

func (c *GitHubClient) UpdateFile(ctx context.Context, projectRef, path, branch, content, message string) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	existing, _, _, err := c.api.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return fmt.Errorf("forge: github read file for update: %w", err)
	}
	_, _, err = c.api.Repositories.UpdateFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: []byte(content),
		Branch:  github.Ptr(branch),
		SHA:     existing.SHA,
	})
	if err != nil {
		return fmt.Errorf("forge: github update file: %w", err)
	}
	return nil
}

func (c *GitHubClient) DeleteFile(ctx context.Context, projectRef, path, branch, message string) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	existing, _, _, err := c.api.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return fmt.Errorf("forge: github read file for delete: %w", err)
	}
	_, _, err = c.api.Repositories.DeleteFile(ctx, owner, repo, path, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Branch:  github.Ptr(branch),
		SHA:     existing.SHA,
	})
	if err != nil {
		return fmt.Errorf("forge: github delete file: %w", err)
	}
	return nil
}

// ListPipelines maps onto GitHub Actions workflow runs for ref.
func (c *GitHubClient) ListPipelines(ctx context.Context, projectRef, ref string) ([]Pipeline, error) {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return nil, err
	}
	opts := &github.ListWorkflowRunsOptions{}
	if ref != "" {
		opts.Branch = ref
	}
	runs, _, err := c.api.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: github list workflow runs: %w", err)
	}
	out := make([]Pipeline, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, ghRunToPipeline(r))
	}
	return out, nil
}

// TriggerPipeline is a Non-goal for the GitHub client: workflow
// dispatch requires a workflow file ID/name that the forge-agnostic
// contract doesn't carry, so this always reports the operation as
// unsupported rather than guessing a workflow name.
func (c *GitHubClient) TriggerPipeline(ctx context.Context, projectRef, ref string) (*Pipeline, error) {
	return nil, fmt.Errorf("forge: github trigger pipeline: workflow_dispatch requires an explicit workflow id, not supported through this contract")
}

func (c *GitHubClient) RetryPipeline(ctx context.Context, projectRef string, pipelineID int64) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	_, err = c.api.Actions.RerunWorkflowByID(ctx, owner, repo, pipelineID)
	if err != nil {
		return fmt.Errorf("forge: github rerun workflow: %w", err)
	}
	return nil
}

func (c *GitHubClient) CancelPipeline(ctx context.Context, projectRef string, pipelineID int64) error {
	owner, repo, err := splitRef(projectRef)
	if err != nil {
		return err
	}
	_, err = c.api.Actions.CancelWorkflowRunByID(ctx, owner, repo, pipelineID)
	if err != nil {
		return fmt.Errorf("forge: github cancel workflow: %w", err)
	}
	return nil
}

func ghIssueToIssue(gi *github.Issue) Issue {
	issue := Issue{
		ID:     gi.GetID(),
		Number: gi.GetNumber(),
		Title:  gi.GetTitle(),
		Body:   gi.GetBody(),
		State:  gi.GetState(),
	}
	for _, l := range gi.Labels {
		issue.Labels = append(issue.Labels, l.GetName())
	}
	if gi.CreatedAt != nil {
		issue.CreatedAt = gi.CreatedAt.Time
	}
	if gi.UpdatedAt != nil {
		issue.UpdatedAt = gi.UpdatedAt.Time
	}
	return issue
}

func ghPRToMR(pr *github.PullRequest) MergeRequest {
	return MergeRequest{
		ID:         pr.GetID(),
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		State:      pr.GetState(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		Draft:      pr.GetDraft(),
	}
}

func ghCommitToCommit(gc *github.RepositoryCommit) *Commit {
	return &Commit{
		SHA:     gc.GetSHA(),
		Message: gc.GetCommit().GetMessage(),
		URL:     gc.GetHTMLURL(),
	}
}

func ghRunToPipeline(r *github.WorkflowRun) Pipeline {
	return Pipeline{
		ID:     r.GetID(),
		Status: r.GetStatus(),
		Ref:    r.GetHeadBranch(),
		URL:    r.GetHTMLURL(),
	}
}
