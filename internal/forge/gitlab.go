package forge

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLabClient implements Client against a GitLab instance (gitlab.com
// or self-managed, per the repo's ForgeBaseURL as resolved by Registry) using the
// gitlab-org/api/client-go SDK.
type GitLabClient struct {
	api *gitlab.Client
}

// NewGitLabClient builds a GitLabClient. baseURL is empty for
// gitlab.com, or the self-managed instance's API root otherwise.
func NewGitLabClient(token, baseURL string) (*GitLabClient, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	api, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab client: %w", err)
	}
	return &GitLabClient{api: api}, nil
}

func (c *GitLabClient) Name() string { return "gitlab" }

func (c *GitLabClient) ListIssues(ctx context.Context, projectRef string, opts ListIssuesOptions) ([]Issue, error) {
	listOpts := &gitlab.ListProjectIssuesOptions{}
	if opts.State != "" {
		listOpts.State = gitlab.Ptr(opts.State)
	}
	if len(opts.Labels) > 0 {
		labels := gitlab.LabelOptions(opts.Labels)
		listOpts.Labels = &labels
	}
	if opts.PerPage > 0 {
		listOpts.PerPage = opts.PerPage
	}
	issues, _, err := c.api.Issues.ListProjectIssues(projectRef, listOpts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab list issues: %w", err)
	}
	out := make([]Issue, 0, len(issues))
	for _, gi := range issues {
		out = append(out, glIssueToIssue(gi))
	}
	return out, nil
}

func (c *GitLabClient) CreateIssue(ctx context.Context, projectRef, title, body string, labels []string) (*Issue, error) {
	labelOpts := gitlab.LabelOptions(labels)
	gi, _, err := c.api.Issues.CreateIssue(projectRef, &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(title),
		Description: gitlab.Ptr(body),
		Labels:      &labelOpts,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab create issue: %w", err)
	}
	issue := glIssueToIssue(gi)
	return &issue, nil
}

func (c *GitLabClient) UpdateIssue(ctx context.Context, projectRef string, number int, title, body *string) (*Issue, error) {
	opts := &gitlab.UpdateIssueOptions{}
	if title != nil {
		opts.Title = title
	}
	if body != nil {
		opts.Description = body
	}
	gi, _, err := c.api.Issues.UpdateIssue(projectRef, number, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab update issue: %w", err)
	}
	issue := glIssueToIssue(gi)
	return &issue, nil
}

func (c *GitLabClient) CommentOnIssue(ctx context.Context, projectRef string, number int, body string) error {
	_, _, err := c.api.Notes.CreateIssueNote(projectRef, number, &gitlab.CreateIssueNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab comment issue: %w", err)
	}
	return nil
}

func (c *GitLabClient) ListMergeRequests(ctx context.Context, projectRef string, state string) ([]MergeRequest, error) {
	opts := &gitlab.ListProjectMergeRequestsOptions{}
	if state != "" {
		opts.State = gitlab.Ptr(state)
	}
	mrs, _, err := c.api.MergeRequests.ListProjectMergeRequests(projectRef, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab list MRs: %w", err)
	}
	out := make([]MergeRequest, 0, len(mrs))
	for _, m := range mrs {
		out = append(out, glMRToMR(m.ID, m.IID, m.Title, m.Description, m.State, m.SourceBranch, m.TargetBranch, m.Draft))
	}
	return out, nil
}

func (c *GitLabClient) CreateMergeRequest(ctx context.Context, projectRef, title, body, headBranch, baseBranch string, draft bool) (*MergeRequest, error) {
	if draft {
		title = "Draft: " + title
	}
	m, _, err := c.api.MergeRequests.CreateMergeRequest(projectRef, &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(title),
		Description:  gitlab.Ptr(body),
		SourceBranch: gitlab.Ptr(headBranch),
		TargetBranch: gitlab.Ptr(baseBranch),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab create MR: %w", err)
	}
	mr := glMRToMR(m.ID, m.IID, m.Title, m.Description, m.State, m.SourceBranch, m.TargetBranch, m.Draft)
	return &mr, nil
}

func (c *GitLabClient) MergeMergeRequest(ctx context.Context, projectRef string, number int) error {
	_, _, err := c.api.MergeRequests.AcceptMergeRequest(projectRef, number, &gitlab.AcceptMergeRequestOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab merge MR: %w", err)
	}
	return nil
}

func (c *GitLabClient) ReviewMergeRequest(ctx context.Context, projectRef string, number int, approve bool, comment string) error {
	if comment != "" {
		if _, _, err := c.api.Notes.CreateMergeRequestNote(projectRef, number, &gitlab.CreateMergeRequestNoteOptions{
			Body: gitlab.Ptr(comment),
		}, gitlab.WithContext(ctx)); err != nil {
			return fmt.Errorf("forge: gitlab comment MR: %w", err)
		}
	}
	if approve {
		_, _, err := c.api.MergeRequestApprovals.ApproveMergeRequest(projectRef, number, &gitlab.ApproveMergeRequestOptions{}, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("forge: gitlab approve MR: %w", err)
		}
	}
	return nil
}

func (c *GitLabClient) ListBranches(ctx context.Context, projectRef string) ([]string, error) {
	branches, _, err := c.api.Branches.ListBranches(projectRef, &gitlab.ListBranchesOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab list branches: %w", err)
	}
	out := make([]string, 0, len(branches))
	for _, b := range branches {
		out = append(out, b.Name)
	}
	return out, nil
}

func (c *GitLabClient) CreateBranch(ctx context.Context, projectRef, name, fromRef string) error {
	_, _, err := c.api.Branches.CreateBranch(projectRef, &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(name),
		Ref:    gitlab.Ptr(fromRef),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab create branch: %w", err)
	}
	return nil
}

func (c *GitLabClient) DeleteBranch(ctx context.Context, projectRef, name string) error {
	_, err := c.api.Branches.DeleteBranch(projectRef, name, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab delete branch: %w", err)
	}
	return nil
}

func (c *GitLabClient) GetCommit(ctx context.Context, projectRef, sha string) (*Commit, error) {
	gc, _, err := c.api.Commits.GetCommit(projectRef, sha, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab get commit: %w", err)
	}
	return &Commit{SHA: gc.ID, Message: gc.Message, URL: gc.WebURL}, nil
}

func (c *GitLabClient) ListCommits(ctx context.Context, projectRef, ref string) ([]Commit, error) {
	opts := &gitlab.ListCommitsOptions{}
	if ref != "" {
		opts.RefName = gitlab.Ptr(ref)
	}
	commits, _, err := c.api.Commits.ListCommits(projectRef, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab list commits: %w", err)
	}
	out := make([]Commit, 0, len(commits))
	for _, gc := range commits {
		out = append(out, Commit{SHA: gc.ID, Message: gc.Message, URL: gc.WebURL})
	}
	return out, nil
}

func (c *GitLabClient) CompareCommits(ctx context.Context, projectRef, base, head string) ([]Commit, error) {
	cmp, _, err := c.api.Repositories.Compare(projectRef, &gitlab.CompareOptions{
		From: gitlab.Ptr(base),
		To:   gitlab.Ptr(head),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab compare commits: %w", err)
	}
	out := make([]Commit, 0, len(cmp.Commits))
	for _, gc := range cmp.Commits {
		out = append(out, Commit{SHA: gc.ID, Message: gc.Message, URL: gc.WebURL})
	}
	return out, nil
}

func (c *GitLabClient) ReadFile(ctx context.Context, projectRef, path, ref string) ([]byte, error) {
	f, _, err := c.api.RepositoryFiles.GetRawFile(projectRef, path, &gitlab.GetRawFileOptions{
		Ref: gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab read file: %w", err)
	}
	return f, nil
}

func (c *GitLabClient) CreateFile(ctx context.Context, projectRef, path, branch, content, message string) error {
	_, _, err := c.api.RepositoryFiles.CreateFile(projectRef, path, &gitlab.CreateFileOptions{
		Branch:        gitlab.Ptr(branch),
		Content:       gitlab.Ptr(content),
		CommitMessage: gitlab.Ptr(message),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab create file: %w", err)
	}
	return nil
}

func (c *GitLabClient) UpdateFile(ctx context.Context, projectRef, path, branch, content, message string) error {
	_, _, err := c.api.RepositoryFiles.UpdateFile(projectRef, path, &gitlab.UpdateFileOptions{
		Branch:        gitlab.Ptr(branch),
		Content:       gitlab.Ptr(content),
		CommitMessage: gitlab.Ptr(message),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab update file: %w", err)
	}
	return nil
}

func (c *GitLabClient) DeleteFile(ctx context.Context, projectRef, path, branch, message string) error {
	_, err := c.api.RepositoryFiles.DeleteFile(projectRef, path, &gitlab.DeleteFileOptions{
		Branch:        gitlab.Ptr(branch),
		CommitMessage: gitlab.Ptr(message),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab delete file: %w", err)
	}
	return nil
}

func (c *GitLabClient) ListPipelines(ctx context.Context, projectRef, ref string) ([]Pipeline, error) {
	opts := &gitlab.ListProjectPipelinesOptions{}
	if ref != "" {
		opts.Ref = gitlab.Ptr(ref)
	}
	pipelines, _, err := c.api.Pipelines.ListProjectPipelines(projectRef, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab list pipelines: %w", err)
	}
	out := make([]Pipeline, 0, len(pipelines))
	for _, p := range pipelines {
		out = append(out, Pipeline{ID: int64(p.ID), Status: p.Status, Ref: p.Ref, URL: p.WebURL})
	}
	return out, nil
}

func (c *GitLabClient) TriggerPipeline(ctx context.Context, projectRef, ref string) (*Pipeline, error) {
	p, _, err := c.api.Pipelines.CreatePipeline(projectRef, &gitlab.CreatePipelineOptions{
		Ref: gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("forge: gitlab trigger pipeline: %w", err)
	}
	return &Pipeline{ID: int64(p.ID), Status: p.Status, Ref: p.Ref, URL: p.WebURL}, nil
}

func (c *GitLabClient) RetryPipeline(ctx context.Context, projectRef string, pipelineID int64) error {
	_, _, err := c.api.Pipelines.RetryPipelineBuild(projectRef, int(pipelineID), gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab retry pipeline: %w", err)
	}
	return nil
}

func (c *GitLabClient) CancelPipeline(ctx context.Context, projectRef string, pipelineID int64) error {
	_, _, err := c.api.Pipelines.CancelPipelineBuild(projectRef, int(pipelineID), gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("forge: gitlab cancel pipeline: %w", err)
	}
	return nil
}

func glIssueToIssue(gi *gitlab.Issue) Issue {
	issue := Issue{
		ID:     int64(gi.ID),
		Number: gi.IID,
		Title:  gi.Title,
		Body:   gi.Description,
		State:  gi.State,
		Labels: []string(gi.Labels),
	}
	if gi.CreatedAt != nil {
		issue.CreatedAt = *gi.CreatedAt
	}
	if gi.UpdatedAt != nil {
		issue.UpdatedAt = *gi.UpdatedAt
	}
	return issue
}

func glMRToMR(id, iid int, title, desc, state, source, target string, draft bool) MergeRequest {
	return MergeRequest{
		ID:         int64(id),
		Number:     iid,
		Title:      title,
		Body:       desc,
		State:      state,
		HeadBranch: source,
		BaseBranch: target,
		Draft:      draft,
	}
}
