// Package scheduler runs the minute-resolution job catalog from
// config.SchedulingConfig, creating orchestrator tasks for each active
// repo a job applies to, with per-repo override gating and two
// internal maintenance jobs (poll_gitlab_issues, auto_feature_creation).
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/forge"
	"github.com/autodevhq/fleet-orchestrator/internal/orchestrator"
	"github.com/autodevhq/fleet-orchestrator/internal/store"
	"github.com/autodevhq/fleet-orchestrator/models"
)

const scheduledTaskPriority = 3

// Scheduler evaluates the job catalog every minute and emits tasks.
type Scheduler struct {
	store   store.Store
	orch    *orchestrator.Orchestrator
	forges  *forge.Registry
	cfg     config.SchedulingConfig
	product config.ProductConfig

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New builds a Scheduler. forges may be nil if no forge credentials are
// configured — auto_feature_creation is then always skipped.
func New(st store.Store, orch *orchestrator.Orchestrator, forges *forge.Registry, cfg config.SchedulingConfig, product config.ProductConfig) *Scheduler {
	return &Scheduler{
		store:   st,
		orch:    orch,
		forges:  forges,
		cfg:     cfg,
		product: product,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers all enabled jobs and starts the cron scheduler. It
// returns immediately; the cron library runs its own goroutine. Stop
// via ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		slog.Info("scheduler: scheduling disabled in config")
		return nil
	}
	for name, job := range s.cfg.Jobs {
		if err := s.register(ctx, name, job); err != nil {
			slog.Error("scheduler: failed to register job", "job", name, "error", err)
			continue
		}
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	slog.Info("scheduler: started", "jobs", len(s.entries))
	return nil
}

func (s *Scheduler) register(ctx context.Context, name string, job config.JobDef) error {
	if !job.Enabled {
		slog.Info("scheduler: job disabled, skipping registration", "job", name)
		return nil
	}
	spec, err := toStandardCron(job.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", job.Cron, err)
	}
	id, err := s.cron.AddFunc(spec, func() {
		s.runJob(ctx, name, job)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[name] = id
	s.mu.Unlock()
	return nil
}

// toStandardCron accepts the 5-field minute-resolution expressions the
// job catalog uses and passes them straight through — robfig/cron/v3's
// default parser already understands standard 5-field cron, unlike the
// original's hand-rolled CronExpression which this replaces.
func toStandardCron(expr string) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	return expr, nil
}

// TriggerNow runs a named job immediately, bypassing its cron schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	job, ok := s.cfg.Jobs[name]
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	s.runJob(ctx, name, job)
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, name string, job config.JobDef) {
	slog.Info("scheduler: running job", "job", name, "task_type", job.TaskType)

	if job.TaskType == "poll_gitlab_issues" {
		s.pollGitLabIssues(ctx)
		return
	}

	var autoFeatureCfg config.AutoFeatureCreationConfig
	var guidancePending, guidanceTotal int
	if job.TaskType == "auto_feature_creation" {
		autoFeatureCfg = s.product.AutoFeatureCreation
		if !autoFeatureCfg.Enabled {
			slog.Info("scheduler: auto feature creation disabled, skipping", "job", name)
			return
		}
		pending, total, ok := guidanceProgress(autoFeatureCfg.GuidancePath)
		if !ok {
			slog.Info("scheduler: auto feature creation skipped, no open requirements", "job", name)
			return
		}
		guidancePending, guidanceTotal = pending, total
	}

	repos, err := s.store.ActiveRepos(ctx)
	if err != nil {
		slog.Error("scheduler: failed to list active repos", "job", name, "error", err)
		return
	}
	if len(repos) == 0 {
		repos = []models.Repo{{}} // global job, no repo context
	}

	for i := range repos {
		repo := &repos[i]
		if !s.jobEnabledForRepo(name, job, repo) {
			continue
		}
		if job.TaskType == "auto_feature_creation" && !s.autoFeatureRepoReady(ctx, repo, autoFeatureCfg) {
			continue
		}

		payload := map[string]any{
			"source":         "scheduler",
			"job_name":       name,
			"scheduled_time": time.Now().UTC().Format(time.RFC3339),
			"description":    job.Description,
		}
		if job.TaskType == "auto_feature_creation" {
			payload["auto_feature"] = map[string]any{
				"guidance_path":           autoFeatureCfg.GuidancePath,
				"max_new_issues_per_run":  autoFeatureCfg.MaxNewIssuesPerRun,
				"max_open_issues":         autoFeatureCfg.MaxOpenIssues,
				"label":                   autoFeatureCfg.Label,
				"pending_requirements":    guidancePending,
				"total_requirements":      guidanceTotal,
			}
		}

		var repoID *int64
		if repo.ID != 0 {
			repoID = &repo.ID
		}
		task, err := s.orch.CreateTask(ctx, repoID, job.TaskType, payload, scheduledTaskPriority, "scheduler", nil, false, nil)
		if err != nil {
			slog.Error("scheduler: failed to create task", "job", name, "repo_id", repo.ID, "error", err)
			continue
		}
		if task != nil {
			slog.Info("scheduler: created task", "job", name, "task_id", task.ID, "repo_id", repo.ID)
		}
	}
}

func (s *Scheduler) jobEnabledForRepo(name string, job config.JobDef, repo *models.Repo) bool {
	if repo == nil || len(repo.Settings) == 0 {
		return job.Enabled
	}
	var settings models.RepoSettings
	if err := json.Unmarshal(repo.Settings, &settings); err != nil {
		return job.Enabled
	}
	if override, ok := settings.JobOverrides[name]; ok {
		return override
	}
	return job.Enabled
}

// autoFeatureRepoReady checks the repo's open-issue cap via the forge
// client before letting auto_feature_creation fire for it. Grounded on
// _auto_feature_repo_ready, adapted from GITLAB_TOKEN env lookup to the
// forge.Registry credential resolution this pack uses instead.
func (s *Scheduler) autoFeatureRepoReady(ctx context.Context, repo *models.Repo, cfg config.AutoFeatureCreationConfig) bool {
	if repo.ID == 0 || repo.Provider != models.ProviderGitLab {
		return false
	}
	if s.forges == nil {
		slog.Warn("scheduler: no forge registry configured, skipping auto feature creation", "repo_id", repo.ID)
		return false
	}
	client, err := s.forges.ClientFor(repo)
	if err != nil {
		slog.Warn("scheduler: no forge client for repo, skipping auto feature creation", "repo_id", repo.ID, "error", err)
		return false
	}
	label := cfg.Label
	if label == "" {
		label = "auto-feature"
	}
	maxOpen := cfg.MaxOpenIssues
	if maxOpen == 0 {
		maxOpen = 6
	}
	issues, err := client.ListIssues(ctx, repo.ProjectRef, forge.ListIssuesOptions{
		State:   "opened",
		Labels:  []string{label},
		PerPage: maxOpen + 1,
	})
	if err != nil {
		slog.Warn("scheduler: failed to check open auto-feature issues", "repo_id", repo.ID, "error", err)
		return false
	}
	if len(issues) >= maxOpen {
		slog.Info("scheduler: auto feature creation skipped, open-issue cap reached", "repo_id", repo.ID, "open", len(issues), "cap", maxOpen)
		return false
	}
	return true
}

// pollGitLabIssues fetches issues for each active GitLab repo, skips
// ones already seen via the dedup ledger, emits triage_issue tasks for
// the rest, and advances the per-repo polling cursor. Grounded on
// scheduler.py's internal-job branch ("poll_gitlab_issues — fetch
// recent issues since settings.polling.last_polled_at, de-duplicate via
// Processed Events, emit triage_issue tasks, then update the cursor").
func (s *Scheduler) pollGitLabIssues(ctx context.Context) {
	repos, err := s.store.ActiveRepos(ctx)
	if err != nil {
		slog.Error("scheduler: poll_gitlab_issues: failed to list repos", "error", err)
		return
	}
	if s.forges == nil {
		return
	}
	for i := range repos {
		repo := &repos[i]
		if repo.Provider != models.ProviderGitLab {
			continue
		}
		s.pollRepo(ctx, repo)
	}
}

func (s *Scheduler) pollRepo(ctx context.Context, repo *models.Repo) {
	client, err := s.forges.ClientFor(repo)
	if err != nil {
		slog.Warn("scheduler: poll_gitlab_issues: no forge client", "repo_id", repo.ID, "error", err)
		return
	}

	var settings models.RepoSettings
	if len(repo.Settings) > 0 {
		if err := json.Unmarshal(repo.Settings, &settings); err != nil {
			slog.Warn("scheduler: poll_gitlab_issues: bad settings JSON", "repo_id", repo.ID, "error", err)
		}
	}

	issues, err := client.ListIssues(ctx, repo.ProjectRef, forge.ListIssuesOptions{State: "opened", PerPage: 50})
	if err != nil {
		slog.Warn("scheduler: poll_gitlab_issues: list issues failed", "repo_id", repo.ID, "error", err)
		return
	}

	newest := settings.Polling.LastPolledAt
	for _, issue := range issues {
		if !issue.UpdatedAt.After(settings.Polling.LastPolledAt) {
			continue
		}
		fresh, err := s.store.MarkEventProcessed(ctx, fmt.Sprintf("issue-%d", issue.ID), repo.ID, "poll")
		if err != nil || !fresh {
			continue
		}
		payload := map[string]any{
			"source": "scheduler",
			"issue": map[string]any{
				"iid":    issue.Number,
				"title":  issue.Title,
				"labels": issue.Labels,
			},
		}
		if _, err := s.orch.CreateTask(ctx, &repo.ID, "triage_issue", payload, scheduledTaskPriority, "scheduler", nil, false, nil); err != nil {
			slog.Warn("scheduler: poll_gitlab_issues: create task failed", "repo_id", repo.ID, "error", err)
		}
		if issue.UpdatedAt.After(newest) {
			newest = issue.UpdatedAt
		}
	}

	if newest.After(settings.Polling.LastPolledAt) {
		settings.Polling.LastPolledAt = newest
		if err := s.store.UpdateRepoSettings(ctx, repo.ID, settings); err != nil {
			slog.Warn("scheduler: poll_gitlab_issues: failed to advance cursor", "repo_id", repo.ID, "error", err)
		}
	}
}

var checklistLine = regexp.MustCompile(`^\s*[-*]\s+\[( |x|X)\]\s+.+`)

// guidanceProgress counts pending/total checklist items in the product
// guidance markdown file, per _get_guidance_progress. ok is false when
// the file is missing, empty, or has no pending items.
func guidanceProgress(path string) (pending, total int, ok bool) {
	if path == "" {
		return 0, 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		m := checklistLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		total++
		if !strings.EqualFold(m[1], "x") {
			pending++
		}
	}
	if total == 0 || pending == 0 {
		return 0, 0, false
	}
	return pending, total, true
}
