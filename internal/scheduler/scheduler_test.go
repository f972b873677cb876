package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/database"
	"github.com/autodevhq/fleet-orchestrator/internal/orchestrator"
	"github.com/autodevhq/fleet-orchestrator/internal/store"
	"github.com/autodevhq/fleet-orchestrator/models"
)

func newTestScheduler(t *testing.T, cfg config.SchedulingConfig, product config.ProductConfig) (*Scheduler, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scheduler-test.db")
	db, err := database.NewSQLite(config.DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("new sqlite db: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db)
	orch := orchestrator.New(st, orchestrator.Options{})
	return New(st, orch, nil, cfg, product), st
}

func TestToStandardCronRequiresFiveFields(t *testing.T) {
	if _, err := toStandardCron("*/5 * * * *"); err != nil {
		t.Fatalf("expected a valid 5-field expression to pass, got %v", err)
	}
	if _, err := toStandardCron("*/5 * * *"); err == nil {
		t.Fatalf("expected a 4-field expression to be rejected")
	}
}

func TestTriggerNowUnknownJobErrors(t *testing.T) {
	s, _ := newTestScheduler(t, config.SchedulingConfig{Jobs: map[string]config.JobDef{}}, config.ProductConfig{})
	if err := s.TriggerNow(context.Background(), "does_not_exist"); err == nil {
		t.Fatalf("expected an error for an unknown job name")
	}
}

func TestTriggerNowCreatesTaskPerActiveRepo(t *testing.T) {
	cfg := config.SchedulingConfig{Jobs: map[string]config.JobDef{
		"nightly_triage": {TaskType: "triage_backlog", Cron: "0 3 * * *", Enabled: true},
	}}
	s, st := newTestScheduler(t, cfg, config.ProductConfig{})
	if _, err := st.CreateRepo(context.Background(), &models.Repo{
		Name: "widgets", Provider: models.ProviderGitHub, ProjectRef: "acme/widgets", Slug: "acme-widgets",
	}); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}

	if err := s.TriggerNow(context.Background(), "nightly_triage"); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}

	claimed, err := st.ClaimTask(context.Background(), "pm-1", nil, []string{"triage_backlog"}, time.Hour)
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if claimed == nil {
		t.Fatalf("expected TriggerNow to have created a claimable triage_backlog task")
	}
}

func TestTriggerNowRespectsPerRepoJobOverride(t *testing.T) {
	cfg := config.SchedulingConfig{Jobs: map[string]config.JobDef{
		"nightly_triage": {TaskType: "triage_backlog", Cron: "0 3 * * *", Enabled: true},
	}}
	s, st := newTestScheduler(t, cfg, config.ProductConfig{})
	repo, err := st.CreateRepo(context.Background(), &models.Repo{
		Name: "widgets", Provider: models.ProviderGitHub, ProjectRef: "acme/widgets", Slug: "acme-widgets",
	})
	if err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	if err := st.UpdateRepoSettings(context.Background(), repo.ID, models.RepoSettings{
		JobOverrides: map[string]bool{"nightly_triage": false},
	}); err != nil {
		t.Fatalf("UpdateRepoSettings: %v", err)
	}

	if err := s.TriggerNow(context.Background(), "nightly_triage"); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}

	claimed, err := st.ClaimTask(context.Background(), "pm-1", nil, []string{"triage_backlog"}, time.Hour)
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected the repo-level override to suppress task creation for this repo, got %+v", claimed)
	}
}

func TestJobEnabledForRepoDefaultsToJobSetting(t *testing.T) {
	s := &Scheduler{}
	repo := &models.Repo{}
	if !s.jobEnabledForRepo("nightly_triage", config.JobDef{Enabled: true}, repo) {
		t.Fatalf("expected job-level enabled to apply with no repo settings")
	}
	if s.jobEnabledForRepo("nightly_triage", config.JobDef{Enabled: false}, repo) {
		t.Fatalf("expected job-level disabled to apply with no repo settings")
	}
}

func TestJobEnabledForRepoOverrideWins(t *testing.T) {
	s := &Scheduler{}
	settings := models.RepoSettings{JobOverrides: map[string]bool{"nightly_triage": false}}
	data := mustMarshal(t, settings)
	repo := &models.Repo{Settings: data}
	if s.jobEnabledForRepo("nightly_triage", config.JobDef{Enabled: true}, repo) {
		t.Fatalf("expected a repo override to win over a job-level enabled=true")
	}

	settings2 := models.RepoSettings{JobOverrides: map[string]bool{"other_job": true}}
	repo2 := &models.Repo{Settings: mustMarshal(t, settings2)}
	if !s.jobEnabledForRepo("nightly_triage", config.JobDef{Enabled: true}, repo2) {
		t.Fatalf("expected job-level setting to apply when no override names this job")
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestGuidanceProgressMissingPathIsNotOK(t *testing.T) {
	_, _, ok := guidanceProgress("")
	if ok {
		t.Fatalf("expected empty path to report not-ok")
	}
	_, _, ok = guidanceProgress(filepath.Join(t.TempDir(), "missing.md"))
	if ok {
		t.Fatalf("expected a missing file to report not-ok")
	}
}

func TestGuidanceProgressCountsChecklistItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guidance.md")
	content := "# Guidance\n" +
		"- [x] done item\n" +
		"- [ ] pending item one\n" +
		"* [ ] pending item two\n" +
		"not a checklist line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write guidance file: %v", err)
	}
	pending, total, ok := guidanceProgress(path)
	if !ok {
		t.Fatalf("expected ok with pending items present")
	}
	if total != 3 || pending != 2 {
		t.Fatalf("expected total=3 pending=2, got total=%d pending=%d", total, pending)
	}
}

func TestGuidanceProgressAllDoneIsNotOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guidance.md")
	content := "- [x] done one\n- [X] done two\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write guidance file: %v", err)
	}
	_, _, ok := guidanceProgress(path)
	if ok {
		t.Fatalf("expected no pending items to report not-ok")
	}
}

func TestAutoFeatureRepoReadyRequiresForgeRegistry(t *testing.T) {
	s := &Scheduler{}
	repo := &models.Repo{ID: 1, Provider: models.ProviderGitLab}
	if s.autoFeatureRepoReady(context.Background(), repo, config.AutoFeatureCreationConfig{}) {
		t.Fatalf("expected no forge registry to mean not ready")
	}
}

func TestAutoFeatureRepoReadyRejectsNonGitLab(t *testing.T) {
	s := &Scheduler{}
	repo := &models.Repo{ID: 1, Provider: models.ProviderGitHub}
	if s.autoFeatureRepoReady(context.Background(), repo, config.AutoFeatureCreationConfig{}) {
		t.Fatalf("expected a non-GitLab repo to never be auto-feature ready")
	}
}
