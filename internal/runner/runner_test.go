package runner

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/ratelimit"
	"github.com/autodevhq/fleet-orchestrator/models"
)

func newTestRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	rl := ratelimit.New(filepath.Join(t.TempDir(), "ratelimit.json"))
	return &Runner{
		opts:      opts,
		rateLimit: rl,
		cloner:    NewCloneManager(),
		state:     runnerInternalState{dailyResetAt: dayStart(time.Now())},
	}
}

func TestBaseRestartDelayDefaultsWhenUnset(t *testing.T) {
	r := newTestRunner(t, Options{})
	if got := r.baseRestartDelay(); got != 10*time.Second {
		t.Fatalf("expected default 10s, got %s", got)
	}
	r2 := newTestRunner(t, Options{Watcher: config.WatcherConfig{RestartDelay: 5}})
	if got := r2.baseRestartDelay(); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}

func TestRestartDelayExponentialBackoffClampedAt300s(t *testing.T) {
	r := newTestRunner(t, Options{Watcher: config.WatcherConfig{RestartDelay: 10}})

	r.state.consecutiveFailures = 0
	if got := r.restartDelay(); got != 10*time.Second {
		t.Fatalf("expected base delay with no failures, got %s", got)
	}

	r.state.consecutiveFailures = 1
	if got := r.restartDelay(); got != 20*time.Second {
		t.Fatalf("expected 20s after 1 failure, got %s", got)
	}

	r.state.consecutiveFailures = 2
	if got := r.restartDelay(); got != 40*time.Second {
		t.Fatalf("expected 40s after 2 failures, got %s", got)
	}

	r.state.consecutiveFailures = 10
	if got := r.restartDelay(); got != 300*time.Second {
		t.Fatalf("expected clamp at 300s, got %s", got)
	}
}

func TestSessionThrottleDelayWithinConfiguredRange(t *testing.T) {
	r := newTestRunner(t, Options{Watcher: config.WatcherConfig{SessionDelayMin: 5, SessionDelayMax: 10}})
	for i := 0; i < 50; i++ {
		d := r.sessionThrottleDelay()
		if d < 5*time.Second || d > 10*time.Second {
			t.Fatalf("expected delay in [5s,10s], got %s", d)
		}
	}
}

func TestSessionThrottleDelayDefaultsWhenUnset(t *testing.T) {
	r := newTestRunner(t, Options{})
	d := r.sessionThrottleDelay()
	if d < 30*time.Second || d > 60*time.Second {
		t.Fatalf("expected default [30s,60s] range, got %s", d)
	}
}

func TestSessionThrottleDelayMaxBelowMinClampsToMin(t *testing.T) {
	r := newTestRunner(t, Options{Watcher: config.WatcherConfig{SessionDelayMin: 20, SessionDelayMax: 5}})
	if got := r.sessionThrottleDelay(); got != 20*time.Second {
		t.Fatalf("expected clamp to min 20s, got %s", got)
	}
}

func TestMaxConcurrentAgentsDefault(t *testing.T) {
	r := newTestRunner(t, Options{})
	if got := r.maxConcurrentAgents(); got != 10 {
		t.Fatalf("expected default 10, got %d", got)
	}
	r2 := newTestRunner(t, Options{MaxConcurrentAgents: 3})
	if got := r2.maxConcurrentAgents(); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestCheckTokenBudgetUnlimitedWhenZero(t *testing.T) {
	r := newTestRunner(t, Options{Tokens: config.TokensConfig{DailyBudget: 0}})
	r.state.dailyTokens = 1_000_000
	if !r.checkTokenBudget() {
		t.Fatalf("expected unlimited budget to always pass")
	}
}

func TestCheckTokenBudgetExceeded(t *testing.T) {
	r := newTestRunner(t, Options{Tokens: config.TokensConfig{DailyBudget: 100}})
	r.state.dailyTokens = 150
	if r.checkTokenBudget() {
		t.Fatalf("expected budget exceeded to fail")
	}
}

func TestCheckTokenBudgetResetsOnNewUTCDay(t *testing.T) {
	r := newTestRunner(t, Options{Tokens: config.TokensConfig{DailyBudget: 100}})
	r.state.dailyTokens = 90
	r.state.dailyResetAt = dayStart(time.Now().UTC().AddDate(0, 0, -1))
	if !r.checkTokenBudget() {
		t.Fatalf("expected reset day to clear budget and pass")
	}
	if r.state.dailyTokens != 0 {
		t.Fatalf("expected dailyTokens reset to 0, got %d", r.state.dailyTokens)
	}
}

func TestSelectProviderDefaultsToClaude(t *testing.T) {
	r := newTestRunner(t, Options{})
	if got := r.selectProvider(); got != "claude" {
		t.Fatalf("expected claude default, got %q", got)
	}
}

func TestSelectProviderPrefersAgentOverride(t *testing.T) {
	r := newTestRunner(t, Options{AgentDef: config.AgentDef{Provider: "Codex"}})
	if got := r.selectProvider(); got != "codex" {
		t.Fatalf("expected lowercased agent override, got %q", got)
	}
}

func TestSelectProviderUsesLLMDefault(t *testing.T) {
	r := newTestRunner(t, Options{LLM: config.LLMConfig{DefaultProvider: "gemini"}})
	if got := r.selectProvider(); got != "gemini" {
		t.Fatalf("expected gemini default, got %q", got)
	}
}

func TestSelectProviderFallsBackWhenRateLimited(t *testing.T) {
	r := newTestRunner(t, Options{LLM: config.LLMConfig{
		DefaultProvider:         "claude",
		FallbackProvider:        "codex",
		AutoFallbackOnRateLimit: true,
	}})
	if err := r.rateLimit.Set("claude", time.Now().Add(time.Hour), "test"); err != nil {
		t.Fatalf("seeding rate limit: %v", err)
	}
	if got := r.selectProvider(); got != "codex" {
		t.Fatalf("expected fallback to codex, got %q", got)
	}
}

func TestShouldFallback(t *testing.T) {
	r := newTestRunner(t, Options{LLM: config.LLMConfig{
		DefaultProvider:         "claude",
		FallbackProvider:        "codex",
		AutoFallbackOnRateLimit: true,
	}})
	if !r.shouldFallback("claude") {
		t.Fatalf("expected fallback for default provider when auto-fallback enabled")
	}
	if r.shouldFallback("codex") {
		t.Fatalf("expected no fallback for a non-default provider")
	}

	r2 := newTestRunner(t, Options{LLM: config.LLMConfig{DefaultProvider: "claude", FallbackProvider: "codex"}})
	if r2.shouldFallback("claude") {
		t.Fatalf("expected no fallback when auto-fallback disabled")
	}
}

func TestResolveModelPassesThroughWithoutModelMap(t *testing.T) {
	r := newTestRunner(t, Options{AgentDef: config.AgentDef{Model: "claude-opus-4"}})
	if got := r.resolveModel("claude"); got != "claude-opus-4" {
		t.Fatalf("expected model passed through, got %q", got)
	}
}

func TestResolveModelEmptyMapMeansNoModelFlag(t *testing.T) {
	r := newTestRunner(t, Options{
		AgentDef: config.AgentDef{Model: "gpt-5"},
		LLM:      config.LLMConfig{Providers: map[string]config.ProviderConfig{"codex": {ModelMap: map[string]string{}}}},
	})
	if got := r.resolveModel("codex"); got != "" {
		t.Fatalf("expected empty model map to suppress model flag, got %q", got)
	}
}

func TestResolveModelRemapsWhenPresent(t *testing.T) {
	r := newTestRunner(t, Options{
		AgentDef: config.AgentDef{Model: "opus"},
		LLM: config.LLMConfig{Providers: map[string]config.ProviderConfig{
			"claude": {ModelMap: map[string]string{"opus": "claude-opus-4-20250514"}},
		}},
	})
	if got := r.resolveModel("claude"); got != "claude-opus-4-20250514" {
		t.Fatalf("expected remapped model, got %q", got)
	}
}

func TestWithinSessionDurationNoLimitConfigured(t *testing.T) {
	r := newTestRunner(t, Options{})
	r.state.taskStartTime = time.Now().Add(-time.Hour)
	if !r.withinSessionDuration() {
		t.Fatalf("expected no limit to always be within duration")
	}
}

func TestWithinSessionDurationExceeded(t *testing.T) {
	r := newTestRunner(t, Options{Watcher: config.WatcherConfig{MaxSessionDuration: 60}})
	r.state.taskStartTime = time.Now().Add(-2 * time.Minute)
	if r.withinSessionDuration() {
		t.Fatalf("expected session duration exceeded")
	}
}

func TestWithinSessionDurationNoTaskInFlight(t *testing.T) {
	r := newTestRunner(t, Options{Watcher: config.WatcherConfig{MaxSessionDuration: 60}})
	if !r.withinSessionDuration() {
		t.Fatalf("expected zero task start time to report within duration")
	}
}

func TestDayStartTruncatesToUTCMidnight(t *testing.T) {
	in := time.Date(2026, 7, 29, 15, 42, 3, 0, time.UTC)
	got := dayStart(in)
	want := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestOutputExcerptTailTruncation(t *testing.T) {
	if got := outputExcerpt("", 10); got != "" {
		t.Fatalf("expected empty excerpt for empty output, got %q", got)
	}
	if got := outputExcerpt("short", 10); got != "short" {
		t.Fatalf("expected short output unchanged, got %q", got)
	}
	long := "0123456789abcdefghij"
	if got := outputExcerpt(long, 5); got != "fghij" {
		t.Fatalf("expected tail excerpt, got %q", got)
	}
}

func TestContextSummaryExtractsInstructionTruncated(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"instruction": "do the thing"})
	task := &models.Task{Payload: payload}
	got := contextSummary(task)
	if got == nil || *got != "do the thing" {
		t.Fatalf("expected instruction extracted, got %v", got)
	}
}

func TestContextSummaryNoInstructionReturnsNil(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"other": "field"})
	task := &models.Task{Payload: payload}
	if got := contextSummary(task); got != nil {
		t.Fatalf("expected nil summary, got %v", *got)
	}
}

func TestContextSummaryMalformedPayloadReturnsNil(t *testing.T) {
	task := &models.Task{Payload: []byte("not json")}
	if got := contextSummary(task); got != nil {
		t.Fatalf("expected nil summary for malformed payload, got %v", *got)
	}
}

func TestCloneTargetFromPayloadExtractsFields(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{
		"repo_url":   "https://github.com/acme/widgets.git",
		"branch":     "feature/x",
		"repo_token": "tok-123",
	})
	task := &models.Task{Payload: payload}
	repoURL, branch, token, ok := cloneTargetFromPayload(task)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if repoURL != "https://github.com/acme/widgets.git" || branch != "feature/x" || token != "tok-123" {
		t.Fatalf("unexpected extraction: url=%q branch=%q token=%q", repoURL, branch, token)
	}
}

func TestCloneTargetFromPayloadAbsentRepoURL(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"other": "field"})
	task := &models.Task{Payload: payload}
	if _, _, _, ok := cloneTargetFromPayload(task); ok {
		t.Fatalf("expected ok=false without repo_url")
	}
}

func TestBuildTaskContextIncludesTaskFields(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"instruction": "fix the bug"})
	task := &models.Task{ID: "task-7", Type: "fix_bug", Priority: 5, CreatedBy: "webhook", Payload: payload}
	got := buildTaskContext(task)
	for _, want := range []string{"task-7", "fix_bug", "5/10", "webhook", "fix the bug"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected task context to contain %q, got:\n%s", want, got)
		}
	}
}

func TestBuildTaskContextDefaultsCreatedByToSystem(t *testing.T) {
	task := &models.Task{ID: "task-8", Type: "triage", Payload: []byte("{}")}
	got := buildTaskContext(task)
	if !strings.Contains(got, "system") {
		t.Fatalf("expected default created_by of system, got:\n%s", got)
	}
}
