package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/orchestrator"
	"github.com/autodevhq/fleet-orchestrator/internal/ratelimit"
	"github.com/autodevhq/fleet-orchestrator/internal/store"
	"github.com/autodevhq/fleet-orchestrator/models"
)

// Options configures one Runner instance (one agent-type, one process).
type Options struct {
	AgentID  string
	AgentDef config.AgentDef
	Watcher  config.WatcherConfig
	Tokens   config.TokensConfig
	LLM      config.LLMConfig

	MaxConcurrentAgents int
	WorkingDir          string
	StatusDir           string

	// Redis backs the external enable-flag side channel. Nil disables
	// the gate entirely — a runner with no Redis configured is always
	// enabled, matching _is_agent_enabled's fail-open default.
	Redis *redis.Client
}

// runnerInternalState tracks everything the loop carries between
// iterations — the Go analogue of AgentRunner's WatcherState dataclass.
type runnerInternalState struct {
	totalSessions       int
	consecutiveFailures int
	dailyTokens         int
	dailyResetAt        time.Time

	currentTask    *models.Task
	taskStartTime  time.Time
	retryTask      *models.Task
	currentSession *SessionInfo

	rateLimited    bool
	rateLimitReset time.Time

	currentClone *CloneResult
}

// Runner is the supervision loop for one agent-type: a single worker at
// a time, the task queue itself providing all the concurrency this
// process needs.
type Runner struct {
	opts      Options
	store     store.Store
	orch      *orchestrator.Orchestrator
	rateLimit *ratelimit.Register
	reflector *Reflector
	cloner    *CloneManager

	taskTypes []string
	worker    *Worker
	state     runnerInternalState
}

// New constructs a Runner. st, orch, rl, and reflector are always
// injected by the caller (cmd/runner.go, cmd/gateway.go).
func New(st store.Store, orch *orchestrator.Orchestrator, rl *ratelimit.Register, reflector *Reflector, opts Options) *Runner {
	taskTypes := opts.AgentDef.TaskTypes
	if len(taskTypes) == 0 {
		taskTypes = models.AgentTaskTypes[opts.AgentID]
	}
	if opts.WorkingDir == "" {
		opts.WorkingDir = filepath.Join(os.TempDir(), "fleet-orchestrator", "projects")
	}
	if opts.StatusDir == "" {
		opts.StatusDir = filepath.Join(os.TempDir(), "fleet-orchestrator", "status")
	}
	return &Runner{
		opts:      opts,
		store:     st,
		orch:      orch,
		rateLimit: rl,
		reflector: reflector,
		cloner:    NewCloneManager(),
		taskTypes: taskTypes,
		state: runnerInternalState{
			dailyResetAt: dayStart(time.Now()),
		},
	}
}

// Run executes the supervision loop until ctx is cancelled. Mirrors
// AgentRunner.run's 8-step per-iteration cycle exactly, including the
// cleanup-on-shutdown tail (stop any live worker, mark offline).
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner: starting", "agent_id", r.opts.AgentID)
	r.setStatus(ctx, models.AgentIdle, nil)
	r.recoverClaimedTasks(ctx)

	for {
		if ctx.Err() != nil {
			break
		}
		if cont := r.iterate(ctx); !cont {
			break
		}
	}

	if r.worker != nil && r.worker.Alive() {
		r.worker.Stop(10 * time.Second)
	}
	r.setStatus(context.WithoutCancel(ctx), models.AgentStopped, nil)
	slog.Info("runner: stopped", "agent_id", r.opts.AgentID)
	return nil
}

// iterate runs one pass of the 8-step cycle. Returns false when the
// loop should stop (context cancelled mid-sleep).
func (r *Runner) iterate(ctx context.Context) bool {
	// 1. Gating.
	if !r.enabled(ctx) {
		r.setStatus(ctx, models.AgentDisabled, nil)
		return sleepCtx(ctx, 10*time.Second)
	}

	// 2. Rate-limit check.
	if flag, err := r.rateLimit.Get(); err == nil && flag != nil {
		provider := r.selectProvider()
		if provider == flag.Provider {
			r.setStatus(ctx, models.AgentRateLimited, nil)
			slog.Info("runner: provider rate limited, pausing", "agent_id", r.opts.AgentID, "provider", provider, "reset_time", flag.ResetTime)
			if !r.waitForReset(ctx, flag.ResetTime) {
				return false
			}
			return true
		}
		slog.Info("runner: provider rate limited, using fallback", "agent_id", r.opts.AgentID, "rate_limited_provider", flag.Provider, "fallback", provider)
	}

	// 3. Budget check.
	if !r.checkTokenBudget() {
		r.setStatus(ctx, models.AgentBudgetExceeded, nil)
		slog.Warn("runner: daily token budget exceeded, waiting for reset", "agent_id", r.opts.AgentID)
		return sleepCtx(ctx, time.Hour)
	}

	// 4. Mail drain: folded into the claim path — directive/human_directive
	// tasks assigned directly to this agent are always claimable
	// regardless of its normal task-type mapping (store.ClaimTask).

	// 5. Worker supervision.
	if r.worker == nil || !r.worker.Alive() {
		if r.worker != nil {
			r.finalizeWorker(ctx, r.worker.ExitCode())
		}

		if working := countWorkingPeers(r.opts.StatusDir, r.opts.AgentID); working >= r.maxConcurrentAgents() {
			r.setStatus(ctx, models.AgentWaiting, nil)
			slog.Info("runner: concurrency cap reached, waiting", "agent_id", r.opts.AgentID, "working", working, "cap", r.maxConcurrentAgents())
			return sleepCtx(ctx, 30*time.Second)
		}

		if delay := r.restartDelay(); delay > r.baseRestartDelay() {
			slog.Info("runner: waiting before restart (backoff)", "agent_id", r.opts.AgentID, "delay", delay)
			if !sleepCtx(ctx, delay) {
				return false
			}
		}

		throttle := r.sessionThrottleDelay()
		slog.Info("runner: session throttle", "agent_id", r.opts.AgentID, "delay", throttle)
		if !sleepCtx(ctx, throttle) {
			return false
		}

		task := r.nextTask(ctx)
		if task != nil {
			if !r.startSession(ctx, task) {
				slog.Error("runner: failed to start session, retrying", "agent_id", r.opts.AgentID)
				return sleepCtx(ctx, r.restartDelay())
			}
		} else {
			r.setStatus(ctx, models.AgentIdle, nil)
		}
	}

	// 6. Duration check.
	if r.worker != nil && r.worker.Alive() && !r.withinSessionDuration() {
		slog.Info("runner: restarting session, exceeded max duration", "agent_id", r.opts.AgentID)
		exitCode := r.worker.Stop(10 * time.Second)
		r.finalizeWorker(ctx, exitCode)
	}

	// 7. Status snapshot.
	r.setStatus(ctx, r.currentRunState(), nil)

	// 8. Sleep.
	interval := time.Duration(r.opts.Watcher.HealthCheckInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return sleepCtx(ctx, interval)
}

// nextTask returns the retry-slot task if one is queued (rate-limit
// fallback or post-restart recovery), else claims a fresh one.
func (r *Runner) nextTask(ctx context.Context) *models.Task {
	if r.state.retryTask != nil {
		t := r.state.retryTask
		r.state.retryTask = nil
		return t
	}
	task, err := r.orch.ClaimTask(ctx, r.opts.AgentID, nil, r.taskTypes)
	if err != nil {
		slog.Warn("runner: claim failed", "agent_id", r.opts.AgentID, "error", err)
		return nil
	}
	return task
}

func (r *Runner) recoverClaimedTasks(ctx context.Context) {
	if r.state.retryTask != nil || r.state.currentTask != nil {
		return
	}
	tasks, err := r.store.TasksAssignedTo(ctx, r.opts.AgentID)
	if err != nil {
		slog.Warn("runner: failed to recover claimed tasks", "agent_id", r.opts.AgentID, "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}
	recovered := tasks[0]
	r.state.retryTask = &recovered
	slog.Info("runner: recovered assigned task after restart", "agent_id", r.opts.AgentID, "task_id", recovered.ID, "type", recovered.Type)
	if len(tasks) > 1 {
		ids := make([]string, 0, len(tasks)-1)
		for _, extra := range tasks[1:] {
			ids = append(ids, extra.ID)
		}
		slog.Warn("runner: multiple assigned tasks detected", "agent_id", r.opts.AgentID, "extra_task_ids", ids)
	}
}

func (r *Runner) startSession(ctx context.Context, task *models.Task) bool {
	provider := r.selectProvider()
	model := r.resolveModel(provider)
	providerCfg := r.opts.LLM.Providers[provider]

	var outputPath string
	if r.opts.Watcher.OutputStoreDir != "" {
		outputPath = filepath.Join(r.opts.Watcher.OutputStoreDir, task.ID+".log")
	}

	workingDir := r.opts.WorkingDir
	if repoURL, branch, token, ok := cloneTargetFromPayload(task); ok {
		result, err := r.cloner.Clone(ctx, r.opts.WorkingDir, repoURL, token, branch)
		if err != nil {
			slog.Warn("runner: clone-for-context failed, falling back to shared working dir", "agent_id", r.opts.AgentID, "task_id", task.ID, "error", err)
		} else {
			workingDir = result.LocalPath
			r.state.currentClone = result
		}
	}

	w := NewWorker(WorkerConfig{
		AgentID:         r.opts.AgentID,
		Provider:        provider,
		ProviderCfg:     providerCfg,
		Model:           model,
		PromptPath:      r.opts.AgentDef.PromptFile,
		WorkingDir:      workingDir,
		TaskContext:     buildTaskContext(task),
		OutputPath:      outputPath,
		RingBufferChars: r.opts.Watcher.OutputStreamBufferChars,
	})

	sessionID, err := w.Start(ctx)
	if err != nil {
		slog.Error("runner: failed to start worker", "agent_id", r.opts.AgentID, "error", err)
		r.state.consecutiveFailures++
		if r.state.currentClone != nil {
			r.cloner.Cleanup(r.state.currentClone)
			r.state.currentClone = nil
		}
		return false
	}

	r.worker = w
	r.state.currentTask = task
	r.state.taskStartTime = time.Now().UTC()
	r.state.currentSession = &SessionInfo{ID: sessionID, Provider: provider, StartTime: r.state.taskStartTime}
	r.state.totalSessions++
	r.state.consecutiveFailures = 0

	taskID := task.ID
	r.setStatus(ctx, models.AgentRunning, &taskID)
	return true
}

// finalizeWorker runs the worker-exit handling: rate-limit detection,
// token-usage accounting, task completion or requeue, outcome
// recording, and a best-effort reflection post. Mirrors
// _handle_session_end.
func (r *Runner) finalizeWorker(ctx context.Context, exitCode int) {
	w := r.worker
	r.worker = nil
	if w == nil {
		return
	}
	output := w.Output()

	if r.state.currentClone != nil {
		r.cloner.Cleanup(r.state.currentClone)
		r.state.currentClone = nil
	}

	provider := "claude"
	if r.state.currentSession != nil {
		provider = r.state.currentSession.Provider
	}

	var rateLimited bool
	var resetTime time.Time
	if exitCode != 0 {
		resetTime, rateLimited = detectRateLimit(output, time.Now().UTC())
		if rateLimited {
			if err := r.rateLimit.Set(provider, resetTime, r.opts.AgentID); err != nil {
				slog.Warn("runner: failed to write rate-limit register", "agent_id", r.opts.AgentID, "error", err)
			}
		}
	}

	usage := parseTokenUsage(output)
	r.state.dailyTokens += usage.Total()

	if exitCode != 0 && !rateLimited {
		r.state.consecutiveFailures++
		slog.Warn("runner: session exited with error", "agent_id", r.opts.AgentID, "exit_code", exitCode)
	}
	r.state.currentSession = nil

	retryQueued := false
	if rateLimited && r.shouldFallback(provider) {
		retryQueued = true
		slog.Info("runner: rate limited, will retry task with fallback provider", "agent_id", r.opts.AgentID, "provider", provider)
	} else if rateLimited {
		if !r.waitForReset(ctx, resetTime) {
			return
		}
	}

	task := r.state.currentTask
	if task == nil {
		r.setStatus(ctx, models.AgentIdle, nil)
		return
	}
	taskStart := r.state.taskStartTime
	r.state.currentTask = nil
	r.state.taskStartTime = time.Time{}

	if retryQueued {
		r.state.retryTask = task
		r.setStatus(ctx, models.AgentIdle, nil)
		return
	}

	success := exitCode == 0
	summary := extractSummary(output, r.opts.Watcher.OutputSummaryChars)
	excerpt := outputExcerpt(output, r.opts.Watcher.OutputExcerptChars)

	result := map[string]any{
		"exit_code":        exitCode,
		"summary":          summary,
		"output_excerpt":   excerpt,
		"output_truncated": excerpt != "" && len(excerpt) < len(output),
		"output_chars":     len(output),
	}
	resultJSON, _ := json.Marshal(result)
	resultStr := string(resultJSON)

	var taskErr *string
	if !success {
		msg := fmt.Sprintf("session exited with code %d", exitCode)
		taskErr = &msg
	}
	if _, err := r.orch.CompleteTask(ctx, task.ID, r.opts.AgentID, &resultStr, taskErr); err != nil {
		slog.Warn("runner: failed to complete task", "agent_id", r.opts.AgentID, "task_id", task.ID, "error", err)
	}

	duration := time.Since(taskStart)
	outcome := "success"
	var errSummary *string
	if !success {
		outcome = "failure"
		errSummary = taskErr
	}
	ctxSummary := contextSummary(task)
	if err := r.orch.RecordOutcome(ctx, task.ID, r.opts.AgentID, task.Type, outcome, duration, errSummary, ctxSummary); err != nil {
		slog.Warn("runner: failed to record outcome", "agent_id", r.opts.AgentID, "task_id", task.ID, "error", err)
	}

	if r.reflector != nil && r.reflector.Configured() {
		reflectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err := r.reflector.Send(reflectCtx, reflectionInput{
			AgentID:       r.opts.AgentID,
			TaskID:        task.ID,
			TaskType:      task.Type,
			Success:       success,
			ExitCode:      exitCode,
			OutputExcerpt: excerpt,
		})
		cancel()
		if err != nil {
			slog.Debug("runner: reflection post failed, ignoring", "agent_id", r.opts.AgentID, "error", err)
		}
	}

	r.setStatus(ctx, models.AgentIdle, nil)
}

func outputExcerpt(output string, maxChars int) string {
	if output == "" {
		return ""
	}
	if maxChars <= 0 {
		maxChars = 4000
	}
	if len(output) <= maxChars {
		return output
	}
	return output[len(output)-maxChars:]
}

func contextSummary(t *models.Task) *string {
	var payload map[string]any
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return nil
	}
	instruction, _ := payload["instruction"].(string)
	if instruction == "" {
		return nil
	}
	if len(instruction) > 200 {
		instruction = instruction[:200]
	}
	return &instruction
}

// cloneTargetFromPayload looks for an opaque "repo_url" field in a
// task's payload (set by components that hand a worker a specific
// remote to check out, e.g. a PR-review or code-change task) and
// returns it along with optional "branch"/"repo_token" fields.
func cloneTargetFromPayload(t *models.Task) (repoURL, branch, token string, ok bool) {
	var payload map[string]any
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return "", "", "", false
	}
	repoURL, ok = payload["repo_url"].(string)
	if !ok || repoURL == "" {
		return "", "", "", false
	}
	branch, _ = payload["branch"].(string)
	token, _ = payload["repo_token"].(string)
	return repoURL, branch, token, true
}

func buildTaskContext(t *models.Task) string {
	var payload any
	_ = json.Unmarshal(t.Payload, &payload)
	pretty, _ := json.MarshalIndent(payload, "", "  ")
	createdBy := t.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}
	return fmt.Sprintf(`You have been assigned a task:

**Task ID**: %s
**Type**: %s
**Priority**: %d/10
**Created by**: %s

**Task Details**:
`+"```json\n%s\n```"+`

Complete this task efficiently. When done, your output should clearly indicate:
1. What was accomplished
2. Any assets created (files, URLs, etc.)
3. Recommended next steps
4. Any issues encountered
`, t.ID, t.Type, t.Priority, createdBy, string(pretty))
}

func (r *Runner) withinSessionDuration() bool {
	if r.state.taskStartTime.IsZero() {
		return true
	}
	max := time.Duration(r.opts.Watcher.MaxSessionDuration) * time.Second
	if max <= 0 {
		return true
	}
	return time.Since(r.state.taskStartTime) <= max
}

func (r *Runner) baseRestartDelay() time.Duration {
	base := time.Duration(r.opts.Watcher.RestartDelay) * time.Second
	if base <= 0 {
		base = 10 * time.Second
	}
	return base
}

// restartDelay applies exponential backoff on consecutive failures:
// base*2^n, clamped to 300s.
func (r *Runner) restartDelay() time.Duration {
	base := r.baseRestartDelay()
	if r.state.consecutiveFailures <= 0 {
		return base
	}
	mult := math.Pow(2, float64(r.state.consecutiveFailures))
	d := time.Duration(float64(base) * mult)
	max := 300 * time.Second
	if d > max {
		d = max
	}
	return d
}

func (r *Runner) sessionThrottleDelay() time.Duration {
	min := r.opts.Watcher.SessionDelayMin
	max := r.opts.Watcher.SessionDelayMax
	if min <= 0 {
		min = 30
	}
	if max <= 0 {
		max = 60
	}
	if max < min {
		max = min
	}
	n := min
	if max > min {
		n = min + rand.IntN(max-min+1)
	}
	return time.Duration(n) * time.Second
}

func (r *Runner) maxConcurrentAgents() int {
	if r.opts.MaxConcurrentAgents <= 0 {
		return 10
	}
	return r.opts.MaxConcurrentAgents
}

func (r *Runner) checkTokenBudget() bool {
	now := time.Now().UTC()
	if dayStart(now).After(r.state.dailyResetAt) {
		slog.Info("runner: resetting daily token counter", "agent_id", r.opts.AgentID)
		r.state.dailyTokens = 0
		r.state.dailyResetAt = dayStart(now)
	}

	budget := r.opts.Tokens.DailyBudget
	if budget == 0 {
		return true // 0 == unlimited
	}
	ratio := float64(r.state.dailyTokens) / float64(budget)
	if ratio >= 1.0 {
		return false
	}
	if threshold := r.opts.Tokens.WarningThreshold; threshold > 0 && ratio >= threshold {
		slog.Warn("runner: token usage nearing daily budget", "agent_id", r.opts.AgentID, "ratio", ratio)
	}
	return true
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (r *Runner) manualOverrideProvider() string {
	envName := r.opts.LLM.ManualOverrideEnv
	if envName == "" {
		envName = "SWARM_LLM_PROVIDER"
	}
	return strings.ToLower(strings.TrimSpace(os.Getenv(envName)))
}

// selectProvider applies the manual override, then per-agent override,
// then rate-limit fallback, per _select_provider.
func (r *Runner) selectProvider() string {
	if v := r.manualOverrideProvider(); v != "" {
		return v
	}
	if r.opts.AgentDef.Provider != "" {
		return strings.ToLower(r.opts.AgentDef.Provider)
	}
	def := r.opts.LLM.DefaultProvider
	if def == "" {
		def = "claude"
	}
	if flag, err := r.rateLimit.Get(); err == nil && flag != nil && r.shouldFallback(flag.Provider) {
		if fb := r.opts.LLM.FallbackProvider; fb != "" {
			return fb
		}
	}
	return def
}

func (r *Runner) shouldFallback(provider string) bool {
	if !r.opts.LLM.AutoFallbackOnRateLimit {
		return false
	}
	def := r.opts.LLM.DefaultProvider
	if def == "" {
		def = "claude"
	}
	return r.opts.LLM.FallbackProvider != "" && provider == def
}

// resolveModel applies a provider's model_map when present: an empty
// map means "never pass a model flag" (e.g. Codex via a ChatGPT
// subscription); a populated map remaps the agent's configured model
// name; absence of the key at all passes the model through unchanged.
func (r *Runner) resolveModel(provider string) string {
	model := r.opts.AgentDef.Model
	pc := r.opts.LLM.Providers[provider]
	if pc.ModelMap != nil {
		if len(pc.ModelMap) == 0 {
			return ""
		}
		if mapped, ok := pc.ModelMap[model]; ok {
			return mapped
		}
	}
	return model
}

func (r *Runner) enabled(ctx context.Context) bool {
	if r.opts.Redis == nil {
		return true
	}
	val, err := r.opts.Redis.Get(ctx, fmt.Sprintf("agent:%s:enabled", r.opts.AgentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true
		}
		slog.Warn("runner: redis enable-flag check failed, defaulting to enabled", "agent_id", r.opts.AgentID, "error", err)
		return true
	}
	return val == "1"
}

// waitForReset blocks (in <=60s increments, responsive to ctx) until
// reset has passed. Returns false if ctx was cancelled first.
func (r *Runner) waitForReset(ctx context.Context, reset time.Time) bool {
	r.state.rateLimited = true
	r.state.rateLimitReset = reset
	r.setStatus(ctx, models.AgentRateLimited, nil)

	for {
		remaining := time.Until(reset)
		if remaining <= 0 {
			break
		}
		step := remaining
		if step > 60*time.Second {
			step = 60 * time.Second
		}
		r.setStatus(ctx, models.AgentRateLimited, nil)
		if !sleepCtx(ctx, step) {
			return false
		}
	}

	r.state.rateLimited = false
	r.state.rateLimitReset = time.Time{}
	if err := r.rateLimit.Clear(); err != nil {
		slog.Warn("runner: failed to clear rate-limit register", "agent_id", r.opts.AgentID, "error", err)
	}
	r.setStatus(ctx, models.AgentIdle, nil)
	return true
}

func (r *Runner) currentRunState() models.AgentRunnerState {
	if r.state.rateLimited {
		return models.AgentRateLimited
	}
	if r.worker != nil && r.worker.Alive() {
		return models.AgentRunning
	}
	return models.AgentIdle
}

// setStatus updates both the store-backed AgentStatus row (fleet-wide
// view) and the local status file (peer concurrency-cap scanning).
func (r *Runner) setStatus(ctx context.Context, state models.AgentRunnerState, currentTaskID *string) {
	if currentTaskID == nil && r.state.currentTask != nil {
		id := r.state.currentTask.ID
		currentTaskID = &id
	}

	st := &models.AgentStatus{
		AgentID:       r.opts.AgentID,
		Status:        state,
		CurrentTaskID: currentTaskID,
		LastHeartbeat: time.Now().UTC(),
	}
	if err := r.store.UpsertAgentStatus(ctx, st); err != nil {
		slog.Warn("runner: failed to update agent status", "agent_id", r.opts.AgentID, "error", err)
	}

	status := Status{
		AgentID:             r.opts.AgentID,
		AgentName:           r.opts.AgentDef.Name,
		IsRunning:           r.worker != nil && r.worker.Alive(),
		State:               string(state),
		CurrentSession:      r.state.currentSession,
		RateLimited:         r.state.rateLimited,
		TotalSessions:       r.state.totalSessions,
		ConsecutiveFailures: r.state.consecutiveFailures,
		UpdatedAt:           time.Now().UTC(),
	}
	if r.state.rateLimited && !r.state.rateLimitReset.IsZero() {
		status.RateLimitWaitSeconds = math.Max(0, time.Until(r.state.rateLimitReset).Seconds())
	}
	if currentTaskID != nil && r.state.currentTask != nil {
		status.CurrentTask = &TaskInfo{ID: r.state.currentTask.ID, Type: r.state.currentTask.Type}
	}
	if err := writeStatus(r.opts.StatusDir, status); err != nil {
		slog.Warn("runner: failed to write status file", "agent_id", r.opts.AgentID, "error", err)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes
// first. Returns false when ctx was the reason it returned.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
