package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
	"github.com/autodevhq/fleet-orchestrator/internal/orchestrator"
	"github.com/autodevhq/fleet-orchestrator/internal/store"
	"github.com/autodevhq/fleet-orchestrator/models"
)

// Handler serves inbound forge webhooks and turns routed events into
// orchestrator tasks. Grounded on WebhookHandler.handle_webhook: it
// resolves the repo from payload metadata, verifies the signature
// before any further processing, dedupes on (event_id, repo, action),
// then routes via the config-driven trigger table.
type Handler struct {
	store        store.Store
	orch         *orchestrator.Orchestrator
	triggers     map[string]*config.RouteDef
	globalSecret string
}

// New builds a Handler. globalSecret is the env-wide fallback signature
// secret (config.GatewayConfig.WebhookSecret), used when a repo has no
// per-repo secret of its own.
func New(st store.Store, orch *orchestrator.Orchestrator, triggers map[string]*config.RouteDef, globalSecret string) *Handler {
	return &Handler{store: st, orch: orch, triggers: triggers, globalSecret: globalSecret}
}

// Register mounts the webhook routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/webhook/{provider}", h.serveHTTP).Methods(http.MethodPost)
	r.HandleFunc("/webhook/{provider}/{repo_id}", h.serveHTTP).Methods(http.MethodPost)
	r.HandleFunc("/webhook/health", h.health).Methods(http.MethodGet)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := mux.Vars(r)["provider"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	var event Event
	switch provider {
	case "gitlab":
		event = ParseGitLabEvent(r.Header.Get("X-Gitlab-Event"), parsed)
	default:
		http.Error(w, "unsupported provider", http.StatusBadRequest)
		return
	}

	repo, _ := h.store.RepoByProjectRef(ctx, models.Provider(provider), event.RepoProjectRef)

	secret := h.secretFor(ctx, repo)
	token := r.Header.Get("X-Gitlab-Token")
	if !verifyToken(token, secret) {
		slog.Warn("webhook: rejected invalid signature", "provider", provider, "project", event.RepoProjectRef)
		http.Error(w, "invalid webhook token", http.StatusUnauthorized)
		return
	}

	var repoID int64
	if repo != nil {
		repoID = repo.ID
		event.AutonomyMode = string(repo.AutonomyMode)
	}

	if event.ExternalID != "" {
		fresh, err := h.store.MarkEventProcessed(ctx, event.ExternalID, repoID, event.Action)
		if err != nil {
			slog.Warn("webhook: dedup check failed", "error", err)
		} else if !fresh {
			writeJSON(w, map[string]any{"status": "duplicate", "message": "event already processed"})
			return
		}
	}

	result := h.routeEvent(ctx, event, repo)
	if len(result) == 0 {
		writeJSON(w, map[string]any{
			"status":  "ignored",
			"message": "event " + event.Key() + " not routed",
		})
		return
	}

	taskIDs := make([]string, 0, len(result))
	for _, t := range result {
		taskIDs = append(taskIDs, t.ID)
	}
	writeJSON(w, map[string]any{
		"status":   "accepted",
		"task_ids": taskIDs,
	})
}

// routeEvent mirrors route_event: single or parallel task creation per
// the matched RouteDef, condition-gated, priority-computed.
func (h *Handler) routeEvent(ctx context.Context, e Event, repo *models.Repo) []*models.Task {
	def := route(h.triggers, e)
	if def == nil {
		return nil
	}

	if def.Condition != "" && !EvaluateCondition(def.Condition, e) {
		return nil
	}

	var repoID *int64
	var slug string
	if repo != nil {
		repoID = &repo.ID
		slug = repo.Slug
	}
	payload := buildPayload(e, slug, e.AutonomyMode)
	priority := Priority(e)

	routes := def.Parallel
	if len(routes) == 0 {
		routes = []config.RouteDef{*def}
	}

	var created []*models.Task
	for _, route := range routes {
		if route.Condition != "" && !EvaluateCondition(route.Condition, e) {
			continue
		}
		task, err := h.orch.CreateTask(ctx, repoID, route.TaskType, payload, priority, "gitlab_webhook", nil, false, nil)
		if err != nil {
			slog.Warn("webhook: create task failed", "task_type", route.TaskType, "error", err)
			continue
		}
		if task == nil {
			continue // deduplicated as a pending/claimed duplicate
		}
		created = append(created, task)
	}
	return created
}

// secretFor resolves the signature secret: env var first, then
// per-repo settings, then the configured global fallback — per
// get_webhook_secret (SSM lookup dropped: no AWS SDK is wired into this
// pack, and config-driven secrets cover the same need).
func (h *Handler) secretFor(ctx context.Context, repo *models.Repo) string {
	if v := os.Getenv("GITLAB_WEBHOOK_SECRET"); v != "" {
		return v
	}
	if repo != nil && len(repo.Settings) > 0 {
		var settings models.RepoSettings
		if err := json.Unmarshal(repo.Settings, &settings); err == nil && settings.WebhookSecret != "" {
			return settings.WebhookSecret
		}
	}
	return h.globalSecret
}

func verifyToken(token, secret string) bool {
	if secret == "" {
		slog.Warn("webhook: no secret configured, rejecting for security")
		return false
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func writeJSON(w http.ResponseWriter, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
