package webhook

import (
	"testing"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
)

func TestPriorityAppliesBaseAndBoost(t *testing.T) {
	e := Event{EventType: "pipeline", Action: "failed"}
	if got := Priority(e); got != basePriority+3 {
		t.Fatalf("expected boosted priority %d, got %d", basePriority+3, got)
	}
}

func TestPriorityLabelBoostsStack(t *testing.T) {
	e := Event{EventType: "issue", Action: "open", NormalizedLabels: []string{"critical"}}
	if got := Priority(e); got != basePriority+3 {
		t.Fatalf("expected critical label boost, got %d", got)
	}
}

func TestPriorityClampsToRange(t *testing.T) {
	e := Event{EventType: "pipeline", Action: "failed", NormalizedLabels: []string{"critical", "critical", "critical", "critical"}}
	if got := Priority(e); got != 10 {
		t.Fatalf("expected clamp to 10, got %d", got)
	}

	low := Event{EventType: "issue", NormalizedLabels: []string{"low", "low", "low", "low", "low", "low"}}
	if got := Priority(low); got != 1 {
		t.Fatalf("expected clamp to 1, got %d", got)
	}
}

func TestRouteFallsBackToBareEventType(t *testing.T) {
	triggers := map[string]*config.RouteDef{
		"merge_request": {TaskType: "review_mr"},
	}
	e := Event{EventType: "merge_request", Action: "approved"}
	r := route(triggers, e)
	if r == nil || r.TaskType != "review_mr" {
		t.Fatalf("expected fallback to the bare event-type route, got %+v", r)
	}
}

func TestRoutePrefersActionQualifiedEntry(t *testing.T) {
	triggers := map[string]*config.RouteDef{
		"merge_request":         {TaskType: "generic_mr"},
		"merge_request:open":    {TaskType: "triage_new_mr"},
	}
	e := Event{EventType: "merge_request", Action: "open"}
	r := route(triggers, e)
	if r == nil || r.TaskType != "triage_new_mr" {
		t.Fatalf("expected action-qualified route preferred, got %+v", r)
	}
}

func TestRouteReturnsNilWhenUnmatched(t *testing.T) {
	triggers := map[string]*config.RouteDef{"issue:open": {TaskType: "triage_issue"}}
	e := Event{EventType: "pipeline", Action: "success"}
	if r := route(triggers, e); r != nil {
		t.Fatalf("expected no route for an unmatched event, got %+v", r)
	}
}

func TestBuildPayloadIssueIncludesIssueSubobject(t *testing.T) {
	e := Event{
		EventType:        "issue",
		NormalizedLabels: []string{"bug"},
		Raw: map[string]any{
			"object_attributes": map[string]any{"iid": float64(3), "title": "broken", "state": "opened"},
			"project":           map[string]any{"path_with_namespace": "acme/widgets"},
		},
	}
	payload := buildPayload(e, "acme-widgets", "guided")
	issue, ok := payload["issue"].(map[string]any)
	if !ok {
		t.Fatalf("expected an issue sub-object, got %+v", payload)
	}
	if issue["title"] != "broken" {
		t.Fatalf("unexpected issue title: %v", issue["title"])
	}
	if payload["repo_autonomy_mode"] != "guided" {
		t.Fatalf("expected autonomy mode carried through, got %v", payload["repo_autonomy_mode"])
	}
	project := payload["project"].(map[string]any)
	if project["default_branch"] != "main" {
		t.Fatalf("expected default_branch fallback to main, got %v", project["default_branch"])
	}
}

func TestBuildPayloadPushTrimsCommitsToTen(t *testing.T) {
	commits := make([]any, 15)
	for i := range commits {
		commits[i] = map[string]any{"id": i, "message": "m", "author": map[string]any{"name": "dev"}}
	}
	e := Event{EventType: "push", Raw: map[string]any{"commits": commits, "ref": "refs/heads/main"}}
	payload := buildPayload(e, "acme-widgets", "")
	push := payload["push"].(map[string]any)
	trimmed := push["commits"].([]map[string]any)
	if len(trimmed) != 10 {
		t.Fatalf("expected commits trimmed to 10, got %d", len(trimmed))
	}
}
