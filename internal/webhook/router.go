package webhook

import (
	"github.com/autodevhq/fleet-orchestrator/internal/config"
)

// priorityBoost mirrors _calculate_priority's base table: (event_type,
// action) -> boost applied on top of basePriority.
var priorityBoost = map[string]int{
	"pipeline:failed":    3,
	"merge_request:open": 1,
	"issue:open":         0,
}

const basePriority = 5

var (
	criticalLabels = map[string]bool{"critical": true, "urgent": true, "p0": true, "priority::critical": true}
	highLabels     = map[string]bool{"high": true, "p1": true, "priority::high": true}
	lowLabels      = map[string]bool{"low": true, "p3": true, "priority::low": true}
)

// Priority computes task priority from event type/action and label
// boosts, clamped to [1,10] per _calculate_priority.
func Priority(e Event) int {
	p := basePriority + priorityBoost[e.Key()]
	for _, l := range e.NormalizedLabels {
		switch {
		case criticalLabels[l]:
			p += 3
		case highLabels[l]:
			p += 2
		case lowLabels[l]:
			p--
		}
	}
	if p > 10 {
		return 10
	}
	if p < 1 {
		return 1
	}
	return p
}

// route looks up a RouteDef for event, falling back to the bare
// event-type entry when an action-qualified lookup misses. This
// fallback is intentional, not a bug: a wildcard route for
// "merge_request" still fires for actions the config never named.
func route(triggers map[string]*config.RouteDef, e Event) *config.RouteDef {
	if r, ok := triggers[e.Key()]; ok {
		return r
	}
	if e.Action != "" {
		if r, ok := triggers[e.EventType]; ok {
			return r
		}
	}
	return nil
}

// buildPayload assembles the task payload per _build_task_payload,
// folding in the event-specific sub-objects by event type.
func buildPayload(e Event, repoSlug string, autonomyMode string) map[string]any {
	payload := map[string]any{
		"source":     e.Provider + "_webhook",
		"event_type": e.EventType,
		"action":     e.Action,
		"repo_slug":  repoSlug,
		"timestamp":  e.ReceivedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if autonomyMode != "" {
		payload["repo_autonomy_mode"] = autonomyMode
	}

	attrs := objAttrs(e.Raw)
	project, _ := e.Raw["project"].(map[string]any)
	payload["project"] = map[string]any{
		"id":                  project["id"],
		"name":                project["name"],
		"path_with_namespace": project["path_with_namespace"],
		"web_url":             project["web_url"],
		"default_branch":      orDefault(str(project, "default_branch"), "main"),
	}

	switch e.EventType {
	case "issue":
		payload["issue"] = map[string]any{
			"iid":         attrs["iid"],
			"title":       attrs["title"],
			"description": attrs["description"],
			"state":       attrs["state"],
			"labels":      e.NormalizedLabels,
			"url":         attrs["url"],
		}
	case "merge_request":
		payload["merge_request"] = map[string]any{
			"iid":           attrs["iid"],
			"title":         attrs["title"],
			"description":   attrs["description"],
			"state":         attrs["state"],
			"source_branch": attrs["source_branch"],
			"target_branch": attrs["target_branch"],
			"labels":        e.NormalizedLabels,
			"url":           attrs["url"],
			"merge_status":  attrs["merge_status"],
		}
	case "note":
		user, _ := e.Raw["user"].(map[string]any)
		payload["note"] = map[string]any{
			"id":            attrs["id"],
			"body":          attrs["note"],
			"noteable_type": attrs["noteable_type"],
			"noteable_id":   attrs["noteable_id"],
			"author":        user["username"],
		}
		if issue, ok := e.Raw["issue"].(map[string]any); ok {
			payload["issue"] = map[string]any{"iid": issue["iid"], "title": issue["title"]}
		}
		if mr, ok := e.Raw["merge_request"].(map[string]any); ok {
			payload["merge_request"] = map[string]any{"iid": mr["iid"], "title": mr["title"]}
		}
	case "pipeline":
		webURL, _ := project["web_url"].(string)
		payload["pipeline"] = map[string]any{
			"id":       attrs["id"],
			"status":   attrs["status"],
			"ref":      attrs["ref"],
			"sha":      attrs["sha"],
			"duration": attrs["duration"],
			"url":      webURL,
		}
	case "push":
		commits, _ := e.Raw["commits"].([]any)
		if len(commits) > 10 {
			commits = commits[:10]
		}
		trimmed := make([]map[string]any, 0, len(commits))
		for _, c := range commits {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			author, _ := cm["author"].(map[string]any)
			trimmed = append(trimmed, map[string]any{
				"id":      cm["id"],
				"message": cm["message"],
				"author":  author["name"],
			})
		}
		payload["push"] = map[string]any{
			"ref":           e.Raw["ref"],
			"before":        e.Raw["before"],
			"after":         e.Raw["after"],
			"commits":       trimmed,
			"total_commits": e.Raw["total_commits_count"],
		}
	}

	return payload
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
