// Package webhook turns inbound GitLab webhook deliveries into
// orchestrator tasks via a gorilla/mux handler. Deliveries for any other
// provider are rejected as unsupported.
package webhook

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// Event is a parsed webhook delivery, forge-agnostic once parsed.
// NormalizedLabels folds the several label shapes the raw payload can
// carry (top-level "labels", object_attributes.labels) into one slice
// at parse time — downstream condition evaluation and priority
// boosting read only this field, never the raw payload's label shape.
type Event struct {
	Provider        string
	EventType       string // "issue" | "merge_request" | "note" | "pipeline" | "push"
	Action          string
	RepoProjectRef  string
	ExternalID      string // dedup key: object_attributes.id, or push's "after" SHA
	NormalizedLabels []string
	AutonomyMode    string
	Raw             map[string]any
	ReceivedAt      time.Time
}

// Key returns the routing lookup key, e.g. "issue:open" or "push".
func (e Event) Key() string {
	if e.Action == "" {
		return e.EventType
	}
	return e.EventType + ":" + e.Action
}

func objAttrs(raw map[string]any) map[string]any {
	if m, ok := raw["object_attributes"].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// ParseGitLabEvent builds an Event from a GitLab webhook body and its
// X-Gitlab-Event header, per parse_event.
func ParseGitLabEvent(eventHeader string, body map[string]any) Event {
	eventType := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(eventHeader), " Hook"))
	eventType = strings.ReplaceAll(eventType, " hook", "")
	eventType = strings.ReplaceAll(eventType, " ", "_")

	attrs := objAttrs(body)
	var action string
	switch eventType {
	case "issue", "merge_request":
		action = str(attrs, "action")
	case "note":
		action = strings.ToLower(str(attrs, "noteable_type"))
	case "pipeline":
		action = str(attrs, "status")
	}

	project, _ := body["project"].(map[string]any)
	projectRef := str(project, "path_with_namespace")

	externalID := extractExternalID(eventType, attrs, body)

	return Event{
		Provider:         "gitlab",
		EventType:        eventType,
		Action:           action,
		RepoProjectRef:   projectRef,
		ExternalID:       externalID,
		NormalizedLabels: normalizeLabels(body, attrs),
		Raw:              body,
		ReceivedAt:       time.Now(),
	}
}

func extractExternalID(eventType string, attrs, body map[string]any) string {
	switch eventType {
	case "push":
		if s, ok := body["after"].(string); ok {
			return s
		}
	default:
		switch v := attrs["id"].(type) {
		case string:
			return v
		case float64:
			return jsonNumber(v)
		}
	}
	return ""
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func normalizeLabels(body, attrs map[string]any) []string {
	var raw []any
	if v, ok := body["labels"].([]any); ok {
		raw = v
	} else if v, ok := attrs["labels"].([]any); ok {
		raw = v
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, strings.ToLower(v))
		case map[string]any:
			if t, ok := v["title"].(string); ok {
				out = append(out, strings.ToLower(t))
			}
		}
	}
	return out
}

// EvaluateCondition implements the small condition DSL (has_label,
// repo_autonomy_mode ==/!=, note_mentions_autodev, has_new_commits,
// target_branch in [...], is_review_comment and mentions_changes_needed).
// Deliberately not generalised into a full expression language: the
// fixed set of predicates covers every routing rule in practice.
func EvaluateCondition(condition string, e Event) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	if strings.Contains(condition, " and ") || strings.Contains(condition, "&&") {
		parts := splitAnd(condition)
		for _, p := range parts {
			if !EvaluateCondition(p, e) {
				return false
			}
		}
		return true
	}

	attrs := objAttrs(e.Raw)

	if m := labelRe.FindStringSubmatch(condition); m != nil {
		label := strings.ToLower(m[1])
		has := contains(e.NormalizedLabels, label)
		if strings.HasPrefix(condition, "not ") {
			return !has
		}
		return has
	}

	if m := modeRe.FindStringSubmatch(condition); m != nil {
		op, target := m[1], strings.ToLower(m[2])
		mode := strings.ToLower(e.AutonomyMode)
		if op == "==" {
			return mode == target
		}
		return mode != target
	}

	if condition == "note_mentions_autodev" {
		if e.EventType != "note" {
			return false
		}
		note := str(attrs, "note")
		return mentionRe.MatchString(note)
	}

	if strings.Contains(condition, "has_new_commits") {
		action := str(attrs, "action")
		return action == "update" || action == "push"
	}

	if m := branchRe.FindStringSubmatch(condition); m != nil {
		var branches []string
		for _, b := range strings.Split(m[1], ",") {
			branches = append(branches, strings.Trim(strings.TrimSpace(b), `'"`))
		}
		target := str(attrs, "target_branch")
		return contains(branches, target)
	}

	if strings.Contains(condition, "is_review_comment") {
		noteableType := strings.ToLower(str(attrs, "noteable_type"))
		isReview := noteableType == "mergerequest"
		if strings.Contains(condition, "mentions_changes_needed") {
			note := strings.ToLower(str(attrs, "note"))
			return isReview && containsAny(note, changeKeywords)
		}
		return isReview
	}

	if condition == "mentions_changes_needed" {
		note := strings.ToLower(str(attrs, "note"))
		return containsAny(note, changeKeywords)
	}

	return true
}

var (
	labelRe   = regexp.MustCompile(`has_label\(['"](.+?)['"]\)`)
	modeRe    = regexp.MustCompile(`(?:repo_autonomy_mode|autonomy_mode)\s*([!=]=)\s*['"](.+?)['"]`)
	mentionRe = regexp.MustCompile(`(?i)@auto-dev|\[auto-dev\]`)
	branchRe  = regexp.MustCompile(`target_branch in \[(.+?)\]`)
	andRe     = regexp.MustCompile(`\s+and\s+|&&`)

	changeKeywords = []string{"change", "fix", "update", "revise", "please", "should", "must", "need"}
)

func splitAnd(s string) []string {
	parts := andRe.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
