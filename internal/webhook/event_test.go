package webhook

import "testing"

func TestParseGitLabEventIssueOpened(t *testing.T) {
	body := map[string]any{
		"object_attributes": map[string]any{
			"id":     float64(42),
			"action": "open",
			"title":  "widgets are broken",
			"iid":    float64(7),
		},
		"project": map[string]any{"path_with_namespace": "acme/widgets"},
		"labels":  []any{"bug", map[string]any{"title": "P1"}},
	}
	e := ParseGitLabEvent("Issue Hook", body)

	if e.EventType != "issue" || e.Action != "open" {
		t.Fatalf("unexpected event type/action: %+v", e)
	}
	if e.RepoProjectRef != "acme/widgets" {
		t.Fatalf("unexpected project ref: %q", e.RepoProjectRef)
	}
	if e.ExternalID != "42" {
		t.Fatalf("expected numeric id stringified, got %q", e.ExternalID)
	}
	if e.Key() != "issue:open" {
		t.Fatalf("unexpected key: %q", e.Key())
	}
	want := map[string]bool{"bug": true, "p1": true}
	if len(e.NormalizedLabels) != 2 {
		t.Fatalf("expected 2 normalized labels, got %v", e.NormalizedLabels)
	}
	for _, l := range e.NormalizedLabels {
		if !want[l] {
			t.Fatalf("unexpected label %q in %v", l, e.NormalizedLabels)
		}
	}
}

func TestParseGitLabEventPushUsesAfterSHAAsExternalID(t *testing.T) {
	body := map[string]any{
		"after":   "abc123",
		"project": map[string]any{"path_with_namespace": "acme/widgets"},
	}
	e := ParseGitLabEvent("Push Hook", body)
	if e.EventType != "push" {
		t.Fatalf("expected push event type, got %q", e.EventType)
	}
	if e.ExternalID != "abc123" {
		t.Fatalf("expected after SHA as external id, got %q", e.ExternalID)
	}
	if e.Key() != "push" {
		t.Fatalf("expected bare event type as key for a push (no action), got %q", e.Key())
	}
}

func TestParseGitLabEventNoteActionIsNoteableType(t *testing.T) {
	body := map[string]any{
		"object_attributes": map[string]any{
			"id":            float64(1),
			"noteable_type": "MergeRequest",
			"note":          "please fix this",
		},
		"project": map[string]any{"path_with_namespace": "acme/widgets"},
	}
	e := ParseGitLabEvent("Note Hook", body)
	if e.Action != "mergerequest" {
		t.Fatalf("expected lowercased noteable_type as action, got %q", e.Action)
	}
}

func TestEvaluateConditionEmptyAlwaysTrue(t *testing.T) {
	if !EvaluateCondition("", Event{}) {
		t.Fatalf("expected empty condition to always pass")
	}
}

func TestEvaluateConditionHasLabel(t *testing.T) {
	e := Event{NormalizedLabels: []string{"bug", "critical"}}
	if !EvaluateCondition(`has_label('bug')`, e) {
		t.Fatalf("expected has_label to match an existing label")
	}
	if EvaluateCondition(`has_label('enhancement')`, e) {
		t.Fatalf("expected has_label to miss an absent label")
	}
	if !EvaluateCondition(`not has_label('enhancement')`, e) {
		t.Fatalf("expected negated has_label to pass for an absent label")
	}
}

func TestEvaluateConditionAutonomyMode(t *testing.T) {
	e := Event{AutonomyMode: "full"}
	if !EvaluateCondition(`repo_autonomy_mode == 'full'`, e) {
		t.Fatalf("expected equality match")
	}
	if EvaluateCondition(`repo_autonomy_mode != 'full'`, e) {
		t.Fatalf("expected inequality to fail when modes match")
	}
}

func TestEvaluateConditionAndChainRequiresAll(t *testing.T) {
	e := Event{NormalizedLabels: []string{"bug"}, AutonomyMode: "full"}
	if !EvaluateCondition(`has_label('bug') and repo_autonomy_mode == 'full'`, e) {
		t.Fatalf("expected both clauses satisfied to pass")
	}
	if EvaluateCondition(`has_label('bug') and repo_autonomy_mode == 'guided'`, e) {
		t.Fatalf("expected one false clause to fail the chain")
	}
}

func TestEvaluateConditionNoteMentionsAutodev(t *testing.T) {
	e := Event{
		EventType: "note",
		Raw: map[string]any{
			"object_attributes": map[string]any{"note": "hey @auto-dev can you take a look"},
		},
	}
	if !EvaluateCondition("note_mentions_autodev", e) {
		t.Fatalf("expected mention to match")
	}
	other := Event{EventType: "note", Raw: map[string]any{"object_attributes": map[string]any{"note": "looks fine"}}}
	if EvaluateCondition("note_mentions_autodev", other) {
		t.Fatalf("expected no mention to fail")
	}
}

func TestEvaluateConditionTargetBranchIn(t *testing.T) {
	e := Event{Raw: map[string]any{"object_attributes": map[string]any{"target_branch": "main"}}}
	if !EvaluateCondition(`target_branch in ['main', 'develop']`, e) {
		t.Fatalf("expected main to be in the branch list")
	}
	e2 := Event{Raw: map[string]any{"object_attributes": map[string]any{"target_branch": "feature/x"}}}
	if EvaluateCondition(`target_branch in ['main', 'develop']`, e2) {
		t.Fatalf("expected feature/x to not be in the branch list")
	}
}

func TestEvaluateConditionReviewCommentMentionsChangesNeeded(t *testing.T) {
	e := Event{Raw: map[string]any{"object_attributes": map[string]any{
		"noteable_type": "MergeRequest",
		"note":          "please fix the typo",
	}}}
	if !EvaluateCondition("is_review_comment and mentions_changes_needed", e) {
		t.Fatalf("expected a change-request review comment to match")
	}
	e2 := Event{Raw: map[string]any{"object_attributes": map[string]any{
		"noteable_type": "MergeRequest",
		"note":          "looks great, thanks",
	}}}
	if EvaluateCondition("is_review_comment and mentions_changes_needed", e2) {
		t.Fatalf("expected a non-change-request comment to not match")
	}
}
