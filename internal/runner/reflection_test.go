package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReflectorNotConfiguredSendIsNoop(t *testing.T) {
	r := NewReflector("")
	if r.Configured() {
		t.Fatalf("expected reflector with empty url to report unconfigured")
	}
	if err := r.Send(context.Background(), reflectionInput{AgentID: "spec-architect"}); err != nil {
		t.Fatalf("expected Send to be a no-op, got error: %v", err)
	}
}

func TestReflectorSendPostsExpectedPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", req.Method)
		}
		if ct := req.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json content type, got %q", ct)
		}
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewReflector(srv.URL)
	if !r.Configured() {
		t.Fatalf("expected reflector with a url to report configured")
	}

	in := reflectionInput{
		AgentID:       "merge-reviewer",
		TaskID:        "task-42",
		TaskType:      "review_mr",
		Success:       true,
		ExitCode:      0,
		OutputExcerpt: "looks good",
	}
	if err := r.Send(context.Background(), in); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if received["agent_id"] != "merge-reviewer" || received["task_id"] != "task-42" {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if received["outcome"] != "success" {
		t.Fatalf("expected outcome=success, got %v", received["outcome"])
	}
}

func TestReflectorSendErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewReflector(srv.URL)
	err := r.Send(context.Background(), reflectionInput{AgentID: "qa-tester", Success: false})
	if err == nil {
		t.Fatalf("expected error on 500 response")
	}
}

func TestOutcomeLabel(t *testing.T) {
	if got := outcomeLabel(true); got != "success" {
		t.Fatalf("expected success, got %q", got)
	}
	if got := outcomeLabel(false); got != "failure" {
		t.Fatalf("expected failure, got %q", got)
	}
}
