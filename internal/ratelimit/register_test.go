package ratelimit

import (
	"path/filepath"
	"testing"
	"time"
)

func TestGetAbsentFileReturnsNil(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "ratelimit.json"))
	flag, err := r.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if flag != nil {
		t.Fatalf("expected nil flag, got %+v", flag)
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "ratelimit.json"))
	reset := time.Now().Add(time.Hour).UTC()
	if err := r.Set("claude", reset, "spec-architect"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	flag, err := r.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if flag == nil {
		t.Fatalf("expected a flag")
	}
	if flag.Provider != "claude" || flag.SetBy != "spec-architect" {
		t.Fatalf("unexpected flag: %+v", flag)
	}
	if !flag.ResetTime.Equal(reset) {
		t.Fatalf("expected reset %s, got %s", reset, flag.ResetTime)
	}
}

func TestGetExpiredFlagIsLazilyCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")
	r := New(path)
	if err := r.Set("codex", time.Now().Add(-time.Minute), "qa-tester"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	flag, err := r.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if flag != nil {
		t.Fatalf("expected expired flag to read as absent, got %+v", flag)
	}

	// Second Get must also see absent — the file was removed as a
	// side effect of the first Get, not just skipped in memory.
	flag2, err := r.Get()
	if err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if flag2 != nil {
		t.Fatalf("expected still absent after lazy clear, got %+v", flag2)
	}
}

func TestSetOverwritesPriorFlag(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "ratelimit.json"))
	if err := r.Set("claude", time.Now().Add(time.Hour), "a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.Set("codex", time.Now().Add(2*time.Hour), "b"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	flag, err := r.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if flag.Provider != "codex" || flag.SetBy != "b" {
		t.Fatalf("expected overwritten flag, got %+v", flag)
	}
}

func TestClearIsSafeWhenAbsent(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "ratelimit.json"))
	if err := r.Clear(); err != nil {
		t.Fatalf("expected Clear on absent file to be a no-op, got %v", err)
	}
}

func TestClearRemovesExistingFlag(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "ratelimit.json"))
	if err := r.Set("claude", time.Now().Add(time.Hour), "a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	flag, err := r.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if flag != nil {
		t.Fatalf("expected no flag after Clear, got %+v", flag)
	}
}

func TestSetCreatesMissingParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ratelimit.json")
	r := New(path)
	if err := r.Set("claude", time.Now().Add(time.Hour), "a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := r.Get(); err != nil {
		t.Fatalf("Get after Set into nested dir: %v", err)
	}
}
