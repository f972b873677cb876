package runner

import (
	"testing"
	"time"
)

func TestDetectRateLimitNoMarker(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	if _, ok := detectRateLimit("task completed successfully", now); ok {
		t.Fatalf("expected no rate limit detected")
	}
	if _, ok := detectRateLimit("", now); ok {
		t.Fatalf("expected no rate limit detected on empty output")
	}
}

func TestDetectRateLimitMarkersCaseInsensitive(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	cases := []string{
		"Error: you've HIT YOUR LIMIT for this period",
		"429 Too Many Requests",
		"Rate Limit exceeded, please retry later",
	}
	for _, c := range cases {
		reset, ok := detectRateLimit(c, now)
		if !ok {
			t.Fatalf("expected rate limit detected for %q", c)
		}
		if !reset.After(now) {
			t.Fatalf("expected reset time after now for %q, got %s", c, reset)
		}
	}
}

func TestDetectRateLimitParsesExplicitResetHour(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	reset, ok := detectRateLimit("you hit your limit, resets 5pm (UTC)", now)
	if !ok {
		t.Fatalf("expected rate limit detected")
	}
	want := time.Date(2026, 7, 29, 17, 0, 0, 0, time.UTC)
	if !reset.Equal(want) {
		t.Fatalf("expected reset %s, got %s", want, reset)
	}
}

func TestDetectRateLimitResetHourAlreadyPassedRollsToNextDay(t *testing.T) {
	now := time.Date(2026, 7, 29, 20, 0, 0, 0, time.UTC)
	reset, ok := detectRateLimit("rate limit hit, resets 5pm (UTC)", now)
	if !ok {
		t.Fatalf("expected rate limit detected")
	}
	want := time.Date(2026, 7, 30, 17, 0, 0, 0, time.UTC)
	if !reset.Equal(want) {
		t.Fatalf("expected reset rolled to next day %s, got %s", want, reset)
	}
}

func TestDetectRateLimitDefaultsToOneHourWithoutExplicitReset(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	reset, ok := detectRateLimit("429", now)
	if !ok {
		t.Fatalf("expected rate limit detected")
	}
	want := now.Add(time.Hour)
	if !reset.Equal(want) {
		t.Fatalf("expected default reset %s, got %s", want, reset)
	}
}

func TestParseTokenUsageAccumulatesAcrossTurnsAndSkipsGarbage(t *testing.T) {
	stdout := `not json at all
{"type":"turn","usage":{"input_tokens":100,"output_tokens":20}}
some log line interleaved
{"type":"turn","usage":{"prompt_tokens":50,"completion_tokens":10}}
{"input_tokens":5,"output_tokens":1}
`
	got := parseTokenUsage(stdout)
	if got.Input != 155 || got.Output != 31 {
		t.Fatalf("expected input=155 output=31, got input=%d output=%d", got.Input, got.Output)
	}
	if got.Total() != 186 {
		t.Fatalf("expected total 186, got %d", got.Total())
	}
}

func TestParseTokenUsageEmptyInput(t *testing.T) {
	got := parseTokenUsage("")
	if got.Total() != 0 {
		t.Fatalf("expected zero usage for empty stdout, got %+v", got)
	}
}

func TestExtractSummaryReturnsLastAgentMessage(t *testing.T) {
	output := `{"type":"item.completed","item":{"type":"other","text":"ignored"}}
{"type":"item.completed","item":{"type":"agent_message","text":"first summary"}}
{"type":"other"}
{"type":"item.completed","item":{"type":"agent_message","text":"final summary"}}
`
	got := extractSummary(output, 0)
	if got != "final summary" {
		t.Fatalf("expected %q, got %q", "final summary", got)
	}
}

func TestExtractSummaryNoMatchingEvent(t *testing.T) {
	got := extractSummary(`{"type":"other"}`, 100)
	if got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}
}

func TestExtractSummaryTruncatesToMaxChars(t *testing.T) {
	long := "0123456789abcdef"
	output := `{"type":"item.completed","item":{"type":"agent_message","text":"` + long + `"}}`
	got := extractSummary(output, 5)
	want := "01234…"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRingBufferDropsOldestWhenOverCapacity(t *testing.T) {
	rb := newRingBuffer(10)
	rb.write("0123456789")
	rb.write("abcde")
	got := rb.String()
	if len(got) != 10 {
		t.Fatalf("expected ring buffer capped at 10 bytes, got %d (%q)", len(got), got)
	}
	if got != "56789abcde" {
		t.Fatalf("expected tail %q, got %q", "56789abcde", got)
	}
}
