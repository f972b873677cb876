package runner

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rateLimitMarkers are the substrings (lower-cased) that flag a
// provider-CLI failure as a rate limit rather than an ordinary error,
// per _detect_rate_limit_from_output.
var rateLimitMarkers = []string{"hit your limit", "rate limit", "429"}

// resetTimeRe matches messages like "resets 5pm (UTC)".
var resetTimeRe = regexp.MustCompile(`(?i)resets?\s+(\d{1,2})\s*(am|pm)\s*\(?\s*utc\s*\)?`)

// detectRateLimit scans combined stdout+stderr for a rate-limit marker.
// When found it also tries to parse an explicit UTC reset hour; absent
// that, it defaults to now+1h.
func detectRateLimit(output string, now time.Time) (time.Time, bool) {
	if output == "" {
		return time.Time{}, false
	}
	lower := strings.ToLower(output)
	hit := false
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			hit = true
			break
		}
	}
	if !hit {
		return time.Time{}, false
	}

	if m := resetTimeRe.FindStringSubmatch(output); m != nil {
		hour, err := strconv.Atoi(m[1])
		if err == nil {
			if strings.EqualFold(m[2], "pm") && hour != 12 {
				hour += 12
			} else if strings.EqualFold(m[2], "am") && hour == 12 {
				hour = 0
			}
			reset := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
			if !reset.After(now) {
				reset = reset.Add(24 * time.Hour)
			}
			return reset, true
		}
	}
	return now.Add(time.Hour), true
}

// tokenUsage accumulates input/output token counts parsed across the
// session's streamed turns.
type tokenUsage struct {
	Input  int
	Output int
}

func (t tokenUsage) Total() int { return t.Input + t.Output }

// parseTokenUsage scans stdout line-by-line for JSON objects carrying a
// "usage" block, or top-level token fields, accumulating across every
// turn the provider CLI streamed. Malformed lines (plain log text
// interleaved with JSON) are silently skipped.
func parseTokenUsage(stdout string) tokenUsage {
	var total tokenUsage
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			continue
		}
		if usage, ok := data["usage"].(map[string]any); ok {
			total.Input += numField(usage, "input_tokens", "prompt_tokens")
			total.Output += numField(usage, "output_tokens", "completion_tokens")
			continue
		}
		if _, ok := data["input_tokens"]; ok {
			total.Input += numField(data, "input_tokens", "prompt_tokens")
			total.Output += numField(data, "output_tokens", "completion_tokens")
		} else if _, ok := data["prompt_tokens"]; ok {
			total.Input += numField(data, "input_tokens", "prompt_tokens")
			total.Output += numField(data, "output_tokens", "completion_tokens")
		}
	}
	return total
}

func numField(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return int(f)
			}
		}
	}
	return 0
}

// extractSummary pulls the last agent-visible message text out of the
// streamed "item.completed" / agent_message JSON events, truncated to
// maxChars. Returns "" when no such event appears in output.
func extractSummary(output string, maxChars int) string {
	var summary string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			continue
		}
		if data["type"] != "item.completed" {
			continue
		}
		item, _ := data["item"].(map[string]any)
		if item == nil || item["type"] != "agent_message" {
			continue
		}
		if text, ok := item["text"].(string); ok && text != "" {
			summary = text
		}
	}
	if summary == "" {
		return ""
	}
	if maxChars > 0 && len(summary) > maxChars {
		summary = strings.TrimRight(summary[:maxChars], " \t\n") + "…"
	}
	return summary
}
