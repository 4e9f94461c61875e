package service

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxPromptInputLen bounds user-provided text embedded in a prompt.
const maxPromptInputLen = 10000

// roleMarkers are line prefixes that could make user data read as a new
// conversation turn.
var roleMarkers = []string{
	"system:", "assistant:", "user:", "[system]", "[assistant]",
	"<|system|>", "<|assistant|>", "<|im_start|>",
	"### system", "### assistant", "### instruction",
}

// sanitizePromptInput strips control characters, neutralizes role markers
// at line starts and caps the length of user-provided text before it is
// embedded in a prompt.
func sanitizePromptInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		for _, prefix := range roleMarkers {
			if strings.HasPrefix(trimmed, prefix) {
				lines[i] = "[sanitized] " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	if len(s) > maxPromptInputLen {
		s = truncate(s, maxPromptInputLen) + "\n[truncated]"
	}
	return s
}

// extractJSON pulls a JSON object out of a completion that may be wrapped
// in markdown fences or surrounded by prose.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// containsAny reports whether s contains any of the substrings.
func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
