package ai

import (
	"regexp"
	"strings"
)

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// cleanBody strips the framing models wrap around prose despite the prompt
// instructions: reasoning blocks from DeepSeek reasoner models, markdown
// fences around the whole body, and a leading "Subject:" line.
func cleanBody(s string) string {
	s = thinkBlockRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Drop a language tag on the opening fence.
		if i := strings.Index(s, "\n"); i >= 0 && len(strings.Fields(s[:i])) <= 1 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	if rest, ok := strings.CutPrefix(s, "Subject:"); ok {
		if i := strings.Index(rest, "\n"); i >= 0 {
			s = strings.TrimSpace(rest[i+1:])
		}
	}
	return s
}
