package logsink

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/batchsearch/internal/result"
)

var foundCountRewrite = regexp.MustCompile(`(?i)found:\s*\d+`)

var interestingWords = []string{"found", "priv", "address", "wif"}

// FilterPreview returns the last n interesting lines of a log, timestamps stripped.
// With redact set, key lines are dropped and find counts are rewritten to zero.
func FilterPreview(lines []string, n int, redact bool) []string {
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for _, raw := range lines {
		line := result.StripTimestamp(raw)
		if line == "" || !isInteresting(line) {
			continue
		}
		if redact {
			if result.IsKeyMaterial(line) {
				continue
			}
			line = foundCountRewrite.ReplaceAllString(line, "found: 0")
		}
		out = append(out, line)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func isInteresting(line string) bool {
	if strings.Contains(line, "MK/s") {
		return true
	}
	lower := strings.ToLower(line)
	for _, w := range interestingWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
