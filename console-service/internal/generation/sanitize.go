package generation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxPromptLength = 4000

var (
	injectionPattern = regexp.MustCompile(`(?i)` + strings.Join([]string{
		regexp.QuoteMeta("ignore previous instructions"),
		regexp.QuoteMeta("forget all previous"),
		regexp.QuoteMeta("new instructions:"),
		regexp.QuoteMeta("system:"),
		regexp.QuoteMeta("assistant:"),
		regexp.QuoteMeta("you are now"),
		regexp.QuoteMeta("pretend you are"),
		regexp.QuoteMeta("roleplay as"),
	}, "|"))
)

// Sanitize redacts common prompt injection phrases and caps the length.
// Prompts are plain text for the model, so comparison operators and
// angle brackets pass through untouched.
func Sanitize(input string) string {
	out := injectionPattern.ReplaceAllString(input, "[redacted]")
	out = strings.TrimSpace(out)

	if utf8.RuneCountInString(out) > maxPromptLength {
		runes := []rune(out)
		out = string(runes[:maxPromptLength]) + "..."
	}
	return out
}
