package generation

import (
	"regexp"
	"strings"
)

// A language tag ends at a newline; js and javascript may also sit on the same line as the code.
var fencedBlock = regexp.MustCompile("(?s)```(?:(?:javascript|js)\\b[ \\t]*|[A-Za-z0-9_+.-]+[ \\t]*\\r?\\n)?(.*?)```")

// ExtractCode returns the first fenced block, or the whole response when there is none.
func ExtractCode(response string) string {
	if m := fencedBlock.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}
