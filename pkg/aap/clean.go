package aap

import "regexp"

var (
	resultTagRe  = regexp.MustCompile(`(?s)<result>(.*?)</result>`)
	ansiEscapeRe = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)
	escapedNLRe  = regexp.MustCompile(`\\\\n|\\n`)
	blankRunRe   = regexp.MustCompile(`\n\s*\n`)
)

// ExtractAndCleanResult prepares raw job stdout for the conversation:
// extract the delimited result region when present, strip terminal color
// codes, normalize escaped and double-escaped newlines, and collapse runs of
// blank lines to exactly one.
func ExtractAndCleanResult(text string) string {
	if text == "" {
		return ""
	}

	content := text
	if m := resultTagRe.FindStringSubmatch(text); m != nil {
		content = m[1]
	}

	content = ansiEscapeRe.ReplaceAllString(content, "")
	content = escapedNLRe.ReplaceAllString(content, "\n")
	content = blankRunRe.ReplaceAllString(content, "\n\n")

	return content
}
