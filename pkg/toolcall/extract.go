// Package toolcall extracts structured tool invocations from free-form LLM
// text. The model frequently emits the target JSON wrapped in code fences,
// with single quotes, or buried in prose; extraction tries a fixed sequence
// of progressively more tolerant parse strategies and validation is strict
// and all-or-nothing.
package toolcall

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/aapchat/aapchat/pkg/providers/protocoltypes"
)

// InvalidInputPrefix marks an assistant message holding text that failed
// extraction. The offending text is kept visible for the operator instead of
// being dropped.
const InvalidInputPrefix = "Invalid tool call input: "

var (
	fenceJSONRe   = regexp.MustCompile("(?im)^```json\\s*|\\s*```$")
	fenceRe       = regexp.MustCompile("(?m)^```\\s*|\\s*```$")
	jsonPrefixRe  = regexp.MustCompile(`(?im)^json\s*`)
	singleQuoteRe = regexp.MustCompile(`'([^']*)'`)
	listSpanRe    = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
	pyTrueRe      = regexp.MustCompile(`\bTrue\b`)
	pyFalseRe     = regexp.MustCompile(`\bFalse\b`)
	pyNoneRe      = regexp.MustCompile(`\bNone\b`)
)

// strategy attempts one way of reading a cleaned string as a JSON-like list.
// Strategies are pure; a false return means "try the next one".
type strategy func(cleaned string) ([]any, bool)

var strategies = []strategy{
	parseStrict,
	parseSingleQuoted,
	parseListSpan,
	parseLiteral,
}

// Extract parses the input into a generic list using the strategy cascade.
// The boolean reports whether any strategy produced a list at all; it says
// nothing about the list's shape (see Verify).
func Extract(input string) ([]any, bool) {
	cleaned := cleanInput(input)
	if cleaned == "" {
		return nil, false
	}

	for _, try := range strategies {
		if result, ok := try(cleaned); ok {
			return result, true
		}
	}
	return nil, false
}

// ExtractAndValidate runs Extract followed by Verify.
func ExtractAndValidate(input string) ([]any, bool) {
	list, ok := Extract(input)
	if !ok {
		return nil, false
	}
	return list, Verify(list)
}

// cleanInput strips code-fence markers and a leading bare "json" line.
func cleanInput(input string) string {
	cleaned := strings.TrimSpace(input)
	if cleaned == "" {
		return ""
	}
	cleaned = fenceJSONRe.ReplaceAllString(cleaned, "")
	cleaned = fenceRe.ReplaceAllString(strings.TrimSpace(cleaned), "")
	cleaned = jsonPrefixRe.ReplaceAllString(strings.TrimSpace(cleaned), "")
	return strings.TrimSpace(cleaned)
}

func parseStrict(cleaned string) ([]any, bool) {
	var result []any
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, false
	}
	return result, true
}

// parseSingleQuoted converts single-quoted keys and values to double quotes,
// then un-escapes any previously escaped single quotes.
func parseSingleQuoted(cleaned string) ([]any, bool) {
	converted := singleQuoteRe.ReplaceAllString(cleaned, `"$1"`)
	converted = strings.ReplaceAll(converted, `\'`, `'`)
	return parseStrict(converted)
}

// parseListSpan locates the outermost [ { ... } ] span in the text and
// retries the quote-converting parse on that span only.
func parseListSpan(cleaned string) ([]any, bool) {
	span := listSpanRe.FindString(cleaned)
	if span == "" {
		return nil, false
	}
	return parseSingleQuoted(span)
}

// parseLiteral handles Python-style literal sequences: True/False/None are
// rewritten to their JSON forms before the quote-converting parse. No code
// is ever evaluated.
func parseLiteral(cleaned string) ([]any, bool) {
	converted := pyTrueRe.ReplaceAllString(cleaned, "true")
	converted = pyFalseRe.ReplaceAllString(converted, "false")
	converted = pyNoneRe.ReplaceAllString(converted, "null")
	if result, ok := parseStrict(converted); ok {
		return result, true
	}
	return parseSingleQuoted(converted)
}

// Verify checks the extracted list against the required shape: non-empty,
// and every element a mapping with exactly the two keys "name" (string) and
// "args" (mapping). One bad element invalidates the whole batch.
func Verify(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, item := range list {
		if !validItem(item) {
			return false
		}
	}
	return true
}

func validItem(item any) bool {
	m, ok := item.(map[string]any)
	if !ok {
		return false
	}
	if len(m) != 2 {
		return false
	}
	if _, ok := m["name"].(string); !ok {
		return false
	}
	_, ok = m["args"].(map[string]any)
	return ok
}

// Transform converts a validated list into tool calls. Each element gets a
// fresh generated id unless the caller supplies one for the whole batch.
func Transform(list []any, callID string) []protocoltypes.ToolCall {
	calls := make([]protocoltypes.ToolCall, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := callID
		if id == "" {
			id = NewCallID()
		}
		name, _ := m["name"].(string)
		args, _ := m["args"].(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, protocoltypes.ToolCall{
			ID:        id,
			Type:      "tool_call",
			Name:      name,
			Arguments: args,
		})
	}
	return calls
}

// NewCallID generates a tool-call id in the provider's chatcmpl style.
func NewCallID() string {
	return fmt.Sprintf("chatcmpl-tool-%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Parse is the one-shot form: extract, validate, and transform. On failure
// it returns nil calls and false; the caller is expected to surface the
// offending text with InvalidInputPrefix.
func Parse(input string, callID string) ([]protocoltypes.ToolCall, bool) {
	list, valid := ExtractAndValidate(input)
	if !valid {
		return nil, false
	}
	return Transform(list, callID), true
}
