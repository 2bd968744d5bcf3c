// Package tools defines the tool abstraction the agent executes, the
// registry that holds the catalog, and credential injection into outgoing
// tool arguments.
package tools

import "context"

// Tool is one named operation the LLM may invoke.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the tool's JSON-schema input description.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ToolResult separates what the LLM sees from what the human sees. ForUser
// empty means the LLM text is also shown to the human (after redaction).
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func UserResult(forLLM, forUser string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, ForUser: forUser}
}

func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// ToolToSchema renders a tool as the function-call schema map used both for
// provider definitions and the system-prompt catalog.
func ToolToSchema(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}
}
