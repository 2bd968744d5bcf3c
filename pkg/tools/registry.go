package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aapchat/aapchat/pkg/logger"
	"github.com/aapchat/aapchat/pkg/providers/protocoltypes"
)

// separatorLength fixes the width of the divider between catalog entries in
// the system prompt. Changing it invalidates prompt caches, so it stays put.
const separatorLength = 39

// Separator divides tool description blocks in the assembled catalog text.
var Separator = "\n" + strings.Repeat("-", separatorLength) + "\n"

type ToolRegistry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs one tool call. Failures come back as error results, never
// panics; the arguments are logged through the redacting logger.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) *ToolResult {
	logger.InfoCF("tool", "Tool execution started", map[string]any{
		"tool": name,
		"args": args,
	})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]any{"tool": name})
		return ErrorResult(fmt.Sprintf("tool %q not found", name)).WithError(fmt.Errorf("tool not found"))
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed", map[string]any{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       result.ForLLM,
		})
	} else {
		logger.InfoCF("tool", "Tool execution completed", map[string]any{
			"tool":          name,
			"duration_ms":   duration.Milliseconds(),
			"result_length": len(result.ForLLM),
		})
	}

	return result
}

// sortedToolNames returns tool names in sorted order for deterministic
// iteration. Non-deterministic map order would produce a different system
// prompt on every call and defeat the LLM's prefix cache.
func (r *ToolRegistry) sortedToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToProviderDefs converts the catalog to the definitions format the LLM
// provider APIs expect.
func (r *ToolRegistry) ToProviderDefs() []protocoltypes.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedToolNames()
	definitions := make([]protocoltypes.ToolDefinition, 0, len(sorted))
	for _, name := range sorted {
		tool := r.tools[name]
		definitions = append(definitions, protocoltypes.ToolDefinition{
			Type: "function",
			Function: protocoltypes.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}

// DescribeCatalog assembles the system-prompt tool catalog: one delimited
// block per tool with its name, input schema, and description, joined by
// the fixed separator.
func (r *ToolRegistry) DescribeCatalog() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range r.sortedToolNames() {
		tool := r.tools[name]

		schema := "{}"
		if data, err := json.MarshalIndent(tool.Parameters(), "", "  "); err == nil {
			schema = string(data)
		}

		b.WriteString("\n<Tool Description>\n")
		b.WriteString("Tool Name: " + tool.Name() + "\n")
		b.WriteString("Tool Input Schema:\n" + schema + "\n\n")
		b.WriteString("Tool Description:\n" + tool.Description())
		b.WriteString("\n</Tool Description>\n")
		b.WriteString(Separator)
	}
	return b.String()
}

// List returns all registered tool names, sorted.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedToolNames()
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
