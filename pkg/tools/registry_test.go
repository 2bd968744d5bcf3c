package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name        string
	description string
	params      map[string]any
	execute     func(ctx context.Context, args map[string]any) *ToolResult
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return s.description }
func (s *stubTool) Parameters() map[string]any { return s.params }

func (s *stubTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return NewToolResult("ok")
}

func newStub(name string) *stubTool {
	return &stubTool{
		name:        name,
		description: "does " + name,
		params: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&stubTool{
		name: "echo",
		execute: func(_ context.Context, args map[string]any) *ToolResult {
			return NewToolResult(fmt.Sprintf("%v", args["text"]))
		},
	})

	result := reg.Execute(context.Background(), "echo", map[string]any{"text": "hello"})
	require.False(t, result.IsError)
	assert.Equal(t, "hello", result.ForLLM)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewToolRegistry()

	result := reg.Execute(context.Background(), "nope", nil)
	require.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, `tool "nope" not found`)
	assert.Error(t, result.Err)
}

func TestDescribeCatalogFormat(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(newStub("alpha"))

	catalog := reg.DescribeCatalog()

	assert.Contains(t, catalog, "<Tool Description>\nTool Name: alpha\n")
	assert.Contains(t, catalog, "Tool Input Schema:\n{")
	assert.Contains(t, catalog, "Tool Description:\ndoes alpha\n</Tool Description>")
	assert.Contains(t, catalog, strings.Repeat("-", 39))
}

func TestDescribeCatalogDeterministicOrder(t *testing.T) {
	reg := NewToolRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.Register(newStub(name))
	}

	first := reg.DescribeCatalog()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, reg.DescribeCatalog())
	}

	alpha := strings.Index(first, "Tool Name: alpha")
	mid := strings.Index(first, "Tool Name: mid")
	zeta := strings.Index(first, "Tool Name: zeta")
	assert.True(t, alpha < mid && mid < zeta, "catalog must be sorted by name")
}

func TestToProviderDefs(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(newStub("beta"))
	reg.Register(newStub("alpha"))

	defs := reg.ToProviderDefs()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Function.Name)
	assert.Equal(t, "beta", defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "does alpha", defs[0].Function.Description)
}

func TestListAndCount(t *testing.T) {
	reg := NewToolRegistry()
	assert.Equal(t, 0, reg.Count())

	reg.Register(newStub("b"))
	reg.Register(newStub("a"))

	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"a", "b"}, reg.List())
}
