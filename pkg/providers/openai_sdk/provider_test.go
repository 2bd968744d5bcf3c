package openai_sdk

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer returns a fake chat-completions endpoint that captures the
// request body and replies with the given JSON.
func chatServer(t *testing.T, reply string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
}

const plainReply = `{
	"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",
	"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello there"}}],
	"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}
}`

func TestChatBasicContent(t *testing.T) {
	srv := chatServer(t, plainReply, nil)
	defer srv.Close()

	p := NewProvider("test-key", srv.URL)
	resp, err := p.Chat(t.Context(), []Message{{Role: "user", Content: "hi"}}, nil, "gpt-4o", nil)
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChatMessageAndToolMapping(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, plainReply, &body)
	defer srv.Close()

	messages := []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "list projects"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{
			ID:        "call-1",
			Name:      "list_projects",
			Arguments: map[string]any{"organization_name": "infra"},
		}}},
		{Role: "tool", Content: "two projects", ToolCallID: "call-1"},
	}
	tools := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionDefinition{
			Name:        "list_projects",
			Description: "List projects",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}}

	p := NewProvider("test-key", srv.URL)
	_, err := p.Chat(t.Context(), messages, tools, "gpt-4o", map[string]any{"max_tokens": 256})
	require.NoError(t, err)

	sent, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, sent, 4)

	first := sent[0].(map[string]any)
	assert.Equal(t, "system", first["role"])

	assistant := sent[2].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	require.Len(t, calls, 1)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "list_projects", fn["name"])
	assert.Contains(t, fn["arguments"], "organization_name")

	toolMsg := sent[3].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call-1", toolMsg["tool_call_id"])

	sentTools := body["tools"].([]any)
	require.Len(t, sentTools, 1)
	assert.EqualValues(t, 256, body["max_completion_tokens"])
}

func TestChatParsesResponseToolCalls(t *testing.T) {
	reply := `{
		"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"gpt-4o",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{
			"role":"assistant","content":"",
			"tool_calls":[{"id":"call-9","type":"function","function":{
				"name":"create_inventory","arguments":"{\"inventory_name\":\"edge\"}"
			}}]
		}}]
	}`
	srv := chatServer(t, reply, nil)
	defer srv.Close()

	p := NewProvider("test-key", srv.URL)
	resp, err := p.Chat(t.Context(), []Message{{Role: "user", Content: "make an inventory"}}, nil, "gpt-4o", nil)
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	call := resp.ToolCalls[0]
	assert.Equal(t, "call-9", call.ID)
	assert.Equal(t, "create_inventory", call.Name)
	assert.Equal(t, "edge", call.Arguments["inventory_name"])
	require.NotNil(t, call.Function)
	assert.Equal(t, "create_inventory", call.Function.Name)
}

func TestChatTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(plainReply))
	}))
	defer srv.Close()

	p := NewProvider("test-key", srv.URL, WithRequestTimeout(100*time.Millisecond))
	_, err := p.Chat(t.Context(), []Message{{Role: "user", Content: "hi"}}, nil, "gpt-4o", nil)
	require.Error(t, err)
	if !strings.Contains(err.Error(), "timeout") &&
		!strings.Contains(err.Error(), "deadline exceeded") &&
		!strings.Contains(err.Error(), "Client.Timeout exceeded") {
		t.Fatalf("timeout error = %q", err.Error())
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	p := NewProvider("test-key", srv.URL)
	_, err := p.Chat(t.Context(), []Message{{Role: "user", Content: "hi"}}, nil, "gpt-4o", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
}

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "gpt-4o-mini", normalizeModel("openai/gpt-4o-mini"))
	assert.Equal(t, "gpt-4o", normalizeModel(""))
	assert.Equal(t, "custom-model", normalizeModel(" custom-model "))
}
