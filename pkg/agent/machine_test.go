package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aapchat/aapchat/pkg/aap"
	"github.com/aapchat/aapchat/pkg/providers"
	"github.com/aapchat/aapchat/pkg/providers/protocoltypes"
	"github.com/aapchat/aapchat/pkg/redaction"
	"github.com/aapchat/aapchat/pkg/session"
	"github.com/aapchat/aapchat/pkg/toolcall"
	"github.com/aapchat/aapchat/pkg/tools"
)

// scriptedProvider returns its responses in order; the last one is sticky.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.LLMResponse
	calls     int
}

func (p *scriptedProvider) Chat(_ context.Context, _ []providers.Message, _ []providers.ToolDefinition, _ string, _ map[string]any) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if len(p.responses) == 0 {
		return &providers.LLMResponse{Content: "done"}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "test-model" }

type stubClassifier struct{ imminent bool }

func (c stubClassifier) Classify(context.Context, string) (bool, error) { return c.imminent, nil }

// onceClassifier answers yes exactly once, then no.
type onceClassifier struct{ used bool }

func (c *onceClassifier) Classify(context.Context, string) (bool, error) {
	if c.used {
		return false, nil
	}
	c.used = true
	return true, nil
}

type stubStructurer struct{ reply string }

func (s stubStructurer) Structure(context.Context, string) (string, error) { return s.reply, nil }

// recordingEmitter captures every protocol event for assertions.
type recordingEmitter struct {
	mu            sync.Mutex
	assistant     []string
	toolCalls     []map[string]any
	toolCallNames []string
	confirmations []string
	toolResults   []string
	errors        []string
}

func (e *recordingEmitter) AssistantMessage(content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assistant = append(e.assistant, content)
}

func (e *recordingEmitter) ToolCall(name string, args map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolCallNames = append(e.toolCallNames, name)
	e.toolCalls = append(e.toolCalls, args)
}

func (e *recordingEmitter) ConfirmationRequest(_, messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmations = append(e.confirmations, messageID)
}

func (e *recordingEmitter) ToolResult(_, result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolResults = append(e.toolResults, result)
}

func (e *recordingEmitter) Error(content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, content)
}

// scriptedApprover answers confirmation requests in order; the last reply
// is sticky.
type scriptedApprover struct {
	replies []string
}

func (a *scriptedApprover) Confirm(context.Context) (string, error) {
	if len(a.replies) == 0 {
		return "no", nil
	}
	reply := a.replies[0]
	if len(a.replies) > 1 {
		a.replies = a.replies[1:]
	}
	return reply, nil
}

// captureTool records the args of each execution.
type captureTool struct {
	name     string
	mu       sync.Mutex
	executed []map[string]any
	result   string
}

func (t *captureTool) Name() string               { return t.name }
func (t *captureTool) Description() string        { return "captures " + t.name }
func (t *captureTool) Parameters() map[string]any { return map[string]any{"type": "object"} }

func (t *captureTool) Execute(_ context.Context, args map[string]any) *tools.ToolResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executed = append(t.executed, args)
	return tools.NewToolResult(t.result)
}

func (t *captureTool) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.executed)
}

func nativeCallResponse(name string, args map[string]any) *providers.LLMResponse {
	if args == nil {
		args = map[string]any{}
	}
	return &providers.LLMResponse{
		ToolCalls: []protocoltypes.ToolCall{{
			ID:        toolcall.NewCallID(),
			Type:      "tool_call",
			Name:      name,
			Arguments: args,
		}},
	}
}

func testCredentials() session.CredentialContext {
	return session.CredentialContext{
		Token:      "secret-token",
		AuthScheme: aap.AuthBearer,
		BaseURL:    "https://aap.example.com/api/controller/v2",
		Username:   "admin",
	}
}

func newTestMachine(p providers.LLMProvider, reg *tools.ToolRegistry, c Classifier, s Structurer, maxIter, limit int) *Machine {
	return NewMachine(MachineOptions{
		Provider:       p,
		Model:          "test-model",
		Classifier:     c,
		Structurer:     s,
		Registry:       reg,
		MaxIterations:  maxIter,
		RecursionLimit: limit,
	})
}

func TestNativeToolCallEndToEnd(t *testing.T) {
	tool := &captureTool{name: "list_projects", result: "infra (git)\nwebsite (git)"}
	reg := tools.NewToolRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		nativeCallResponse("list_projects", map[string]any{}),
		{Content: "You have 2 projects: infra and website."},
	}}

	m := newTestMachine(provider, reg, stubClassifier{}, stubStructurer{}, 8, 300)

	state := &ConversationState{Credentials: testCredentials()}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "list projects", emit, &scriptedApprover{replies: []string{"yes"}})
	require.NoError(t, err)

	// The call was presented redacted, confirmed, executed with injected
	// credentials, and the result flowed back to the LLM.
	require.Equal(t, []string{"list_projects"}, emit.toolCallNames)
	require.Equal(t, []string{ConfirmationMessageID}, emit.confirmations)

	require.Equal(t, 1, tool.count())
	executed := tool.executed[0]
	assert.Equal(t, "secret-token", executed[tools.ArgToken])
	assert.Equal(t, "https://aap.example.com/api/controller/v2", executed[tools.ArgBaseURL])
	assert.Equal(t, "admin", executed[tools.ArgUsername])

	require.Len(t, emit.toolResults, 1)
	assert.Contains(t, emit.toolResults[0], "📋 Tool Result: List Projects")

	assert.Equal(t, 1, state.Iterations)
	assert.Equal(t, 2, provider.calls)

	last := state.Last()
	require.NotNil(t, last)
	assert.Equal(t, RoleAI, last.Role)
	assert.Contains(t, last.Content, "2 projects")
	assert.Contains(t, emit.assistant, ProceedingMessage)
}

func TestCancellationLeavesNoToolMessages(t *testing.T) {
	tool := &captureTool{name: "reboot_server", result: "rebooted"}
	reg := tools.NewToolRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		nativeCallResponse("reboot_server", map[string]any{"server_name": "db01"}),
	}}

	m := newTestMachine(provider, reg, stubClassifier{imminent: false}, stubStructurer{}, 8, 300)

	state := &ConversationState{Credentials: testCredentials()}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "reboot db01", emit, &scriptedApprover{replies: []string{"no"}})
	require.NoError(t, err)

	assert.Zero(t, tool.count(), "declined call must not execute")
	assert.Zero(t, state.Iterations, "cancellation must not advance the counter")
	assert.Contains(t, emit.assistant, CancelledMessage)

	for _, msg := range state.Messages {
		assert.NotEqual(t, RoleTool, msg.Role, "cancellation must not produce tool messages")
	}

	last := state.Last()
	require.NotNil(t, last)
	assert.Equal(t, RoleAI, last.Role)
	assert.Equal(t, CancellationNotice, last.Content)
	assert.Empty(t, last.ToolCalls)
}

func TestApprovalPresentationRedactsSensitiveArgs(t *testing.T) {
	tool := &captureTool{name: "create_user", result: "created"}
	reg := tools.NewToolRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		nativeCallResponse("create_user", map[string]any{
			"user_username": "jdoe",
			"user_password": "hunter2",
		}),
		{Content: "User created."},
	}}

	m := newTestMachine(provider, reg, stubClassifier{}, stubStructurer{}, 8, 300)

	state := &ConversationState{Credentials: testCredentials()}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "create user jdoe", emit, &scriptedApprover{replies: []string{"yes"}})
	require.NoError(t, err)

	require.Len(t, emit.toolCalls, 1)
	presented := emit.toolCalls[0]
	assert.Equal(t, redaction.Marker, presented["user_password"])
	assert.Equal(t, redaction.Marker, presented["user_username"])

	// The executed call still carries the real values.
	require.Equal(t, 1, tool.count())
	assert.Equal(t, "hunter2", tool.executed[0]["user_password"])
}

func TestExtractionFromFreeText(t *testing.T) {
	tool := &captureTool{name: "list_projects", result: "infra"}
	reg := tools.NewToolRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "I'll run [list_projects()] now. Please wait for the actual output from the system."},
		{Content: "Here are your projects."},
	}}

	structured := stubStructurer{reply: "Sure, here it is:\n[{'name': 'list_projects', 'args': {}}]"}
	m := newTestMachine(provider, reg, &onceClassifier{}, structured, 8, 300)

	state := &ConversationState{Credentials: testCredentials()}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "show projects", emit, &scriptedApprover{replies: []string{"yes"}})
	require.NoError(t, err)

	require.Equal(t, 1, tool.count())
	assert.Equal(t, 1, state.Iterations)

	// The extracted call got a generated id and the tool-call tag.
	var extracted *Message
	for i := range state.Messages {
		if len(state.Messages[i].ToolCalls) > 0 {
			extracted = &state.Messages[i]
		}
	}
	require.NotNil(t, extracted)
	assert.True(t, strings.HasPrefix(extracted.ToolCalls[0].ID, "chatcmpl-tool-"))
	assert.Equal(t, "tool_call", extracted.ToolCalls[0].Type)
}

func TestInvalidStructuredOutputIsMarked(t *testing.T) {
	reg := tools.NewToolRegistry()

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "Executing the check now."},
	}}

	// Three keys per element: fails all-or-nothing validation.
	structured := stubStructurer{reply: "[{'name': 'ping_test', 'args': {}, 'extra': 1}]"}
	m := newTestMachine(provider, reg, stubClassifier{imminent: true}, structured, 8, 300)

	state := &ConversationState{}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "check the host", emit, &scriptedApprover{})
	require.NoError(t, err)

	last := state.Last()
	require.NotNil(t, last)
	assert.True(t, strings.HasPrefix(last.Content, toolcall.InvalidInputPrefix))
	assert.Empty(t, last.ToolCalls)
	assert.Zero(t, state.Iterations)
}

func TestStructuredOutputWithoutListEndsTurn(t *testing.T) {
	reg := tools.NewToolRegistry()

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "I think we should check the disk."},
	}}

	m := newTestMachine(provider, reg, stubClassifier{imminent: true}, stubStructurer{reply: "no structured call here"}, 8, 300)

	state := &ConversationState{}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "disk problems", emit, &scriptedApprover{})
	require.NoError(t, err)

	last := state.Last()
	require.NotNil(t, last)
	assert.Equal(t, "I think we should check the disk.", last.Content)
	assert.Empty(t, emit.confirmations)
}

func TestIterationCeilingStopsTheLoop(t *testing.T) {
	tool := &captureTool{name: "list_users", result: "alice, bob"}
	reg := tools.NewToolRegistry()
	reg.Register(tool)

	// The sticky response always wants another tool call.
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		nativeCallResponse("list_users", nil),
	}}

	m := newTestMachine(provider, reg, stubClassifier{}, stubStructurer{}, 2, 300)

	state := &ConversationState{Credentials: testCredentials()}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "keep listing users", emit, &scriptedApprover{replies: []string{"yes"}})
	require.NoError(t, err)

	assert.Equal(t, 2, state.Iterations)
	assert.Equal(t, 2, tool.count())
}

func TestRecursionLimitFailsTheTurnOnly(t *testing.T) {
	tool := &captureTool{name: "list_users", result: "alice"}
	reg := tools.NewToolRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		nativeCallResponse("list_users", nil),
	}}

	m := newTestMachine(provider, reg, stubClassifier{}, stubStructurer{}, 100, 3)

	state := &ConversationState{Credentials: testCredentials()}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "list users forever", emit, &scriptedApprover{replies: []string{"yes"}})
	require.Error(t, err)

	var limitErr *RecursionLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.Limit)

	// The conversation state survives for the next turn.
	assert.NotEmpty(t, state.Messages)
}

func TestLLMFailureSurfacesAsLLMError(t *testing.T) {
	reg := tools.NewToolRegistry()
	m := newTestMachine(failingProvider{}, reg, stubClassifier{}, stubStructurer{}, 8, 300)

	state := &ConversationState{}
	err := m.RunTurn(context.Background(), state, "hello", &recordingEmitter{}, &scriptedApprover{})
	require.Error(t, err)

	var llmErr *LLMError
	assert.ErrorAs(t, err, &llmErr)
}

type failingProvider struct{}

func (failingProvider) Chat(context.Context, []providers.Message, []providers.ToolDefinition, string, map[string]any) (*providers.LLMResponse, error) {
	return nil, errors.New("upstream unavailable")
}

func (failingProvider) GetDefaultModel() string { return "test-model" }

func TestFormatToolResult(t *testing.T) {
	got := FormatToolResult("list_job_templates", "Deploy Web App\nBackup DB")

	assert.Contains(t, got, strings.Repeat("=", 60))
	assert.Contains(t, got, "📋 Tool Result: List Job Templates")
	assert.Contains(t, got, "Deploy Web App")
}

func TestPerCallErrorDoesNotAbortBatch(t *testing.T) {
	good := &captureTool{name: "list_projects", result: "infra"}
	reg := tools.NewToolRegistry()
	reg.Register(good)

	// Two calls: one for a missing tool, one for the registered tool.
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []protocoltypes.ToolCall{
			{ID: "call-1", Type: "tool_call", Name: "missing_tool", Arguments: map[string]any{}},
			{ID: "call-2", Type: "tool_call", Name: "list_projects", Arguments: map[string]any{}},
		}},
		{Content: "One failed, one succeeded."},
	}}

	m := newTestMachine(provider, reg, stubClassifier{}, stubStructurer{}, 8, 300)

	state := &ConversationState{Credentials: testCredentials()}
	emit := &recordingEmitter{}

	err := m.RunTurn(context.Background(), state, "run both", emit, &scriptedApprover{replies: []string{"yes"}})
	require.NoError(t, err)

	assert.Equal(t, 1, good.count(), "second call still runs after the first fails")
	assert.Equal(t, 1, state.Iterations, "counter advances once per batch, not per call")

	var toolContents []string
	for _, msg := range state.Messages {
		if msg.Role == RoleTool {
			toolContents = append(toolContents, msg.Content)
		}
	}
	require.Len(t, toolContents, 2)
	assert.True(t, strings.HasPrefix(toolContents[0], "Tool error: "))
	assert.Equal(t, "infra", toolContents[1])
}
