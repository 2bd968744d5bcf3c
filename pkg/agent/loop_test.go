package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aapchat/aapchat/pkg/bus"
	"github.com/aapchat/aapchat/pkg/providers"
	"github.com/aapchat/aapchat/pkg/session"
	"github.com/aapchat/aapchat/pkg/tools"
)

func collectOutbound(t *testing.T, b *bus.MessageBus, want int) []bus.OutboundMessage {
	t.Helper()
	var got []bus.OutboundMessage
	for len(got) < want {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		msg, ok := b.SubscribeOutbound(ctx)
		cancel()
		if !ok {
			t.Fatalf("timed out waiting for outbound messages, got %d of %d: %+v", len(got), want, got)
		}
		got = append(got, msg)
	}
	return got
}

func TestLoopRunsTurnAndRoutesConfirmation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := &captureTool{name: "list_projects", result: "infra"}
	reg := tools.NewToolRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		nativeCallResponse("list_projects", nil),
		{Content: "You have one project."},
	}}

	machine := newTestMachine(provider, reg, stubClassifier{}, stubStructurer{}, 8, 300)

	store := session.NewStore(time.Hour)
	sess := store.Create("admin", session.CredentialContext{
		Token:      "tok",
		AuthScheme: "bearer",
		BaseURL:    "https://aap.example.com",
		Username:   "admin",
	})

	b := bus.NewMessageBus()
	loop := NewLoop(b, machine, store)
	go func() { _ = loop.Run(ctx) }()

	b.PublishInbound(bus.InboundMessage{
		Channel:    "websocket",
		ChatID:     "client-1",
		Kind:       bus.InboundUserMessage,
		Content:    "list projects",
		SessionKey: sess.Token,
	})

	// tool_call presentation then the confirmation request.
	first := collectOutbound(t, b, 2)
	assert.Equal(t, bus.OutboundToolCall, first[0].Kind)
	assert.Equal(t, "list_projects", first[0].Name)
	require.Equal(t, bus.OutboundConfirmationRequest, first[1].Kind)
	assert.Equal(t, ConfirmationMessageID, first[1].MessageID)

	b.PublishInbound(bus.InboundMessage{
		Channel: "websocket",
		ChatID:  "client-1",
		Kind:    bus.InboundConfirmationResponse,
		Content: "yes",
	})

	// Proceeding notice, tool result, final assistant message.
	rest := collectOutbound(t, b, 3)
	assert.Equal(t, bus.OutboundAssistantMessage, rest[0].Kind)
	assert.Equal(t, ProceedingMessage, rest[0].Content)
	assert.Equal(t, bus.OutboundToolResult, rest[1].Kind)
	assert.Contains(t, rest[1].Result, "Tool Result: List Projects")
	assert.Equal(t, bus.OutboundAssistantMessage, rest[2].Kind)

	assert.Equal(t, 1, tool.count())
	assert.Equal(t, "tok", tool.executed[0][tools.ArgToken])
}

func TestLoopRejectsInvalidSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	machine := newTestMachine(&scriptedProvider{}, tools.NewToolRegistry(), stubClassifier{}, stubStructurer{}, 8, 300)
	store := session.NewStore(time.Hour)

	b := bus.NewMessageBus()
	loop := NewLoop(b, machine, store)
	go func() { _ = loop.Run(ctx) }()

	b.PublishInbound(bus.InboundMessage{
		Channel:    "websocket",
		ChatID:     "client-2",
		Kind:       bus.InboundUserMessage,
		Content:    "hello",
		SessionKey: "no-such-session",
	})

	got := collectOutbound(t, b, 1)
	assert.Equal(t, bus.OutboundError, got[0].Kind)
	assert.Equal(t, "Authentication required. Please login again.", got[0].Content)
}

func TestChannelApproverTimesOut(t *testing.T) {
	a := &channelApprover{replies: make(chan string), timeout: 10 * time.Millisecond}

	_, err := a.Confirm(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelApproverDeliversReply(t *testing.T) {
	replies := make(chan string, 1)
	replies <- "yes"

	a := &channelApprover{replies: replies, timeout: time.Second}
	reply, err := a.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "yes", reply)
}
