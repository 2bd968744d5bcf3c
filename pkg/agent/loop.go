package agent

import (
	"context"
	"sync"
	"time"

	"github.com/aapchat/aapchat/pkg/bus"
	"github.com/aapchat/aapchat/pkg/logger"
	"github.com/aapchat/aapchat/pkg/session"
)

// defaultConfirmationTimeout bounds how long a turn stays suspended waiting
// for a confirmation reply before it counts as declined.
const defaultConfirmationTimeout = 10 * time.Minute

// conversation is the per-client state: the message log plus the channel
// that feeds confirmation replies into a suspended turn. The busy mutex
// keeps turns for one conversation strictly sequential.
type conversation struct {
	state   ConversationState
	replies chan string
	busy    sync.Mutex
}

// Loop consumes the inbound side of the message bus, runs each user message
// through the state machine, and emits protocol events on the outbound
// side. Conversations are isolated; the session store and machine are
// shared.
type Loop struct {
	bus     *bus.MessageBus
	machine *Machine
	store   *session.Store

	confirmationTimeout time.Duration

	mu            sync.Mutex
	conversations map[string]*conversation
}

func NewLoop(b *bus.MessageBus, machine *Machine, store *session.Store) *Loop {
	return &Loop{
		bus:                 b,
		machine:             machine,
		store:               store,
		confirmationTimeout: defaultConfirmationTimeout,
		conversations:       make(map[string]*conversation),
	}
}

// Run blocks consuming inbound messages until the context is done. User
// messages each run on their own goroutine so a suspended approval gate in
// one conversation never stalls another.
func (l *Loop) Run(ctx context.Context) error {
	logger.InfoC("agent", "Agent loop started")
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			return ctx.Err()
		}

		switch msg.Kind {
		case bus.InboundUserMessage:
			go l.handleUserMessage(ctx, msg)
		case bus.InboundConfirmationResponse:
			l.deliverReply(msg)
		default:
			logger.WarnCF("agent", "Unknown inbound message kind", map[string]any{"kind": msg.Kind})
		}
	}
}

func (l *Loop) handleUserMessage(ctx context.Context, msg bus.InboundMessage) {
	conv := l.conversation(msg.Channel, msg.ChatID)
	conv.busy.Lock()
	defer conv.busy.Unlock()

	emit := &busEmitter{bus: l.bus, channel: msg.Channel, chatID: msg.ChatID}

	if l.store != nil {
		sess, err := l.store.Get(msg.SessionKey)
		if err != nil {
			logger.WarnCF("agent", "Rejected turn without valid session", map[string]any{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
			emit.Error("Authentication required. Please login again.")
			return
		}
		conv.state.Credentials = sess.Credentials
	}

	approver := &channelApprover{replies: conv.replies, timeout: l.confirmationTimeout}

	if err := l.machine.RunTurn(ctx, &conv.state, msg.Content, emit, approver); err != nil {
		logger.ErrorCF("agent", "Turn failed", map[string]any{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		emit.Error(UserFacingError(err))
	}
}

// deliverReply routes a confirmation response into its conversation's
// suspended turn. A reply with no waiting turn is dropped.
func (l *Loop) deliverReply(msg bus.InboundMessage) {
	conv := l.conversation(msg.Channel, msg.ChatID)
	select {
	case conv.replies <- msg.Content:
	default:
		logger.WarnCF("agent", "Dropped confirmation reply with no pending request", map[string]any{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
		})
	}
}

func (l *Loop) conversation(channel, chatID string) *conversation {
	key := channel + ":" + chatID

	l.mu.Lock()
	defer l.mu.Unlock()

	conv, ok := l.conversations[key]
	if !ok {
		conv = &conversation{replies: make(chan string, 1)}
		l.conversations[key] = conv
	}
	return conv
}

// channelApprover satisfies Approver by waiting on the conversation's reply
// channel.
type channelApprover struct {
	replies chan string
	timeout time.Duration
}

func (a *channelApprover) Confirm(ctx context.Context) (string, error) {
	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case reply := <-a.replies:
		return reply, nil
	case <-timer.C:
		return "", context.DeadlineExceeded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// busEmitter publishes protocol events for one conversation.
type busEmitter struct {
	bus     *bus.MessageBus
	channel string
	chatID  string
}

func (e *busEmitter) publish(msg bus.OutboundMessage) {
	msg.Channel = e.channel
	msg.ChatID = e.chatID
	e.bus.PublishOutbound(msg)
}

func (e *busEmitter) AssistantMessage(content string) {
	e.publish(bus.OutboundMessage{Kind: bus.OutboundAssistantMessage, Content: content})
}

func (e *busEmitter) ToolCall(name string, redactedArgs map[string]any) {
	e.publish(bus.OutboundMessage{Kind: bus.OutboundToolCall, Name: name, Args: redactedArgs})
}

func (e *busEmitter) ConfirmationRequest(content, messageID string) {
	e.publish(bus.OutboundMessage{Kind: bus.OutboundConfirmationRequest, Content: content, MessageID: messageID})
}

func (e *busEmitter) ToolResult(toolName, result string) {
	e.publish(bus.OutboundMessage{Kind: bus.OutboundToolResult, ToolName: toolName, Result: result})
}

func (e *busEmitter) Error(content string) {
	e.publish(bus.OutboundMessage{Kind: bus.OutboundError, Content: content})
}
