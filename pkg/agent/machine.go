package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aapchat/aapchat/pkg/logger"
	"github.com/aapchat/aapchat/pkg/providers"
	"github.com/aapchat/aapchat/pkg/redaction"
	"github.com/aapchat/aapchat/pkg/toolcall"
	"github.com/aapchat/aapchat/pkg/tools"
)

// Emitter delivers protocol events to the conversation's human channel.
type Emitter interface {
	AssistantMessage(content string)
	ToolCall(name string, redactedArgs map[string]any)
	ConfirmationRequest(content, messageID string)
	ToolResult(toolName, result string)
	Error(content string)
}

// Approver blocks until the human answers a pending confirmation request.
// An error return (disconnect, timeout) counts as a negative reply.
type Approver interface {
	Confirm(ctx context.Context) (string, error)
}

type node int

const (
	nodeSummarize node = iota
	nodeGenerate
	nodeAnalyze
	nodeAct
	nodeEnd
)

// toolListRe mines the structuring oracle's reply for the outermost list.
var toolListRe = regexp.MustCompile(`(?s)(\[.*\])`)

// Machine is the per-process state machine. It holds no conversation state;
// callers thread a ConversationState through RunTurn, so one Machine serves
// every channel concurrently.
type Machine struct {
	provider   providers.LLMProvider
	model      string
	maxTokens  int
	classifier Classifier
	structurer Structurer
	registry   *tools.ToolRegistry

	maxIterations  int
	recursionLimit int
}

type MachineOptions struct {
	Provider       providers.LLMProvider
	Model          string
	MaxTokens      int
	Classifier     Classifier
	Structurer     Structurer
	Registry       *tools.ToolRegistry
	MaxIterations  int
	RecursionLimit int
}

func NewMachine(opts MachineOptions) *Machine {
	m := &Machine{
		provider:       opts.Provider,
		model:          opts.Model,
		maxTokens:      opts.MaxTokens,
		classifier:     opts.Classifier,
		structurer:     opts.Structurer,
		registry:       opts.Registry,
		maxIterations:  opts.MaxIterations,
		recursionLimit: opts.RecursionLimit,
	}
	if m.maxIterations <= 0 {
		m.maxIterations = 8
	}
	if m.recursionLimit <= 0 {
		m.recursionLimit = 300
	}
	return m
}

// RunTurn processes one user input to completion:
// Summarize -> GenerateResponse -> Analyze -> {Act | Summarize | Terminate},
// Act -> GenerateResponse. The step ceiling guarantees termination even
// under pathological LLM output; exceeding it fails this turn only.
func (m *Machine) RunTurn(ctx context.Context, state *ConversationState, input string, emit Emitter, approve Approver) error {
	state.UserInputs = append(state.UserInputs, input)
	state.Iterations = 0

	steps := 0
	current := nodeSummarize

	for current != nodeEnd {
		steps++
		if steps > m.recursionLimit {
			return &RecursionLimitError{Limit: m.recursionLimit}
		}

		switch current {
		case nodeSummarize:
			state.Merge(NewHumanMessage(fmt.Sprintf(userInputTemplate, input)))
			current = nodeGenerate

		case nodeGenerate:
			msg, err := m.generate(ctx, state)
			if err != nil {
				return &LLMError{Err: err}
			}
			state.Merge(msg)
			if strings.TrimSpace(msg.Content) != "" {
				emit.AssistantMessage(redaction.Redact(msg.Content))
			}
			current = nodeAnalyze

		case nodeAnalyze:
			m.analyze(ctx, state)
			current = m.decide(state)

		case nodeAct:
			current = m.act(ctx, state, emit, approve)
		}
	}
	return nil
}

// generate invokes the primary LLM bound to the tool schema, with the
// system prompt assembled from the static instruction plus the discovered
// catalog.
func (m *Machine) generate(ctx context.Context, state *ConversationState) (Message, error) {
	messages := make([]providers.Message, 0, len(state.Messages)+1)
	messages = append(messages, providers.Message{
		Role:    string(RoleSystem),
		Content: BuildSystemPrompt(m.registry.DescribeCatalog()),
	})
	messages = append(messages, toProviderMessages(state.Messages)...)

	var options map[string]any
	if m.maxTokens > 0 {
		options = map[string]any{"max_tokens": m.maxTokens}
	}

	resp, err := m.provider.Chat(ctx, messages, m.registry.ToProviderDefs(), m.model, options)
	if err != nil {
		return Message{}, err
	}
	return NewAIMessage(resp.Content, resp.ToolCalls), nil
}

// analyze inspects the newest AI message. Native tool calls pass through
// unchanged. Otherwise the classifier judges whether execution is imminent;
// if so, the structurer rewrites the intent as tool-call JSON, which is
// mined, extracted and validated. A valid result becomes a fresh AI message
// carrying the calls; an invalid one becomes a marked AI message visible to
// the operator.
func (m *Machine) analyze(ctx context.Context, state *ConversationState) {
	last := state.Last()
	if last == nil || last.Role != RoleAI || len(last.ToolCalls) > 0 {
		return
	}

	imminent, err := m.classifier.Classify(ctx, last.Content)
	if err != nil {
		logger.WarnCF("agent", "classification oracle failed", map[string]any{"error": err.Error()})
		return
	}
	if !imminent {
		return
	}

	raw, err := m.structurer.Structure(ctx, last.Content)
	if err != nil {
		logger.WarnCF("agent", "structuring oracle failed", map[string]any{"error": err.Error()})
		return
	}

	match := toolListRe.FindStringSubmatch(raw)
	if match == nil {
		return
	}
	candidate := strings.TrimSpace(match[1])

	calls, valid := toolcall.Parse(candidate, "")
	if !valid {
		state.Merge(NewAIMessage(toolcall.InvalidInputPrefix+candidate, nil))
		return
	}
	state.Merge(NewAIMessage("", calls))
}

// decide is the transition function out of Analyze.
func (m *Machine) decide(state *ConversationState) node {
	if state.Iterations >= m.maxIterations {
		return nodeEnd
	}

	last := state.Last()
	if last == nil {
		return nodeEnd
	}
	if last.Role == RoleAI && len(last.ToolCalls) == 0 {
		return nodeEnd
	}
	if len(last.ToolCalls) > 0 {
		return nodeAct
	}
	return nodeSummarize
}

// act runs the approval gate and, on an affirmative reply, executes the
// batch. Credentials merge into arguments only here, never in the
// presentation, and each call's failure becomes its own Tool message.
// Cancellation rewrites the pending AI message in place and skips the
// iteration counter.
func (m *Machine) act(ctx context.Context, state *ConversationState, emit Emitter, approve Approver) node {
	pending := state.Last()
	calls := pending.ToolCalls

	for _, call := range calls {
		emit.ToolCall(call.Name, redaction.RedactArgs(call.Arguments))
	}
	emit.ConfirmationRequest(ConfirmationPrompt, ConfirmationMessageID)

	reply, err := approve.Confirm(ctx)
	if err != nil {
		logger.WarnCF("agent", "confirmation failed, treating as declined", map[string]any{"error": err.Error()})
		reply = "no"
	}

	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "yes", "y":
	default:
		emit.AssistantMessage(CancelledMessage)

		cancelled := *pending
		cancelled.Content = CancellationNotice
		cancelled.ToolCalls = nil
		state.Merge(cancelled)
		return nodeAnalyze
	}

	emit.AssistantMessage(ProceedingMessage)

	results := make([]Message, 0, len(calls))
	for _, call := range calls {
		args := tools.InjectCredentials(call.Arguments, state.Credentials)

		result := m.registry.Execute(ctx, call.Name, args)
		content := result.ForLLM
		if result.Err != nil {
			content = fmt.Sprintf("Tool error: %v", result.Err)
		}

		results = append(results, NewToolMessage(call.ID, call.Name, content))
		emit.ToolResult(call.Name, FormatToolResult(call.Name, redaction.Redact(content)))
	}

	state.Merge(results...)
	state.Iterations++
	return nodeGenerate
}

// FormatToolResult renders one tool outcome for the human channel.
func FormatToolResult(toolName, text string) string {
	words := strings.Split(toolName, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	display := strings.Join(words, " ")

	separator := strings.Repeat("=", 60)
	return fmt.Sprintf("\n%s\n📋 Tool Result: %s\n%s\n\n%s", separator, display, separator, strings.TrimSpace(text))
}

func toProviderMessages(msgs []Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, providers.Message{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
		})
	}
	return out
}
