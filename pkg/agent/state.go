// Package agent implements the conversation state machine: it turns user
// input into LLM turns, extracts and validates tool calls from free text,
// gates execution behind human approval, and executes approved batches.
package agent

import (
	"github.com/google/uuid"

	"github.com/aapchat/aapchat/pkg/providers/protocoltypes"
	"github.com/aapchat/aapchat/pkg/session"
)

type Role string

const (
	RoleHuman  Role = "user"
	RoleAI     Role = "assistant"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// Message is one entry in the conversation log. Tool messages reference the
// tool call they answer via ToolCallID.
type Message struct {
	ID         string
	Role       Role
	Content    string
	ToolCalls  []protocoltypes.ToolCall
	ToolCallID string
	Name       string
}

func NewHumanMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleHuman, Content: content}
}

func NewAIMessage(content string, calls []protocoltypes.ToolCall) Message {
	return Message{ID: uuid.NewString(), Role: RoleAI, Content: content, ToolCalls: calls}
}

func NewToolMessage(callID, name, content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// ConversationState is one conversation's full mutable state. Turns for the
// same conversation run strictly sequentially, so no internal locking.
type ConversationState struct {
	Messages    []Message
	Iterations  int
	UserInputs  []string
	Credentials session.CredentialContext
}

// Merge appends messages to the log with last-write-wins semantics: a
// message whose id already exists replaces the earlier one in place, so the
// original ordering is preserved.
func (s *ConversationState) Merge(msgs ...Message) {
	for _, msg := range msgs {
		replaced := false
		for i := range s.Messages {
			if s.Messages[i].ID == msg.ID {
				s.Messages[i] = msg
				replaced = true
				break
			}
		}
		if !replaced {
			s.Messages = append(s.Messages, msg)
		}
	}
}

// Last returns the most recent message, or nil on an empty log.
func (s *ConversationState) Last() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}
