package kernel

import (
	"github.com/cecil-the-coder/ai-provider-kit/pkg/types"

	"github.com/papercomputeco/chatstream/pkg/llm"
)

// ChatHistory accumulates the messages of one invocation.
type ChatHistory struct {
	messages []llm.Message
}

// NewChatHistory returns an empty history.
func NewChatHistory() *ChatHistory {
	return &ChatHistory{}
}

func (h *ChatHistory) add(role llm.Role, content string) *ChatHistory {
	h.messages = append(h.messages, llm.Message{Role: role, Content: content})
	return h
}

func (h *ChatHistory) AddSystemMessage(content string) *ChatHistory {
	return h.add(llm.RoleSystem, content)
}

func (h *ChatHistory) AddUserMessage(content string) *ChatHistory {
	return h.add(llm.RoleUser, content)
}

func (h *ChatHistory) AddAssistantMessage(content string) *ChatHistory {
	return h.add(llm.RoleAssistant, content)
}

// Messages returns a copy of the accumulated messages.
func (h *ChatHistory) Messages() llm.Transcript {
	return append(llm.Transcript(nil), h.messages...)
}

func (h *ChatHistory) Len() int { return len(h.messages) }

func (h *ChatHistory) chatMessages() []types.ChatMessage {
	msgs := make([]types.ChatMessage, 0, len(h.messages))
	for _, m := range h.messages {
		msgs = append(msgs, types.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

// TranscriptFrom converts provider chat messages back into a transcript.
func TranscriptFrom(msgs []types.ChatMessage) llm.Transcript {
	t := make(llm.Transcript, 0, len(msgs))
	for _, m := range msgs {
		t = append(t, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return t
}
