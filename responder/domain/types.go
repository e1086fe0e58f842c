package domain

import (
	"fmt"
	"time"
)

// Role identifies who authored a message within a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversational turn.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EstimatedTokens approximates the token cost of a message.
// Rough heuristic: one token per four characters, rounded up.
func (m Message) EstimatedTokens() int {
	if len(m.Text) == 0 {
		return 0
	}
	return (len(m.Text) + 3) / 4
}

// ConversationKey addresses one conversation: a (channel, user) pair.
// UserID is empty for the channel-wide log.
type ConversationKey struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

func (k ConversationKey) String() string {
	return k.ChannelID + "|" + k.UserID
}

// Conversation is the bounded message history for one key, plus per-turn
// metadata (resolved system prompt, channel snapshot).
type Conversation struct {
	Key        ConversationKey   `json:"key"`
	Messages   []Message         `json:"messages"`
	ThreadID   string            `json:"thread_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	LastActive time.Time         `json:"last_active"`
}

// LastMessages returns up to n most recent messages in original order.
func (c *Conversation) LastMessages(n int) []Message {
	if c == nil || n <= 0 || len(c.Messages) == 0 {
		return nil
	}
	if len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// UsageStats carries the token accounting reported (or estimated) for a
// completion.
type UsageStats struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ChatRequest is the provider-agnostic completion request. PromptText is
// already template-rendered; the adapter owns translation into the vendor's
// message format.
type ChatRequest struct {
	SystemPrompt   string
	ChannelContext string
	History        []Message
	PromptText     string
	Model          string
	Grounding      bool
	Temperature    float64
	MaxTokens      int
}

// Completion is the provider-agnostic generation result.
type Completion struct {
	Text      string     `json:"text"`
	ModelID   string     `json:"model_id"`
	Provider  string     `json:"provider"`
	Usage     UsageStats `json:"usage"`
	Grounded  bool       `json:"grounded"`
	Cached    bool       `json:"cached"`
	CreatedAt time.Time  `json:"created_at"`
}

// GenerateRequest is what the chat-platform adapter hands to the engine for
// one inbound message.
type GenerateRequest struct {
	ChannelID       string            `json:"channel_id"`
	UserID          string            `json:"user_id"`
	Text            string            `json:"text"`
	IsDirectMessage bool              `json:"is_direct_message"`
	ThreadID        string            `json:"thread_id,omitempty"`
	TemplateID      string            `json:"template_id,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
	TraceID         string            `json:"trace_id,omitempty"`
}

// Key returns the conversation key for this request.
func (r GenerateRequest) Key() ConversationKey {
	return ConversationKey{ChannelID: r.ChannelID, UserID: r.UserID}
}

// Validate checks the minimum shape an inbound request must have.
func (r GenerateRequest) Validate() error {
	if r.ChannelID == "" {
		return fmt.Errorf("channel_id: cannot be blank")
	}
	if r.UserID == "" {
		return fmt.Errorf("user_id: cannot be blank")
	}
	if r.Text == "" && r.TemplateID == "" {
		return fmt.Errorf("text: cannot be blank without a template_id")
	}
	return nil
}

// Capabilities describes what a provider adapter can do. The orchestrator
// never asks an adapter to do something it reports false for.
type Capabilities struct {
	ToolCalls       bool `json:"tool_calls"`
	NativeGrounding bool `json:"native_grounding"`
}
