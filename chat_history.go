package shopassist

import (
	"context"
	"encoding/json"
	"time"
)

// ChatRole is the author of a stored chat message.
type ChatRole string

const (
	HumanRole ChatRole = "human"
	AIRole    ChatRole = "ai"
)

// ChatMessage is one stored turn. Messages are append-only and never reordered.
type ChatMessage struct {
	Role      ChatRole
	Content   []ContentPart
	Timestamp time.Time
}

// NewHumanMessage builds a human message from optional text and an optional image.
func NewHumanMessage(text string, image *ImagePart, at time.Time) ChatMessage {
	var content []ContentPart
	if text != "" {
		content = append(content, TextPart{Text: text})
	}
	if image != nil && len(image.Data) > 0 {
		content = append(content, *image)
	}
	return ChatMessage{Role: HumanRole, Content: content, Timestamp: at}
}

// NewAIMessage builds a text-only AI message.
func NewAIMessage(text string, at time.Time) ChatMessage {
	return ChatMessage{Role: AIRole, Content: Text(text), Timestamp: at}
}

// IsValid reports whether the message has non-blank text or a non-empty image.
func (m ChatMessage) IsValid() bool {
	return HasContent(m.Content)
}

type chatMessageJSON struct {
	Role      ChatRole          `json:"role"`
	Content   []contentPartJSON `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
}

// MarshalJSON encodes content as a list of typed parts.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	raw, err := marshalContent(m.Content)
	if err != nil {
		return nil, err
	}
	var parts []contentPartJSON
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	return json.Marshal(chatMessageJSON{Role: m.Role, Content: parts, Timestamp: m.Timestamp})
}

// ChatSession is the metadata of a conversation. It is created by the first AddMessage
// and removed only by ClearHistory.
type ChatSession struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Version is bumped on every append.
	Version int64 `json:"version"`
}

// ChatHistoryStorage defines the interface for conversation history storage
type ChatHistoryStorage interface {
	// GetMessages returns the session's messages in append order. Unknown sessions yield an empty slice.
	GetMessages(ctx context.Context, sessionID string) ([]ChatMessage, error)

	// AddMessage appends message, creating the session if needed. userID is recorded when non-empty.
	AddMessage(ctx context.Context, sessionID string, message ChatMessage, userID string) error

	// ClearHistory deletes the session and its messages. Clearing an unknown session is not an error.
	ClearHistory(ctx context.Context, sessionID string) error

	// GetSession returns session metadata or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*ChatSession, error)
}

// ValidMessages returns the messages that carry usable content. The input is not modified.
func ValidMessages(messages []ChatMessage) []ChatMessage {
	valid := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.IsValid() {
			valid = append(valid, m)
		}
	}
	return valid
}

// ToLLMMessages maps stored messages onto backend roles: human to user, ai to assistant.
func ToLLMMessages(messages []ChatMessage) []LLMMessage {
	out := make([]LLMMessage, 0, len(messages))
	for _, m := range messages {
		role := UserRole
		if m.Role == AIRole {
			role = AssistantRole
		}
		out = append(out, LLMMessage{Role: role, Content: m.Content})
	}
	return out
}
