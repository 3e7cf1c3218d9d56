package shopassist

import (
	"context"
	"sync"
	"time"
)

type inMemoryChat struct {
	session  ChatSession
	messages []ChatMessage
}

// InMemoryChatHistoryStorage is an in-memory implementation of ChatHistoryStorage
type InMemoryChatHistoryStorage struct {
	conversations map[string]*inMemoryChat
	mu            sync.RWMutex
	now           func() time.Time
}

// NewInMemoryChatHistoryStorage creates a new instance of InMemoryChatHistoryStorage
func NewInMemoryChatHistoryStorage() *InMemoryChatHistoryStorage {
	return &InMemoryChatHistoryStorage{
		conversations: make(map[string]*inMemoryChat),
		now:           time.Now,
	}
}

// GetMessages returns a copy of the session's messages.
func (s *InMemoryChatHistoryStorage) GetMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.conversations[sessionID]
	if !exists {
		return []ChatMessage{}, nil
	}

	return append([]ChatMessage(nil), chat.messages...), nil
}

// AddMessage adds a new message, creating the conversation on first use.
func (s *InMemoryChatHistoryStorage) AddMessage(ctx context.Context, sessionID string, message ChatMessage, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	chat, exists := s.conversations[sessionID]
	if !exists {
		chat = &inMemoryChat{session: ChatSession{SessionID: sessionID, CreatedAt: now}}
		s.conversations[sessionID] = chat
	}

	if message.Timestamp.IsZero() {
		message.Timestamp = now
	}
	message.Content = append([]ContentPart(nil), message.Content...)

	chat.messages = append(chat.messages, message)
	chat.session.UpdatedAt = now
	chat.session.Version++
	if userID != "" {
		chat.session.UserID = userID
	}
	return nil
}

// ClearHistory removes a conversation. Unknown sessions are ignored.
func (s *InMemoryChatHistoryStorage) ClearHistory(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, sessionID)
	return nil
}

// GetSession returns a copy of the session metadata.
func (s *InMemoryChatHistoryStorage) GetSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.conversations[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	session := chat.session
	return &session, nil
}
