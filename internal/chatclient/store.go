package chatclient

import (
	"sort"
	"sync"

	"chat_delivery_service/internal/chat/domain"
)

// MessageStore chat-partitioned local message collection keyed by message
// id. Upsert-by-id is what makes at-least-once delivery safe to consume: a
// record seen twice replaces itself, and a pending placeholder is completed
// in place by a fuller record with the same id.
type MessageStore struct {
	mu    sync.RWMutex
	chats map[string]map[string]domain.Message
}

// NewMessageStore create an empty MessageStore
func NewMessageStore() *MessageStore {
	return &MessageStore{chats: make(map[string]map[string]domain.Message)}
}

// Upsert merges one message, true when the id was not seen before
func (s *MessageStore) Upsert(msg domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[msg.ChatID]
	if !ok {
		chat = make(map[string]domain.Message)
		s.chats[msg.ChatID] = chat
	}
	_, seen := chat[msg.MessageID]
	chat[msg.MessageID] = msg
	return !seen
}

// Messages snapshot of one chat, created_at ascending, id as tiebreaker
func (s *MessageStore) Messages(chatID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat := s.chats[chatID]
	msgs := make([]domain.Message, 0, len(chat))
	for _, m := range chat {
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return msgs[i].MessageID < msgs[j].MessageID
	})
	return msgs
}

// Len message count of one chat
func (s *MessageStore) Len(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats[chatID])
}
