package app

import (
	"context"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"

	"github.com/stretchr/testify/mock"
)

// MockMembershipRepository Mock MembershipRepository
type MockMembershipRepository struct {
	mock.Mock
}

// ParticipantsForChat moke list chat participants
func (m *MockMembershipRepository) ParticipantsForChat(ctx context.Context, chatID string) ([]domain.ChatParticipant, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.ChatParticipant), args.Error(1)
	}
	return nil, args.Error(1)
}

// ChatsForParticipant moke list chats of one participant
func (m *MockMembershipRepository) ChatsForParticipant(ctx context.Context, participantID string) ([]string, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// IsParticipant moke membership check
func (m *MockMembershipRepository) IsParticipant(ctx context.Context, chatID, participantID string) (bool, error) {
	args := m.Called(ctx, chatID, participantID)
	return args.Bool(0), args.Error(1)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// Append moke append msg
func (m *MockMessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// FindByID moke find msg by id
func (m *MockMessageRepository) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindByChatBefore moke find chat history
func (m *MockMessageRepository) FindByChatBefore(ctx context.Context, chatID string, before int64, limit int64) ([]domain.Message, error) {
	args := m.Called(ctx, chatID, before, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateUploadStatus moke update upload status
func (m *MockMessageRepository) UpdateUploadStatus(ctx context.Context, messageID string, status domain.UploadStatus, bucket, key string) error {
	args := m.Called(ctx, messageID, status, bucket, key)
	return args.Error(0)
}

// MockInboxRepository Mock InboxRepository
type MockInboxRepository struct {
	mock.Mock
}

// Fanout moke inbox fanout
func (m *MockInboxRepository) Fanout(ctx context.Context, entries []domain.InboxEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

// ListByRecipient moke list inbox entries
func (m *MockInboxRepository) ListByRecipient(ctx context.Context, recipientID string) ([]domain.InboxEntry, error) {
	args := m.Called(ctx, recipientID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.InboxEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

// Retire moke retire inbox entry
func (m *MockInboxRepository) Retire(ctx context.Context, recipientID, messageID string) (bool, error) {
	args := m.Called(ctx, recipientID, messageID)
	return args.Bool(0), args.Error(1)
}

// MockPubSub Mock PubSub
type MockPubSub struct {
	mock.Mock
}

// Publish moke publisher
func (m *MockPubSub) Publish(ctx context.Context, channel string, payload interface{}) error {
	args := m.Called(ctx, channel, payload)
	return args.Error(0)
}

// Subscribe moke subscriber
func (m *MockPubSub) Subscribe(ctx context.Context, channels ...string) (repository.Subscription, error) {
	args := m.Called(ctx, channels)
	if args.Get(0) != nil {
		return args.Get(0).(repository.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}
