package app

import (
	"context"
	"errors"
	"os"
	"testing"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

func participants(chatID string, ids ...string) []domain.ChatParticipant {
	ps := make([]domain.ChatParticipant, 0, len(ids))
	for _, id := range ids {
		ps = append(ps, domain.ChatParticipant{ChatID: chatID, ParticipantID: id})
	}
	return ps
}

// 測試 SendMessageUseCase.Execute
func TestSendMessageUseCase_Execute(t *testing.T) {
	ctx := context.Background()
	chatID := uuid.New().String()
	senderID := uuid.New().String()
	content := "Hello, world!"

	mockMembership := new(MockMembershipRepository)
	mockMsgRepo := new(MockMessageRepository)
	mockInboxRepo := new(MockInboxRepository)
	mockPubSub := new(MockPubSub)

	mockMembership.On("IsParticipant", ctx, chatID, senderID).Return(true, nil)
	mockMsgRepo.On("Append", ctx, mock.Anything).Return(nil)
	mockMembership.On("ParticipantsForChat", ctx, chatID).
		Return(participants(chatID, senderID, "member-2", "member-3"), nil)

	// fanout 每位接收者一筆，寄件者自己不算
	mockInboxRepo.On("Fanout", ctx, mock.MatchedBy(func(entries []domain.InboxEntry) bool {
		if len(entries) != 2 {
			return false
		}
		for _, e := range entries {
			if e.RecipientID == senderID || e.ChatID != chatID {
				return false
			}
		}
		return true
	})).Return(nil)

	mockPubSub.On("Publish", ctx, "chat:"+chatID, mock.Anything).Return(nil)

	uc := NewSendMessageUseCase(mockMembership, mockMsgRepo, mockInboxRepo, mockPubSub)
	msg, err := uc.Execute(ctx, senderID, chatID, content, nil)

	assert.NoError(t, err)
	assert.NotNil(t, msg)
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, senderID, msg.SenderID)
	assert.Equal(t, content, msg.Content)
	assert.NotZero(t, msg.CreatedAt)

	mockMembership.AssertExpectations(t)
	mockMsgRepo.AssertExpectations(t)
	mockInboxRepo.AssertExpectations(t)
	mockPubSub.AssertExpectations(t)
}

// 測試非成員不能發送
func TestSendMessageUseCase_Execute_NotParticipant(t *testing.T) {
	ctx := context.Background()
	chatID := uuid.New().String()
	senderID := uuid.New().String()

	mockMembership := new(MockMembershipRepository)
	mockMsgRepo := new(MockMessageRepository)
	mockInboxRepo := new(MockInboxRepository)
	mockPubSub := new(MockPubSub)

	mockMembership.On("IsParticipant", ctx, chatID, senderID).Return(false, nil)

	uc := NewSendMessageUseCase(mockMembership, mockMsgRepo, mockInboxRepo, mockPubSub)
	msg, err := uc.Execute(ctx, senderID, chatID, "hi", nil)

	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Nil(t, msg)
	mockMsgRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

// 測試空訊息
func TestSendMessageUseCase_Execute_EmptyContent(t *testing.T) {
	uc := NewSendMessageUseCase(new(MockMembershipRepository), new(MockMessageRepository), new(MockInboxRepository), new(MockPubSub))
	msg, err := uc.Execute(context.Background(), "u1", "c1", "", nil)

	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Nil(t, msg)
}

// 測試 fanout 失敗時發送失敗，不會 publish
func TestSendMessageUseCase_Execute_FanoutFails(t *testing.T) {
	ctx := context.Background()
	chatID := uuid.New().String()
	senderID := uuid.New().String()

	mockMembership := new(MockMembershipRepository)
	mockMsgRepo := new(MockMessageRepository)
	mockInboxRepo := new(MockInboxRepository)
	mockPubSub := new(MockPubSub)

	mockMembership.On("IsParticipant", ctx, chatID, senderID).Return(true, nil)
	mockMsgRepo.On("Append", ctx, mock.Anything).Return(nil)
	mockMembership.On("ParticipantsForChat", ctx, chatID).
		Return(participants(chatID, senderID, "member-2"), nil)
	mockInboxRepo.On("Fanout", ctx, mock.Anything).Return(errors.New("dynamo throttled"))

	uc := NewSendMessageUseCase(mockMembership, mockMsgRepo, mockInboxRepo, mockPubSub)
	msg, err := uc.Execute(ctx, senderID, chatID, "hi", nil)

	assert.Error(t, err)
	assert.Nil(t, msg)
	mockPubSub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

// 測試 publish 失敗不影響發送結果
func TestSendMessageUseCase_Execute_PublishFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	chatID := uuid.New().String()
	senderID := uuid.New().String()

	mockMembership := new(MockMembershipRepository)
	mockMsgRepo := new(MockMessageRepository)
	mockInboxRepo := new(MockInboxRepository)
	mockPubSub := new(MockPubSub)

	mockMembership.On("IsParticipant", ctx, chatID, senderID).Return(true, nil)
	mockMsgRepo.On("Append", ctx, mock.Anything).Return(nil)
	mockMembership.On("ParticipantsForChat", ctx, chatID).
		Return(participants(chatID, senderID, "member-2"), nil)
	mockInboxRepo.On("Fanout", ctx, mock.Anything).Return(nil)
	mockPubSub.On("Publish", ctx, "chat:"+chatID, mock.Anything).Return(errors.New("broker down"))

	uc := NewSendMessageUseCase(mockMembership, mockMsgRepo, mockInboxRepo, mockPubSub)
	msg, err := uc.Execute(ctx, senderID, chatID, "hi", nil)

	assert.NoError(t, err)
	assert.NotNil(t, msg)
}

// 測試附件訊息初始為 PENDING
func TestSendMessageUseCase_Execute_WithAttachment(t *testing.T) {
	ctx := context.Background()
	chatID := uuid.New().String()
	senderID := uuid.New().String()

	mockMembership := new(MockMembershipRepository)
	mockMsgRepo := new(MockMessageRepository)
	mockInboxRepo := new(MockInboxRepository)
	mockPubSub := new(MockPubSub)

	mockMembership.On("IsParticipant", ctx, chatID, senderID).Return(true, nil)
	mockMsgRepo.On("Append", ctx, mock.MatchedBy(func(msg *domain.Message) bool {
		return msg.UploadStatus == domain.UploadPending && msg.BlobKey == "k1"
	})).Return(nil)
	mockMembership.On("ParticipantsForChat", ctx, chatID).
		Return(participants(chatID, senderID), nil)
	mockPubSub.On("Publish", ctx, "chat:"+chatID, mock.Anything).Return(nil)

	uc := NewSendMessageUseCase(mockMembership, mockMsgRepo, mockInboxRepo, mockPubSub)
	msg, err := uc.Execute(ctx, senderID, chatID, "", &AttachmentRef{BlobBucket: "b1", BlobKey: "k1"})

	assert.NoError(t, err)
	assert.True(t, msg.HasAttachment())
	// 沒有其他成員時不應該呼叫 fanout
	mockInboxRepo.AssertNotCalled(t, "Fanout", mock.Anything, mock.Anything)
}
