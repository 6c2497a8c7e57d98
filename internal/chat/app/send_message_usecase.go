package app

import (
	"context"
	"errors"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotParticipant sender is not a member of the chat
	ErrNotParticipant = errors.New("sender is not a participant of this chat")
	// ErrNotConnected user has no live connection on this process
	ErrNotConnected = errors.New("user is not connected")
	// ErrEmptyContent message carries no content
	ErrEmptyContent = errors.New("message content is empty")
)

// AttachmentRef optional pending blob reference on a send
type AttachmentRef struct {
	BlobBucket string
	BlobKey    string
}

// SendMessageUseCase owns the core write path: validate, append the message,
// fan out one inbox entry per recipient, then publish on the chat channel.
// The inbox write comes before the publish so a crash in between loses only
// the live push, never the message.
type SendMessageUseCase struct {
	membership repository.MembershipRepository
	msgRepo    repository.MessageRepository
	inboxRepo  repository.InboxRepository
	pubsub     repository.PubSub
}

// NewSendMessageUseCase create SendMessageUseCase
func NewSendMessageUseCase(
	membership repository.MembershipRepository,
	msgRepo repository.MessageRepository,
	inboxRepo repository.InboxRepository,
	pubsub repository.PubSub,
) *SendMessageUseCase {
	return &SendMessageUseCase{
		membership: membership,
		msgRepo:    msgRepo,
		inboxRepo:  inboxRepo,
		pubsub:     pubsub,
	}
}

// Execute sends one message. The returned message is what the sender's own
// client renders, it never waits for the broker echo.
func (uc *SendMessageUseCase) Execute(ctx context.Context, senderID, chatID, content string, att *AttachmentRef) (*domain.Message, error) {
	if content == "" && att == nil {
		return nil, ErrEmptyContent
	}

	// 1. sender must be a participant
	isMember, err := uc.membership.IsParticipant(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotParticipant
	}

	// 2. append the message
	msg := &domain.Message{
		MessageID: "msg-" + uuid.New().String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
	if att != nil {
		msg.UploadStatus = domain.UploadPending
		msg.BlobBucket = att.BlobBucket
		msg.BlobKey = att.BlobKey
	}
	if err := uc.msgRepo.Append(ctx, msg); err != nil {
		return nil, errprocess.Set("message append failed: " + err.Error())
	}

	// 3. recipients = participants minus the sender
	participants, err := uc.membership.ParticipantsForChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.InboxEntry, 0, len(participants))
	for _, p := range participants {
		if p.ParticipantID == senderID {
			continue
		}
		entries = append(entries, domain.InboxEntry{
			RecipientID: p.ParticipantID,
			CreatedAt:   msg.CreatedAt,
			ChatID:      chatID,
			MessageID:   msg.MessageID,
		})
	}

	// 4. durable fanout, one entry per recipient. A missing entry would be
	// a permanently lost message for an offline recipient, so a failure
	// here fails the send.
	if len(entries) > 0 {
		if err := uc.inboxRepo.Fanout(ctx, entries); err != nil {
			return nil, errprocess.Set("inbox fanout failed: " + err.Error())
		}
	}

	// 5. live push. Non-fatal: the inbox rows above are the durable record.
	if err := uc.pubsub.Publish(ctx, chatChannel(chatID), domain.MessageFrame(msg)); err != nil {
		logger.Log.Warn("message publish failed, recipients fall back to sync",
			zap.String("messageID", msg.MessageID), zap.String("chatID", chatID), zap.Error(err))
	}

	// 6. sender updates optimistically from this return value
	return msg, nil
}
