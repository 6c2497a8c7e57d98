package app

import (
	"context"
	"errors"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/logger"

	"go.uber.org/zap"
)

// InboxSyncUseCase lets a client recover everything it missed while
// disconnected. Entries stay until acknowledged, so an interrupted sync
// simply redelivers on the next one.
type InboxSyncUseCase struct {
	inboxRepo repository.InboxRepository
	msgRepo   repository.MessageRepository
}

// NewInboxSyncUseCase create InboxSyncUseCase
func NewInboxSyncUseCase(inboxRepo repository.InboxRepository, msgRepo repository.MessageRepository) *InboxSyncUseCase {
	return &InboxSyncUseCase{inboxRepo: inboxRepo, msgRepo: msgRepo}
}

// Sync resolves the recipient's undelivered entries, oldest first. Entries
// reference messages instead of embedding them, the extra lookup keeps inbox
// storage flat in large chats.
func (uc *InboxSyncUseCase) Sync(ctx context.Context, recipientID string) (*domain.InboxList, error) {
	entries, err := uc.inboxRepo.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		msg, err := uc.msgRepo.FindByID(ctx, e.MessageID)
		if errors.Is(err, repository.ErrMessageNotFound) {
			// orphan pointer, the message write never became visible
			logger.Log.Warn("inbox entry references missing message",
				zap.String("recipientID", recipientID), zap.String("messageID", e.MessageID))
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, *msg)
	}

	return &domain.InboxList{
		Items:       items,
		Count:       len(items),
		RecipientID: recipientID,
	}, nil
}

// DeliverPending pushes every undelivered message through the given deliver
// func as if freshly published. The client treats them like live frames.
func (uc *InboxSyncUseCase) DeliverPending(ctx context.Context, recipientID string, deliver func(domain.Frame) bool) error {
	list, err := uc.Sync(ctx, recipientID)
	if err != nil {
		return err
	}
	for i := range list.Items {
		if !deliver(domain.MessageFrame(&list.Items[i])) {
			// connection gone mid-sync, the un-acked remainder stays in
			// the inbox and redelivers next time
			return nil
		}
	}
	return nil
}

// historyPageLimit hard cap on one scrollback page
const historyPageLimit = int64(100)

// History reads chat scrollback older than the given timestamp, ascending.
// Zero before means "from now".
func (uc *InboxSyncUseCase) History(ctx context.Context, chatID string, before int64, limit int64) ([]domain.Message, error) {
	if before <= 0 {
		before = time.Now().UnixMilli()
	}
	if limit <= 0 || limit > historyPageLimit {
		limit = 50
	}
	return uc.msgRepo.FindByChatBefore(ctx, chatID, before, limit)
}

// Ack retires one inbox entry. Acknowledgement loss only means redelivery.
func (uc *InboxSyncUseCase) Ack(ctx context.Context, recipientID, messageID string) error {
	retired, err := uc.inboxRepo.Retire(ctx, recipientID, messageID)
	if err != nil {
		return err
	}
	if !retired {
		logger.Log.Debug("ack for unknown inbox entry",
			zap.String("recipientID", recipientID), zap.String("messageID", messageID))
	}
	return nil
}
