package app

import (
	"context"
	"encoding/json"
	"errors"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// kafkaReader minimal reader surface, see segmentio kafka.Reader
type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// UploadCompletionConsumer consumes upload-completed events and transitions
// the referenced message from PENDING to COMPLETED, then re-publishes the
// full message on its chat channel. The re-publish reuses the original
// message id so client-side merge replaces the placeholder in place.
type UploadCompletionConsumer struct {
	reader  kafkaReader
	msgRepo repository.MessageRepository
	pubsub  repository.PubSub
}

// NewUploadCompletionConsumer create UploadCompletionConsumer on the
// upload-completed topic
func NewUploadCompletionConsumer(brokers []string, topic, groupID string, msgRepo repository.MessageRepository, pubsub repository.PubSub) *UploadCompletionConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &UploadCompletionConsumer{reader: reader, msgRepo: msgRepo, pubsub: pubsub}
}

// Run consumes until ctx is cancelled. Processing errors are logged and the
// loop keeps going, a poison event never takes the service down.
func (c *UploadCompletionConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return c.reader.Close()
			}
			logger.Log.Error("kafka read failed", zap.Error(err))
			continue
		}
		if err := c.process(ctx, m.Value); err != nil {
			logger.Log.Error("upload completion processing failed", zap.Error(err))
		}
	}
}

func (c *UploadCompletionConsumer) process(ctx context.Context, raw []byte) error {
	var ev domain.UploadCompletedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	if ev.MessageID == "" || ev.ChatID == "" {
		logger.Log.Warn("upload event missing message_id or chat_id", zap.ByteString("event", raw))
		return nil
	}

	if err := c.msgRepo.UpdateUploadStatus(ctx, ev.MessageID, domain.UploadCompleted, ev.BlobBucket, ev.BlobKey); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			logger.Log.Warn("upload event for unknown message", zap.String("messageID", ev.MessageID))
			return nil
		}
		return err
	}

	msg, err := c.msgRepo.FindByID(ctx, ev.MessageID)
	if err != nil {
		return err
	}

	if err := c.pubsub.Publish(ctx, chatChannel(ev.ChatID), domain.MessageFrame(msg)); err != nil {
		// non-fatal, recipients still hold their inbox entries
		logger.Log.Warn("completed message publish failed",
			zap.String("messageID", ev.MessageID), zap.Error(err))
	}

	logger.Log.Info("upload completed",
		zap.String("messageID", ev.MessageID), zap.String("chatID", ev.ChatID))
	return nil
}

// Close stops the underlying reader.
func (c *UploadCompletionConsumer) Close() error {
	return c.reader.Close()
}
