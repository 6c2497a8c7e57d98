package repository

import (
	"context"
	"errors"
	"fmt"

	"chat_delivery_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrMessageNotFound returned when a message id resolves to nothing
var ErrMessageNotFound = errors.New("message not found")

// MessageRepository definition the chat-centric message log
type MessageRepository interface {
	// Append writes a new message, exactly once per message id
	Append(ctx context.Context, msg *domain.Message) error
	// FindByID resolves one message by its id
	FindByID(ctx context.Context, messageID string) (*domain.Message, error)
	// FindByChatBefore reads chat history older than the given timestamp,
	// ascending, at most limit rows
	FindByChatBefore(ctx context.Context, chatID string, before int64, limit int64) ([]domain.Message, error)
	// UpdateUploadStatus transitions the attachment state of a message
	UpdateUploadStatus(ctx context.Context, messageID string, status domain.UploadStatus, bucket, key string) error
}

type chatMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoMessageRepository create a MessageRepository backed by the
// chat_messages collection
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &chatMessageRepository{
		coll: db.Collection("chat_messages"),
	}
}

func (r *chatMessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("append message %s: %w", msg.MessageID, err)
	}
	return nil
}

func (r *chatMessageRepository) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	var msg domain.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message %s: %w", messageID, err)
	}
	return &msg, nil
}

func (r *chatMessageRepository) FindByChatBefore(ctx context.Context, chatID string, before int64, limit int64) ([]domain.Message, error) {
	filter := bson.M{
		"chat_id":    chatID,
		"created_at": bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.M{"created_at": 1}).SetLimit(limit)
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find chat %s history: %w", chatID, err)
	}
	var messages []domain.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode chat %s history: %w", chatID, err)
	}
	return messages, nil
}

func (r *chatMessageRepository) UpdateUploadStatus(ctx context.Context, messageID string, status domain.UploadStatus, bucket, key string) error {
	update := bson.M{"$set": bson.M{
		"upload_status": status,
		"blob_bucket":   bucket,
		"blob_key":      key,
	}}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": messageID}, update)
	if err != nil {
		return fmt.Errorf("update upload status %s: %w", messageID, err)
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}
