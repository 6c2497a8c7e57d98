package repository

import (
	"context"
	"fmt"

	"chat_delivery_service/internal/chat/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// participantIndex GSI name on the participants table, keyed by participantId
const participantIndex = "participantId-index"

// MembershipRepository definition the external chat membership lookup.
// The participants table is owned by the chat metadata service, this
// subsystem only reads it.
type MembershipRepository interface {
	ParticipantsForChat(ctx context.Context, chatID string) ([]domain.ChatParticipant, error)
	ChatsForParticipant(ctx context.Context, participantID string) ([]string, error)
	IsParticipant(ctx context.Context, chatID, participantID string) (bool, error)
}

type dynamoMembershipRepository struct {
	api   dynamodbAPI
	table string
}

// NewDynamoMembershipRepository create a MembershipRepository over the
// participants table (PK chatId, SK participantId)
func NewDynamoMembershipRepository(api dynamodbAPI, table string) MembershipRepository {
	return &dynamoMembershipRepository{api: api, table: table}
}

func (r *dynamoMembershipRepository) ParticipantsForChat(ctx context.Context, chatID string) ([]domain.ChatParticipant, error) {
	out, err := r.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("chatId = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: chatID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("participants query %s: %w", chatID, err)
	}

	participants := make([]domain.ChatParticipant, 0, len(out.Items))
	for _, item := range out.Items {
		pid, err := strAttr(item, "participantId")
		if err != nil {
			return nil, fmt.Errorf("participants decode %s: %w", chatID, err)
		}
		joinedAt, _ := strAttr(item, "joinedAt") // allow empty
		participants = append(participants, domain.ChatParticipant{
			ChatID:        chatID,
			ParticipantID: pid,
			JoinedAt:      joinedAt,
		})
	}
	return participants, nil
}

func (r *dynamoMembershipRepository) ChatsForParticipant(ctx context.Context, participantID string) ([]string, error) {
	out, err := r.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(participantIndex),
		KeyConditionExpression: aws.String("participantId = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: participantID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chats query %s: %w", participantID, err)
	}

	chats := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		chatID, err := strAttr(item, "chatId")
		if err != nil {
			return nil, fmt.Errorf("chats decode %s: %w", participantID, err)
		}
		chats = append(chats, chatID)
	}
	return chats, nil
}

func (r *dynamoMembershipRepository) IsParticipant(ctx context.Context, chatID, participantID string) (bool, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"chatId":        &types.AttributeValueMemberS{Value: chatID},
			"participantId": &types.AttributeValueMemberS{Value: participantID},
		},
	})
	if err != nil {
		return false, fmt.Errorf("participant get %s/%s: %w", chatID, participantID, err)
	}
	return len(out.Item) > 0, nil
}
