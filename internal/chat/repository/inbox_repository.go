package repository

import (
	"context"
	"fmt"
	"strconv"

	"chat_delivery_service/internal/chat/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamodbAPI is the minimal DynamoDB surface the adapters need.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// InboxRepository definition the recipient-centric undelivered index
type InboxRepository interface {
	// Fanout writes one entry per recipient, skipped for nobody
	Fanout(ctx context.Context, entries []domain.InboxEntry) error
	// ListByRecipient returns all undelivered entries for one recipient,
	// created_at ascending
	ListByRecipient(ctx context.Context, recipientID string) ([]domain.InboxEntry, error)
	// Retire deletes the entry matching (recipient, message id), missing
	// entries are not an error
	Retire(ctx context.Context, recipientID, messageID string) (bool, error)
}

type dynamoInboxRepository struct {
	api   dynamodbAPI
	table string
}

// NewDynamoInboxRepository create an InboxRepository over the inbox table
// (PK recipientId, SK createdAt)
func NewDynamoInboxRepository(api dynamodbAPI, table string) InboxRepository {
	return &dynamoInboxRepository{api: api, table: table}
}

// dynamo rejects batches above 25 put requests
const maxBatchPuts = 25

// Fanout cost is O(participants) per send. Fine for moderate chat sizes,
// very large chats would need to move this off the send path.
func (r *dynamoInboxRepository) Fanout(ctx context.Context, entries []domain.InboxEntry) error {
	for start := 0; start < len(entries); start += maxBatchPuts {
		end := start + maxBatchPuts
		if end > len(entries) {
			end = len(entries)
		}

		writes := make([]types.WriteRequest, 0, end-start)
		for _, e := range entries[start:end] {
			writes = append(writes, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: inboxItem(e)},
			})
		}

		in := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{r.table: writes},
		}
		out, err := r.api.BatchWriteItem(ctx, in)
		if err != nil {
			return fmt.Errorf("inbox fanout batch: %w", err)
		}
		// retry unprocessed once, dynamo sheds load this way under throttling
		if rest, ok := out.UnprocessedItems[r.table]; ok && len(rest) > 0 {
			retry := &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{r.table: rest},
			}
			if _, err := r.api.BatchWriteItem(ctx, retry); err != nil {
				return fmt.Errorf("inbox fanout retry: %w", err)
			}
		}
	}
	return nil
}

func (r *dynamoInboxRepository) ListByRecipient(ctx context.Context, recipientID string) ([]domain.InboxEntry, error) {
	var entries []domain.InboxEntry
	var startKey map[string]types.AttributeValue

	for {
		in := &dynamodb.QueryInput{
			TableName:              aws.String(r.table),
			KeyConditionExpression: aws.String("recipientId = :rid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":rid": &types.AttributeValueMemberS{Value: recipientID},
			},
			// oldest first so catch-up replays history in order
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		}
		out, err := r.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("inbox query %s: %w", recipientID, err)
		}
		for _, item := range out.Items {
			entry, err := itemToInboxEntry(item)
			if err != nil {
				return nil, fmt.Errorf("inbox decode %s: %w", recipientID, err)
			}
			entries = append(entries, entry)
		}
		if out.LastEvaluatedKey == nil || len(out.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Retire looks the entry up by message id inside the recipient partition and
// deletes it by its real (recipientId, createdAt) key.
func (r *dynamoInboxRepository) Retire(ctx context.Context, recipientID, messageID string) (bool, error) {
	out, err := r.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("recipientId = :rid"),
		FilterExpression:       aws.String("messageId = :mid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: recipientID},
			":mid": &types.AttributeValueMemberS{Value: messageID},
		},
	})
	if err != nil {
		return false, fmt.Errorf("inbox retire query %s/%s: %w", recipientID, messageID, err)
	}
	if len(out.Items) == 0 {
		return false, nil
	}

	entry, err := itemToInboxEntry(out.Items[0])
	if err != nil {
		return false, fmt.Errorf("inbox retire decode: %w", err)
	}
	_, err = r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"recipientId": &types.AttributeValueMemberS{Value: entry.RecipientID},
			"createdAt":   &types.AttributeValueMemberN{Value: strconv.FormatInt(entry.CreatedAt, 10)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("inbox retire delete %s/%s: %w", recipientID, messageID, err)
	}
	return true, nil
}

func inboxItem(e domain.InboxEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"recipientId": &types.AttributeValueMemberS{Value: e.RecipientID},
		"createdAt":   &types.AttributeValueMemberN{Value: strconv.FormatInt(e.CreatedAt, 10)},
		"chatId":      &types.AttributeValueMemberS{Value: e.ChatID},
		"messageId":   &types.AttributeValueMemberS{Value: e.MessageID},
	}
}

func itemToInboxEntry(item map[string]types.AttributeValue) (domain.InboxEntry, error) {
	rid, err := strAttr(item, "recipientId")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	createdAt, err := intAttr(item, "createdAt")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	chatID, err := strAttr(item, "chatId")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	messageID, err := strAttr(item, "messageId")
	if err != nil {
		return domain.InboxEntry{}, err
	}
	return domain.InboxEntry{
		RecipientID: rid,
		CreatedAt:   createdAt,
		ChatID:      chatID,
		MessageID:   messageID,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
