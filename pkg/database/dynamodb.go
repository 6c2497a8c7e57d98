package database

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// NewDynamoDB create a dynamodb client. A non-empty Endpoint targets a local
// instance with static dev credentials, otherwise the default AWS chain.
func NewDynamoDB(ctx context.Context, c DynamoConnection) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(c.Region),
	}
	if c.Endpoint != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	})

	// verify the connection the way the other stores do, with retries
	var lastErr error
	for i := 0; i <= c.RetryCount; i++ {
		_, lastErr = client.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
		if lastErr == nil {
			return client, nil
		}
		if i < c.RetryCount {
			time.Sleep(c.RetryInterval)
		}
	}
	return nil, errors.New("failed to connect to DynamoDB after retries: " + lastErr.Error())
}
