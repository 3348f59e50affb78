package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// NewSQSClient creates a new SQS client from AWS config.
func NewSQSClient(cfg sdkaws.Config) *sqs.Client {
	return sqs.NewFromConfig(cfg)
}

// GetQueueURL retrieves the URL for a queue name
func GetQueueURL(ctx context.Context, client *sqs.Client, queueName string) (string, error) {
	result, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: &queueName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get queue URL: %w", err)
	}
	return *result.QueueUrl, nil
}
