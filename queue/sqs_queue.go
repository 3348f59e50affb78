package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// SQSAPI is the subset of the SQS client the queue needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue delivers tasks through an SQS queue. A message is deleted only
// after its handler succeeds; otherwise the visibility timeout makes it
// visible again.
type SQSQueue struct {
	client      SQSAPI
	queueURL    string
	maxAttempts int
	waitSeconds int32
	log         *zap.Logger
}

func NewSQSQueue(client SQSAPI, queueURL string, maxAttempts int, log *zap.Logger) *SQSQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &SQSQueue{client: client, queueURL: queueURL, maxAttempts: maxAttempts, waitSeconds: 5, log: log}
}

func (q *SQSQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := task.encode()
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", task.Type, err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context) (*Delivery, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.waitSeconds, // long polling
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive task: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]
	task, err := decodeTask([]byte(aws.ToString(msg.Body)))
	if err != nil {
		q.log.Error("dropping malformed task", zap.Error(err))
		q.delete(ctx, msg.ReceiptHandle)
		return nil, nil
	}
	if n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		task.Attempts = n - 1
	}

	return &Delivery{
		Task: task,
		ack: func(ctx context.Context) error {
			return q.delete(ctx, msg.ReceiptHandle)
		},
		nack: func(ctx context.Context) (bool, error) {
			if task.Attempts+1 >= q.maxAttempts {
				q.log.Warn("task exhausted its attempts",
					zap.String("task_id", task.ID),
					zap.String("type", string(task.Type)),
					zap.Int("attempts", task.Attempts+1),
				)
				return false, q.delete(ctx, msg.ReceiptHandle)
			}
			return true, nil
		},
	}, nil
}

func (q *SQSQueue) delete(ctx context.Context, receiptHandle *string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		q.log.Error("failed to delete SQS message", zap.Error(err))
		return err
	}
	return nil
}
