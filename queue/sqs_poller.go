package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
)

// SQSPoller long-polls a queue, hands each batch to a BatchFunc and deletes
// only the messages that succeeded. Failed messages become visible again
// after the queue's visibility timeout.
type SQSPoller struct {
	client      sqsiface.SQSAPI
	queueURL    string
	handle      BatchFunc
	MaxMessages int64
	WaitSeconds int64
	Backoff     time.Duration
}

func NewSQSPoller(client sqsiface.SQSAPI, queueURL string, handle BatchFunc) *SQSPoller {
	return &SQSPoller{
		client:      client,
		queueURL:    queueURL,
		handle:      handle,
		MaxMessages: 10,
		WaitSeconds: 20,
		Backoff:     time.Second,
	}
}

// Run polls until ctx is cancelled.
func (p *SQSPoller) Run(ctx context.Context) error {
	for {
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "sqs_poll_failed", "queue", p.queueURL, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.Backoff):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// PollOnce receives one batch and returns how many messages were deleted.
func (p *SQSPoller) PollOnce(ctx context.Context) (int, error) {
	out, err := p.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.queueURL),
		MaxNumberOfMessages: aws.Int64(p.MaxMessages),
		WaitTimeSeconds:     aws.Int64(p.WaitSeconds),
	})
	if err != nil {
		return 0, err
	}
	if len(out.Messages) == 0 {
		return 0, nil
	}

	msgs := make([]model.Message, len(out.Messages))
	for i, m := range out.Messages {
		msgs[i] = model.Message{ID: aws.StringValue(m.MessageId), Body: aws.StringValue(m.Body)}
	}

	res, err := p.handle(ctx, msgs)
	if err != nil {
		return 0, err
	}
	failed := failedSet(res)

	var entries []*sqs.DeleteMessageBatchRequestEntry
	for i, m := range out.Messages {
		if _, ok := failed[aws.StringValue(m.MessageId)]; ok {
			continue
		}
		entries = append(entries, &sqs.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: m.ReceiptHandle,
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}

	del, err := p.client.DeleteMessageBatchWithContext(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(p.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return 0, err
	}
	for _, f := range del.Failed {
		logger.Warn(ctx, "sqs_delete_failed", "entry", aws.StringValue(f.Id), "code", aws.StringValue(f.Code))
	}
	return len(entries) - len(del.Failed), nil
}
