package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// SQSMaxBatch is the SendMessageBatch entry limit.
const SQSMaxBatch = 10

// SQSTransport sends batches with SendMessageBatch.
type SQSTransport struct {
	client   sqsiface.SQSAPI
	queueURL string
}

func NewSQSTransport(client sqsiface.SQSAPI, queueURL string) *SQSTransport {
	return &SQSTransport{client: client, queueURL: queueURL}
}

func (t *SQSTransport) MaxBatch() int { return SQSMaxBatch }

func (t *SQSTransport) SendBatch(ctx context.Context, entries []Entry) ([]EntryFailure, error) {
	in := &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(t.queueURL),
		Entries:  make([]*sqs.SendMessageBatchRequestEntry, 0, len(entries)),
	}
	for _, e := range entries {
		in.Entries = append(in.Entries, &sqs.SendMessageBatchRequestEntry{
			Id:          aws.String(e.ID),
			MessageBody: aws.String(string(e.Body)),
		})
	}

	out, err := t.client.SendMessageBatchWithContext(ctx, in)
	if err != nil {
		return nil, err
	}

	var failures []EntryFailure
	for _, f := range out.Failed {
		failures = append(failures, EntryFailure{
			ID:     aws.StringValue(f.Id),
			Reason: fmt.Sprintf("%s: %s", aws.StringValue(f.Code), aws.StringValue(f.Message)),
		})
	}
	return failures, nil
}
