package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/eventbridge"
	"github.com/aws/aws-sdk-go/service/eventbridge/eventbridgeiface"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/config"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
)

// putEventsLimit is the PutEvents entry limit.
const putEventsLimit = 10

// PartitionReady announces that files were written to a partition.
type PartitionReady struct {
	Bucket       string     `json:"silver_bucket"`
	Prefix       string     `json:"silver_prefix"`
	RecordType   model.Kind `json:"record_type"`
	Date         string     `json:"dt"`
	FilesWritten int        `json:"files_written"`
}

// Notifier tells downstream consumers which partitions received files.
// Delivery is best effort.
type Notifier interface {
	PartitionsReady(ctx context.Context, parts []PartitionReady) error
}

// NotifyError reports events the bus rejected.
type NotifyError struct {
	Failed int
	Total  int
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("%d of %d events rejected", e.Failed, e.Total)
}

// EventBridgeNotifier publishes one event per partition to an EventBridge bus.
type EventBridgeNotifier struct {
	client     eventbridgeiface.EventBridgeAPI
	busName    string
	source     string
	detailType string
	now        func() time.Time
}

func NewEventBridgeNotifier(client eventbridgeiface.EventBridgeAPI, cfg config.EventBridgeConfig) *EventBridgeNotifier {
	return &EventBridgeNotifier{
		client:     client,
		busName:    cfg.BusName,
		source:     cfg.Source,
		detailType: cfg.DetailType,
		now:        time.Now,
	}
}

func (n *EventBridgeNotifier) PartitionsReady(ctx context.Context, parts []PartitionReady) error {
	now := n.now().UTC()
	entries := make([]*eventbridge.PutEventsRequestEntry, 0, len(parts))
	for _, p := range parts {
		detail, err := json.Marshal(p)
		if err != nil {
			return err
		}
		entries = append(entries, &eventbridge.PutEventsRequestEntry{
			EventBusName: aws.String(n.busName),
			Source:       aws.String(n.source),
			DetailType:   aws.String(n.detailType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(now),
		})
	}

	failed := 0
	for start := 0; start < len(entries); start += putEventsLimit {
		end := min(start+putEventsLimit, len(entries))
		out, err := n.client.PutEventsWithContext(ctx, &eventbridge.PutEventsInput{Entries: entries[start:end]})
		if err != nil {
			return fmt.Errorf("put events: %w", err)
		}
		failed += int(aws.Int64Value(out.FailedEntryCount))
	}

	logger.Info(ctx, "quality_events_emitted", "entries", len(entries), "failed", failed)
	if failed > 0 {
		return &NotifyError{Failed: failed, Total: len(entries)}
	}
	return nil
}
