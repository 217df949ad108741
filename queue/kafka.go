package queue

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultKafkaBatch bounds one WriteMessages call.
const DefaultKafkaBatch = 100

// KafkaWriter is the subset of *kafka.Writer the transport uses.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport sends batches to a Kafka topic.
type KafkaTransport struct {
	writer KafkaWriter
	batch  int
}

// NewKafkaWriter returns a synchronous writer that waits for all in-sync
// replicas, so per-message errors are reported from WriteMessages.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaTransport(w KafkaWriter, batch int) *KafkaTransport {
	if batch <= 0 {
		batch = DefaultKafkaBatch
	}
	return &KafkaTransport{writer: w, batch: batch}
}

func (t *KafkaTransport) MaxBatch() int { return t.batch }

func (t *KafkaTransport) SendBatch(ctx context.Context, entries []Entry) ([]EntryFailure, error) {
	msgs := make([]kafka.Message, len(entries))
	for i, e := range entries {
		msgs[i] = kafka.Message{Value: e.Body}
	}

	err := t.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return nil, nil
	}

	var werrs kafka.WriteErrors
	if !errors.As(err, &werrs) {
		return nil, err
	}
	var failures []EntryFailure
	for i, e := range werrs {
		if e != nil && i < len(entries) {
			failures = append(failures, EntryFailure{ID: entries[i].ID, Reason: e.Error()})
		}
	}
	return failures, nil
}

func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}
