package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
)

// RedeliveryHeader counts how often a message was put back on the topic.
const RedeliveryHeader = "x-redelivery"

// SourceHeader names the topic/partition/offset a dead letter came from.
const SourceHeader = "x-source"

// KafkaReader is the subset of *kafka.Reader the consumer uses.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader returns a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: group,
		Topic:   topic,
	})
}

// KafkaConsumer fetches batches from a topic, hands them to a BatchFunc and
// produces failed messages back onto the topic before committing, since Kafka
// has no per-message visibility timeout. Messages that exhausted
// MaxRedeliveries go to the dead-letter writer instead.
//
// The reader position moves past a batch as soon as it is fetched, so a batch
// that fails at any step is held and retried before the next fetch.
type KafkaConsumer struct {
	reader     KafkaReader
	writer     KafkaWriter
	deadLetter KafkaWriter
	handle     BatchFunc
	pending    *pendingBatch

	BatchSize       int
	MaxWait         time.Duration
	MaxRedeliveries int
	Backoff         time.Duration
}

// pendingBatch tracks how far a fetched batch got. retry and dead are only
// valid once handled is set and are cleared as they are written.
type pendingBatch struct {
	msgs    []kafka.Message
	handled bool
	retry   []kafka.Message
	dead    []kafka.Message
}

func NewKafkaConsumer(r KafkaReader, w, deadLetter KafkaWriter, handle BatchFunc) *KafkaConsumer {
	return &KafkaConsumer{
		reader:          r,
		writer:          w,
		deadLetter:      deadLetter,
		handle:          handle,
		BatchSize:       10,
		MaxWait:         time.Second,
		MaxRedeliveries: 5,
		Backoff:         time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "kafka_poll_failed", "error", err, "pending", c.Pending())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.Backoff):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Pending returns the size of the batch held for retry.
func (c *KafkaConsumer) Pending() int {
	if c.pending == nil {
		return 0
	}
	return len(c.pending.msgs)
}

// PollOnce processes one batch and returns the number of committed messages.
// A held batch is resumed from the step that failed instead of fetching.
func (c *KafkaConsumer) PollOnce(ctx context.Context) (int, error) {
	if c.pending == nil {
		batch, err := c.fetch(ctx)
		if err != nil {
			return 0, err
		}
		if len(batch) == 0 {
			return 0, nil
		}
		c.pending = &pendingBatch{msgs: batch}
	}
	p := c.pending

	if !p.handled {
		msgs := make([]model.Message, len(p.msgs))
		for i, m := range p.msgs {
			msgs[i] = model.Message{ID: messageID(m), Body: string(m.Value)}
		}
		res, err := c.handle(ctx, msgs)
		if err != nil {
			return 0, err
		}
		p.retry, p.dead = c.split(ctx, p.msgs, failedSet(res))
		p.handled = true
	}

	if len(p.retry) > 0 {
		if err := c.writer.WriteMessages(ctx, p.retry...); err != nil {
			return 0, fmt.Errorf("redeliver %d messages: %w", len(p.retry), err)
		}
		p.retry = nil
	}
	if len(p.dead) > 0 {
		if err := c.deadLetter.WriteMessages(ctx, p.dead...); err != nil {
			return 0, fmt.Errorf("dead-letter %d messages: %w", len(p.dead), err)
		}
		p.dead = nil
	}

	if err := c.reader.CommitMessages(ctx, p.msgs...); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	c.pending = nil
	return len(p.msgs), nil
}

// split turns the failed messages of batch into redeliveries and
// dead letters.
func (c *KafkaConsumer) split(ctx context.Context, batch []kafka.Message, failed map[string]struct{}) (retry, dead []kafka.Message) {
	for _, m := range batch {
		id := messageID(m)
		if _, ok := failed[id]; !ok {
			continue
		}
		n := redeliveries(m)
		if n >= c.MaxRedeliveries {
			logger.Warn(ctx, "kafka_message_dead_lettered", "message", id, "redeliveries", n)
			dead = append(dead, kafka.Message{
				Key:     m.Key,
				Value:   m.Value,
				Headers: withSource(m.Headers, id),
			})
			continue
		}
		retry = append(retry, kafka.Message{
			Key:     m.Key,
			Value:   m.Value,
			Headers: withRedeliveries(m.Headers, n+1),
		})
	}
	return retry, dead
}

// fetch blocks for the first message, then collects more until BatchSize or
// MaxWait.
func (c *KafkaConsumer) fetch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, c.MaxWait)
	defer cancel()
	for len(batch) < c.BatchSize {
		m, err := c.reader.FetchMessage(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			return nil, err
		}
		batch = append(batch, m)
	}
	return batch, nil
}

func messageID(m kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}

func redeliveries(m kafka.Message) int {
	for _, h := range m.Headers {
		if h.Key == RedeliveryHeader {
			n, _ := strconv.Atoi(string(h.Value))
			return n
		}
	}
	return 0
}

func withRedeliveries(headers []kafka.Header, n int) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != RedeliveryHeader {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: RedeliveryHeader, Value: []byte(strconv.Itoa(n))})
}

func withSource(headers []kafka.Header, id string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != SourceHeader {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: SourceHeader, Value: []byte(id)})
}
