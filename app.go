package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/eventbridge"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/config"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/ledger"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/normalize"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/partition"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/queue"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/service"
)

// Runner is a long-running queue consumer.
type Runner interface {
	Run(ctx context.Context) error
}

// app builds the pipeline components a command needs from configuration
// and owns the resources that must be closed afterwards.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *service.Metrics
	minio    *service.MinioService

	awsSession *session.Session
	closers    []func() error
}

func newApp(_ context.Context, cfg *config.Config) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO service", "error", err)
		return nil, err
	}

	return &app{
		cfg:      cfg,
		registry: registry,
		metrics:  service.NewMetrics(registry),
		minio:    minioSvc,
	}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}

func (a *app) session() (*session.Session, error) {
	if a.awsSession != nil {
		return a.awsSession, nil
	}
	c := a.cfg.AWS
	awsCfg := aws.NewConfig().WithRegion(c.Region).WithMaxRetries(c.MaxRetries)
	if c.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(c.Endpoint)
	}
	if c.AccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(c.AccessKey, c.SecretKey, ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	a.awsSession = sess
	return sess, nil
}

func (a *app) ledgerStore(ctx context.Context) (ledger.Store, error) {
	c := a.cfg.Ledger
	switch c.Driver {
	case config.LedgerMemory:
		slog.Warn("using in-memory ledger; idempotency does not survive restarts")
		return ledger.NewMemoryStore(), nil
	case config.LedgerSQLite:
		s, err := ledger.OpenSQLite(c.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.LedgerPostgres:
		s, err := ledger.OpenPostgres(ctx, c.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		return s, nil
	case config.LedgerDynamoDB:
		sess, err := a.session()
		if err != nil {
			return nil, err
		}
		return ledger.NewDynamoStore(dynamodb.New(sess), c.Table), nil
	}
	return nil, fmt.Errorf("%w: unknown ledger driver %q", service.ErrConfiguration, c.Driver)
}

func (a *app) transport() (queue.Transport, error) {
	c := a.cfg.Queue
	switch c.Driver {
	case config.QueueMemory:
		slog.Warn("using in-memory queue; published records are not delivered anywhere")
		return queue.NewMemoryTransport(), nil
	case config.QueueSQS:
		sess, err := a.session()
		if err != nil {
			return nil, err
		}
		return queue.NewSQSTransport(sqs.New(sess), c.SQS.QueueURL), nil
	case config.QueueKafka:
		w := queue.NewKafkaWriter(c.Kafka.Brokers, c.Kafka.Topic)
		t := queue.NewKafkaTransport(w, c.Kafka.BatchSize)
		a.closers = append(a.closers, t.Close)
		return t, nil
	}
	return nil, fmt.Errorf("%w: unknown queue driver %q", service.ErrConfiguration, c.Driver)
}

func (a *app) normalizer() normalize.Normalizer {
	return normalize.Normalizer{RequireEventTime: a.cfg.Ingest.RequireEventTime}
}

func (a *app) unitFilter() service.UnitFilter {
	return service.UnitFilter{Prefix: a.cfg.Ingest.Prefix, Suffixes: a.cfg.Ingest.Suffixes}
}

func (a *app) ingestOrchestrator(ctx context.Context) (*service.IngestOrchestrator, error) {
	store, err := a.ledgerStore(ctx)
	if err != nil {
		return nil, err
	}
	t, err := a.transport()
	if err != nil {
		return nil, err
	}

	l := ledger.New(store, ledger.WithRetention(time.Duration(a.cfg.Ledger.RetentionHours)*time.Hour))
	return service.NewIngestOrchestrator(a.minio, l, queue.NewPublisher(t), a.metrics, service.IngestOptions{
		Lease:      time.Duration(a.cfg.Ledger.LeaseSeconds) * time.Second,
		Normalizer: a.normalizer(),
	}), nil
}

func (a *app) transformOrchestrator() (*service.TransformOrchestrator, error) {
	c := a.cfg.Transform
	w := partition.NewWriter(a.minio, partition.Config{
		Prefix:            c.Prefix,
		MaxRecordsPerFile: c.MaxRecordsPerFile,
		Concurrency:       c.Concurrency,
	})

	var notifier service.Notifier
	if c.Events.Enabled {
		sess, err := a.session()
		if err != nil {
			return nil, err
		}
		notifier = service.NewEventBridgeNotifier(eventbridge.New(sess), c.Events)
	}

	return service.NewTransformOrchestrator(w, notifier, a.metrics, service.TransformOptions{
		Bucket:     a.cfg.Minio.SilverBucket,
		Prefix:     c.Prefix,
		Normalizer: a.normalizer(),
	}), nil
}

// queueConsumer returns nil for drivers without a consumer.
func (a *app) queueConsumer(transform *service.TransformOrchestrator) (Runner, error) {
	handle := func(ctx context.Context, msgs []model.Message) (model.TransformResult, error) {
		return transform.Run(ctx, "", msgs)
	}

	c := a.cfg.Queue
	switch c.Driver {
	case config.QueueSQS:
		sess, err := a.session()
		if err != nil {
			return nil, err
		}
		p := queue.NewSQSPoller(sqs.New(sess), c.SQS.QueueURL, handle)
		p.WaitSeconds = c.SQS.WaitSeconds
		p.MaxMessages = c.SQS.MaxMessages
		return p, nil
	case config.QueueKafka:
		r := queue.NewKafkaReader(c.Kafka.Brokers, c.Kafka.Topic, c.Kafka.Group)
		w := queue.NewKafkaWriter(c.Kafka.Brokers, c.Kafka.Topic)
		dlq := queue.NewKafkaWriter(c.Kafka.Brokers, c.Kafka.DLQTopic)
		a.closers = append(a.closers, r.Close, w.Close, dlq.Close)
		k := queue.NewKafkaConsumer(r, w, dlq, handle)
		k.BatchSize = c.Kafka.BatchSize
		k.MaxRedeliveries = c.Kafka.MaxRedeliveries
		return k, nil
	}
	slog.Warn("queue driver has no consumer; transform runs only through the API", "driver", c.Driver)
	return nil, nil
}

func (a *app) replayer() *service.Replayer {
	return service.NewReplayer(a.minio, a.cfg.Minio.RawBucket, a.cfg.Ingest.Prefix, a.cfg.Replay)
}

func (a *app) qualityProbe() *service.QualityProbe {
	return service.NewQualityProbe(a.minio, a.cfg.Minio.SilverBucket, a.cfg.Transform.Prefix, a.cfg.Quality)
}
