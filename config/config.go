package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Clients   []Client        `yaml:"clients"`
	Minio     MinioConfig     `yaml:"minio"`
	AWS       AWSConfig       `yaml:"aws"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Queue     QueueConfig     `yaml:"queue"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Transform TransformConfig `yaml:"transform"`
	Replay    ReplayConfig    `yaml:"replay"`
	Quality   QualityConfig   `yaml:"quality"`
}

type ServerConfig struct {
	Port            int `yaml:"port"`
	RateLimit       int `yaml:"rate_limit"` // requests per minute per client IP
	ShutdownSeconds int `yaml:"shutdown_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// Client is an event sender allowed to obtain tokens.
type Client struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	RawBucket    string `yaml:"raw_bucket"`
	SilverBucket string `yaml:"silver_bucket"`
}

// AWSConfig configures the SDK session shared by SQS, DynamoDB and
// EventBridge clients. Empty credentials fall back to the default chain.
type AWSConfig struct {
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	MaxRetries int    `yaml:"max_retries"`
}

const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerDynamoDB = "dynamodb"
)

type LedgerConfig struct {
	Driver         string `yaml:"driver"`
	Path           string `yaml:"path"`
	DSN            string `yaml:"dsn"`
	Table          string `yaml:"table"`
	LeaseSeconds   int    `yaml:"lease_seconds"`
	RetentionHours int    `yaml:"retention_hours"`
}

const (
	QueueMemory = "memory"
	QueueSQS    = "sqs"
	QueueKafka  = "kafka"
)

type QueueConfig struct {
	Driver string      `yaml:"driver"`
	SQS    SQSConfig   `yaml:"sqs"`
	Kafka  KafkaConfig `yaml:"kafka"`
}

type SQSConfig struct {
	QueueURL    string `yaml:"queue_url"`
	WaitSeconds int64  `yaml:"wait_seconds"`
	MaxMessages int64  `yaml:"max_messages"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	Group           string   `yaml:"group"`
	// DLQTopic receives messages that exhausted MaxRedeliveries.
	DLQTopic        string   `yaml:"dlq_topic"`
	BatchSize       int      `yaml:"batch_size"`
	MaxRedeliveries int      `yaml:"max_redeliveries"`
}

type IngestConfig struct {
	// Listen subscribes to raw bucket notifications when serving.
	Listen           bool     `yaml:"listen"`
	Prefix           string   `yaml:"prefix"`
	Suffixes         []string `yaml:"suffixes"`
	RequireEventTime bool     `yaml:"require_event_time"`
}

type TransformConfig struct {
	Prefix            string `yaml:"prefix"`
	MaxRecordsPerFile int    `yaml:"max_records_per_file"`
	Concurrency       int    `yaml:"concurrency"`
	// Consume runs the queue consumer when serving.
	Consume bool              `yaml:"consume"`
	Events  EventBridgeConfig `yaml:"events"`
}

type EventBridgeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BusName    string `yaml:"bus_name"`
	Source     string `yaml:"source"`
	DetailType string `yaml:"detail_type"`
}

type ReplayConfig struct {
	DestPrefixBase string `yaml:"dest_prefix_base"`
	WindowHours    int    `yaml:"window_hours"`
}

type QualityConfig struct {
	MinParquetObjects int `yaml:"min_parquet_objects"`
	LookbackHours     int `yaml:"lookback_hours"`
}

// Load reads the YAML file at path, expanding ${VAR} references from the
// environment, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 600
	}
	if c.Server.ShutdownSeconds == 0 {
		c.Server.ShutdownSeconds = 15
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-2"
	}
	if c.AWS.MaxRetries == 0 {
		c.AWS.MaxRetries = 3
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = LedgerSQLite
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "ledger.db"
	}
	if c.Ledger.Table == "" {
		c.Ledger.Table = "idempotency"
	}
	if c.Ledger.LeaseSeconds == 0 {
		c.Ledger.LeaseSeconds = 900
	}
	if c.Ledger.RetentionHours == 0 {
		c.Ledger.RetentionHours = 30 * 24
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueSQS
	}
	if c.Queue.SQS.WaitSeconds == 0 {
		c.Queue.SQS.WaitSeconds = 20
	}
	if c.Queue.SQS.MaxMessages == 0 {
		c.Queue.SQS.MaxMessages = 10
	}
	if c.Queue.Kafka.Group == "" {
		c.Queue.Kafka.Group = "serverless-elt-transform"
	}
	if c.Queue.Kafka.DLQTopic == "" && c.Queue.Kafka.Topic != "" {
		c.Queue.Kafka.DLQTopic = c.Queue.Kafka.Topic + ".dlq"
	}
	if c.Queue.Kafka.BatchSize == 0 {
		c.Queue.Kafka.BatchSize = 10
	}
	if c.Queue.Kafka.MaxRedeliveries == 0 {
		c.Queue.Kafka.MaxRedeliveries = 5
	}
	if c.Ingest.Prefix == "" {
		c.Ingest.Prefix = "bronze/"
	}
	if len(c.Ingest.Suffixes) == 0 {
		c.Ingest.Suffixes = []string{".jsonl", ".json"}
	}
	if c.Transform.Prefix == "" {
		c.Transform.Prefix = "silver"
	}
	if c.Transform.MaxRecordsPerFile == 0 {
		c.Transform.MaxRecordsPerFile = 5000
	}
	if c.Transform.Concurrency == 0 {
		c.Transform.Concurrency = 4
	}
	if c.Transform.Events.BusName == "" {
		c.Transform.Events.BusName = "default"
	}
	if c.Transform.Events.Source == "" {
		c.Transform.Events.Source = "serverless-elt.transform"
	}
	if c.Transform.Events.DetailType == "" {
		c.Transform.Events.DetailType = "silver_partition_ready"
	}
	if c.Replay.DestPrefixBase == "" {
		c.Replay.DestPrefixBase = "bronze/replay"
	}
	if c.Replay.WindowHours == 0 {
		c.Replay.WindowHours = 24
	}
	if c.Quality.MinParquetObjects == 0 {
		c.Quality.MinParquetObjects = 1
	}
	if c.Quality.LookbackHours == 0 {
		c.Quality.LookbackHours = 24
	}
}

// Mode selects which parts of the configuration a command needs.
type Mode string

const (
	ModeServe     Mode = "serve"
	ModeIngest    Mode = "ingest"
	ModeTransform Mode = "transform"
	ModeReplay    Mode = "replay"
	ModeQuality   Mode = "quality"
	ModeToken     Mode = "token"
)

// Validate reports every configuration problem that would stop mode from
// running.
func (c *Config) Validate(mode Mode) error {
	var errs []error
	need := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	ingest := mode == ModeServe || mode == ModeIngest
	transform := mode == ModeServe || mode == ModeTransform

	if mode == ModeServe || mode == ModeToken {
		need(c.Auth.JWTSecret != "", "auth.jwt_secret is required")
	}
	if ingest || transform || mode == ModeReplay || mode == ModeQuality {
		need(c.Minio.Endpoint != "", "minio.endpoint is required")
	}
	if ingest || mode == ModeReplay {
		need(c.Minio.RawBucket != "", "minio.raw_bucket is required")
	}
	if transform || mode == ModeQuality {
		need(c.Minio.SilverBucket != "", "minio.silver_bucket is required")
	}
	if mode == ModeReplay {
		need(strings.HasPrefix(c.Replay.DestPrefixBase, c.Ingest.Prefix),
			"replay.dest_prefix_base must start with %q", c.Ingest.Prefix)
	}

	if ingest {
		switch c.Ledger.Driver {
		case LedgerMemory:
		case LedgerSQLite:
			need(c.Ledger.Path != "", "ledger.path is required for sqlite")
		case LedgerPostgres:
			need(c.Ledger.DSN != "", "ledger.dsn is required for postgres")
		case LedgerDynamoDB:
			need(c.Ledger.Table != "", "ledger.table is required for dynamodb")
		default:
			need(false, "unknown ledger.driver %q", c.Ledger.Driver)
		}
		need(c.Ledger.LeaseSeconds > 0, "ledger.lease_seconds must be positive")
	}

	if ingest || (mode == ModeServe && c.Transform.Consume) {
		switch c.Queue.Driver {
		case QueueMemory:
		case QueueSQS:
			need(c.Queue.SQS.QueueURL != "", "queue.sqs.queue_url is required")
		case QueueKafka:
			need(len(c.Queue.Kafka.Brokers) > 0, "queue.kafka.brokers is required")
			need(c.Queue.Kafka.Topic != "", "queue.kafka.topic is required")
		default:
			need(false, "unknown queue.driver %q", c.Queue.Driver)
		}
	}

	if transform {
		need(c.Transform.MaxRecordsPerFile > 0, "transform.max_records_per_file must be positive")
		need(c.Transform.Concurrency > 0, "transform.concurrency must be positive")
	}

	return errors.Join(errs...)
}

// FindClient finds a configured event sender by id
func (c *Config) FindClient(id string) *Client {
	for i := range c.Clients {
		if c.Clients[i].ID == id {
			return &c.Clients[i]
		}
	}
	return nil
}
