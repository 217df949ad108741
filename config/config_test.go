package config

import (
	"os"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_MINIO_SECRET", "from-env")

	configContent := `
server:
  port: 9090
log:
  level: "debug"
  format: "json"
auth:
  jwt_secret: "test-secret"
  token_expire_hours: 48
clients:
  - id: "bronze-notifier"
    secret: "s3cret"
minio:
  endpoint: "localhost:9000"
  access_key: "minioadmin"
  secret_key: "${TEST_MINIO_SECRET}"
  raw_bucket: "raw"
  silver_bucket: "silver"
ledger:
  driver: "dynamodb"
  table: "elt-idempotency"
  lease_seconds: 60
queue:
  driver: "kafka"
  kafka:
    brokers: ["k1:9092", "k2:9092"]
    topic: "records"
transform:
  max_records_per_file: 100
  events:
    enabled: true
    bus_name: "quality"
`
	cfg, err := Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Minio.SecretKey != "from-env" {
		t.Errorf("Expected secret_key expanded from env, got %q", cfg.Minio.SecretKey)
	}
	if cfg.Auth.TokenExpireHours != 48 {
		t.Errorf("Expected token_expire_hours 48, got %d", cfg.Auth.TokenExpireHours)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config %+v", cfg.Log)
	}
	if cfg.Ledger.Driver != LedgerDynamoDB || cfg.Ledger.Table != "elt-idempotency" || cfg.Ledger.LeaseSeconds != 60 {
		t.Errorf("Unexpected ledger config %+v", cfg.Ledger)
	}
	if len(cfg.Queue.Kafka.Brokers) != 2 || cfg.Queue.Kafka.Topic != "records" || cfg.Queue.Kafka.DLQTopic != "records.dlq" {
		t.Errorf("Unexpected kafka config %+v", cfg.Queue.Kafka)
	}
	if cfg.Transform.MaxRecordsPerFile != 100 || !cfg.Transform.Events.Enabled || cfg.Transform.Events.BusName != "quality" {
		t.Errorf("Unexpected transform config %+v", cfg.Transform)
	}
	if len(cfg.Clients) != 1 || cfg.Clients[0].ID != "bronze-notifier" {
		t.Errorf("Unexpected clients %+v", cfg.Clients)
	}
	if err := cfg.Validate(ModeServe); err != nil {
		t.Errorf("Expected valid serve config, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "minio:\n  endpoint: \"localhost:9000\"\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Auth.TokenExpireHours != 24 {
		t.Errorf("Expected default token_expire_hours 24, got %d", cfg.Auth.TokenExpireHours)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Expected default log format text, got %s", cfg.Log.Format)
	}
	if cfg.Ledger.Driver != LedgerSQLite || cfg.Ledger.LeaseSeconds != 900 {
		t.Errorf("Unexpected ledger defaults %+v", cfg.Ledger)
	}
	if cfg.Queue.Driver != QueueSQS || cfg.Queue.SQS.MaxMessages != 10 {
		t.Errorf("Unexpected queue defaults %+v", cfg.Queue)
	}
	if cfg.Transform.Prefix != "silver" || cfg.Transform.MaxRecordsPerFile != 5000 || cfg.Transform.Concurrency != 4 {
		t.Errorf("Unexpected transform defaults %+v", cfg.Transform)
	}
	if cfg.Transform.Events.DetailType != "silver_partition_ready" {
		t.Errorf("Unexpected detail type %q", cfg.Transform.Events.DetailType)
	}
	if cfg.Replay.DestPrefixBase != "bronze/replay" || cfg.Replay.WindowHours != 24 {
		t.Errorf("Unexpected replay defaults %+v", cfg.Replay)
	}
	if cfg.Quality.MinParquetObjects != 1 {
		t.Errorf("Expected default min_parquet_objects 1, got %d", cfg.Quality.MinParquetObjects)
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: yaml: content:"))
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(`
auth: {jwt_secret: "x"}
minio: {endpoint: "m:9000", raw_bucket: "raw", silver_bucket: "silver"}
queue: {driver: "memory"}
ledger: {driver: "memory"}
`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mode    Mode
		mutate  func(*Config)
		wantErr string
	}{
		{"valid serve", ModeServe, func(*Config) {}, ""},
		{"serve needs secret", ModeServe, func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
		{"ingest needs raw bucket", ModeIngest, func(c *Config) { c.Minio.RawBucket = "" }, "minio.raw_bucket"},
		{"transform ignores raw bucket", ModeTransform, func(c *Config) { c.Minio.RawBucket = "" }, ""},
		{"transform needs silver bucket", ModeTransform, func(c *Config) { c.Minio.SilverBucket = "" }, "minio.silver_bucket"},
		{"sqs needs url", ModeIngest, func(c *Config) { c.Queue.Driver = QueueSQS }, "queue.sqs.queue_url"},
		{"kafka needs brokers", ModeIngest, func(c *Config) { c.Queue.Driver = QueueKafka }, "queue.kafka.brokers"},
		{"unknown ledger", ModeIngest, func(c *Config) { c.Ledger.Driver = "redis" }, "unknown ledger.driver"},
		{"postgres needs dsn", ModeIngest, func(c *Config) { c.Ledger.Driver = LedgerPostgres }, "ledger.dsn"},
		{"replay prefix", ModeReplay, func(c *Config) { c.Replay.DestPrefixBase = "tmp/replay" }, "replay.dest_prefix_base"},
		{"token needs only secret", ModeToken, func(c *Config) { c.Minio = MinioConfig{} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFindClient(t *testing.T) {
	cfg := &Config{
		Clients: []Client{
			{ID: "client1", Secret: "pass1"},
			{ID: "client2", Secret: "pass2"},
		},
	}

	client := cfg.FindClient("client1")
	if client == nil {
		t.Fatal("Expected to find client1")
	}
	if client.Secret != "pass1" {
		t.Errorf("Expected secret pass1, got %s", client.Secret)
	}

	if cfg.FindClient("nonexistent") != nil {
		t.Error("Expected nil for non-existent client")
	}
}
