package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreCSV      = "csv"
	StoreXLSX     = "xlsx"
	StoreHTTP     = "http"
	StoreS3       = "s3"
	StoreSheets   = "sheets"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Notification backends.
const (
	NotifyLog     = "log"
	NotifyKafka   = "kafka"
	NotifySQS     = "sqs"
	NotifyWebhook = "webhook"
	NotifyNone    = "none"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	StoreBackend          string `mapstructure:"STORE_BACKEND"`
	StorePath             string `mapstructure:"STORE_PATH"`
	StoreURL              string `mapstructure:"STORE_URL"`
	StoreToken            string `mapstructure:"STORE_TOKEN"`
	S3Bucket              string `mapstructure:"S3_BUCKET"`
	S3Key                 string `mapstructure:"S3_KEY"`
	SheetsSpreadsheetID   string `mapstructure:"SHEETS_SPREADSHEET_ID"`
	SheetsRange           string `mapstructure:"SHEETS_RANGE"`
	GoogleCredentialsFile string `mapstructure:"GOOGLE_CREDENTIALS_FILE"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32  `mapstructure:"DB_MIN_CONNS"`

	NotifyBackend string   `mapstructure:"NOTIFY_BACKEND"`
	KafkaBrokers  []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string   `mapstructure:"KAFKA_TOPIC"`
	SQSQueueURL   string   `mapstructure:"SQS_QUEUE_URL"`
	WebhookURL    string   `mapstructure:"WEBHOOK_URL"`
	WebhookSecret string   `mapstructure:"WEBHOOK_SECRET"`

	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitWriteRPS   float64       `mapstructure:"RATE_LIMIT_WRITE_RPS"`
	RateLimitWriteBurst int           `mapstructure:"RATE_LIMIT_WRITE_BURST"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TLSEnabled          bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile         string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile          string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FILE",
	"STORE_BACKEND", "STORE_PATH", "STORE_URL", "STORE_TOKEN",
	"S3_BUCKET", "S3_KEY",
	"SHEETS_SPREADSHEET_ID", "SHEETS_RANGE", "GOOGLE_CREDENTIALS_FILE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"NOTIFY_BACKEND", "KAFKA_BROKERS", "KAFKA_TOPIC", "SQS_QUEUE_URL",
	"WEBHOOK_URL", "WEBHOOK_SECRET",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"RATE_LIMIT_WRITE_RPS", "RATE_LIMIT_WRITE_BURST",
	"BODY_LIMIT", "REQUEST_TIMEOUT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit config file. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", StoreCSV)
	v.SetDefault("STORE_PATH", "followup.csv")
	v.SetDefault("SHEETS_RANGE", "Sheet1")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("NOTIFY_BACKEND", NotifyLog)
	v.SetDefault("KAFKA_TOPIC", "followup-events")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WRITE_RPS", 1)
	v.SetDefault("RATE_LIMIT_WRITE_BURST", 5)
	v.SetDefault("BODY_LIMIT", "256K")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading the config file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.NotifyBackend = strings.ToLower(cfg.NotifyBackend)

	return cfg, nil
}

// splitList accepts either an already decoded list or a comma separated
// string and returns the trimmed, non-empty entries.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 1 && strings.Contains(decoded[0], ",") {
		raw = decoded[0]
		decoded = nil
	}
	if decoded == nil {
		if raw == "" {
			return nil
		}
		decoded = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(decoded))
	for _, s := range decoded {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether bearer tokens are verified. Without a signing
// key every request is treated as an administrator, which is only allowed in
// development.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Validate checks that the selected backends are fully configured and that
// the server is not exposed without authentication outside development.
func (c *Config) Validate() error {
	if !c.IsDev() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}

	switch c.StoreBackend {
	case StoreCSV, StoreXLSX:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required for the %s backend", c.StoreBackend)
		}
	case StoreHTTP:
		if c.StoreURL == "" {
			return fmt.Errorf("STORE_URL is required for the http backend")
		}
	case StoreS3:
		if c.S3Bucket == "" || c.S3Key == "" {
			return fmt.Errorf("S3_BUCKET and S3_KEY are required for the s3 backend")
		}
	case StoreSheets:
		if c.SheetsSpreadsheetID == "" {
			return fmt.Errorf("SHEETS_SPREADSHEET_ID is required for the sheets backend")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of csv, xlsx, http, s3, sheets, postgres, memory; got %q", c.StoreBackend)
	}

	switch c.NotifyBackend {
	case NotifyLog, NotifyNone, "":
	case NotifyKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka notifier")
		}
	case NotifySQS:
		if c.SQSQueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required for the sqs notifier")
		}
	case NotifyWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required for the webhook notifier")
		}
	default:
		return fmt.Errorf("NOTIFY_BACKEND must be one of log, kafka, sqs, webhook, none; got %q", c.NotifyBackend)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
