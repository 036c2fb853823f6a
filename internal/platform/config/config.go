package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	platformstrings "certifier/pkg/platform/strings"
)

// Server captures process level configuration. Every field is read from
// CERTIFIER_* environment variables.
type Server struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	// BacklogSchedule is the cron spec for refreshing the backlog gauges.
	BacklogSchedule string `env:"BACKLOG_SCHEDULE" envDefault:"@every 1m"`

	Log    LogConfig   `envPrefix:"LOG_"`
	Auth   AuthConfig  `envPrefix:"JWT_"`
	Redis  RedisConfig `envPrefix:"REDIS_"`
	Kafka  KafkaConfig `envPrefix:"KAFKA_"`
	Store  StoreConfig
	Blob   BlobConfig
	Stamp  StampConfig
	Upload UploadConfig
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

type AuthConfig struct {
	// Use the default for development only; override in production.
	SigningKey string        `env:"SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	Issuer     string        `env:"ISSUER" envDefault:"certifier"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	BlobDisk   = "disk"
	BlobMemory = "memory"
	BlobS3     = "s3"
)

type StoreConfig struct {
	Backend     string `env:"STORE" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"certifier.db"`
}

type BlobConfig struct {
	Backend   string `env:"BLOB_BACKEND" envDefault:"disk"`
	UploadDir string `env:"UPLOAD_DIR" envDefault:"uploads"`
	S3Bucket  string `env:"S3_BUCKET"`
	S3Prefix  string `env:"S3_PREFIX"`
	S3Region  string `env:"S3_REGION" envDefault:"us-east-1"`
	// S3Endpoint points at an S3-compatible service (minio, localstack).
	S3Endpoint string `env:"S3_ENDPOINT"`
}

// RedisConfig enables upload key reservation when URL is set.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig enables the Kafka decision notifier when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"certificate-decisions"`
}

type StampConfig struct {
	// AssetDir overrides the embedded stamp assets when set.
	AssetDir  string `env:"ASSET_DIR"`
	Font      string `env:"STAMP_FONT" envDefault:"fonts/Roboto-Regular.ttf"`
	FontName  string `env:"STAMP_FONT_NAME" envDefault:"Roboto-Regular"`
	Checkmark string `env:"STAMP_CHECKMARK" envDefault:"checkmark.png"`
	Authority string `env:"STAMP_AUTHORITY" envDefault:"CERTIFICATE ISSUANCE AUTHORITY"`
}

type UploadConfig struct {
	MaxBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"5242880"`
	// KeyAttempts bounds how many storage keys are tried before giving up.
	KeyAttempts int `env:"UPLOAD_KEY_ATTEMPTS" envDefault:"5"`
}

// FromEnv builds a Server config from CERTIFIER_* environment variables.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CERTIFIER_"}); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Kafka.Brokers = platformstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c Server) Validate() error {
	var errs []error
	if !slices.Contains([]string{StoreMemory, StorePostgres, StoreSQLite}, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.Backend == StorePostgres && c.Store.DatabaseURL == "" {
		errs = append(errs, errors.New("CERTIFIER_DATABASE_URL is required for the postgres store"))
	}
	if !slices.Contains([]string{BlobDisk, BlobMemory, BlobS3}, c.Blob.Backend) {
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.Blob.Backend))
	}
	if c.Blob.Backend == BlobS3 && c.Blob.S3Bucket == "" {
		errs = append(errs, errors.New("CERTIFIER_S3_BUCKET is required for the s3 blob backend"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("CERTIFIER_MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Upload.KeyAttempts <= 0 {
		errs = append(errs, errors.New("CERTIFIER_UPLOAD_KEY_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}
