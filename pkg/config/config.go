package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures the full runtime configuration of the replicator.
type Config struct {
	App         AppConfig
	HTTP        HTTPConfig
	Source      SourceConfig
	Destination DestinationConfig
	Replication ReplicationConfig
	Recorder    RecorderConfig
	Kafka       KafkaConfig
	Tracing     TracingConfig
	Metrics     MetricsConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"s3-gcs-replicator"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"APP_LOG_FORMAT" envDefault:"json"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":5000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"35m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

// SourceConfig selects the backend objects are replicated from.
type SourceConfig struct {
	Provider  string `env:"SOURCE_PROVIDER" envDefault:"s3"`
	Region    string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint  string `env:"SOURCE_ENDPOINT"`
	PathStyle bool   `env:"SOURCE_PATH_STYLE" envDefault:"false"`
	UseSSL    bool   `env:"SOURCE_USE_SSL" envDefault:"true"`
}

// DestinationConfig selects the backend objects are replicated to.
type DestinationConfig struct {
	Provider        string `env:"DESTINATION_PROVIDER" envDefault:"gcs"`
	Bucket          string `env:"GCS_BUCKET_NAME,required"`
	CredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Endpoint        string `env:"DESTINATION_ENDPOINT"`
	Region          string `env:"DESTINATION_REGION" envDefault:"us-east-1"`
	AccessKey       string `env:"DESTINATION_ACCESS_KEY"`
	SecretKey       string `env:"DESTINATION_SECRET_KEY"`
	UseSSL          bool   `env:"DESTINATION_USE_SSL" envDefault:"true"`
}

type ReplicationConfig struct {
	ChunkSize       int           `env:"CHUNK_SIZE" envDefault:"8388608"`
	PrefetchChunks  int           `env:"PREFETCH_CHUNKS" envDefault:"1"`
	RetryDelay      time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	TransferTimeout time.Duration `env:"TRANSFER_TIMEOUT" envDefault:"30m"`
}

type RecorderConfig struct {
	Path     string `env:"RECORDER_PATH" envDefault:"./data/records"`
	InMemory bool   `env:"RECORDER_IN_MEMORY" envDefault:"false"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic            string        `env:"KAFKA_REPLICATION_TOPIC" envDefault:"replication.events"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"1"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"10ms"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=replication"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9102"`
}

// Load reads an optional .env file, parses environment variables into
// Config and validates the result. Any error is fatal at startup.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// A missing .env file is normal outside local development.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the provider-dependent settings env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Source.Provider {
	case "s3":
		// Static keys are optional here; without them the default AWS
		// credential chain applies.
		if c.Source.Region == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the s3 source"))
		}
	case "minio":
		if c.Source.Endpoint == "" {
			errs = append(errs, errors.New("SOURCE_ENDPOINT is required for the minio source"))
		}
		if c.Source.AccessKey == "" || c.Source.SecretKey == "" {
			errs = append(errs, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required for the minio source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported source provider: %q", c.Source.Provider))
	}

	switch c.Destination.Provider {
	case "gcs":
		if c.Destination.CredentialsFile == "" && c.Destination.Endpoint == "" {
			errs = append(errs, errors.New("GOOGLE_APPLICATION_CREDENTIALS is required for the gcs destination"))
		}
	case "minio":
		if c.Destination.Endpoint == "" {
			errs = append(errs, errors.New("DESTINATION_ENDPOINT is required for the minio destination"))
		}
		if c.Destination.AccessKey == "" || c.Destination.SecretKey == "" {
			errs = append(errs, errors.New("DESTINATION_ACCESS_KEY and DESTINATION_SECRET_KEY are required for the minio destination"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported destination provider: %q", c.Destination.Provider))
	}

	if c.Replication.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.Replication.ChunkSize))
	}
	if c.Replication.PrefetchChunks < 0 {
		errs = append(errs, fmt.Errorf("PREFETCH_CHUNKS must not be negative, got %d", c.Replication.PrefetchChunks))
	}
	if c.Replication.RetryDelay < 0 {
		errs = append(errs, errors.New("RETRY_DELAY must not be negative"))
	}
	if !c.Recorder.InMemory && c.Recorder.Path == "" {
		errs = append(errs, errors.New("RECORDER_PATH is required unless RECORDER_IN_MEMORY is set"))
	}

	return errors.Join(errs...)
}
