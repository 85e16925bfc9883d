package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	SinkStub     = "stub"
	SinkKafka    = "kafka"
	SinkWebhook  = "webhook"
	SinkPostgres = "postgres"
)

type Config struct {
	Env string `yaml:"env" env:"ENV" env-default:"local"`

	HTTPServer struct {
		Address      string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
		Timeout      time.Duration `yaml:"timeout" env-default:"4s"`
		IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
		ShutdownWait time.Duration `yaml:"shutdown_wait" env-default:"10s"`
	} `yaml:"http_server"`

	Limits struct {
		Phone   int `yaml:"phone" env:"PHONE_LIMIT" env-default:"5"`
		Account int `yaml:"account" env:"ACCOUNT_LIMIT" env-default:"10"`
	} `yaml:"limits"`

	Dispatcher struct {
		Interval    time.Duration `yaml:"interval" env:"DISPATCH_INTERVAL" env-default:"1s"`
		SinkTimeout time.Duration `yaml:"sink_timeout" env:"SINK_TIMEOUT" env-default:"5s"`
	} `yaml:"dispatcher"`

	Sweeper struct {
		Interval time.Duration `yaml:"interval" env:"SWEEP_INTERVAL" env-default:"60s"`
	} `yaml:"sweeper"`

	Sink struct {
		Kind string `yaml:"kind" env:"SINK_KIND" env-default:"stub"`
	} `yaml:"sink"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
		DeliveryTopic  string   `yaml:"delivery_topic" env:"KAFKA_DELIVERY_TOPIC" env-default:"sms-delivery"`
		IngressTopic   string   `yaml:"ingress_topic" env:"KAFKA_INGRESS_TOPIC" env-default:"sms-submit"`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"smsgate"`
		IngressEnabled bool     `yaml:"ingress_enabled" env:"KAFKA_INGRESS_ENABLED" env-default:"false"`
	} `yaml:"kafka"`

	Webhook struct {
		URL   string  `yaml:"url" env:"WEBHOOK_URL"`
		RPS   float64 `yaml:"rps" env:"WEBHOOK_RPS" env-default:"10"`
		Burst int     `yaml:"burst" env:"WEBHOOK_BURST" env-default:"1"`
	} `yaml:"webhook"`

	Postgres struct {
		Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
		Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
		Database string `yaml:"database" env:"POSTGRES_DB" env-default:"smsgate"`
		User     string `yaml:"user" env:"POSTGRES_USER" env-default:"smsgate"`
		Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"smsgate"`
	} `yaml:"postgres"`

	Migrator struct {
		MigrationsPath  string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
		MigrationsTable string `yaml:"migrations_table" env:"MIGRATIONS_TABLE" env-default:"schema_migrations"`
	} `yaml:"migrator"`
}

// Load reads configPath when it is set and the environment otherwise.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	var cfg Config

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: config file not found: %s", op, configPath)
		}

		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	return cfg
}

func (c *Config) Validate() error {
	var errs []error

	if c.Limits.Phone < 1 {
		errs = append(errs, fmt.Errorf("limits.phone must be at least 1, got %d", c.Limits.Phone))
	}
	if c.Limits.Account < 1 {
		errs = append(errs, fmt.Errorf("limits.account must be at least 1, got %d", c.Limits.Account))
	}
	if c.Dispatcher.Interval <= 0 {
		errs = append(errs, errors.New("dispatcher.interval must be positive"))
	}
	if c.Dispatcher.SinkTimeout <= 0 {
		errs = append(errs, errors.New("dispatcher.sink_timeout must be positive"))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweeper.interval must be positive"))
	}

	switch c.Sink.Kind {
	case SinkStub, SinkKafka, SinkPostgres:
	case SinkWebhook:
		if c.Webhook.URL == "" {
			errs = append(errs, errors.New("webhook.url is required for the webhook sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink kind %q", c.Sink.Kind))
	}

	return errors.Join(errs...)
}
