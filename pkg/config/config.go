package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"CoinPull/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. COINPULL_PAIRS.
const EnvPrefix = "COINPULL"

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"required"`
	Log         logger.Config `yaml:"log"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		RateLimit       struct {
			Enabled bool    `yaml:"enabled" default:"true"`
			RPS     float64 `yaml:"rps" default:"10" validate:"gt=0"`
			Burst   int     `yaml:"burst" default:"20" validate:"gte=1"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Coordinator struct {
		Pairs             string        `yaml:"pairs" validate:"required"`
		IntervalSeconds   int           `yaml:"interval_seconds" default:"900" validate:"gte=60,lte=86400"`
		CycleTimeout      time.Duration `yaml:"cycle_timeout" default:"60s"`
		FetchTimeout      time.Duration `yaml:"fetch_timeout" default:"30s"`
		Concurrency       int           `yaml:"concurrency" default:"4" validate:"gte=1,lte=64"`
		DegradedThreshold int           `yaml:"degraded_threshold" default:"5" validate:"gte=1"`
		MailboxSize       int           `yaml:"mailbox_size" default:"64" validate:"gte=1"`
	} `yaml:"coordinator"`
	CoinGecko struct {
		BaseURL    string        `yaml:"base_url" default:"https://api.coingecko.com/api/v3" validate:"url"`
		APIKey     string        `yaml:"api_key"`
		APIPlan    string        `yaml:"api_plan" default:"demo" validate:"oneof=demo pro"`
		Timeout    time.Duration `yaml:"timeout" default:"30s"`
		Currencies []string      `yaml:"currencies"`
	} `yaml:"coingecko"`
	Resolver struct {
		Symbols         map[string]string `yaml:"symbols"`
		RefreshInterval time.Duration     `yaml:"refresh_interval"`
	} `yaml:"resolver"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"coinpull:"`
		TTL      time.Duration `yaml:"ttl" default:"2h"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled          bool     `yaml:"enabled"`
		Brokers          []string `yaml:"brokers"`
		Topic            string   `yaml:"topic" default:"coinpull.quotes"`
		ControlTopic     string   `yaml:"control_topic" default:"coinpull.control"`
		PublishUnchanged bool     `yaml:"publish_unchanged"`
		RequiredAcks     int      `yaml:"required_acks" default:"-1"`
		Compression      string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer         struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"coinpull"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"coinpull"`
		Table            string        `yaml:"table" default:"quotes"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
}

// envOverrides lists the settings that can be overridden from the environment.
type envOverrides struct {
	Environment     string   `envconfig:"ENVIRONMENT"`
	LogLevel        string   `envconfig:"LOG_LEVEL"`
	Port            int      `envconfig:"PORT"`
	Pairs           string   `envconfig:"PAIRS"`
	IntervalSeconds int      `envconfig:"INTERVAL_SECONDS"`
	APIKey          string   `envconfig:"API_KEY"`
	APIPlan         string   `envconfig:"API_PLAN"`
	RedisAddr       string   `envconfig:"REDIS_ADDR"`
	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
	ClickHouseHost  string   `envconfig:"CLICKHOUSE_HOST"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides it with environment
// variables. A .env file in the working directory is loaded first if present.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := parse(path)
	if err != nil {
		return nil, err
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	c.apply(env)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if path == "" {
		return &c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func (c *Config) apply(env envOverrides) {
	if env.Environment != "" {
		c.Environment = env.Environment
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.Pairs != "" {
		c.Coordinator.Pairs = env.Pairs
	}
	if env.IntervalSeconds != 0 {
		c.Coordinator.IntervalSeconds = env.IntervalSeconds
	}
	if env.APIKey != "" {
		c.CoinGecko.APIKey = env.APIKey
	}
	if env.APIPlan != "" {
		c.CoinGecko.APIPlan = env.APIPlan
	}
	if env.RedisAddr != "" {
		c.Redis.Addr = env.RedisAddr
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	if env.ClickHouseHost != "" {
		c.ClickHouse.Host = env.ClickHouseHost
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Coordinator.FetchTimeout <= 0 || c.Coordinator.CycleTimeout <= 0 {
		return fmt.Errorf("coordinator timeouts must be positive")
	}
	return nil
}

// Interval returns the configured poll interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Coordinator.IntervalSeconds) * time.Second
}
