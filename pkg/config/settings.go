package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const envPrefix = "EVENTUAL"

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultRedeliveryInterval = 10 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultMaxInFlight        = 10
)

type Settings struct {
	Database      DbSettings       `mapstructure:"database"`
	Schedule      ScheduleSettings `mapstructure:"schedule"`
	Relay         RelaySettings    `mapstructure:"relay"`
	Broker        BrokerSettings   `mapstructure:"broker"`
	Observability Observability    `mapstructure:"observability"`
	Log           LogSettings      `mapstructure:"log"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// ApplyDefaults fills the knobs left empty by file and environment.
func (c *Settings) ApplyDefaults() {
	if c.Relay.PollInterval == 0 {
		c.Relay.PollInterval = DefaultPollInterval
	}
	if c.Relay.RedeliveryInterval == 0 {
		c.Relay.RedeliveryInterval = DefaultRedeliveryInterval
	}
	if c.Relay.Guarantee == "" {
		c.Relay.Guarantee = "at_least_once"
	}
	if c.Relay.MaxInFlight == 0 {
		c.Relay.MaxInFlight = DefaultMaxInFlight
	}
	if c.Relay.Shutdown == 0 {
		c.Relay.Shutdown = DefaultShutdownTimeout
	}
	if c.Broker.PoolSize == 0 {
		c.Broker.PoolSize = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Observability.MetricsAddr == "" {
		c.Observability.MetricsAddr = ":9090"
	}
}

// LoadFromFile reads relay.yaml from filePath, merges relay.<ENVIRONMENT>.yaml when present,
// applies EVENTUAL_* environment overrides and validates the result.
func LoadFromFile(filePath string) (*Settings, error) {
	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml")
	viper.SetConfigName("relay")
	viper.AddConfigPath(filePath)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := mergeConfig(filePath, "relay."+env); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load from env: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like EVENTUAL_DATABASE_TYPE

	// Bind environment variables explicitly so Unmarshal sees keys absent from the file
	for _, key := range []string{
		"database.type",
		"database.dsn",
		"database.uri",
		"database.max_open_conns",
		"database.max_idle_conns",
		"schedule.claim_duration",
		"relay.poll_interval",
		"relay.redelivery_interval",
		"relay.topic",
		"relay.guarantee",
		"relay.max_in_flight",
		"relay.inbound.topic",
		"relay.inbound.group_id",
		"broker.type",
		"broker.url",
		"broker.exchange",
		"broker.project_id",
		"broker.pool_size",
		"observability.service_name",
		"observability.tracing_url",
		"observability.metrics_addr",
		"log.level",
	} {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}

	return viper.Unmarshal(c)
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	return viper.MergeInConfig()
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
