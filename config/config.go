// Package config loads dispatcher configuration from a YAML file plus
// DISPATCH_* environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full dispatcher configuration.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	API     APIConfig     `mapstructure:"api"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Queues  QueuesConfig  `mapstructure:"queues"`
	Limits  LimitsConfig  `mapstructure:"limits"`
}

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BrokerConfig selects the broker by URI scheme: redis:// (or rediss://,
// unix://) for Redis, amqp:// for RabbitMQ.
type BrokerConfig struct {
	URI       string `mapstructure:"uri"`
	Namespace string `mapstructure:"namespace"`
}

// APIConfig locates the platform API and the admin credential used to mint
// per-job domain tokens.
type APIConfig struct {
	URL            string        `mapstructure:"url"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RuntimeConfig locates the sandboxed function runner.
type RuntimeConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type QueuesConfig struct {
	HookWorkers      int           `mapstructure:"hook_workers"`
	CommandWorkers   int           `mapstructure:"command_workers"`
	CronWorkers      int           `mapstructure:"cron_workers"`
	ReconcileWorkers int           `mapstructure:"reconcile_workers"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

type LimitsConfig struct {
	PerDomain  int           `mapstructure:"per_domain"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// Load reads the config file at path, if non-empty, and applies environment
// overrides of the form DISPATCH_BROKER_URI, DISPATCH_API_CLIENT_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("dispatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dispatchd")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.shutdown_timeout", 30*time.Second)

	v.SetDefault("broker.uri", "redis://localhost:6379/0")
	v.SetDefault("broker.namespace", "dispatch:")

	v.SetDefault("api.url", "http://localhost:3000")
	// Empty defaults keep these keys visible to environment overrides.
	v.SetDefault("api.client_id", "")
	v.SetDefault("api.client_secret", "")
	v.SetDefault("api.request_timeout", 10*time.Second)

	v.SetDefault("runtime.url", "")
	v.SetDefault("runtime.timeout", 30*time.Second)

	v.SetDefault("queues.hook_workers", 10)
	v.SetDefault("queues.command_workers", 10)
	v.SetDefault("queues.cron_workers", 5)
	v.SetDefault("queues.reconcile_workers", 1)
	v.SetDefault("queues.poll_interval", 250*time.Millisecond)

	v.SetDefault("limits.per_domain", 1000)
	v.SetDefault("limits.rate_window", time.Hour)
}

// Validate rejects configurations that cannot start a dispatcher.
func (c *Config) Validate() error {
	if c.Broker.URI == "" {
		return fmt.Errorf("broker.uri is required")
	}
	if c.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}
	if c.API.ClientID == "" || c.API.ClientSecret == "" {
		return fmt.Errorf("api.client_id and api.client_secret are required")
	}
	if c.Runtime.URL == "" {
		return fmt.Errorf("runtime.url is required")
	}
	return nil
}
