package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Regions    RegionsConfig    `mapstructure:"regions"`
	Retry      RetryConfig      `mapstructure:"retry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// RegionsConfig enumerates the provider instances. The system instance has
// its own credentials slot: deployments wanting the legacy behavior of
// reusing a business instance for system traffic copy those credentials here
// explicitly, the code never aliases them.
type RegionsConfig struct {
	Default string         `mapstructure:"default"`
	Mali    InstanceConfig `mapstructure:"mali"`
	Chine   InstanceConfig `mapstructure:"chine"`
	System  InstanceConfig `mapstructure:"system"`
}

type InstanceConfig struct {
	Name          string `mapstructure:"name"`
	Endpoint      string `mapstructure:"endpoint"`
	AccountID     string `mapstructure:"account_id"`
	APIToken      string `mapstructure:"api_token"`
	Active        bool   `mapstructure:"active"`
	DefaultPrefix string `mapstructure:"default_prefix"`
}

type RetryConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	WorkerCount       int           `mapstructure:"worker_count"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelaySeconds  int           `mapstructure:"base_delay_seconds"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	MaxReportedErrors int           `mapstructure:"max_reported_errors"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool          `mapstructure:"prometheus_enabled"`
	MetricsPath       string        `mapstructure:"metrics_path"`
	StatsCacheTTL     time.Duration `mapstructure:"stats_cache_ttl"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("TSAC")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout_seconds", 30)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("regions.default", string(model.RegionMali))
	viper.SetDefault("regions.mali.default_prefix", model.PrefixMali)
	viper.SetDefault("regions.chine.default_prefix", model.PrefixChine)
	viper.SetDefault("regions.system.default_prefix", model.PrefixMali)
	viper.SetDefault("retry.batch_size", 100)
	viper.SetDefault("retry.worker_count", 4)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay_seconds", 300)
	viper.SetDefault("retry.send_timeout", 30*time.Second)
	viper.SetDefault("retry.max_reported_errors", 20)
	viper.SetDefault("monitoring.prometheus_enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.stats_cache_ttl", 30*time.Second)
}

// ToRegionSet assembles the runtime region value objects.
func (c *RegionsConfig) ToRegionSet() *model.RegionSet {
	return model.NewRegionSet(
		model.RegionCode(c.Default),
		c.Mali.toRegion(model.RegionMali),
		c.Chine.toRegion(model.RegionChine),
		c.System.toRegion(model.RegionSystem),
	)
}

func (ic InstanceConfig) toRegion(code model.RegionCode) model.Region {
	return model.Region{
		Code:          code,
		Name:          ic.Name,
		Endpoint:      ic.Endpoint,
		AccountID:     ic.AccountID,
		APIToken:      ic.APIToken,
		Active:        ic.Active,
		DefaultPrefix: ic.DefaultPrefix,
	}
}
