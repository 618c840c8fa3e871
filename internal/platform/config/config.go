package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the cache daemon
type Config struct {
	Redis         RedisConfig         `mapstructure:"redis"`
	Dynamo        DynamoConfig        `mapstructure:"dynamo"`
	Origin        OriginConfig        `mapstructure:"origin"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Policies      map[string]Policy   `mapstructure:"policies"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
	Prefetch      PrefetchConfig      `mapstructure:"prefetch"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Invalidation  InvalidationConfig  `mapstructure:"invalidation"`
	Quota         QuotaConfig         `mapstructure:"quota"`
	BusinessHours BusinessHoursConfig `mapstructure:"business_hours"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DynamoConfig holds the optional DynamoDB store backend configuration
type DynamoConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	TableName string `mapstructure:"table_name"`
}

// CacheConfig holds core cache configuration
type CacheConfig struct {
	Namespace       string        `mapstructure:"namespace"`
	SchemaVersion   string        `mapstructure:"schema_version"`
	L1MaxSize       int           `mapstructure:"l1_max_size"`
	StoreMaxEntries int           `mapstructure:"store_max_entries"`
	StoreMaxAge     time.Duration `mapstructure:"store_max_age"`
}

// Policy holds per-entity cache timing and capability configuration
type Policy struct {
	StaleTime        time.Duration `mapstructure:"stale_time"`
	GCTime           time.Duration `mapstructure:"gc_time"`
	MaxAge           time.Duration `mapstructure:"max_age"`
	PrefetchPriority string        `mapstructure:"prefetch_priority"`
	OfflineSupport   string        `mapstructure:"offline_support"`
}

// OriginConfig points at the system-of-record API that fetchers for the
// background refresher and the prefetch strategy read from
type OriginConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RefreshConfig holds background refresher settings
type RefreshConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	MaxPerTick   int           `mapstructure:"max_per_tick"`
	// Entities lists the entities whose list keys are kept warm against
	// the origin.
	Entities []string `mapstructure:"entities"`
}

// PrefetchConfig holds prefetch strategy settings
type PrefetchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueSize   int `mapstructure:"queue_size"`
}

// SyncConfig holds cross-process synchronization settings
type SyncConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Channel      string        `mapstructure:"channel"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// InvalidationConfig holds scheduled invalidation rules
type InvalidationConfig struct {
	Rules []InvalidationRule `mapstructure:"rules"`
}

// InvalidationRule schedules periodic invalidation of one entity
type InvalidationRule struct {
	Entity            string        `mapstructure:"entity"`
	Interval          time.Duration `mapstructure:"interval"`
	BusinessHoursOnly bool          `mapstructure:"business_hours_only"`
}

// QuotaConfig holds storage quota settings
type QuotaConfig struct {
	TotalBytes       int64          `mapstructure:"total_bytes"`
	WarningPercent   float64        `mapstructure:"warning_percent"`
	CriticalPercent  float64        `mapstructure:"critical_percent"`
	EntityLimits     map[string]int `mapstructure:"entity_limits"`
	DefaultEntityMax int            `mapstructure:"default_entity_max"`
	CheckInterval    time.Duration  `mapstructure:"check_interval"`
}

// BusinessHoursConfig defines the window for business-hours-only invalidations
type BusinessHoursConfig struct {
	StartHour int `mapstructure:"start_hour"`
	EndHour   int `mapstructure:"end_hour"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Dynamo defaults
	v.SetDefault("dynamo.enabled", false)
	v.SetDefault("dynamo.table_name", "cache-entries")

	// Cache defaults
	v.SetDefault("cache.namespace", "app")
	v.SetDefault("cache.schema_version", "v1")
	v.SetDefault("cache.l1_max_size", 1000)
	v.SetDefault("cache.store_max_entries", 5000)
	v.SetDefault("cache.store_max_age", "168h")

	// Origin defaults
	v.SetDefault("origin.base_url", "")
	v.SetDefault("origin.timeout", "10s")

	// Refresh defaults
	v.SetDefault("refresh.tick_interval", "30s")
	v.SetDefault("refresh.max_per_tick", 2)

	// Prefetch defaults
	v.SetDefault("prefetch.concurrency", 2)
	v.SetDefault("prefetch.queue_size", 100)

	// Sync defaults
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.channel", "cachecore:sync")
	v.SetDefault("sync.pong_timeout", "1500ms")
	v.SetDefault("sync.ping_interval", "10s")

	// Quota defaults
	v.SetDefault("quota.total_bytes", 52428800) // 50 MB
	v.SetDefault("quota.warning_percent", 70)
	v.SetDefault("quota.critical_percent", 90)
	v.SetDefault("quota.default_entity_max", 500)
	v.SetDefault("quota.check_interval", "5m")

	// Business hours: Mon-Fri 08:00-18:00 local
	v.SetDefault("business_hours.start_hour", 8)
	v.SetDefault("business_hours.end_hour", 18)

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Dynamo.Enabled && c.Dynamo.TableName == "" {
		return fmt.Errorf("dynamo table name is required when dynamo is enabled")
	}

	if c.Cache.L1MaxSize <= 0 {
		return fmt.Errorf("cache l1_max_size must be > 0")
	}

	if c.Cache.StoreMaxEntries <= 0 {
		return fmt.Errorf("cache store_max_entries must be > 0")
	}

	if c.Quota.WarningPercent <= 0 || c.Quota.WarningPercent >= c.Quota.CriticalPercent {
		return fmt.Errorf("quota warning_percent must be > 0 and < critical_percent")
	}

	if c.BusinessHours.StartHour < 0 || c.BusinessHours.EndHour > 24 ||
		c.BusinessHours.StartHour >= c.BusinessHours.EndHour {
		return fmt.Errorf("invalid business hours window [%d, %d)", c.BusinessHours.StartHour, c.BusinessHours.EndHour)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	for entity, p := range c.Policies {
		if p.StaleTime < 0 || p.GCTime < 0 {
			return fmt.Errorf("policy for %q has negative durations", entity)
		}
	}

	if len(c.Refresh.Entities) > 0 && c.Origin.BaseURL == "" {
		return fmt.Errorf("origin base_url is required when refresh entities are configured")
	}

	for _, rule := range c.Invalidation.Rules {
		if rule.Entity == "" {
			return fmt.Errorf("invalidation rule is missing an entity")
		}
		if rule.Interval <= 0 {
			return fmt.Errorf("invalidation rule for %q must have a positive interval", rule.Entity)
		}
	}

	return nil
}
