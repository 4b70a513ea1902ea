package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Venues    []VenueConfig   `mapstructure:"venues"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Health    HealthConfig    `mapstructure:"health"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Reserves  ReservesConfig  `mapstructure:"reserves"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	WriteTimeoutMs int      `mapstructure:"write_timeout_ms"`
	RequiredAcks   int      `mapstructure:"required_acks"`
}

// VenueConfig is the static bootstrap definition of a venue; runtime status
// lives in the venue registry and is owned by the health monitor.
type VenueConfig struct {
	ID                 string   `mapstructure:"id"`
	Name               string   `mapstructure:"name"`
	Priority           int      `mapstructure:"priority"`
	FeeRate            float64  `mapstructure:"fee_rate"`
	Symbols            []string `mapstructure:"symbols"`
	Capabilities       []string `mapstructure:"capabilities"`
	MaxOrdersPerSecond int      `mapstructure:"max_orders_per_second"`
	MaxConcurrentCalls int      `mapstructure:"max_concurrent_calls"`
	CallTimeoutMs      int      `mapstructure:"call_timeout_ms"`
}

// RoutingConfig exposes the scoring weight map so routing behavior is
// tunable without a rebuild. Weights are relative, not required to sum to 1.
type RoutingConfig struct {
	PriceWeight       float64 `mapstructure:"price_weight"`
	LiquidityWeight   float64 `mapstructure:"liquidity_weight"`
	FeeWeight         float64 `mapstructure:"fee_weight"`
	LatencyWeight     float64 `mapstructure:"latency_weight"`
	ReliabilityWeight float64 `mapstructure:"reliability_weight"`
	// ReliabilityWindow is the trailing sample count for the success ratio.
	ReliabilityWindow int `mapstructure:"reliability_window"`
}

type HealthConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	DegradedAfter   int `mapstructure:"degraded_after"`    // consecutive failures
	InactiveAfter   int `mapstructure:"inactive_after"`    // consecutive failures
	PromoteAfter    int `mapstructure:"promote_after"`     // consecutive successes
	SlowThresholdMs int `mapstructure:"slow_threshold_ms"` // responses slower than this count as failures
	CheckTimeoutMs  int `mapstructure:"check_timeout_ms"`
}

type ReconcileConfig struct {
	IntervalSeconds     int    `mapstructure:"interval_seconds"`
	Tolerance           string `mapstructure:"tolerance"` // decimal string
	LockKey             string `mapstructure:"lock_key"`
	LockTTLSeconds      int    `mapstructure:"lock_ttl_seconds"`
	VenueTimeoutSeconds int    `mapstructure:"venue_timeout_seconds"`
}

type ReservesConfig struct {
	// SigningKeySeed is the hex-encoded ed25519 seed of the reporting key.
	SigningKeySeed string `mapstructure:"signing_key_seed"`
}

type PipelineConfig struct {
	Workers           int     `mapstructure:"workers"`
	QueueSize         int     `mapstructure:"queue_size"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryBaseMs       int     `mapstructure:"retry_base_ms"`
	FeeBufferRate     float64 `mapstructure:"fee_buffer_rate"`
	TravelRuleMinimum float64 `mapstructure:"travel_rule_minimum"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. OMNIGATE_REDIS_ADDR
	viper.SetEnvPrefix("omnigate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.metrics_path", "/metrics")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("kafka.topic", "omnigate.events")
	viper.SetDefault("kafka.write_timeout_ms", 3000)
	viper.SetDefault("kafka.required_acks", 1)
	viper.SetDefault("routing.price_weight", 0.30)
	viper.SetDefault("routing.liquidity_weight", 0.25)
	viper.SetDefault("routing.fee_weight", 0.15)
	viper.SetDefault("routing.latency_weight", 0.10)
	viper.SetDefault("routing.reliability_weight", 0.20)
	viper.SetDefault("routing.reliability_window", 100)
	viper.SetDefault("health.interval_seconds", 30)
	viper.SetDefault("health.degraded_after", 3)
	viper.SetDefault("health.inactive_after", 10)
	viper.SetDefault("health.promote_after", 5)
	viper.SetDefault("health.slow_threshold_ms", 2000)
	viper.SetDefault("health.check_timeout_ms", 5000)
	viper.SetDefault("reconcile.interval_seconds", 300)
	viper.SetDefault("reconcile.tolerance", "0.00000001")
	viper.SetDefault("reconcile.lock_key", "omnigate:reconcile:lock")
	viper.SetDefault("reconcile.lock_ttl_seconds", 120)
	viper.SetDefault("reconcile.venue_timeout_seconds", 15)
	viper.SetDefault("pipeline.workers", 8)
	viper.SetDefault("pipeline.queue_size", 1024)
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.retry_base_ms", 200)
	viper.SetDefault("pipeline.fee_buffer_rate", 0.002)
	viper.SetDefault("pipeline.travel_rule_minimum", 1000)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
