package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration. FromEnv keeps main lean and
// makes every knob visible in one place.
type Config struct {
	Addr string

	// DatabaseURL selects the Postgres event store; empty means the
	// in-memory store, which is only suitable for development.
	DatabaseURL string

	// RedisURL enables the non-authoritative projection cache.
	RedisURL           string
	ProjectionCacheTTL time.Duration

	// KafkaBrokers enables the Kafka status-notification sink; empty falls
	// back to the log sink.
	KafkaBrokers []string
	KafkaTopic   string

	// AckDeadline is how long a request may sit in PendingAcknowledgment
	// before the sweeper records UnableToSend.
	AckDeadline   time.Duration
	SweepInterval time.Duration
}

// FromEnv builds a Config from environment variables with development
// defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:               envOr("GRIDPASS_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("GRIDPASS_DATABASE_URL"),
		RedisURL:           os.Getenv("GRIDPASS_REDIS_URL"),
		ProjectionCacheTTL: durationOr("GRIDPASS_PROJECTION_CACHE_TTL", 30*time.Second),
		KafkaTopic:         envOr("GRIDPASS_KAFKA_TOPIC", "permission-status"),
		AckDeadline:        durationOr("GRIDPASS_ACK_DEADLINE", 15*time.Minute),
		SweepInterval:      durationOr("GRIDPASS_SWEEP_INTERVAL", time.Minute),
	}
	if brokers := os.Getenv("GRIDPASS_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
