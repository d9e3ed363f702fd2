package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Built once from the
// environment in main so the rest of the tree receives plain values.
type Config struct {
	Addr        string
	DatabaseURL string
	Redis       RedisConfig

	// AuditSecret is the master secret the integrity signer derives its HMAC
	// key from. Records signed under a different secret fail verification.
	AuditSecret string

	// JWTSigningKey validates reviewer tokens on the review API.
	JWTSigningKey string

	// MaxPageSize caps review API page sizes.
	MaxPageSize int

	Export ExportConfig
}

// RedisConfig configures the optional summary cache. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ExportConfig configures the SIEM forwarder. Empty brokers disable it.
type ExportConfig struct {
	KafkaBrokers []string
	Topic        string
	PollInterval time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:        envOr("SAFESHIFT_ADDR", ":8080"),
		DatabaseURL: os.Getenv("SAFESHIFT_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("SAFESHIFT_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		AuditSecret:   os.Getenv("SAFESHIFT_AUDIT_SECRET"),
		JWTSigningKey: os.Getenv("SAFESHIFT_JWT_SIGNING_KEY"),
		MaxPageSize:   envIntOr("SAFESHIFT_MAX_PAGE_SIZE", 500),
		Export: ExportConfig{
			Topic:        envOr("SAFESHIFT_EXPORT_TOPIC", "safeshift.audit.records"),
			PollInterval: 2 * time.Second,
		},
	}
	if brokers := os.Getenv("SAFESHIFT_KAFKA_BROKERS"); brokers != "" {
		cfg.Export.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
