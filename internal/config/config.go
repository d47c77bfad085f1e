package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Cache    CacheConfig
	Rebuild  RebuildConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	// PriceRetentionDays prunes daily bars older than this; 0 keeps everything.
	PriceRetentionDays int
}

// RedisConfig holds the lock backend configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers           []string
	TransactionsTopic string
	EventsTopic       string
	GroupID           string
}

// CacheConfig holds generic TTL cache settings
type CacheConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// RebuildConfig holds rebuild coordinator settings
type RebuildConfig struct {
	LeaseTimeout time.Duration
	AcquireWait  time.Duration
	Benchmarks   []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "valuation"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			PriceRetentionDays: getEnvInt("PRICE_RETENTION_DAYS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:           strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TransactionsTopic: getEnv("KAFKA_TRANSACTIONS_TOPIC", "portfolio-transactions"),
			EventsTopic:       getEnv("KAFKA_EVENTS_TOPIC", "valuation-events"),
			GroupID:           getEnv("KAFKA_GROUP_ID", "valuation-service"),
		},
		Cache: CacheConfig{
			DefaultTTL:    getEnvDuration("CACHE_DEFAULT_TTL", 10*time.Minute),
			SweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 5*time.Minute),
		},
		Rebuild: RebuildConfig{
			LeaseTimeout: getEnvDuration("REBUILD_LEASE_TIMEOUT", 2*time.Minute),
			AcquireWait:  getEnvDuration("REBUILD_ACQUIRE_WAIT", 500*time.Millisecond),
			Benchmarks:   strings.Split(getEnv("REBUILD_BENCHMARKS", "SPY"), ","),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
