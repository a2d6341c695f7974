// Package config loads the realtime gateway configuration from the environment.
package config

import (
	"fmt"
	"time"

	"pulse-backend/pkg/constants"
	"pulse-backend/pkg/env"
)

// Config holds all configuration for the gateway
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	JWT       JWTConfig
	Log       LogConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host                string
	Port                int
	Password            string
	DB                  int
	PoolSize            int
	Timeout             time.Duration
	HealthCheckInterval time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration. The gateway only validates tokens.
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// RealtimeConfig holds WebSocket and call/chat behaviour settings
type RealtimeConfig struct {
	MaxConnections      int
	AllowedOrigins      []string
	SendBuffer          int
	CallGracePeriod     time.Duration
	MessageEditWindow   time.Duration
	MessageDeleteWindow time.Duration
	ModerationBlocklist []string
}

// RateLimitConfig holds per-action limits sharing one window length
type RateLimitConfig struct {
	Messages   int
	RESTCalls  int
	Window     time.Duration
	MaxBuckets int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", 8080),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", "realtime-gateway"),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("COCKROACH_HOST", "localhost"),
			Port:     env.GetInt("COCKROACH_PORT", 26257),
			User:     env.GetString("COCKROACH_USER", "root"),
			Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
			Database: env.GetString("COCKROACH_DATABASE", "pulse"),
			SSLMode:  env.GetString("COCKROACH_SSL_MODE", "disable"),
			MaxConns: env.GetInt("COCKROACH_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			Host:                env.GetString("REDIS_HOST", "localhost"),
			Port:                env.GetInt("REDIS_PORT", 6379),
			Password:            env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:                  env.GetInt("REDIS_DB", 0),
			PoolSize:            env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:             env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
			HealthCheckInterval: env.GetDuration("REDIS_HEALTH_CHECK_INTERVAL", 10*time.Second),
		},
		Cassandra: LoadCassandra(),
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/realtime-gateway.log"),
		},
		Realtime: RealtimeConfig{
			MaxConnections:      env.GetInt("WS_MAX_CONNECTIONS", 1000),
			AllowedOrigins:      env.GetList("WS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			SendBuffer:          env.GetInt("WS_SEND_BUFFER", 256),
			CallGracePeriod:     env.GetDuration("CALL_GRACE_PERIOD", constants.CallGracePeriod),
			MessageEditWindow:   env.GetDuration("MESSAGE_EDIT_WINDOW", constants.MessageEditWindow),
			MessageDeleteWindow: env.GetDuration("MESSAGE_DELETE_WINDOW", constants.MessageDeleteWindow),
			ModerationBlocklist: env.GetList("MODERATION_BLOCKLIST", nil),
		},
		RateLimit: RateLimitConfig{
			Messages:   env.GetInt("RATELIMIT_MESSAGES", constants.DefaultMessageRate),
			RESTCalls:  env.GetInt("RATELIMIT_REST_DEFAULT", 120),
			Window:     env.GetDuration("RATELIMIT_WINDOW", constants.DefaultRateWindow),
			MaxBuckets: env.GetInt("RATELIMIT_MAX_BUCKETS", constants.DefaultMaxRateBuckets),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadCassandra reads only the Cassandra section. Offline tools that touch
// the message store use it without needing the gateway secrets.
func LoadCassandra() CassandraConfig {
	return CassandraConfig{
		Hosts:    env.GetList("CASSANDRA_HOSTS", []string{"localhost"}),
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "pulse"),
		Username: env.GetString("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Server.Environment == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.RateLimit.Messages <= 0 || c.RateLimit.RESTCalls <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATELIMIT_WINDOW must be positive")
	}
	if c.Realtime.CallGracePeriod <= 0 {
		return fmt.Errorf("CALL_GRACE_PERIOD must be positive")
	}
	if c.Realtime.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be positive")
	}
	return nil
}
