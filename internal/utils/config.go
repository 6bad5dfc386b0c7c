package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StoreBolt     = "bolt"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Config is the chat client configuration.
type Config struct {
	Gateway       GatewayConfig
	Store         StoreConfig
	Postgres      PostgresConfig
	Mongo         MongoConfig
	Redis         RedisConfig
	Logging       LoggingConfig
	HistoryWindow int
}

type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type StoreConfig struct {
	Backend    string
	BoltPath   string
	SQLitePath string
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	Table             string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
	Output       string
}

func LoadConfig() (*Config, error) {
	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "4"), 4)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "0"), 0)
	redisDB, _ := strconv.Atoi(envOrDefault("REDIS_DB", "0"))

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "warn")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "wwb-chat"),
		Output:       envOrDefault("LOG_OUTPUT", "stderr"),
	}

	cfg := &Config{
		Gateway: GatewayConfig{
			BaseURL: strings.TrimRight(envOrDefault("CHAT_GATEWAY_URL", "http://localhost:8080"), "/"),
			APIKey:  strings.TrimSpace(os.Getenv("CHAT_API_KEY")),
			Timeout: parseDuration(envOrDefault("CHAT_GATEWAY_TIMEOUT", "90s"), 90*time.Second),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(envOrDefault("STORE_BACKEND", StoreBolt)),
			BoltPath:   envOrDefault("CHAT_BOLT_PATH", "wwb-chat.db"),
			SQLitePath: envOrDefault("CHAT_SQLITE_PATH", "wwb-chat.sqlite"),
		},
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "postgres"),
			Table:             envOrDefault("POSTGRES_TABLE", "kv_store"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			Database:       envOrDefault("MONGO_DATABASE", "wwb_chat"),
			Collection:     envOrDefault("MONGO_COLLECTION", "kv_store"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:      envOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: envOrDefault("REDIS_KEY_PREFIX", "wwb-chat:"),
		},
		Logging:       logging,
		HistoryWindow: parsePositiveInt(envOrDefault("CHAT_HISTORY_WINDOW", "20"), 20),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreBolt, StoreSQLite, StoreRedis, StoreMongo, StorePostgres:
	default:
		return fmt.Errorf("config: unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("config: CHAT_GATEWAY_URL is required")
	}
	return nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parsePositiveInt(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
