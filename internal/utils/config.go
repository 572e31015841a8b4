package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"

	DecodeModeLine  = "line"
	DecodeModeChunk = "chunk"

	// Prompt windows may be narrowed but never widened.
	MaxHistoryLimit = 20
	MaxMemoryLimit  = 5
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Upstream UpstreamConfig
	Summary  SummaryConfig
	Auth     AuthConfig
	Chat     ChatConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigin   string
}

type StoreConfig struct {
	Driver string
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
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
	ConnectTimeout time.Duration
}

// RedisConfig is optional; an empty Addr disables the user context cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

type UpstreamConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	HeaderTimeout time.Duration
}

type SummaryConfig struct {
	Endpoint string
}

type AuthConfig struct {
	JWTSecret string
}

type ChatConfig struct {
	HistoryLimit int
	MemoryLimit  int
	DecodeMode   string
}

// LoadConfig reads the environment and validates it for the server.
func LoadConfig() (*Config, error) {
	cfg := ReadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig reads the environment without validation. Operator scripts use it
// since they only need the store settings.
func ReadConfig() *Config {
	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "turnrelay"),
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envOrDefault("PORT", "8080"),
			ReadTimeout:     parseDuration(envOrDefault("SERVER_READ_TIMEOUT", "15s"), 15*time.Second),
			WriteTimeout:    parseDuration(envOrDefault("SERVER_WRITE_TIMEOUT", "5m"), 5*time.Minute),
			IdleTimeout:     parseDuration(envOrDefault("SERVER_IDLE_TIMEOUT", "60s"), 60*time.Second),
			ShutdownTimeout: parseDuration(envOrDefault("SERVER_SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
			AllowedOrigin:   envOrDefault("CORS_ALLOWED_ORIGIN", "*"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(envOrDefault("STORE_DRIVER", StoreDriverPostgres)),
		},
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "postgres"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			Database:       envOrDefault("MONGO_DATABASE", "turnrelay"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseInt(envOrDefault("REDIS_DB", "0"), 0),
			TTL:      parseDuration(envOrDefault("REDIS_USER_CONTEXT_TTL", "60s"), 60*time.Second),
		},
		Logging: logging,
		Upstream: UpstreamConfig{
			BaseURL:       strings.TrimRight(envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			APIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:         envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			HeaderTimeout: parseDuration(envOrDefault("OPENAI_HEADER_TIMEOUT", "60s"), 60*time.Second),
		},
		Summary: SummaryConfig{
			Endpoint: strings.TrimSpace(os.Getenv("SUMMARY_ENDPOINT")),
		},
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(os.Getenv("STORE_JWT_SECRET")),
		},
		Chat: ChatConfig{
			HistoryLimit: parseLimit(os.Getenv("CHAT_HISTORY_LIMIT"), MaxHistoryLimit),
			MemoryLimit:  parseLimit(os.Getenv("CHAT_MEMORY_LIMIT"), MaxMemoryLimit),
			DecodeMode:   strings.ToLower(envOrDefault("RELAY_DECODE_MODE", DecodeModeLine)),
		},
	}

	return cfg
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	missing := make([]string, 0, 3)

	if c.Upstream.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "STORE_JWT_SECRET")
	}
	if c.Summary.Endpoint == "" {
		missing = append(missing, "SUMMARY_ENDPOINT")
	}

	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMongo, StoreDriverMemory:
	default:
		return fmt.Errorf("config: unsupported STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Chat.DecodeMode {
	case DecodeModeLine, DecodeModeChunk:
	default:
		return fmt.Errorf("config: unsupported RELAY_DECODE_MODE %q", c.Chat.DecodeMode)
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

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i < 0 {
		return fallback
	}
	return i
}

// parseLimit reads a window size in [1, max]; anything else yields max.
func parseLimit(value string, max int) int {
	i := parseInt(value, max)
	if i <= 0 || i > max {
		return max
	}
	return i
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
