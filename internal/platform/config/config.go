package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	CORSOrigins string `env:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000,http://localhost:3001"`

	MaxConnectionsPerOrg int   `env:"MAX_CONNECTIONS_PER_ORG" default:"1000"`
	MaxConnections       int   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxMessageSize       int64 `env:"MAX_MESSAGE_SIZE" default:"1048576"`

	PingInterval        time.Duration `env:"PING_INTERVAL" default:"25s"`
	PingTimeout         time.Duration `env:"PING_TIMEOUT" default:"20s"`
	RoomCleanupInterval time.Duration `env:"ROOM_CLEANUP_INTERVAL" default:"5m"`
	PollWait            time.Duration `env:"POLL_WAIT" default:"25s"`

	AuthRequired bool   `env:"AUTH_REQUIRED" default:"false"`
	JWTSecret    string `env:"JWT_SECRET"`
	Compression  bool   `env:"WS_COMPRESSION" default:"true"`
	IngestAPIKey string `env:"INGEST_API_KEY"`

	ConnectRatePerSecond float64 `env:"CONNECT_RATE_PER_SECOND" default:"10"`
	ConnectBurst         int     `env:"CONNECT_BURST" default:"20"`
	APIRatePerSecond     float64 `env:"API_RATE_PER_SECOND" default:"50"`
	APIBurst             int     `env:"API_BURST" default:"100"`

	RedisURL           string `env:"REDIS_URL"`
	IngestRedisChannel string `env:"INGEST_REDIS_CHANNEL" default:"staffpulse:events"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" default:"staffpulse.events"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID" default:"staffpulse-gateway"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AllowedOrigins splits CORS_ORIGINS into a trimmed list.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

// KafkaBrokerList splits KAFKA_BROKERS into a trimmed list.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	positive := map[string]int64{
		"MAX_CONNECTIONS_PER_ORG": int64(cfg.MaxConnectionsPerOrg),
		"MAX_CONNECTIONS":         int64(cfg.MaxConnections),
		"MAX_MESSAGE_SIZE":        cfg.MaxMessageSize,
		"PING_INTERVAL":           int64(cfg.PingInterval),
		"PING_TIMEOUT":            int64(cfg.PingTimeout),
		"ROOM_CLEANUP_INTERVAL":   int64(cfg.RoomCleanupInterval),
		"POLL_WAIT":               int64(cfg.PollWait),
		"CONNECT_BURST":           int64(cfg.ConnectBurst),
		"API_BURST":               int64(cfg.APIBurst),
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.MaxConnectionsPerOrg > cfg.MaxConnections {
		return errors.New("MAX_CONNECTIONS_PER_ORG must not exceed MAX_CONNECTIONS")
	}

	if cfg.ConnectRatePerSecond <= 0 || cfg.APIRatePerSecond <= 0 {
		return errors.New("rate limits must be positive")
	}

	if cfg.AuthRequired && cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when AUTH_REQUIRED is true")
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if len(cfg.AllowedOrigins()) == 0 {
		return errors.New("CORS_ORIGINS must list at least one origin")
	}

	return nil
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
