package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	envListenAddr        = "DUO_LISTEN_ADDR"
	envMaxRoomMembers    = "DUO_MAX_ROOM_MEMBERS"
	envMaxMessageBytes   = "DUO_MAX_MESSAGE_BYTES"
	envMessagesPerSecond = "DUO_MESSAGES_PER_SECOND"
	envSendBuffer        = "DUO_SEND_BUFFER"
	envLogLevel          = "DUO_LOG_LEVEL"
	envStaticDir         = "DUO_STATIC_DIR"
	envShutdownTimeout   = "DUO_SHUTDOWN_TIMEOUT"
	envAllowedOrigins    = "DUO_ALLOWED_ORIGINS"

	DefaultListenAddr        = ":8080"
	DefaultMaxRoomMembers    = 2
	DefaultMaxMessageBytes   = int64(64 * 1024)
	DefaultMessagesPerSecond = 50
	DefaultSendBuffer        = 256
	DefaultShutdownTimeout   = 5 * time.Second
)

// Config holds the signaling server configuration.
type Config struct {
	ListenAddr string
	// MaxRoomMembers <= 0 lets any number of participants into a room.
	MaxRoomMembers    int
	MaxMessageBytes   int64
	MessagesPerSecond int
	SendBuffer        int
	LogLevel          zerolog.Level
	StaticDir         string
	ShutdownTimeout   time.Duration
	// AllowedOrigins empty means every origin may open a socket.
	AllowedOrigins []string
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds a Config from lookup, falling back to defaults for unset keys.
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{
		ListenAddr:        DefaultListenAddr,
		MaxRoomMembers:    DefaultMaxRoomMembers,
		MaxMessageBytes:   DefaultMaxMessageBytes,
		MessagesPerSecond: DefaultMessagesPerSecond,
		SendBuffer:        DefaultSendBuffer,
		LogLevel:          zerolog.InfoLevel,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(envListenAddr); ok {
		cfg.ListenAddr = v
	}
	if v, ok := get(envStaticDir); ok {
		cfg.StaticDir = v
	}
	if v, ok := get(envMaxRoomMembers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envMaxRoomMembers, err)
		}
		cfg.MaxRoomMembers = n
	}
	if v, ok := get(envMaxMessageBytes); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envMaxMessageBytes, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", envMaxMessageBytes, n)
		}
		cfg.MaxMessageBytes = n
	}
	if v, ok := get(envMessagesPerSecond); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envMessagesPerSecond, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", envMessagesPerSecond, n)
		}
		cfg.MessagesPerSecond = n
	}
	if v, ok := get(envSendBuffer); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envSendBuffer, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", envSendBuffer, n)
		}
		cfg.SendBuffer = n
	}
	if v, ok := get(envLogLevel); ok {
		level, err := zerolog.ParseLevel(strings.ToLower(v))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envLogLevel, err)
		}
		cfg.LogLevel = level
	}
	if v, ok := get(envShutdownTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envShutdownTimeout, err)
		}
		cfg.ShutdownTimeout = d
	}
	if v, ok := get(envAllowedOrigins); ok {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	return cfg, nil
}

// OriginAllowed reports whether a websocket upgrade from origin is accepted.
// Requests without an Origin header (non browser clients) are always accepted.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
