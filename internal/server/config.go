// Package server provides configuration helpers that define runtime defaults
// and validation for the bulletin board service.
package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/Tyrowin/bboard/internal/board"
)

const (
	// DefaultPort is the well-known TCP port of the board.
	DefaultPort = 12345

	defaultHost               = "0.0.0.0"
	defaultAllowedOrigin      = "http://localhost:8080"
	defaultMaxMessageSize     = 64 * 1024
	defaultSendBuffer         = 256
	defaultRateLimitBurst     = 50
	defaultRateLimitInterval  = time.Second
	defaultAcceptPollInterval = time.Second
	defaultWriteTimeout       = 10 * time.Second
	defaultShutdownTimeout    = 5 * time.Second
	defaultLogLevel           = "INFO"
)

// Config holds the server settings. List-valued settings are
// comma-separated strings.
type Config struct {
	Host           string `env:"HOST,default=0.0.0.0"`
	Port           int    `env:"PORT,default=12345"`
	WSAddr         string `env:"WS_ADDR"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
	Groups         string `env:"GROUPS"`
	HistoryTail    int    `env:"HISTORY_TAIL,default=2"`
	MaxMessageSize int    `env:"MAX_MESSAGE_SIZE,default=65536"`
	SendBuffer     int    `env:"SEND_BUFFER,default=256"`
	RateLimitBurst int    `env:"RATE_LIMIT_BURST,default=50"`

	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	AcceptPollInterval      time.Duration `env:"ACCEPT_POLL_INTERVAL,default=1s"`
	WriteTimeout            time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`

	LogLevel string `env:"LOG_LEVEL,default=INFO"`
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() Config {
	return Config{
		Host:                    defaultHost,
		Port:                    DefaultPort,
		AllowedOrigins:          defaultAllowedOrigin,
		Groups:                  strings.Join(board.DefaultGroups, ","),
		HistoryTail:             board.DefaultHistoryTail,
		MaxMessageSize:          defaultMaxMessageSize,
		SendBuffer:              defaultSendBuffer,
		RateLimitBurst:          defaultRateLimitBurst,
		RateLimitRefillInterval: defaultRateLimitInterval,
		AcceptPollInterval:      defaultAcceptPollInterval,
		WriteTimeout:            defaultWriteTimeout,
		ShutdownTimeout:         defaultShutdownTimeout,
		LogLevel:                defaultLogLevel,
	}
}

// LoadConfig reads the configuration from the environment. The optional
// first argument overrides the TCP port.
func LoadConfig(args []string) (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	if len(args) > 0 {
		port, err := parsePort(args[0])
		if err != nil {
			return Config{}, err
		}
		cfg.Port = port
	}

	return cfg.sanitize(), nil
}

func parsePort(value string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", value)
	}
	return port, nil
}

// sanitize replaces unusable values with defaults. A zero port is kept and
// lets the OS pick one.
func (c Config) sanitize() Config {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = defaultHost
	}
	if c.Port < 0 || c.Port > 65535 {
		c.Port = DefaultPort
	}
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		c.AllowedOrigins = defaultAllowedOrigin
	}
	if len(splitList(c.Groups)) == 0 {
		c.Groups = strings.Join(board.DefaultGroups, ",")
	}
	if c.HistoryTail < 0 {
		c.HistoryTail = board.DefaultHistoryTail
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaultRateLimitBurst
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = defaultRateLimitInterval
	}
	if c.AcceptPollInterval <= 0 {
		c.AcceptPollInterval = defaultAcceptPollInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
	return c
}

// Address is the TCP listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GroupNames returns the configured predefined groups.
func (c Config) GroupNames() []string {
	return splitList(c.Groups)
}

// OriginList returns the configured WebSocket origin allow-list.
func (c Config) OriginList() []string {
	return splitList(c.AllowedOrigins)
}

func splitList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
