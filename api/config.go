package api

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/0xmhha/pool-indexer/internal/config"
	"github.com/0xmhha/pool-indexer/internal/constants"
)

// Config holds API server configuration
type Config struct {
	// Host is the server host (default: localhost)
	Host string

	// Port is the server port (default: 8080)
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// EnableCORS enables CORS middleware
	EnableCORS bool

	// AllowedOrigins is a list of allowed CORS origins
	AllowedOrigins []string

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int

	// EnableGraphQL serves the GraphQL endpoint next to REST
	EnableGraphQL bool

	// EnableWebSocket serves live record subscriptions
	EnableWebSocket bool

	// RESTPrefix is the prefix of the REST read API (default: /api/v1)
	RESTPrefix string

	// GraphQLPath is the GraphQL endpoint path (default: /graphql)
	GraphQLPath string

	// WebSocketPath is the WebSocket endpoint path (default: /ws)
	WebSocketPath string

	// ShutdownTimeout is the graceful shutdown timeout
	ShutdownTimeout time.Duration

	// EnableRateLimit enables per-client rate limiting
	EnableRateLimit bool

	// RateLimitPerSecond is the number of requests allowed per second per IP
	RateLimitPerSecond float64

	// RateLimitBurst is the maximum burst size
	RateLimitBurst int

	// Version is reported by the /version endpoint
	Version string
}

// DefaultConfig returns a default API server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:               constants.DefaultAPIHost,
		Port:               constants.DefaultAPIPort,
		ReadTimeout:        constants.DefaultReadTimeout,
		WriteTimeout:       constants.DefaultWriteTimeout,
		IdleTimeout:        constants.DefaultIdleTimeout,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		MaxHeaderBytes:     constants.DefaultMaxHeaderBytes,
		EnableGraphQL:      true,
		EnableWebSocket:    true,
		RESTPrefix:         constants.DefaultRESTPrefix,
		GraphQLPath:        constants.DefaultGraphQLPath,
		WebSocketPath:      constants.DefaultWebSocketPath,
		ShutdownTimeout:    constants.DefaultShutdownTimeout,
		RateLimitPerSecond: constants.DefaultRateLimitPerSecond,
		RateLimitBurst:     constants.DefaultRateLimitBurst,
		Version:            "dev",
	}
}

// FromAppConfig builds a server configuration from the application's API section
func FromAppConfig(c config.APIConfig) *Config {
	cfg := DefaultConfig()
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	cfg.EnableGraphQL = c.EnableGraphQL
	cfg.EnableWebSocket = c.EnableWebSocket
	cfg.EnableCORS = c.EnableCORS
	if len(c.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = c.AllowedOrigins
	}
	cfg.EnableRateLimit = c.EnableRateLimit
	if c.RateLimitPerSecond > 0 {
		cfg.RateLimitPerSecond = c.RateLimitPerSecond
	}
	if c.RateLimitBurst > 0 {
		cfg.RateLimitBurst = c.RateLimitBurst
	}
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < constants.MinPort || c.Port > constants.MaxPort {
		return fmt.Errorf("port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("max header bytes must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.RESTPrefix == "" || c.RESTPrefix[0] != '/' {
		return fmt.Errorf("rest prefix %q must start with /", c.RESTPrefix)
	}
	if c.EnableRateLimit && (c.RateLimitPerSecond <= 0 || c.RateLimitBurst <= 0) {
		return errors.New("rate limit and burst must be positive when rate limiting is enabled")
	}
	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
