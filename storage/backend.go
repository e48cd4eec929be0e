package storage

import (
	"errors"
	"fmt"

	"github.com/0xmhha/pool-indexer/internal/constants"
	"go.uber.org/zap"
)

// BackendType identifies the type of storage backend
type BackendType string

const (
	// BackendTypePebble represents PebbleDB backend
	BackendTypePebble BackendType = "pebble"

	// BackendTypePostgres represents PostgreSQL backend
	BackendTypePostgres BackendType = "postgres"

	// BackendTypeMemory represents in-memory backend (for testing)
	BackendTypeMemory BackendType = "memory"
)

// Config holds storage configuration
type Config struct {
	Backend BackendType

	// Path to the database directory
	Path string

	// Cache size in MB (default: 64)
	Cache int

	// MaxOpenFiles is the maximum number of open files (default: 1000)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 32)
	WriteBuffer int

	// DisableWAL disables write-ahead log (not recommended)
	DisableWAL bool

	// ReadOnly opens the database in read-only mode
	ReadOnly bool

	// CompactionConcurrency for background compaction (default: 1)
	CompactionConcurrency int

	// PostgresDSN is the connection string of the postgres backend
	PostgresDSN string
}

// DefaultConfig returns a default pebble configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Backend:               BackendTypePebble,
		Path:                  path,
		Cache:                 constants.DefaultCacheSize,
		MaxOpenFiles:          constants.DefaultMaxOpenFiles,
		WriteBuffer:           constants.DefaultWriteBuffer,
		DisableWAL:            false,
		ReadOnly:              false,
		CompactionConcurrency: constants.DefaultCompactionConcurrency,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendTypePebble, "":
		if c.Path == "" {
			return errors.New("path cannot be empty")
		}
	case BackendTypePostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres DSN cannot be empty")
		}
	case BackendTypeMemory:
	default:
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}

	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	if c.Backend == BackendTypePebble && c.CompactionConcurrency < 1 {
		return errors.New("compaction concurrency must be at least 1")
	}
	return nil
}

// Open creates the store selected by cfg.Backend
func Open(cfg *Config, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case BackendTypePebble, "":
		s, err := NewPebbleStore(cfg)
		if err != nil {
			return nil, err
		}
		s.SetLogger(logger)
		return s, nil
	case BackendTypePostgres:
		return NewPostgresStore(cfg, logger)
	case BackendTypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}
