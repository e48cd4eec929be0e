package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultRateLimitPerSecond is the default rate limit (requests per second)
	DefaultRateLimitPerSecond = 100

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 200
)

// API Paths
const (
	// DefaultGraphQLPath is the default GraphQL endpoint path
	DefaultGraphQLPath = "/graphql"

	// DefaultWebSocketPath is the default WebSocket endpoint path
	DefaultWebSocketPath = "/ws"

	// DefaultRESTPrefix is the prefix of the REST read API
	DefaultRESTPrefix = "/api/v1"
)

// Contract Constants
const (
	// DefaultDecimals is the decimal precision of the pool tokens (USDC uses 6)
	DefaultDecimals = 6

	// MaxDecimals bounds the scale accepted for token amounts
	MaxDecimals = 77
)

// Backfill Constants
const (
	// DefaultBatchSize is the block span of one log query, chosen to stay within
	// the range limits common RPC providers put on eth_getLogs
	DefaultBatchSize = 10_000

	// DefaultTimestampCacheSize is the number of block timestamps kept in memory
	DefaultTimestampCacheSize = 4096

	// DefaultHeadRetryDelay is the delay between attempts to read the chain head at startup
	DefaultHeadRetryDelay = 5 * time.Second

	// DefaultRetrySchedule is the cron spec used to retry a failed backfill pass
	DefaultRetrySchedule = "@every 2m"
)

// Watch Constants
const (
	// DefaultWatchMode selects subscriptions when the transport supports them
	DefaultWatchMode = "auto"

	// DefaultPollInterval is the interval of the polling fallback
	DefaultPollInterval = 4 * time.Second

	// DefaultWatchBufferSize is the size of the live log delivery channel
	DefaultWatchBufferSize = 256

	// DefaultSeenCapacity is the number of hashes the live seen-set remembers
	DefaultSeenCapacity = 100_000

	// DefaultResubscribeBackoff is the maximum backoff between resubscribe attempts
	DefaultResubscribeBackoff = 30 * time.Second
)

// Storage Constants
const (
	// DefaultDatabasePath is the default pebble directory
	DefaultDatabasePath = "./data"

	// DefaultCacheSize is the default cache size in MB for PebbleDB
	DefaultCacheSize = 64 // MB

	// DefaultMaxOpenFiles is the default maximum number of open files for PebbleDB
	DefaultMaxOpenFiles = 1000

	// DefaultWriteBuffer is the default write buffer size in MB for PebbleDB
	DefaultWriteBuffer = 32 // MB

	// DefaultCompactionConcurrency is the default number of concurrent compactions
	DefaultCompactionConcurrency = 1
)

// Pagination Constants
const (
	// DefaultPageSize is the default page size of transaction queries
	DefaultPageSize = 10

	// MaxPageSize is the largest page size a query may request
	MaxPageSize = 100
)

// Query Constants
const (
	// DefaultQueryTimeout is the default timeout for RPC calls
	DefaultQueryTimeout = 30 * time.Second
)

// Bus and Sink Constants
const (
	// DefaultBusBufferSize is the publish buffer of the record bus
	DefaultBusBufferSize = 1024

	// DefaultSubscriberBufferSize is the per-subscriber channel size
	DefaultSubscriberBufferSize = 256

	// DefaultSinkTimeout bounds a single sink publish
	DefaultSinkTimeout = 5 * time.Second

	// DefaultRedisChannel is the pub/sub channel new records are published on
	DefaultRedisChannel = "pool-indexer:transactions"

	// DefaultKafkaTopic is the topic new records are written to
	DefaultKafkaTopic = "pool-indexer.transactions"
)
