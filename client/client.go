package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxBatchSize caps the number of calls sent in one JSON-RPC batch
const maxBatchSize = 100

// Client wraps Ethereum JSON-RPC client with additional functionality
type Client struct {
	ethClient *ethclient.Client
	rpcClient *rpc.Client
	endpoint  string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// Config holds client configuration
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger

	// RequestsPerSecond limits log and block queries; 0 means unlimited
	RequestsPerSecond float64
	Burst             int
}

// NewClient creates a new Ethereum client
func NewClient(cfg *Config) (*Client, error) {
	return NewClientContext(context.Background(), cfg)
}

// NewClientContext dials and pings the endpoint. The dial and the ping share
// cfg.Timeout.
func NewClientContext(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	client := newClient(rpcClient, cfg)

	// Verify connection
	if err := client.Ping(ctx); err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to ping RPC endpoint: %w", err)
	}

	client.logger.Info("connected to Ethereum RPC",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("subscriptions", client.SupportsSubscriptions()))

	return client, nil
}

// Connect dials the endpoint, retrying every retryDelay until it succeeds or
// ctx is cancelled.
func Connect(ctx context.Context, cfg *Config, retryDelay time.Duration) (*Client, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return NewClientContext(ctx, cfg)
	}
	if retryDelay <= 0 {
		retryDelay = constants.DefaultHeadRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := 1; ; attempt++ {
		client, err := NewClientContext(ctx, cfg)
		if err == nil {
			return client, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("RPC endpoint unavailable, retrying",
			zap.String("endpoint", cfg.Endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("delay", retryDelay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

func newClient(rpcClient *rpc.Client, cfg *Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		ethClient: ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		endpoint:  cfg.Endpoint,
		logger:    logger.With(zap.String("component", "client")),
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return c
}

// wait blocks until the rate limiter admits one request
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// Ping verifies the connection to the RPC endpoint
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ethClient.ChainID(ctx)
	return err
}

// Close closes the client connection
func (c *Client) Close() {
	if c.ethClient != nil {
		c.ethClient.Close()
	}
}

// SupportsSubscriptions reports whether the transport can deliver
// eth_subscribe notifications (websocket or IPC)
func (c *Client) SupportsSubscriptions() bool {
	return c.rpcClient.SupportsSubscriptions()
}

// GetLatestBlockNumber returns the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	blockNumber, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// GetChainID returns the chain ID
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return chainID, nil
}

// FilterLogs executes a bounded log query
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	logs, err := c.ethClient.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs [%s, %s]: %w", q.FromBlock, q.ToBlock, err)
	}
	return logs, nil
}

// SubscribeFilterLogs subscribes to new logs matching q. Block bounds are not
// supported by eth_subscribe and are ignored.
func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	q.FromBlock = nil
	q.ToBlock = nil

	sub, err := c.ethClient.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	return sub, nil
}

// blockTime is the subset of an eth_getBlockByNumber response the indexer uses
type blockTime struct {
	Number    hexutil.Uint64 `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// GetBlockTimestamp returns the timestamp (seconds) of a block
func (c *Client) GetBlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	var head *blockTime
	if err := c.rpcClient.CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return 0, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	if head == nil {
		return 0, fmt.Errorf("failed to get block %d: %w", number, ethereum.NotFound)
	}
	return uint64(head.Timestamp), nil
}

// BatchGetBlockTimestamps fetches the timestamps of multiple blocks in batch requests
func (c *Client) BatchGetBlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error) {
	result := make(map[uint64]uint64, len(numbers))

	for start := 0; start < len(numbers); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(numbers) {
			end = len(numbers)
		}
		chunk := numbers[start:end]

		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		heads := make([]*blockTime, len(chunk))
		batch := make([]rpc.BatchElem, len(chunk))
		for i, num := range chunk {
			batch[i] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []interface{}{hexutil.EncodeUint64(num), false},
				Result: &heads[i],
			}
		}

		if err := c.rpcClient.BatchCallContext(ctx, batch); err != nil {
			return nil, fmt.Errorf("batch call failed: %w", err)
		}

		// Check for individual errors
		for i, elem := range batch {
			if elem.Error != nil {
				c.logger.Error("failed to fetch block in batch",
					zap.Uint64("block_number", chunk[i]),
					zap.Error(elem.Error))
				return nil, fmt.Errorf("failed to fetch block %d: %w", chunk[i], elem.Error)
			}
			if heads[i] == nil {
				return nil, fmt.Errorf("failed to fetch block %d: %w", chunk[i], ethereum.NotFound)
			}
			result[chunk[i]] = uint64(heads[i].Timestamp)
		}
	}

	return result, nil
}
