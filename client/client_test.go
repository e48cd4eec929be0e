package client

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xmhha/pool-indexer/internal/testutil"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// ethService serves the subset of the eth namespace the client uses
type ethService struct {
	head uint64
	logs []types.Log
}

func (s *ethService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1337))
}

func (s *ethService) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(s.head)
}

func (s *ethService) GetBlockByNumber(number string, full bool) (map[string]interface{}, error) {
	n, err := hexutil.DecodeUint64(number)
	if err != nil {
		return nil, err
	}
	if n > s.head {
		return nil, nil
	}
	return map[string]interface{}{
		"number":    hexutil.Uint64(n),
		"timestamp": hexutil.Uint64(testutil.BlockTime(n)),
	}, nil
}

func (s *ethService) GetLogs(crit map[string]interface{}) ([]types.Log, error) {
	from, _ := hexutil.DecodeUint64(crit["fromBlock"].(string))
	to, _ := hexutil.DecodeUint64(crit["toBlock"].(string))

	var out []types.Log
	for _, l := range s.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func newTestClient(t *testing.T, svc *ethService, cfg *Config) *Client {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("eth", svc); err != nil {
		t.Fatalf("RegisterName() error = %v", err)
	}
	t.Cleanup(server.Stop)

	if cfg == nil {
		cfg = &Config{}
	}
	c := newClient(rpc.DialInProc(server), cfg)
	t.Cleanup(c.Close)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name: "empty endpoint",
			config: &Config{
				Endpoint: "",
			},
			wantErr: true,
		},
		{
			name: "invalid endpoint",
			config: &Config{
				Endpoint: "invalid://endpoint",
				Timeout:  5 * time.Second,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if client != nil {
				client.Close()
			}
		})
	}
}

func TestConnectRetriesUntilReachable(t *testing.T) {
	server := rpc.NewServer()
	if err := server.RegisterName("eth", &ethService{head: 7}); err != nil {
		t.Fatalf("RegisterName() error = %v", err)
	}
	t.Cleanup(server.Stop)

	var failures atomic.Int32
	failures.Store(2)
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures.Load() > 0 {
			failures.Add(-1)
			http.Error(w, "node starting", http.StatusServiceUnavailable)
			return
		}
		server.ServeHTTP(w, r)
	}))
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Connect(ctx, &Config{Endpoint: httpServer.URL, Timeout: time.Second}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if failures.Load() != 0 {
		t.Errorf("Connect() returned before the endpoint recovered")
	}
	head, err := c.GetLatestBlockNumber(ctx)
	if err != nil || head != 7 {
		t.Errorf("GetLatestBlockNumber() = %d, %v", head, err)
	}
}

func TestConnectStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Connect(ctx, &Config{Endpoint: "ws://127.0.0.1:1", Timeout: 10 * time.Millisecond}, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect() error = %v, want deadline exceeded", err)
	}

	if _, err := Connect(context.Background(), &Config{}, time.Millisecond); err == nil {
		t.Error("Connect() without endpoint should fail immediately")
	}
}

func TestClientQueries(t *testing.T) {
	svc := &ethService{
		head: 250,
		logs: []types.Log{
			testutil.SwapLog(1_000_000, 1, 100, 0),
			testutil.RedeemLog(1_000_000, 1, 220, 1),
		},
	}
	c := newTestClient(t, svc, &Config{RequestsPerSecond: 1000, Burst: 10, Logger: zap.NewNop()})
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	chainID, err := c.GetChainID(ctx)
	if err != nil {
		t.Fatalf("GetChainID() error = %v", err)
	}
	if chainID.Int64() != 1337 {
		t.Errorf("GetChainID() = %s, want 1337", chainID)
	}

	head, err := c.GetLatestBlockNumber(ctx)
	if err != nil {
		t.Fatalf("GetLatestBlockNumber() error = %v", err)
	}
	if head != 250 {
		t.Errorf("GetLatestBlockNumber() = %d, want 250", head)
	}

	logs, err := c.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(100),
		ToBlock:   big.NewInt(200),
		Addresses: []common.Address{testutil.PoolAddress},
	})
	if err != nil {
		t.Fatalf("FilterLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].TxHash != testutil.TxHash(100, 0) {
		t.Errorf("FilterLogs() = %+v, want the block 100 log", logs)
	}
}

func TestGetBlockTimestamp(t *testing.T) {
	c := newTestClient(t, &ethService{head: 10}, nil)
	ctx := context.Background()

	ts, err := c.GetBlockTimestamp(ctx, 7)
	if err != nil {
		t.Fatalf("GetBlockTimestamp() error = %v", err)
	}
	if ts != testutil.BlockTime(7) {
		t.Errorf("GetBlockTimestamp() = %d, want %d", ts, testutil.BlockTime(7))
	}

	if _, err := c.GetBlockTimestamp(ctx, 11); err == nil {
		t.Error("expected error for a block beyond the head")
	}
}

func TestBatchGetBlockTimestamps(t *testing.T) {
	c := newTestClient(t, &ethService{head: 500}, nil)
	ctx := context.Background()

	numbers := make([]uint64, 0, 250)
	for i := uint64(1); i <= 250; i++ {
		numbers = append(numbers, i)
	}

	times, err := c.BatchGetBlockTimestamps(ctx, numbers)
	if err != nil {
		t.Fatalf("BatchGetBlockTimestamps() error = %v", err)
	}
	if len(times) != len(numbers) {
		t.Fatalf("got %d timestamps, want %d", len(times), len(numbers))
	}
	for _, n := range numbers {
		if times[n] != testutil.BlockTime(n) {
			t.Errorf("block %d timestamp = %d, want %d", n, times[n], testutil.BlockTime(n))
		}
	}

	if _, err := c.BatchGetBlockTimestamps(ctx, []uint64{499, 501}); err == nil {
		t.Error("expected error when a block is missing")
	}

	empty, err := c.BatchGetBlockTimestamps(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty batch = %v, %v", empty, err)
	}
}

// TestClientIntegration runs against a real node when INDEXER_TEST_RPC is set
func TestClientIntegration(t *testing.T) {
	endpoint := os.Getenv("INDEXER_TEST_RPC")
	if endpoint == "" {
		t.Skip("INDEXER_TEST_RPC not set")
	}

	client, err := NewClient(&Config{
		Endpoint: endpoint,
		Timeout:  30 * time.Second,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	head, err := client.GetLatestBlockNumber(ctx)
	if err != nil {
		t.Fatalf("GetLatestBlockNumber() error = %v", err)
	}
	if _, err := client.GetBlockTimestamp(ctx, head); err != nil {
		t.Errorf("GetBlockTimestamp() error = %v", err)
	}
}
