package testutil

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/0xmhha/pool-indexer/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// TestNewTestLogger tests creating a test logger
func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger(t)
	if logger == nil {
		t.Fatal("NewTestLogger() returned nil")
	}
}

func TestSwapLog(t *testing.T) {
	l := SwapLog(1_000_000, 2_000_000, 10, 3)
	if l.Address != PoolAddress {
		t.Errorf("address = %s", l.Address.Hex())
	}
	if len(l.Topics) != 2 || l.Topics[0] != SwapTopic {
		t.Fatalf("unexpected topics %v", l.Topics)
	}
	if common.BytesToAddress(l.Topics[1].Bytes()) != UserAddress {
		t.Errorf("user topic = %s", l.Topics[1].Hex())
	}
	if len(l.Data) != 64 {
		t.Errorf("data length = %d, want 64", len(l.Data))
	}
	if got := new(big.Int).SetBytes(l.Data[:32]); got.Int64() != 1_000_000 {
		t.Errorf("first word = %s", got)
	}
	if l.TxHash != TxHash(10, 3) {
		t.Errorf("tx hash = %s", l.TxHash.Hex())
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord(7, types.ActionWithdraw, "2.5")
	if err := rec.Validate(); err != nil {
		t.Fatalf("NewRecord() produced invalid record: %v", err)
	}
	if rec.Timestamp != BlockTime(7) {
		t.Errorf("timestamp = %d", rec.Timestamp)
	}
}

func TestFakeChainFilterLogs(t *testing.T) {
	chain := NewFakeChain(300,
		SwapLog(1, 1, 100, 0),
		RedeemLog(1, 1, 150, 0),
		SwapLog(1, 1, 250, 1),
	)

	logs, err := chain.FilterLogs(context.Background(), ethereum.FilterQuery{
		FromBlock: big.NewInt(100),
		ToBlock:   big.NewInt(200),
		Addresses: []common.Address{PoolAddress},
		Topics:    [][]common.Hash{{SwapTopic}},
	})
	if err != nil {
		t.Fatalf("FilterLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].BlockNumber != 100 {
		t.Errorf("unexpected logs %+v", logs)
	}
	if n := len(chain.Queries()); n != 1 {
		t.Errorf("recorded %d queries, want 1", n)
	}

	boom := errors.New("boom")
	chain.FilterErr = func(ethereum.FilterQuery) error { return boom }
	if _, err := chain.FilterLogs(context.Background(), ethereum.FilterQuery{}); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestFakeChainEmit(t *testing.T) {
	chain := NewFakeChain(10)
	ch := make(chan gethtypes.Log, 1)
	sub, err := chain.SubscribeFilterLogs(context.Background(), ethereum.FilterQuery{
		Topics: [][]common.Hash{{RedeemTopic}},
	}, ch)
	if err != nil {
		t.Fatalf("SubscribeFilterLogs() error = %v", err)
	}
	defer sub.Unsubscribe()

	chain.Emit(SwapLog(1, 1, 11, 0))
	chain.Emit(RedeemLog(1, 1, 12, 0))

	got := <-ch
	if got.Topics[0] != RedeemTopic || got.BlockNumber != 12 {
		t.Errorf("unexpected delivery %+v", got)
	}
	head, _ := chain.GetLatestBlockNumber(context.Background())
	if head != 12 {
		t.Errorf("head = %d, want 12", head)
	}
}
