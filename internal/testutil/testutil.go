package testutil

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/0xmhha/pool-indexer/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var (
	// PoolAddress is the contract address used throughout the tests
	PoolAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

	// UserAddress is the acting party of generated logs and records
	UserAddress = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	// SwapTopic is topic0 of TokensSwapped(address,uint256,uint256)
	SwapTopic = crypto.Keccak256Hash([]byte("TokensSwapped(address,uint256,uint256)"))

	// RedeemTopic is topic0 of TokensRedeemed(address,uint256,uint256)
	RedeemTopic = crypto.Keccak256Hash([]byte("TokensRedeemed(address,uint256,uint256)"))
)

// BaseBlockTime is the timestamp of block 0 on the fake chain. Block n is mined at
// BaseBlockTime + 12*n unless overridden.
const BaseBlockTime uint64 = 1_700_000_000

// NewTestLogger creates a test logger that doesn't output to console
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}

// TxHash derives a deterministic transaction hash for a block/log position
func TxHash(block uint64, index uint) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("tx/%d/%d", block, index)))
}

// BlockTime is the default timestamp of block n on the fake chain
func BlockTime(n uint64) uint64 {
	return BaseBlockTime + 12*n
}

var uint256Pair = func() abi.Arguments {
	u256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: u256}, {Type: u256}}
}()

func poolLog(topic common.Hash, first, second int64, block uint64, index uint) gethtypes.Log {
	data, err := uint256Pair.Pack(big.NewInt(first), big.NewInt(second))
	if err != nil {
		panic(err)
	}
	return gethtypes.Log{
		Address:     PoolAddress,
		Topics:      []common.Hash{topic, common.BytesToHash(UserAddress.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      TxHash(block, index),
		Index:       index,
	}
}

// SwapLog builds an ABI-encoded TokensSwapped log
func SwapLog(usdcAmount, bltmAmount int64, block uint64, index uint) gethtypes.Log {
	return poolLog(SwapTopic, usdcAmount, bltmAmount, block, index)
}

// RedeemLog builds an ABI-encoded TokensRedeemed log
func RedeemLog(bltmAmount, usdcAmount int64, block uint64, index uint) gethtypes.Log {
	return poolLog(RedeemTopic, bltmAmount, usdcAmount, block, index)
}

// MalformedLog builds a TokensSwapped log whose data is truncated
func MalformedLog(block uint64, index uint) gethtypes.Log {
	l := SwapLog(1, 1, block, index)
	l.Data = l.Data[:16]
	return l
}

// NewRecord builds a valid record whose hash is derived from n
func NewRecord(n int, action types.Action, amount string) *types.TransactionRecord {
	block := uint64(n)
	ts := BlockTime(block)
	return &types.TransactionRecord{
		TxHash:      TxHash(block, 0).Hex(),
		Timestamp:   ts,
		Date:        types.FormatDate(ts),
		Action:      action,
		Amount:      amount,
		User:        UserAddress.Hex(),
		BlockNumber: block,
		Source:      types.SourceBackfill,
	}
}
