package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/0xmhha/pool-indexer/abi"
	"github.com/0xmhha/pool-indexer/internal/testutil"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T, resolver BlockTimeResolver) *Normalizer {
	t.Helper()
	decoder, err := abi.NewPoolDecoder(testutil.PoolAddress)
	require.NoError(t, err)
	n, err := NewNormalizer(testutil.PoolAddress, decoder, 6, resolver, testutil.NewTestLogger(t))
	require.NoError(t, err)
	return n
}

func TestKinds(t *testing.T) {
	n := newTestNormalizer(t, nil)
	kinds := n.Kinds()
	require.Len(t, kinds, 2)

	assert.Equal(t, abi.EventTokensSwapped, kinds[0].Name)
	assert.Equal(t, testutil.SwapTopic, kinds[0].Topic)
	assert.Equal(t, types.ActionDeposit, kinds[0].Action)
	assert.Equal(t, abi.ArgUSDCAmount, kinds[0].AmountField)

	assert.Equal(t, abi.EventTokensRedeemed, kinds[1].Name)
	assert.Equal(t, testutil.RedeemTopic, kinds[1].Topic)
	assert.Equal(t, types.ActionWithdraw, kinds[1].Action)
	assert.Equal(t, abi.ArgBLTMAmount, kinds[1].AmountField)
}

func TestNormalizeAt(t *testing.T) {
	n := newTestNormalizer(t, nil)

	swap := testutil.SwapLog(1_000_000, 990_000, 100, 2)
	rec, err := n.NormalizeAt(&swap, 1700000000, types.SourceBackfill)
	require.NoError(t, err)
	assert.Equal(t, swap.TxHash.Hex(), rec.TxHash)
	assert.Equal(t, types.ActionDeposit, rec.Action)
	assert.Equal(t, "1.0", rec.Amount)
	assert.Equal(t, testutil.UserAddress.Hex(), rec.User)
	assert.Equal(t, uint64(1700000000), rec.Timestamp)
	assert.Equal(t, "2023-11-14 22:13:20 UTC", rec.Date)
	assert.Equal(t, uint64(100), rec.BlockNumber)
	assert.Equal(t, uint(2), rec.LogIndex)
	assert.Equal(t, types.SourceBackfill, rec.Source)
	require.NoError(t, rec.Validate())

	// Withdraw reads bltmAmount, which is the first data word of TokensRedeemed
	redeem := testutil.RedeemLog(2_500_000, 2_400_000, 101, 0)
	rec, err = n.NormalizeAt(&redeem, 1700000012, types.SourceBackfill)
	require.NoError(t, err)
	assert.Equal(t, types.ActionWithdraw, rec.Action)
	assert.Equal(t, "2.5", rec.Amount)
}

func TestNormalizeMalformed(t *testing.T) {
	n := newTestNormalizer(t, nil)

	removed := testutil.SwapLog(1, 1, 1, 0)
	removed.Removed = true

	wrongContract := testutil.SwapLog(1, 1, 1, 0)
	wrongContract.Address = common.HexToAddress("0x01")

	unknownTopic := testutil.SwapLog(1, 1, 1, 0)
	unknownTopic.Topics[0] = common.HexToHash("0x1234")

	noUser := testutil.SwapLog(1, 1, 1, 0)
	noUser.Topics = noUser.Topics[:1]

	truncated := testutil.MalformedLog(1, 0)

	tests := []struct {
		name string
		log  *gethtypes.Log
	}{
		{"nil", nil},
		{"removed", &removed},
		{"wrong contract", &wrongContract},
		{"unknown topic", &unknownTopic},
		{"missing user topic", &noUser},
		{"truncated data", &truncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.NormalizeAt(tt.log, 1, types.SourceBackfill)
			assert.ErrorIs(t, err, ErrMalformedLog)
		})
	}
}

func TestNormalizeResolvesBlockTime(t *testing.T) {
	chain := testutil.NewFakeChain(200)
	chain.SetBlockTime(150, 1700000000)
	n := newTestNormalizer(t, chain)

	l := testutil.SwapLog(1_000_000, 1, 150, 0)
	rec, err := n.Normalize(context.Background(), &l, types.SourceBackfill)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000), rec.Timestamp)

	chain.TimeErr = errors.New("header unavailable")
	_, err = n.Normalize(context.Background(), &l, types.SourceBackfill)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedLog)
}

func TestNormalizeLiveFallsBackToWallClock(t *testing.T) {
	chain := testutil.NewFakeChain(200)
	chain.TimeErr = errors.New("header unavailable")
	n := newTestNormalizer(t, chain)
	n.now = func() time.Time { return time.Unix(1800000000, 0) }

	l := testutil.RedeemLog(1_000_000, 1, 150, 0)
	rec, err := n.NormalizeLive(context.Background(), &l)
	require.NoError(t, err)
	assert.Equal(t, uint64(1800000000), rec.Timestamp)
	assert.Equal(t, types.SourceLive, rec.Source)

	chain.TimeErr = nil
	rec, err = n.NormalizeLive(context.Background(), &l)
	require.NoError(t, err)
	assert.Equal(t, testutil.BlockTime(150), rec.Timestamp)
}
