package abi

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pool event names
const (
	EventTokensSwapped  = "TokensSwapped"
	EventTokensRedeemed = "TokensRedeemed"
)

// Pool event argument names
const (
	ArgUser       = "user"
	ArgUSDCAmount = "usdcAmount"
	ArgBLTMAmount = "bltmAmount"
)

// PoolABI declares the two events emitted by the USDC/BLTM liquidity pool
const PoolABI = `[
	{
		"anonymous": false,
		"type": "event",
		"name": "TokensSwapped",
		"inputs": [
			{"indexed": true, "name": "user", "type": "address"},
			{"indexed": false, "name": "usdcAmount", "type": "uint256"},
			{"indexed": false, "name": "bltmAmount", "type": "uint256"}
		]
	},
	{
		"anonymous": false,
		"type": "event",
		"name": "TokensRedeemed",
		"inputs": [
			{"indexed": true, "name": "user", "type": "address"},
			{"indexed": false, "name": "bltmAmount", "type": "uint256"},
			{"indexed": false, "name": "usdcAmount", "type": "uint256"}
		]
	}
]`

// NewPoolDecoder returns a decoder with the pool ABI loaded for address
func NewPoolDecoder(address common.Address) (*Decoder, error) {
	d := NewDecoder()
	if err := d.LoadABI(address, "LiquidityPool", PoolABI); err != nil {
		return nil, fmt.Errorf("failed to load pool ABI: %w", err)
	}
	return d, nil
}
