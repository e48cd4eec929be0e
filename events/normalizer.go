package events

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/0xmhha/pool-indexer/abi"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ErrMalformedLog is returned for logs that cannot become a record. Such logs are
// dropped by both ingestion paths.
var ErrMalformedLog = errors.New("malformed log")

// BlockTimeResolver resolves the timestamp (seconds) of a block
type BlockTimeResolver interface {
	BlockTime(ctx context.Context, number uint64) (uint64, error)
}

// EventKind describes one pool event and how it maps onto a record
type EventKind struct {
	Name        string
	Topic       common.Hash
	Action      types.Action
	AmountField string
}

// poolKinds is the closed set of indexed events. TokensSwapped is a USDC deposit,
// TokensRedeemed a BLTM withdrawal; the amount is always taken from the input side.
var poolKinds = []struct {
	name        string
	action      types.Action
	amountField string
}{
	{abi.EventTokensSwapped, types.ActionDeposit, abi.ArgUSDCAmount},
	{abi.EventTokensRedeemed, types.ActionWithdraw, abi.ArgBLTMAmount},
}

// Normalizer converts raw pool logs into canonical transaction records
type Normalizer struct {
	address  common.Address
	decoder  *abi.Decoder
	decimals uint8
	resolver BlockTimeResolver
	logger   *zap.Logger

	kinds   []EventKind
	byTopic map[common.Hash]EventKind

	now func() time.Time
}

// NewNormalizer creates a normalizer for the pool at address. resolver may be nil
// when only NormalizeAt is used.
func NewNormalizer(address common.Address, decoder *abi.Decoder, decimals uint8, resolver BlockTimeResolver, logger *zap.Logger) (*Normalizer, error) {
	if decoder == nil {
		return nil, fmt.Errorf("decoder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Normalizer{
		address:  address,
		decoder:  decoder,
		decimals: decimals,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "normalizer")),
		byTopic:  make(map[common.Hash]EventKind, len(poolKinds)),
		now:      time.Now,
	}

	for _, k := range poolKinds {
		topic, err := decoder.EventID(address, k.name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve event %s: %w", k.name, err)
		}
		kind := EventKind{
			Name:        k.name,
			Topic:       topic,
			Action:      k.action,
			AmountField: k.amountField,
		}
		n.kinds = append(n.kinds, kind)
		n.byTopic[topic] = kind
	}

	return n, nil
}

// Address returns the pool contract address
func (n *Normalizer) Address() common.Address {
	return n.address
}

// Kinds returns the indexed event kinds in a fixed order
func (n *Normalizer) Kinds() []EventKind {
	return append([]EventKind(nil), n.kinds...)
}

// KindOf returns the event kind of a log by its topic0
func (n *Normalizer) KindOf(log *gethtypes.Log) (EventKind, bool) {
	if log == nil || len(log.Topics) == 0 {
		return EventKind{}, false
	}
	kind, ok := n.byTopic[log.Topics[0]]
	return kind, ok
}

type decodedEvent struct {
	kind   EventKind
	user   common.Address
	amount *big.Int
}

func (n *Normalizer) decode(log *gethtypes.Log) (*decodedEvent, error) {
	if log == nil {
		return nil, fmt.Errorf("%w: nil log", ErrMalformedLog)
	}
	if log.Removed {
		return nil, fmt.Errorf("%w: log was removed by a reorg", ErrMalformedLog)
	}
	if log.Address != n.address {
		return nil, fmt.Errorf("%w: unexpected contract %s", ErrMalformedLog, log.Address.Hex())
	}

	kind, ok := n.KindOf(log)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event topic", ErrMalformedLog)
	}

	decoded, err := n.decoder.DecodeLog(log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}

	user, ok := decoded.Args[abi.ArgUser].(common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: %s missing %s", ErrMalformedLog, kind.Name, abi.ArgUser)
	}
	amount, ok := decoded.Args[kind.AmountField].(*big.Int)
	if !ok || amount == nil {
		return nil, fmt.Errorf("%w: %s missing %s", ErrMalformedLog, kind.Name, kind.AmountField)
	}

	return &decodedEvent{kind: kind, user: user, amount: amount}, nil
}

func (n *Normalizer) build(log *gethtypes.Log, ev *decodedEvent, blockTime uint64, source types.Source) *types.TransactionRecord {
	return &types.TransactionRecord{
		TxHash:      log.TxHash.Hex(),
		Timestamp:   blockTime,
		Date:        types.FormatDate(blockTime),
		Action:      ev.kind.Action,
		Amount:      types.FormatUnits(ev.amount, n.decimals),
		User:        ev.user.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		Source:      source,
	}
}

// NormalizeAt converts a log into a record using a known block time
func (n *Normalizer) NormalizeAt(log *gethtypes.Log, blockTime uint64, source types.Source) (*types.TransactionRecord, error) {
	ev, err := n.decode(log)
	if err != nil {
		return nil, err
	}
	return n.build(log, ev, blockTime, source), nil
}

// Normalize converts a log into a record, resolving the block time. Resolver
// failures are returned as-is.
func (n *Normalizer) Normalize(ctx context.Context, log *gethtypes.Log, source types.Source) (*types.TransactionRecord, error) {
	ev, err := n.decode(log)
	if err != nil {
		return nil, err
	}
	if n.resolver == nil {
		return nil, fmt.Errorf("no block time resolver configured")
	}

	ts, err := n.resolver.BlockTime(ctx, log.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve time of block %d: %w", log.BlockNumber, err)
	}
	return n.build(log, ev, ts, source), nil
}

// NormalizeLive converts a live log into a record. When the block time cannot be
// resolved the current wall-clock time is used instead.
func (n *Normalizer) NormalizeLive(ctx context.Context, log *gethtypes.Log) (*types.TransactionRecord, error) {
	ev, err := n.decode(log)
	if err != nil {
		return nil, err
	}

	var ts uint64
	if n.resolver != nil {
		ts, err = n.resolver.BlockTime(ctx, log.BlockNumber)
	}
	if n.resolver == nil || err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ts = uint64(n.now().Unix())
		n.logger.Warn("Block time unavailable, using wall clock",
			zap.Uint64("block", log.BlockNumber),
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Error(err),
		)
	}
	return n.build(log, ev, ts, types.SourceLive), nil
}
