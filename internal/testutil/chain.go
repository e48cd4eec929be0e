package testutil

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// FakeChain is an in-memory log source, block time source and log subscriber.
// It records every FilterLogs query it serves.
type FakeChain struct {
	mu      sync.Mutex
	head    uint64
	logs    []gethtypes.Log
	times   map[uint64]uint64
	queries []ethereum.FilterQuery
	subs    []*FakeSubscription

	// FilterErr, when set, is consulted before serving each FilterLogs call
	FilterErr func(q ethereum.FilterQuery) error
	HeadErr   error
	TimeErr   error
	SubErr    error
}

// NewFakeChain creates a fake chain at the given head holding logs
func NewFakeChain(head uint64, logs ...gethtypes.Log) *FakeChain {
	return &FakeChain{
		head:  head,
		logs:  append([]gethtypes.Log(nil), logs...),
		times: make(map[uint64]uint64),
	}
}

// SetHead moves the chain head
func (c *FakeChain) SetHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

// AddLogs appends logs without delivering them to subscribers
func (c *FakeChain) AddLogs(logs ...gethtypes.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, logs...)
}

// SetBlockTime overrides the timestamp of block n
func (c *FakeChain) SetBlockTime(n, ts uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times[n] = ts
}

// Queries returns a copy of the FilterLogs queries served so far
func (c *FakeChain) Queries() []ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), c.queries...)
}

// GetLatestBlockNumber returns the chain head
func (c *FakeChain) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.HeadErr != nil {
		return 0, c.HeadErr
	}
	return c.head, nil
}

// FilterLogs returns the stored logs matching q in insertion order
func (c *FakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)
	if c.FilterErr != nil {
		if err := c.FilterErr(q); err != nil {
			return nil, err
		}
	}

	var out []gethtypes.Log
	for _, l := range c.logs {
		if matches(q, l) {
			out = append(out, l)
		}
	}
	return out, nil
}

// BlockTime returns the timestamp of block n
func (c *FakeChain) BlockTime(ctx context.Context, n uint64) (uint64, error) {
	return c.GetBlockTimestamp(ctx, n)
}

// GetBlockTimestamp returns the timestamp of block n
func (c *FakeChain) GetBlockTimestamp(ctx context.Context, n uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TimeErr != nil {
		return 0, c.TimeErr
	}
	return c.timeLocked(n), nil
}

// BatchGetBlockTimestamps returns the timestamps of the given blocks
func (c *FakeChain) BatchGetBlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TimeErr != nil {
		return nil, c.TimeErr
	}
	out := make(map[uint64]uint64, len(numbers))
	for _, n := range numbers {
		out[n] = c.timeLocked(n)
	}
	return out, nil
}

func (c *FakeChain) timeLocked(n uint64) uint64 {
	if ts, ok := c.times[n]; ok {
		return ts
	}
	return BlockTime(n)
}

// SubscribeFilterLogs registers a subscription fed by Emit
func (c *FakeChain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubErr != nil {
		return nil, c.SubErr
	}
	sub := &FakeSubscription{
		query: q,
		ch:    ch,
		err:   make(chan error, 1),
		quit:  make(chan struct{}),
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// Subscriptions returns the number of live subscriptions
func (c *FakeChain) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.subs {
		if !s.closed() {
			n++
		}
	}
	return n
}

// Emit appends l to the chain and delivers it to every matching subscription.
// The head is raised to the log's block when needed.
func (c *FakeChain) Emit(l gethtypes.Log) {
	c.mu.Lock()
	c.logs = append(c.logs, l)
	if l.BlockNumber > c.head {
		c.head = l.BlockNumber
	}
	subs := append([]*FakeSubscription(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		if matches(s.query, l) {
			s.deliver(l)
		}
	}
}

// Replay delivers l to matching subscriptions without storing it again
func (c *FakeChain) Replay(l gethtypes.Log) {
	c.mu.Lock()
	subs := append([]*FakeSubscription(nil), c.subs...)
	c.mu.Unlock()

	for _, s := range subs {
		if matches(s.query, l) {
			s.deliver(l)
		}
	}
}

// FailSubscriptions terminates every live subscription with err
func (c *FakeChain) FailSubscriptions(err error) {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.fail(err)
	}
}

func matches(q ethereum.FilterQuery, l gethtypes.Log) bool {
	if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
		return false
	}
	if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
		return false
	}
	if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
		return false
	}
	for i, set := range q.Topics {
		if len(set) == 0 {
			continue
		}
		if i >= len(l.Topics) || !containsHash(set, l.Topics[i]) {
			return false
		}
	}
	return true
}

func containsAddress(set []common.Address, a common.Address) bool {
	for _, s := range set {
		if s == a {
			return true
		}
	}
	return false
}

func containsHash(set []common.Hash, h common.Hash) bool {
	for _, s := range set {
		if s == h {
			return true
		}
	}
	return false
}

// FakeSubscription is the subscription handed out by FakeChain
type FakeSubscription struct {
	query ethereum.FilterQuery
	ch    chan<- gethtypes.Log
	err   chan error
	once  sync.Once
	quit  chan struct{}
}

func (s *FakeSubscription) deliver(l gethtypes.Log) {
	select {
	case s.ch <- l:
	case <-s.quit:
	}
}

func (s *FakeSubscription) fail(err error) {
	s.once.Do(func() {
		s.err <- err
		close(s.quit)
	})
}

func (s *FakeSubscription) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// Unsubscribe ends the subscription
func (s *FakeSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		close(s.err)
	})
}

// Err returns the subscription error channel
func (s *FakeSubscription) Err() <-chan error {
	return s.err
}
