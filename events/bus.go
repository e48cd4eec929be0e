package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/google/uuid"
)

// SubscriptionID is a unique identifier for a subscription
type SubscriptionID string

// SubscriptionStats tracks statistics for a subscription
type SubscriptionStats struct {
	// RecordsReceived is the total number of records received by this subscription
	RecordsReceived atomic.Uint64

	// RecordsDropped is the number of records dropped due to full channel
	RecordsDropped atomic.Uint64

	// LastRecordTime is the timestamp of the last record received
	LastRecordTime atomic.Int64 // Unix timestamp in nanoseconds

	// CreatedAt is when the subscription was created
	CreatedAt time.Time
}

// Subscription represents a consumer of newly published records
type Subscription struct {
	// ID is the unique identifier for this subscription
	ID SubscriptionID

	// Actions restricts delivery to the given actions. Empty means all.
	Actions map[types.Action]bool

	// Channel is where records are delivered to the subscriber.
	// It is closed when the subscription ends.
	Channel chan *types.TransactionRecord

	Stats SubscriptionStats
}

func (s *Subscription) wants(rec *types.TransactionRecord) bool {
	return len(s.Actions) == 0 || s.Actions[rec.Action]
}

// Bus fans out newly published records to in-process subscribers.
// Delivery is non-blocking: a subscriber with a full channel misses the record.
type Bus struct {
	subscribers map[SubscriptionID]*Subscription
	mu          sync.RWMutex

	publishCh chan *types.TransactionRecord

	running atomic.Bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	stats struct {
		totalRecords    atomic.Uint64
		totalDeliveries atomic.Uint64
		droppedRecords  atomic.Uint64
	}

	metrics *metrics.Metrics
}

// NewBus creates a new Bus with the given publish buffer size
func NewBus(publishBufferSize int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	return &Bus{
		subscribers: make(map[SubscriptionID]*Subscription),
		publishCh:   make(chan *types.TransactionRecord, publishBufferSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetMetrics enables Prometheus metrics for the bus
func (b *Bus) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// Run starts the bus main loop
// This should be called in a goroutine
func (b *Bus) Run() {
	b.running.Store(true)
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			b.closeAllSubscriptions()
			return

		case rec := <-b.publishCh:
			b.stats.totalRecords.Add(1)
			b.metrics.RecordBusPublished()
			b.broadcast(rec)
		}
	}
}

// broadcast sends a record to all interested subscribers
func (b *Bus) broadcast(rec *types.TransactionRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(rec) {
			continue
		}

		select {
		case sub.Channel <- rec:
			b.stats.totalDeliveries.Add(1)
			sub.Stats.RecordsReceived.Add(1)
			sub.Stats.LastRecordTime.Store(time.Now().UnixNano())
		default:
			// Channel is full, drop the record
			b.stats.droppedRecords.Add(1)
			sub.Stats.RecordsDropped.Add(1)
			b.metrics.RecordBusDropped()
		}
	}
}

// closeAllSubscriptions closes all active subscriptions
func (b *Bus) closeAllSubscriptions() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		close(sub.Channel)
	}
	b.subscribers = make(map[SubscriptionID]*Subscription)
	b.metrics.SetBusSubscribers(0)
}

// Stop gracefully stops the bus and closes every subscription channel
func (b *Bus) Stop() {
	b.cancel()
	if b.running.Load() {
		<-b.done
		return
	}
	b.closeAllSubscriptions()
}

// Publish enqueues a record for delivery.
// This is a non-blocking operation - if the publish channel is full, it returns false
func (b *Bus) Publish(rec *types.TransactionRecord) bool {
	if rec == nil {
		return false
	}

	select {
	case <-b.ctx.Done():
		return false
	default:
	}

	select {
	case b.publishCh <- rec:
		return true
	default:
		b.stats.droppedRecords.Add(1)
		b.metrics.RecordBusDropped()
		return false
	}
}

// Subscribe registers a subscriber for the given actions (all when none are given).
// It returns nil once the bus is stopped.
func (b *Bus) Subscribe(channelSize int, actions ...types.Action) *Subscription {
	sub := &Subscription{
		ID:      SubscriptionID(uuid.NewString()),
		Actions: make(map[types.Action]bool, len(actions)),
		Channel: make(chan *types.TransactionRecord, channelSize),
		Stats: SubscriptionStats{
			CreatedAt: time.Now(),
		},
	}
	for _, a := range actions {
		sub.Actions[a] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx.Err() != nil {
		return nil
	}
	b.subscribers[sub.ID] = sub
	b.metrics.SetBusSubscribers(len(b.subscribers))
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, exists := b.subscribers[id]; exists {
		close(sub.Channel)
		delete(b.subscribers, id)
		b.metrics.SetBusSubscribers(len(b.subscribers))
	}
}

// SubscriberCount returns the current number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns the current statistics
func (b *Bus) Stats() (totalRecords, totalDeliveries, droppedRecords uint64) {
	return b.stats.totalRecords.Load(),
		b.stats.totalDeliveries.Load(),
		b.stats.droppedRecords.Load()
}
