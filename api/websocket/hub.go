package websocket

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/0xmhha/pool-indexer/types"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients and broadcasts new records to them
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	stopped bool

	broadcast chan *types.TransactionRecord
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	bus   *events.Bus
	subID events.SubscriptionID

	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:   make(map[*Client]bool),
		broadcast: make(chan *types.TransactionRecord, constants.DefaultSubscriberBufferSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Run delivers broadcasts until Stop is called
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case rec := <-h.broadcast:
			h.broadcastRecord(rec)
		}
	}
}

// Attach forwards every record published on bus to the hub
func (h *Hub) Attach(bus *events.Bus) error {
	sub := bus.Subscribe(constants.DefaultSubscriberBufferSize)
	if sub == nil {
		return fmt.Errorf("record bus is stopped")
	}

	h.mu.Lock()
	h.bus, h.subID = bus, sub.ID
	h.mu.Unlock()

	go func() {
		for rec := range sub.Channel {
			h.BroadcastRecord(rec)
		}
	}()
	return nil
}

// register adds a client; it fails once the hub is stopped
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(c.send)
		return false
	}
	h.clients[c] = true
	h.logger.Debug("client registered", zap.Int("total_clients", len(h.clients)))
	return true
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debug("client unregistered", zap.Int("total_clients", len(h.clients)))
	}
}

// trySend queues data for c. Callers hold at least the read lock.
func (h *Hub) trySend(c *Client, data []byte) bool {
	if !h.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	ok := h.trySend(c, data)
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn("client buffer full, closing connection")
		h.unregisterClient(c)
	}
}

// broadcastRecord sends rec to every subscribed client. A client subscribed to
// the record's action gets the action event, others subscribed to all records
// get a newTransaction event.
func (h *Hub) broadcastRecord(rec *types.TransactionRecord) {
	generic, err := encodeMessage(MessageEvent, Event{Type: SubscribeNewTransaction, Data: rec})
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return
	}
	specificType := actionSubscription(rec.Action)
	specific, err := encodeMessage(MessageEvent, Event{Type: specificType, Data: rec})
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return
	}

	var slow []*Client
	sent := 0

	h.mu.RLock()
	for c := range h.clients {
		var msg []byte
		switch {
		case specificType != "" && c.IsSubscribed(specificType):
			msg = specific
		case c.IsSubscribed(SubscribeNewTransaction):
			msg = generic
		default:
			continue
		}
		if h.trySend(c, msg) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("client buffer full, closing connection")
		h.unregisterClient(c)
	}

	h.logger.Debug("record broadcasted",
		zap.String("tx_hash", rec.TxHash),
		zap.Int("recipients", sent))
}

// BroadcastRecord queues rec for delivery. It never blocks; a full queue drops rec.
func (h *Hub) BroadcastRecord(rec *types.TransactionRecord) bool {
	select {
	case <-h.quit:
		return false
	default:
	}

	select {
	case h.broadcast <- rec:
		return true
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping record")
		return false
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of messages dropped for slow consumers
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Stop detaches the hub from the bus and closes all client connections
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)

		h.mu.Lock()
		bus, id := h.bus, h.subID
		h.stopped = true
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()

		if bus != nil {
			bus.Unsubscribe(id)
		}
		h.logger.Info("hub stopped")
	})
}
