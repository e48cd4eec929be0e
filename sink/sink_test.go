package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/internal/config"
	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/internal/testutil"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	name string
	err  error

	mu       sync.Mutex
	received []*types.TransactionRecord
	closed   bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(ctx context.Context, rec *types.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, rec)
	return s.err
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestEncode(t *testing.T) {
	rec := testutil.NewRecord(7, types.ActionDeposit, "1.0")
	data, err := Encode(rec)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.JSONEq(t, `"transaction"`, string(got["type"]))
	assert.Contains(t, got, "emittedAt")

	var decoded types.TransactionRecord
	require.NoError(t, json.Unmarshal(got["record"], &decoded))
	assert.Equal(t, rec.TxHash, decoded.TxHash)
	assert.Equal(t, "1.0", decoded.Amount)

	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestDispatcherForwardsToEverySink(t *testing.T) {
	bus := events.NewBus(16)
	go bus.Run()
	defer bus.Stop()

	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", err: errors.New("broker down")}
	m := metrics.New(prometheus.NewRegistry())

	d, err := NewDispatcher(bus, []Sink{good, bad}, time.Second, testutil.NewTestLogger(t))
	require.NoError(t, err)
	d.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(testutil.NewRecord(1, types.ActionDeposit, "1.0"))
	bus.Publish(testutil.NewRecord(2, types.ActionWithdraw, "2.0"))

	require.Eventually(t, func() bool { return good.count() == 2 && bad.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), promtest.ToFloat64(m.SinkPublishesTotal.WithLabelValues("good", "success")))
	assert.Equal(t, float64(2), promtest.ToFloat64(m.SinkPublishesTotal.WithLabelValues("bad", "error")))

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, 0, bus.SubscriberCount())

	require.NoError(t, d.Close())
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}

func TestDispatcherStopsWithBus(t *testing.T) {
	bus := events.NewBus(1)
	go bus.Run()

	d, err := NewDispatcher(bus, []Sink{&fakeSink{name: "s"}}, 0, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	bus.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop with the bus")
	}
}

func TestDispatcherWithoutSinks(t *testing.T) {
	bus := events.NewBus(1)
	d, err := NewDispatcher(bus, nil, 0, nil)
	require.NoError(t, err)
	assert.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 0, bus.SubscriberCount())

	_, err = NewDispatcher(nil, nil, 0, nil)
	assert.Error(t, err)
}

type fakeRedis struct {
	channel string
	message []byte
	err     error
	closed  bool
}

func (r *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	r.channel = channel
	r.message, _ = message.([]byte)
	return redis.NewIntResult(1, r.err)
}

func (r *fakeRedis) Close() error {
	r.closed = true
	return nil
}

func TestRedisSink(t *testing.T) {
	client := &fakeRedis{}
	s := newRedisSink(client, "")
	assert.Equal(t, "redis", s.Name())

	rec := testutil.NewRecord(3, types.ActionWithdraw, "0.5")
	require.NoError(t, s.Publish(context.Background(), rec))
	assert.Equal(t, "pool-indexer:transactions", client.channel)

	var env Envelope
	require.NoError(t, json.Unmarshal(client.message, &env))
	assert.Equal(t, rec.TxHash, env.Record.TxHash)

	client.err = errors.New("NOAUTH")
	assert.ErrorContains(t, s.Publish(context.Background(), rec), "NOAUTH")

	require.NoError(t, s.Close())
	assert.True(t, client.closed)
}

func TestNewRedisSinkRequiresAddress(t *testing.T) {
	_, err := NewRedisSink(context.Background(), config.RedisSinkConfig{})
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	s := newKafkaSink(w, "pool")
	rec := testutil.NewRecord(4, types.ActionDeposit, "12.5")
	rec.Source = types.SourceLive

	require.NoError(t, s.Publish(context.Background(), rec))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, rec.TxHash, string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "action", Value: []byte("Deposit")},
		{Key: "source", Value: []byte("live")},
	}, msg.Headers)

	w.err = errors.New("leader not available")
	assert.ErrorContains(t, s.Publish(context.Background(), rec), "pool")
}

func TestNewKafkaSink(t *testing.T) {
	_, err := NewKafkaSink(config.KafkaSinkConfig{})
	assert.Error(t, err)

	s, err := NewKafkaSink(config.KafkaSinkConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, "pool-indexer.transactions", s.Topic())
	assert.NoError(t, s.Close())
}

func TestRequiredAcks(t *testing.T) {
	assert.Equal(t, kafka.RequireNone, requiredAcks(0))
	assert.Equal(t, kafka.RequireOne, requiredAcks(1))
	assert.Equal(t, kafka.RequireAll, requiredAcks(-1))
}
