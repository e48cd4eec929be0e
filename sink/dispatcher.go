package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/types"
	"go.uber.org/zap"
)

// Dispatcher forwards every record published on the bus to each sink
type Dispatcher struct {
	bus        *events.Bus
	sinks      []Sink
	timeout    time.Duration
	bufferSize int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewDispatcher creates a dispatcher over bus. A non-positive timeout uses the default.
func NewDispatcher(bus *events.Bus, sinks []Sink, timeout time.Duration, logger *zap.Logger) (*Dispatcher, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if timeout <= 0 {
		timeout = constants.DefaultSinkTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		bus:        bus,
		sinks:      sinks,
		timeout:    timeout,
		bufferSize: constants.DefaultSubscriberBufferSize,
		logger:     logger.With(zap.String("component", "sink")),
	}, nil
}

// SetMetrics sets the metrics collector
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// Sinks returns the configured sinks
func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

// Run forwards records until ctx is cancelled or the bus stops. Records that
// arrive while the sinks are slow are dropped by the bus, never queued on the
// publisher.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.sinks) == 0 {
		return nil
	}

	sub := d.bus.Subscribe(d.bufferSize)
	if sub == nil {
		return fmt.Errorf("record bus is stopped")
	}
	defer d.bus.Unsubscribe(sub.ID)

	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	d.logger.Info("Sink dispatcher started", zap.Strings("sinks", names))

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-sub.Channel:
			if !ok {
				return nil
			}
			d.dispatch(ctx, rec)
		}
	}
}

// dispatch publishes rec to every sink; a failing sink does not affect the others
func (d *Dispatcher) dispatch(ctx context.Context, rec *types.TransactionRecord) {
	for _, s := range d.sinks {
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		start := time.Now()
		err := s.Publish(pctx, rec)
		cancel()

		d.metrics.RecordSinkPublish(s.Name(), time.Since(start), err)
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("Sink publish failed",
				zap.String("sink", s.Name()),
				zap.String("tx_hash", rec.TxHash),
				zap.Error(err),
			)
		}
	}
}

// Close closes every sink
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
