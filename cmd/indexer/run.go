package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/0xmhha/pool-indexer/abi"
	"github.com/0xmhha/pool-indexer/api"
	"github.com/0xmhha/pool-indexer/client"
	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/fetch"
	"github.com/0xmhha/pool-indexer/indexer"
	"github.com/0xmhha/pool-indexer/internal/config"
	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/0xmhha/pool-indexer/internal/logger"
	"github.com/0xmhha/pool-indexer/internal/metrics"
	"github.com/0xmhha/pool-indexer/sink"
	"github.com/0xmhha/pool-indexer/storage"
	"github.com/0xmhha/pool-indexer/view"
	"github.com/0xmhha/pool-indexer/watch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runIndexer wires every component and runs until interrupted. The stored
// history is published and served before the RPC endpoint is contacted.
func runIndexer(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting indexer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("contract", cfg.Contract.Address),
		zap.Uint64("origin_block", cfg.Contract.OriginBlock),
		zap.String("db_backend", cfg.Database.Backend),
	)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := storage.Open(storageConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}()

	bus := events.NewBus(constants.DefaultBusBufferSize)
	bus.SetMetrics(m)
	go bus.Run()
	defer bus.Stop()

	v := view.New(log)
	v.SetBus(bus)
	v.SetMetrics(m)
	v.Load(storage.Snapshot(ctx, store, log))

	sinks, err := newSinks(ctx, cfg)
	if err != nil {
		return err
	}
	dispatcher, err := sink.NewDispatcher(bus, sinks, constants.DefaultSinkTimeout, log)
	if err != nil {
		return fmt.Errorf("failed to create sink dispatcher: %w", err)
	}
	dispatcher.SetMetrics(m)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn("Failed to close sinks", zap.Error(err))
		}
	}()

	stats := &indexerStats{view: v, origin: cfg.Contract.OriginBlock}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiConfig := api.FromAppConfig(cfg.API)
		apiConfig.Version = version
		apiServer, err = api.NewServer(apiConfig, log, v, api.WithStats(stats), api.WithGatherer(reg))
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		if err := apiServer.SetEventBus(bus); err != nil {
			return fmt.Errorf("failed to attach API to the record bus: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	if apiServer != nil {
		g.Go(apiServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			return apiServer.Stop(context.Background())
		})
	}
	g.Go(func() error { return runChain(gctx, cfg, log, m, store, v, stats) })

	err = g.Wait()
	final := stats.Stats()
	log.Info("Indexer stopped",
		zap.Int("records", final.Records),
		zap.Uint64("high_water_mark", final.HighWaterMark),
		zap.Int("passes", final.Passes),
	)
	return err
}

// runChain connects to the RPC endpoint, retrying while it is unreachable,
// then runs the backfill and the watcher into the already published view.
func runChain(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics, store storage.Store, v *view.View, stats *indexerStats) error {
	ethClient, err := client.Connect(ctx, &client.Config{
		Endpoint:          cfg.RPC.Endpoint,
		Timeout:           cfg.RPC.Timeout,
		Logger:            log,
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
	}, cfg.Backfill.HeadRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to create Ethereum client: %w", err)
	}
	defer ethClient.Close()

	idCtx, cancel := context.WithTimeout(ctx, cfg.RPC.Timeout)
	chainID, err := ethClient.GetChainID(idCtx)
	cancel()
	if err != nil {
		log.Warn("Failed to get chain ID", zap.Error(err))
	} else {
		log.Info("Connected to chain", zap.String("chain_id", chainID.String()))
	}

	address := cfg.ContractAddress()
	decoder, err := abi.NewPoolDecoder(address)
	if err != nil {
		return fmt.Errorf("failed to load pool ABI: %w", err)
	}
	times := client.NewBlockTimes(ethClient, cfg.Backfill.TimestampCacheSize, log)
	normalizer, err := events.NewNormalizer(address, decoder, uint8(cfg.Contract.Decimals), times, log)
	if err != nil {
		return fmt.Errorf("failed to create normalizer: %w", err)
	}

	backfiller, err := fetch.NewBackfiller(ethClient, normalizer, &fetch.Config{
		Address:   address,
		BatchSize: cfg.Backfill.BatchSize,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create backfiller: %w", err)
	}
	backfiller.SetPrefetcher(times)
	backfiller.SetMetrics(m)

	var w indexer.Watcher
	if cfg.Watch.Enabled {
		live, err := newWatcher(cfg, ethClient, store, normalizer, v, log)
		if err != nil {
			return err
		}
		live.SetMetrics(m)
		w = live
	}

	idx, err := indexer.New(store, ethClient, backfiller, w, v, &indexer.Config{
		OriginBlock:    cfg.Contract.OriginBlock,
		RetrySchedule:  cfg.Backfill.RetrySchedule,
		Periodic:       cfg.Backfill.Periodic,
		HeadRetryDelay: cfg.Backfill.HeadRetryDelay,
		SnapshotLoaded: true,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}
	idx.SetMetrics(m)
	stats.set(idx)

	return idx.Run(ctx)
}

// indexerStats reports the view counts until the indexer is connected
type indexerStats struct {
	view   *view.View
	origin uint64
	idx    atomic.Pointer[indexer.Indexer]
}

func (s *indexerStats) set(idx *indexer.Indexer) {
	s.idx.Store(idx)
}

func (s *indexerStats) Stats() indexer.Stats {
	if idx := s.idx.Load(); idx != nil {
		return idx.Stats()
	}
	deposits, withdrawals := s.view.Counts()
	return indexer.Stats{
		Records:     deposits + withdrawals,
		Deposits:    deposits,
		Withdrawals: withdrawals,
		OriginBlock: s.origin,
	}
}

// newWatcher selects the live subscriber for the configured watch mode
func newWatcher(cfg *config.Config, ethClient *client.Client, store storage.Store, normalizer *events.Normalizer, v *view.View, log *zap.Logger) (*watch.Watcher, error) {
	var sub watch.LogSubscriber
	switch cfg.Watch.Mode {
	case "poll":
		sub = newPoller(cfg, ethClient, log)
	case "subscribe":
		if !ethClient.SupportsSubscriptions() {
			return nil, fmt.Errorf("watch mode subscribe requires a websocket or IPC endpoint")
		}
		sub = ethClient
	default:
		if ethClient.SupportsSubscriptions() {
			sub = ethClient
		} else {
			log.Info("Endpoint does not support subscriptions, polling for logs",
				zap.Duration("interval", cfg.Watch.PollInterval))
			sub = newPoller(cfg, ethClient, log)
		}
	}

	w, err := watch.NewWatcher(sub, store, normalizer, v, &watch.Config{
		Address:            cfg.ContractAddress(),
		BufferSize:         cfg.Watch.BufferSize,
		SeenCapacity:       cfg.Watch.SeenCapacity,
		ResubscribeBackoff: cfg.Watch.ResubscribeBackoff,
		CatchUpBatchSize:   cfg.Backfill.BatchSize,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w.SetCatchUp(ethClient)
	return w, nil
}

// newPoller builds a log poller bounded by the backfill batch size
func newPoller(cfg *config.Config, ethClient *client.Client, log *zap.Logger) *client.LogPoller {
	p := client.NewLogPoller(ethClient, cfg.Watch.PollInterval, log)
	p.SetMaxRange(cfg.Backfill.BatchSize)
	return p
}

// newSinks connects the enabled downstream publishers
func newSinks(ctx context.Context, cfg *config.Config) ([]sink.Sink, error) {
	var sinks []sink.Sink
	if cfg.Sinks.Redis.Enabled {
		s, err := sink.NewRedisSink(ctx, cfg.Sinks.Redis)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Sinks.Kafka.Enabled {
		s, err := sink.NewKafkaSink(cfg.Sinks.Kafka)
		if err != nil {
			for _, open := range sinks {
				open.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
