package main

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/0xmhha/pool-indexer/internal/logger"
	"github.com/0xmhha/pool-indexer/storage"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// openStore opens the configured store without requiring the chain settings
func openStore(c *cli.Context, readOnly bool) (storage.Store, *zap.Logger, error) {
	cfg, err := buildConfig(c)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sc := storageConfig(cfg)
	sc.ReadOnly = sc.ReadOnly || readOnly
	if err := sc.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, log, nil
}

// dumpRecords writes every stored record as one JSON object per line
func dumpRecords(c *cli.Context) error {
	store, log, err := openStore(c, true)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer store.Close()

	records, err := store.GetAll(c.Context)
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	w := bufio.NewWriter(c.App.Writer)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode %s: %w", rec.TxHash, err)
		}
	}
	return w.Flush()
}

// resetRecords deletes every stored record
func resetRecords(c *cli.Context) error {
	if !c.Bool("yes") {
		return fmt.Errorf("refusing to delete records without --yes")
	}

	store, log, err := openStore(c, false)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer store.Close()

	resetter, ok := store.(storage.Resetter)
	if !ok {
		return fmt.Errorf("store backend does not support reset")
	}
	n, err := resetter.Reset(c.Context)
	if err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	log.Info("Store reset", zap.Int("deleted", n))
	fmt.Fprintf(c.App.Writer, "deleted %d records\n", n)
	return nil
}
