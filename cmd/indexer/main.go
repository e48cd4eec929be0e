package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/0xmhha/pool-indexer/internal/config"
	"github.com/0xmhha/pool-indexer/storage"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "pool-indexer",
		Usage:   "index USDC/BLTM pool deposits and withdrawals",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "backfill the pool history, watch new events and serve the API",
				Flags:  append(configFlags(), runFlags()...),
				Action: runIndexer,
			},
			{
				Name:   "dump",
				Usage:  "print every stored record as JSON lines",
				Flags:  configFlags(),
				Action: dumpRecords,
			},
			{
				Name:  "reset",
				Usage: "delete every stored record",
				Flags: append(configFlags(), &cli.BoolFlag{
					Name:  "yes",
					Usage: "confirm the deletion",
				}),
				Action: resetRecords,
			},
			{
				Name:  "version",
				Usage: "show version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "pool-indexer version %s\n", version)
					fmt.Fprintf(c.App.Writer, "  commit: %s\n", commit)
					fmt.Fprintf(c.App.Writer, "  built:  %s\n", buildTime)
					return nil
				},
			},
		},
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to configuration file (YAML)", EnvVars: []string{"INDEXER_CONFIG"}},
		&cli.StringFlag{Name: "db", Usage: "pebble database path"},
		&cli.StringFlag{Name: "db-backend", Usage: "record store backend (pebble, postgres, memory)"},
		&cli.StringFlag{Name: "log-level", Usage: "log level (debug, info, warn, error)"},
		&cli.StringFlag{Name: "log-format", Usage: "log format (json, console)"},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "rpc", Usage: "Ethereum RPC endpoint URL"},
		&cli.StringFlag{Name: "contract", Usage: "pool contract address"},
		&cli.Uint64Flag{Name: "origin-block", Usage: "first block of the backfill range"},
		&cli.Uint64Flag{Name: "batch-size", Usage: "number of blocks per log query"},
		&cli.StringFlag{Name: "retry-schedule", Usage: "cron spec of backfill retries"},
		&cli.StringFlag{Name: "watch-mode", Usage: "live watch mode (auto, subscribe, poll)"},
		&cli.BoolFlag{Name: "no-watch", Usage: "run the backfill only"},
		&cli.BoolFlag{Name: "api", Usage: "enable the API server"},
		&cli.StringFlag{Name: "api-host", Usage: "API server host"},
		&cli.IntFlag{Name: "api-port", Usage: "API server port"},
	}
}

// loadDotEnv loads environment variables from a .env file if it exists
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// buildConfig layers defaults, the config file, the environment and flags.
// It does not validate.
func buildConfig(c *cli.Context) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.NewConfig()
	if file := c.String("config"); file != "" {
		if err := cfg.LoadFromFile(file); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	applyFlags(c, cfg)
	cfg.SetDefaults()
	return cfg, nil
}

// loadConfig builds and validates the full configuration
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := buildConfig(c)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags set on the command line
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("db") {
		cfg.Database.Path = c.String("db")
	}
	if c.IsSet("db-backend") {
		cfg.Database.Backend = c.String("db-backend")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("rpc") {
		cfg.RPC.Endpoint = c.String("rpc")
	}
	if c.IsSet("contract") {
		cfg.Contract.Address = c.String("contract")
	}
	if c.IsSet("origin-block") {
		cfg.Contract.OriginBlock = c.Uint64("origin-block")
	}
	if c.IsSet("batch-size") {
		cfg.Backfill.BatchSize = c.Uint64("batch-size")
	}
	if c.IsSet("retry-schedule") {
		cfg.Backfill.RetrySchedule = c.String("retry-schedule")
	}
	if c.IsSet("watch-mode") {
		cfg.Watch.Mode = c.String("watch-mode")
	}
	if c.Bool("no-watch") {
		cfg.Watch.Enabled = false
	}
	if c.Bool("api") {
		cfg.API.Enabled = true
	}
	if c.IsSet("api-host") {
		cfg.API.Host = c.String("api-host")
	}
	if c.IsSet("api-port") {
		cfg.API.Port = c.Int("api-port")
	}
}

// storageConfig maps the database section onto a store configuration
func storageConfig(cfg *config.Config) *storage.Config {
	sc := storage.DefaultConfig(cfg.Database.Path)
	sc.Backend = storage.BackendType(cfg.Database.Backend)
	sc.ReadOnly = cfg.Database.ReadOnly
	sc.PostgresDSN = cfg.Database.PostgresDSN
	if cfg.Database.CacheMB > 0 {
		sc.Cache = cfg.Database.CacheMB
	}
	return sc
}
