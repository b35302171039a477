package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jzx17/godispatch/internal/config"
	"github.com/jzx17/godispatch/internal/logging"
	"github.com/jzx17/godispatch/internal/store"
	"github.com/jzx17/godispatch/pkg/bench"
)

// persistentKeys maps config keys to the root flags every command inherits
var persistentKeys = map[string]string{
	"log.level":  "log-level",
	"log.format": "log-format",
	"store.path": "store",
}

// app is the loaded configuration and logger shared by the subcommands
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// newApp loads configuration for cmd, binding the given config keys to its
// flags, and builds the logger
func newApp(cmd *cobra.Command, keys map[string]string) (*app, error) {
	opts := []config.LoadOption{config.WithFile(configPath)}
	for key, name := range persistentKeys {
		opts = append(opts, config.WithFlag(key, cmd.Flag(name)))
	}
	for key, name := range keys {
		opts = append(opts, config.WithFlag(key, cmd.Flag(name)))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// workload builds the simulated execution function from the bench section
func (a *app) workload() *bench.SimulatedWork {
	b := a.cfg.Bench
	opts := []bench.WorkOption{bench.WithFailureRate(b.FailureRate)}
	if b.Seed != 0 {
		opts = append(opts, bench.WithSeed(b.Seed))
	}
	return bench.NewSimulatedWork(b.MinLatency, b.MaxLatency, opts...)
}

// openStore opens the run database, failing when no path is configured
func (a *app) openStore() (*store.SQLiteStore, error) {
	if a.cfg.Store.Path == "" {
		return nil, fmt.Errorf("no run store configured: set --store or GODISPATCH_STORE_PATH")
	}
	st, err := store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return st, nil
}

// outcomes starts the outcome logger for a run
func (a *app) outcomes() *logging.OutcomeLogger {
	return logging.NewOutcomeLogger(a.logger, a.cfg.Log.Buffer)
}
