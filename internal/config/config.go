// Package config loads dispatchbench settings from defaults, an optional
// YAML file, GODISPATCH_* environment variables and command-line flags, and
// validates them before any run starts.
package config

import (
	"time"

	"github.com/jzx17/godispatch/pkg/retry"
	"github.com/jzx17/godispatch/pkg/worker"
)

// Config holds all dispatchbench configuration
type Config struct {
	Log    LogConfig    `mapstructure:"log" validate:"required"`
	Bench  BenchConfig  `mapstructure:"bench" validate:"required"`
	Retry  RetryConfig  `mapstructure:"retry" validate:"required"`
	Chaos  ChaosConfig  `mapstructure:"chaos" validate:"required"`
	Store  StoreConfig  `mapstructure:"store"`
	Server ServerConfig `mapstructure:"server" validate:"required"`
}

// LogConfig controls the outcome logger
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	// Buffer is the outcome event queue size; events beyond it are dropped
	Buffer int `mapstructure:"buffer" validate:"gt=0"`
}

// BenchConfig describes the scaling sequence
type BenchConfig struct {
	Tasks       int           `mapstructure:"tasks" validate:"gt=0"`
	Workers     []int         `mapstructure:"workers" validate:"required,min=1,dive,gt=0"`
	MinLatency  time.Duration `mapstructure:"min_latency" validate:"gte=0"`
	MaxLatency  time.Duration `mapstructure:"max_latency" validate:"gtefield=MinLatency"`
	FailureRate float64       `mapstructure:"failure_rate" validate:"gte=0,lte=1"`
	Seed        int64         `mapstructure:"seed"`
}

// RetryConfig builds the pool retry policy
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gt=0"`
	Backoff      string        `mapstructure:"backoff" validate:"oneof=none fixed exponential"`
	InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	Multiplier   float64       `mapstructure:"multiplier" validate:"gte=1"`
	Jitter       bool          `mapstructure:"jitter"`
}

// Policy builds the retry policy described by c
func (c RetryConfig) Policy() (*retry.Policy, error) {
	backoff, err := retry.ParseBackoff(c.Backoff, c.InitialDelay, c.MaxDelay, c.Multiplier, c.Jitter)
	if err != nil {
		return nil, err
	}
	return retry.NewPolicy(c.MaxAttempts, retry.WithBackoff(backoff)), nil
}

// ChaosConfig describes the crash scenario
type ChaosConfig struct {
	Tasks       int           `mapstructure:"tasks" validate:"gt=0"`
	Workers     int           `mapstructure:"workers" validate:"gt=0"`
	CrashWorker int           `mapstructure:"crash_worker" validate:"gte=0,ltfield=Workers"`
	CrashAt     time.Duration `mapstructure:"crash_at" validate:"gt=0"`
	CrashPolicy string        `mapstructure:"crash_policy" validate:"oneof=requeue drop"`
	OutageTasks []int64       `mapstructure:"outage_tasks" validate:"dive,gt=0"`
}

// Policy returns the parsed crash policy
func (c ChaosConfig) Policy() worker.CrashPolicy {
	p, _ := worker.ParseCrashPolicy(c.CrashPolicy)
	return p
}

// StoreConfig locates the run database; an empty path disables saving
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP exposition server
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}
