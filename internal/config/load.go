package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. GODISPATCH_BENCH_TASKS
const EnvPrefix = "GODISPATCH"

// setDefaults registers every key, which also makes each one reachable
// through AutomaticEnv during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.buffer", 1024)

	v.SetDefault("bench.tasks", 100)
	v.SetDefault("bench.workers", []int{1, 5, 10})
	v.SetDefault("bench.min_latency", "40ms")
	v.SetDefault("bench.max_latency", "150ms")
	v.SetDefault("bench.failure_rate", 0.0)
	v.SetDefault("bench.seed", 0)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff", "none")
	v.SetDefault("retry.initial_delay", "10ms")
	v.SetDefault("retry.max_delay", "1s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", false)

	v.SetDefault("chaos.tasks", 20)
	v.SetDefault("chaos.workers", 3)
	v.SetDefault("chaos.crash_worker", 0)
	v.SetDefault("chaos.crash_at", "200ms")
	v.SetDefault("chaos.crash_policy", "requeue")
	v.SetDefault("chaos.outage_tasks", []int64{})

	v.SetDefault("store.path", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "5s")
}

// Loader builds a Config from its sources
type Loader struct {
	path  string
	flags map[string]*pflag.Flag
}

// LoadOption configures a Loader
type LoadOption func(*Loader)

// WithFile reads the YAML file at path; an empty path is ignored
func WithFile(path string) LoadOption {
	return func(l *Loader) {
		l.path = path
	}
}

// WithFlag binds a command-line flag to a config key such as "bench.tasks".
// The flag wins over every other source once it is set.
func WithFlag(key string, flag *pflag.Flag) LoadOption {
	return func(l *Loader) {
		if flag != nil {
			l.flags[key] = flag
		}
	}
}

// Load configuration from defaults, the optional file, the environment and
// bound flags, in increasing precedence. Returns an error if loading or
// validation fails.
func Load(opts ...LoadOption) (*Config, error) {
	l := &Loader{flags: make(map[string]*pflag.Flag)}
	for _, opt := range opts {
		opt(l)
	}

	v := viper.New()
	setDefaults(v)

	if l.path != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its validate tags
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("configuration validation failed: %s", strings.Join(fields, "; "))
		}
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}
