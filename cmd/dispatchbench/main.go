// Command dispatchbench drives the dispatch engine: scaling benchmarks, crash
// scenarios, saved run history and an HTTP exposition server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	storePath  string
)

var rootCmd = &cobra.Command{
	Use:   "dispatchbench",
	Short: "Benchmark and crash-test the task dispatch engine",
	Long: `dispatchbench runs simulated workloads through the worker pool.

Configuration is read from defaults, an optional YAML file (--config),
GODISPATCH_* environment variables and flags, in increasing precedence.
Report lines go to stdout; per-task outcome logs go to stderr.`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	f.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	f.StringVar(&storePath, "store", "", "SQLite database for saved runs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
