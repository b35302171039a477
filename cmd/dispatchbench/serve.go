package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jzx17/godispatch/internal/httpapi"
	"github.com/jzx17/godispatch/internal/store"
	"github.com/jzx17/godispatch/pkg/bench"
	"github.com/jzx17/godispatch/pkg/metrics"
	"github.com/jzx17/godispatch/pkg/types"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /healthz, /metrics and the saved runs over HTTP",
	Long: `Start the HTTP exposition server.

GET  /healthz           liveness
GET  /metrics           Prometheus metrics for every run started here
GET  /v1/runs           saved runs, newest first (?limit=N)
GET  /v1/runs/{batch}   one saved batch
POST /v1/runs           run a scaling sequence and save it

The run endpoints need --store.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, map[string]string{"server.addr": "addr"})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter, err := metrics.NewExporter(reg)
	if err != nil {
		return err
	}

	var opts []httpapi.Option
	var st store.Store
	if a.cfg.Store.Path != "" {
		db, err := a.openStore()
		if err != nil {
			return err
		}
		defer db.Close()
		st = db

		outcomes := a.outcomes()
		defer outcomes.Close()
		opts = append(opts, httpapi.WithRunner(a.scaleRunner(st, exporter, outcomes)))
	} else {
		a.logger.Warn("no run store configured, run endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := httpapi.NewServer(a.cfg.Server.Addr, st, reg, a.logger, opts...)
	return srv.Run(ctx, a.cfg.Server.ShutdownTimeout)
}

// scaleRunner runs a requested scaling sequence with the configured workload
// and saves its lines
func (a *app) scaleRunner(st store.Store, observers ...types.Observer) httpapi.Runner {
	return func(ctx context.Context, req httpapi.RunRequest) ([]store.Run, error) {
		policy, err := a.cfg.Retry.Policy()
		if err != nil {
			return nil, err
		}
		lines, err := bench.Scale(ctx, bench.RunConfig{
			Tasks:   req.Tasks,
			Execute: a.workload().Execute,
			Policy:  policy,
		}, req.Workers, bench.WithObservers(observers...))
		if err != nil {
			return nil, fmt.Errorf("scaling sequence: %w", err)
		}
		return saveLines(ctx, st, "bench", lines)
	}
}
