package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jzx17/godispatch/pkg/bench"
)

var (
	chaosTasks       int
	chaosWorkers     int
	chaosCrashWorker int
	chaosCrashAt     time.Duration
	chaosCrashPolicy string
	chaosOutage      []int
	chaosSave        bool
)

var chaosCmd = &cobra.Command{
	Use:   "chaos",
	Short: "Cancel one worker mid-run and report what happened to its task",
	Long: `Run a workload and cancel worker-N after --crash-at.

Crash policies (--crash-policy):
  requeue   the cancelled worker's task goes back to the queue (default)
  drop      the task is counted as lost

--outage makes the listed task ids fail transiently once, so a crash can
be combined with retries.`,
	RunE: runChaos,
}

func init() {
	f := chaosCmd.Flags()
	f.IntVar(&chaosTasks, "tasks", 20, "Tasks in the run")
	f.IntVar(&chaosWorkers, "workers", 3, "Worker count")
	f.IntVar(&chaosCrashWorker, "crash-worker", 0, "Index of the worker to cancel")
	f.DurationVar(&chaosCrashAt, "crash-at", 200*time.Millisecond, "Delay before the worker is cancelled")
	f.StringVar(&chaosCrashPolicy, "crash-policy", "requeue", "What happens to a cancelled worker's task: requeue or drop")
	f.IntSliceVar(&chaosOutage, "outage", nil, "Task ids that fail transiently once")
	f.BoolVar(&chaosSave, "save", false, "Save the run summary to the run store")

	rootCmd.AddCommand(chaosCmd)
}

func runChaos(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, map[string]string{
		"chaos.tasks":        "tasks",
		"chaos.workers":      "workers",
		"chaos.crash_worker": "crash-worker",
		"chaos.crash_at":     "crash-at",
		"chaos.crash_policy": "crash-policy",
		"chaos.outage_tasks": "outage",
	})
	if err != nil {
		return err
	}

	policy, err := a.cfg.Retry.Policy()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := a.cfg.Chaos
	outcomes := a.outcomes()
	res, err := bench.RunChaos(ctx, bench.ChaosConfig{
		Tasks:       c.Tasks,
		Workers:     c.Workers,
		CrashWorker: c.CrashWorker,
		CrashAt:     c.CrashAt,
		CrashPolicy: c.Policy(),
		Policy:      policy,
		Execute:     a.workload().Execute,
		OutageTasks: c.OutageTasks,
	}, bench.WithObservers(outcomes))
	outcomes.Close()
	if err != nil {
		return fmt.Errorf("chaos run: %w", err)
	}

	if res.CrashErr != nil {
		a.logger.WithError(res.CrashErr).Warn("crash did not land")
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Report.String())

	a.logger.WithFields(logrus.Fields{
		"crash_policy": c.Policy().String(),
		"lost":         res.Report.Lost,
		"recovered":    res.Report.Recovered(),
	}).Info("chaos run finished")

	if chaosSave {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		line := bench.NewLine(c.Workers, res.Summary, res.Summary)
		runs, err := saveLines(ctx, st, "chaos", []bench.Line{line})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved batch=%s\n", runs[0].BatchID)
	}
	return nil
}
