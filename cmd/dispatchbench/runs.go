package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jzx17/godispatch/internal/store"
)

var (
	runsLimit int
	runsBatch string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List saved runs, newest first, or one batch with --batch",
	RunE:  runRuns,
}

func init() {
	f := runsCmd.Flags()
	f.IntVar(&runsLimit, "limit", store.DefaultListLimit, "Maximum runs to list")
	f.StringVar(&runsBatch, "batch", "", "Show every run of one batch, in order")

	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var runs []store.Run
	if runsBatch != "" {
		runs, err = st.Batch(cmd.Context(), runsBatch)
	} else {
		runs, err = st.ListRuns(cmd.Context(), runsLimit)
	}
	if err != nil {
		return fmt.Errorf("load runs: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBATCH\tKIND\tWORKERS\tTASKS\tTHROUGHPUT\tSPEEDUP\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.2f\t%.2f\t%s\n",
			r.ID, r.BatchID, r.Kind, r.Workers, r.Tasks, r.Throughput, r.Speedup,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
