package chaos

import (
	"fmt"
	"strings"

	"github.com/jzx17/godispatch/pkg/worker"
)

// Casualty describes one worker that was cancelled during a run
type Casualty struct {
	Worker string

	// TaskID is the task held at cancellation, or -1 when the worker was idle
	TaskID int64

	Disposition worker.Disposition
}

// Report summarizes a chaos run
type Report struct {
	Casualties []Casualty
	Stats      worker.RunStats

	// Lost counts tasks dropped because their worker was cancelled
	Lost int64

	// Progressed is set when at least one task reached a terminal state
	Progressed bool

	// Conserved is set when every enqueued task is accounted for
	Conserved bool
}

// Verify builds a Report from the joined pool's results and run stats
func Verify(results []worker.WorkerResult, stats worker.RunStats) Report {
	r := Report{
		Stats:      stats,
		Lost:       stats.Lost,
		Progressed: stats.Terminal() > 0,
		Conserved:  stats.Conserved(),
	}

	for _, res := range results {
		if res.Status != worker.StatusCancelled {
			continue
		}
		c := Casualty{Worker: res.Worker, TaskID: -1, Disposition: res.Disposition}
		if res.InFlight != nil {
			c.TaskID = res.InFlight.ID
		}
		r.Casualties = append(r.Casualties, c)
	}
	return r
}

// Recovered reports whether no task was lost and the run drained
func (r Report) Recovered() bool {
	return r.Lost == 0 && r.Stats.Drained() && r.Conserved
}

// String renders the report for the chaos CLI
func (r Report) String() string {
	var b strings.Builder
	for _, c := range r.Casualties {
		if c.TaskID < 0 {
			fmt.Fprintf(&b, "cancelled worker=%s in_flight=none\n", c.Worker)
			continue
		}
		fmt.Fprintf(&b, "cancelled worker=%s in_flight=task-%d disposition=%s\n", c.Worker, c.TaskID, c.Disposition)
	}
	fmt.Fprintf(&b, "completed=%d permanently_failed=%d lost=%d pending=%d progressed=%t conserved=%t",
		r.Stats.Completed, r.Stats.PermanentlyFailed, r.Lost, r.Stats.Pending, r.Progressed, r.Conserved)
	return b.String()
}
