/*
Package worker provides the worker pool that drains a dispatch queue, with
retry classification, crash handling and run-state accounting.

# Overview

A Pool owns N workers bound to one queue.Queue. Each worker repeats:
- Dequeue a task (non-blocking; an empty queue ends the loop)
- Invoke the pluggable types.ExecuteFunc with a copy of the task
- Classify the result and complete, requeue or permanently fail the task
- Record the execution duration and emit an outcome event

# Core Components

## Pool

- Start launches the configured number of workers
- Grow adds workers to a running pool
- Join waits for every worker and returns one WorkerResult each
- Cancel forcibly stops a single worker (crash simulation)
- Stop cancels every worker

## Worker

A worker holds at most one task at a time. The execution function runs on
its own goroutine, so a cancellation lands even when the function ignores
its context. Panics are recovered into a types.TaskError carrying the stack.

## RunState

Atomic counters owned by the pool. Once the pool has been joined:

	Pending + InFlight + Completed + PermanentlyFailed + Lost == Enqueued

# Crash Policy

CrashRequeue (default) returns the held task to the queue when its worker is
cancelled, as long as the retry budget allows another attempt. The cancelled
attempt counts against the budget.

CrashDrop releases the queue slot and counts the task as lost.

Under CrashRequeue a worker that finds the queue empty while siblings still
hold tasks waits until the queue drains, so a requeued task always finds a
worker. Under CrashDrop it exits at once.

# Usage Example

	q := queue.New()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	pool, err := worker.NewPool(q, execute, worker.PoolConfig{
		Workers: 10,
		Policy:  retry.NewPolicy(3),
	})
	if err != nil {
		return err
	}

	if err := pool.Start(ctx); err != nil {
		return err
	}
	results := pool.Join()
	stats := pool.RunState()
*/
package worker
