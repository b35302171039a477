// Package logging builds the logrus logger and the asynchronous outcome
// logger attached to worker pools
package logging

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/jzx17/godispatch/pkg/types"
)

// New creates a logger writing to w at level in "text" or "json" format
func New(level, format string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)

	switch format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return logger, nil
}

// OutcomeLogger writes one structured line per task outcome. It implements
// types.Observer; events are queued and written by a single goroutine, and
// dropped when the queue is full so that logging never blocks dispatch.
type OutcomeLogger struct {
	log     logrus.FieldLogger
	events  chan types.Event
	dropped int64

	closeOnce sync.Once
	done      chan struct{}
}

var _ types.Observer = (*OutcomeLogger)(nil)

// NewOutcomeLogger starts an outcome logger with room for buffer pending events
func NewOutcomeLogger(log logrus.FieldLogger, buffer int) *OutcomeLogger {
	if buffer <= 0 {
		buffer = 1
	}
	l := &OutcomeLogger{
		log:    log,
		events: make(chan types.Event, buffer),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Observe implements types.Observer
func (l *OutcomeLogger) Observe(ev types.Event) {
	select {
	case l.events <- ev:
	default:
		atomic.AddInt64(&l.dropped, 1)
	}
}

// Dropped returns how many events were discarded because the queue was full
func (l *OutcomeLogger) Dropped() int64 {
	return atomic.LoadInt64(&l.dropped)
}

// Close flushes queued events and stops the writer. Observe must not be
// called after Close.
func (l *OutcomeLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.events)
		<-l.done
		if n := l.Dropped(); n > 0 {
			l.log.WithField("dropped", n).Warn("outcome events dropped")
		}
	})
}

func (l *OutcomeLogger) run() {
	defer close(l.done)
	for ev := range l.events {
		l.write(ev)
	}
}

func (l *OutcomeLogger) write(ev types.Event) {
	entry := l.log.WithFields(logrus.Fields{
		"worker":   ev.Worker,
		"task_id":  ev.Task.ID,
		"outcome":  ev.Outcome.String(),
		"attempt":  ev.Task.Attempt,
		"duration": ev.Duration,
	})
	if ev.Delay > 0 {
		entry = entry.WithField("retry_delay", ev.Delay)
	}
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}

	msg := fmt.Sprintf("[%s] %s task=%d attempt=%d", ev.Worker, ev.Outcome, ev.Task.ID, ev.Task.Attempt)
	switch Level(ev) {
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}

// Level maps an outcome to its log severity. Success and requeue log at
// INFO, crashes and losses at WARN, permanent failures at ERROR.
func Level(ev types.Event) logrus.Level {
	switch {
	case ev.Outcome == types.OutcomeFailed:
		return logrus.ErrorLevel
	case ev.Crashed, ev.Outcome == types.OutcomeLost, ev.Outcome == types.OutcomeCancelled:
		return logrus.WarnLevel
	default:
		return logrus.InfoLevel
	}
}
