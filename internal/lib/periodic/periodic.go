// Package periodic runs named tasks on a fixed interval. A failing or
// panicking run is logged and the task keeps its schedule.
package periodic

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"

	"smsgate/internal/lib/logger/sl"
	"smsgate/internal/lib/metrics"
)

type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Runner struct {
	log   *slog.Logger
	clock clockwork.Clock
}

func New(log *slog.Logger, clock clockwork.Clock) *Runner {
	return &Runner{
		log:   log,
		clock: clock,
	}
}

// Run blocks until ctx is done. The first run happens one interval after start.
func (r *Runner) Run(ctx context.Context, task Task) error {
	const op = "lib.periodic.Run"

	if task.Interval <= 0 {
		return fmt.Errorf("%s: task %q: non-positive interval %s", op, task.Name, task.Interval)
	}

	log := r.log.With(
		slog.String("op", op),
		slog.String("task", task.Name),
	)

	ticker := r.clock.NewTicker(task.Interval)
	defer ticker.Stop()

	log.Info("periodic task started", slog.Duration("interval", task.Interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("periodic task stopped")
			return nil
		case <-ticker.Chan():
			if err := r.RunOnce(ctx, task); err != nil {
				log.Error("periodic task run failed", sl.Err(err))
			}
		}
	}
}

// RunOnce executes a single run, converting a panic into an error.
func (r *Runner) RunOnce(ctx context.Context, task Task) (err error) {
	start := r.clock.Now()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("periodic task panicked",
				slog.String("task", task.Name),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("task %q panicked: %v", task.Name, p)
		}
		metrics.ObserveTask(task.Name, r.clock.Since(start))
	}()

	return task.Run(ctx)
}
