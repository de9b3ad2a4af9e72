package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one recurring maintenance job.
type Task struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context)
}

// Runner executes tasks on their schedules until stopped. It is a small
// in-process scheduler for maintenance work such as transport health checks;
// it persists nothing.
type Runner struct {
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRunner creates a runner.
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger.With().Str("component", "schedule").Logger()}
}

// Start launches one goroutine per task. Tasks with invalid schedules are
// logged and skipped.
func (r *Runner) Start(ctx context.Context, tasks []Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, task := range tasks {
		if _, err := task.Schedule.NextRun(time.Now()); err != nil {
			r.logger.Error().Err(err).Str("task", task.Name).Msg("Invalid schedule, task skipped")
			continue
		}

		r.wg.Add(1)
		go r.loop(ctx, task)
	}
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.started = false
}

func (r *Runner) loop(ctx context.Context, task Task) {
	defer r.wg.Done()

	for {
		next, err := task.Schedule.NextRun(time.Now())
		if err != nil {
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			task.Run(ctx)
		}
	}
}
