// Package scheduler runs periodic maintenance tasks on an injected clock.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketplace/internal/clock"
	"marketplace/internal/metrics"
)

// Task is one periodic job. Run returns how many rows it changed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

type Scheduler struct {
	clock  clock.Clock
	tasks  []Task
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(clk clock.Clock, logger *slog.Logger, tasks ...Task) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  clk,
		tasks:  tasks,
		logger: logger.With("component", "scheduler"),
	}
}

// Start runs every task once and then on its interval until Stop is called
// or ctx is done. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
}

// Stop cancels every task loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

// RunOnce runs the named task immediately, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (int64, error) {
	for _, task := range s.tasks {
		if task.Name == name {
			return s.run(ctx, task)
		}
	}
	return 0, fmt.Errorf("unknown task %q", name)
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	s.logger.Info("starting task", "task", task.Name, "interval", task.Interval)
	s.run(ctx, task)

	ticker := s.clock.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping task", "task", task.Name)
			return
		case <-ticker.C:
			s.run(ctx, task)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, task Task) (int64, error) {
	n, err := task.Run(ctx)
	if err != nil {
		metrics.ScheduledRunsTotal.WithLabelValues(task.Name, "error").Inc()
		s.logger.Error("task failed", "task", task.Name, "error", err)
		return n, err
	}
	metrics.ScheduledRunsTotal.WithLabelValues(task.Name, "ok").Inc()
	if n > 0 {
		s.logger.Info("task changed rows", "task", task.Name, "count", n)
	}
	return n, nil
}
