// Package scheduler runs the engine's periodic background work.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one named unit of periodic work. Run does a bounded amount of work
// per wake; an error is logged and the task keeps its schedule.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	tasks []Task
	log   *zap.Logger
}

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Add registers a task. Tasks with a non-positive interval are disabled.
func (s *Scheduler) Add(tasks ...Task) *Scheduler {
	for _, t := range tasks {
		if t.Interval <= 0 || t.Run == nil {
			s.log.Info("task disabled", zap.String("task", t.Name))
			continue
		}
		s.tasks = append(s.tasks, t)
	}
	return s
}

// Run blocks until ctx is cancelled. A task never overlaps with itself.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	s.log.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
	err := g.Wait()
	s.log.Info("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", zap.String("task", t.Name), zap.Any("panic", r))
		}
	}()
	start := time.Now()
	if err := t.Run(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("task failed", zap.String("task", t.Name), zap.Error(err))
		return
	}
	s.log.Debug("task done", zap.String("task", t.Name), zap.Duration("took", time.Since(start)))
}
