package scheduler

import (
	"context"
	"errors"

	"paycore/internal/config"
	apperrors "paycore/internal/errors"
	"paycore/internal/models"

	"go.uber.org/zap"
)

type Payments interface {
	SweepStale(ctx context.Context) (int, error)
	PollPending(ctx context.Context) (int, error)
}

type Channels interface {
	ValidateExternalChannels(ctx context.Context) (int, error)
}

type Disbursements interface {
	Generate(ctx context.Context) (*models.DisbursementBatch, error)
	SweepTimeouts(ctx context.Context) (int, error)
	Resume(ctx context.Context) (int, error)
}

// EngineTasks builds the standard task set.
func EngineTasks(cfg config.SchedulerConfig, payments Payments, channels Channels, batches Disbursements, log *zap.Logger) []Task {
	counted := func(name string, fn func(context.Context) (int, error)) func(context.Context) error {
		return func(ctx context.Context) error {
			n, err := fn(ctx)
			if n > 0 {
				log.Info("task progressed", zap.String("task", name), zap.Int("rows", n))
			}
			return err
		}
	}

	return []Task{
		{Name: "payment-sweep", Interval: cfg.SweepInterval, Run: counted("payment-sweep", payments.SweepStale)},
		{Name: "payment-poll", Interval: cfg.PollInterval, Run: counted("payment-poll", payments.PollPending)},
		{Name: "channel-membership", Interval: cfg.MembershipInterval, Run: counted("channel-membership", channels.ValidateExternalChannels)},
		{Name: "item-timeout-sweep", Interval: cfg.ItemSweepInterval, Run: counted("item-timeout-sweep", batches.SweepTimeouts)},
		{Name: "batch-resume", Interval: cfg.ResumeInterval, Run: counted("batch-resume", batches.Resume)},
		{Name: "batch-generate", Interval: cfg.BatchInterval, Run: func(ctx context.Context) error {
			batch, err := batches.Generate(ctx)
			switch {
			case errors.Is(err, apperrors.ErrBatchInFlight), errors.Is(err, apperrors.ErrNoEligiblePayees):
				log.Info("no batch generated", zap.String("reason", err.Error()))
				return nil
			case err != nil:
				return err
			}
			log.Info("batch awaiting approval", zap.Uint("batch_id", batch.ID), zap.Int("items", batch.ItemCount))
			return nil
		}},
	}
}
