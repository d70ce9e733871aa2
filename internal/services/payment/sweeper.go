package payment

import (
	"context"
	"fmt"

	"paycore/internal/models"

	"go.uber.org/zap"
)

const expiredReason = "payment window expired"

// SweepStale expires payments still open after the expiry window. No money
// has moved for them, so nothing is compensated.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.ExpiryWindow)
	txs, err := s.txs.ListByStatusBefore(ctx, openStatuses, cutoff, s.cfg.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale transactions: %w", err)
	}

	expired := 0
	for i := range txs {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		now := s.now()
		moved, err := s.txs.Transition(ctx, txs[i].ID, openStatuses, models.TransactionUpdate{
			Status:        models.TransactionStatusExpired,
			FailureReason: expiredReason,
			CompletedAt:   &now,
		})
		if err != nil {
			s.log.Error("failed to expire transaction", zap.Uint("transaction_id", txs[i].ID), zap.Error(err))
			continue
		}
		if moved {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info("expired stale payments", zap.Int("count", expired))
	}
	return expired, nil
}

// PollPending queries the provider for prompts that have had no callback
// within the grace period, and resumes fulfillment for confirmed payments
// left behind by an interrupted run.
func (s *Service) PollPending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.PollGrace)
	txs, err := s.txs.ListByStatusBefore(ctx,
		[]string{models.TransactionStatusSTKSent, models.TransactionStatusConfirmed},
		cutoff, s.cfg.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	for i := range txs {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		s.poll(ctx, &txs[i])
	}
	return len(txs), nil
}
