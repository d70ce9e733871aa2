package disbursement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	apperrors "paycore/internal/errors"
	"paycore/internal/logging"
	"paycore/internal/models"
	"paycore/internal/repositories"

	"go.uber.org/zap"
)

// HandleResult applies an asynchronous phone payment outcome.
func (s *Service) HandleResult(ctx context.Context, ev ResultEvent) (ResultOutcome, error) {
	return s.resolve(ctx, ev, false)
}

// HandleTimeout applies a provider queue timeout. The item is refunded and
// may be retried.
func (s *Service) HandleTimeout(ctx context.Context, ev ResultEvent) (ResultOutcome, error) {
	return s.resolve(ctx, ev, true)
}

func (s *Service) resolve(ctx context.Context, ev ResultEvent, timedOut bool) (ResultOutcome, error) {
	if !s.origins.Trusted(ev.SourceIP) {
		s.log.Warn("business payment result from untrusted origin",
			logging.Security(),
			zap.String("source_ip", ev.SourceIP),
			zap.String("conversation_id", ev.ConversationID))
		return OutcomeRejectedUnverified, nil
	}

	item, err := s.batches.GetItemByConversation(ctx, ev.ConversationID, ev.OriginatorConversationID)
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.Warn("business payment result for unknown item",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("originator_conversation_id", ev.OriginatorConversationID))
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	if item.Status != models.ItemStatusProcessing {
		if ev.Succeeded && !timedOut && item.Status != models.ItemStatusCompleted {
			s.log.Error("payout succeeded after item was resolved",
				logging.Reconciliation(),
				zap.Uint("item_id", item.ID),
				zap.String("status", item.Status),
				zap.String("receipt", ev.Receipt))
		}
		return OutcomeIgnored, nil
	}

	var moved bool
	switch {
	case timedOut:
		moved = s.failItem(ctx, item.ID, models.ItemStatusTimeout, "provider timeout: "+ev.ResultDesc)
	case ev.Succeeded:
		moved = s.completeItem(ctx, item.ID, ev.Receipt)
	default:
		moved = s.failItem(ctx, item.ID, models.ItemStatusFailed, fmt.Sprintf("provider result %d: %s", ev.ResultCode, ev.ResultDesc))
	}
	if !moved {
		return OutcomeIgnored, nil
	}
	s.recompute(ctx, item.BatchID)
	return OutcomeApplied, nil
}

// RetryItem reserves a failed or timed out item again and dispatches it.
func (s *Service) RetryItem(ctx context.Context, itemID uint) (*models.DisbursementItem, error) {
	item, err := s.getItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(retryableItem, item.Status) {
		return nil, apperrors.ErrItemNotRetryable
	}
	if item.RetryCount >= s.cfg.MaxRetries {
		return nil, apperrors.ErrRetryLimit
	}

	// The batch is reopened before the reservation so that an interrupted
	// retry leaves a processing batch for Resume to finish.
	if _, err := s.batches.TransitionBatch(ctx, item.BatchID, []string{
		models.BatchStatusPartiallyCompleted,
		models.BatchStatusFailed,
	}, models.BatchUpdate{Status: models.BatchStatusProcessing}); err != nil {
		return nil, err
	}

	moved, err := s.batches.ReserveRetry(ctx, itemID, s.cfg.MaxRetries)
	if err != nil || !moved {
		s.recompute(context.WithoutCancel(ctx), item.BatchID)
	}
	if errors.Is(err, repositories.ErrInsufficientBalance) {
		return nil, apperrors.ErrInsufficientBalance
	}
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apperrors.ErrItemNotRetryable
	}

	if item, err = s.getItem(ctx, itemID); err != nil {
		return nil, err
	}
	s.log.Info("retrying disbursement item", zap.Uint("item_id", itemID), zap.Int("retry", item.RetryCount))
	s.dispatch(ctx, item)
	s.recompute(ctx, item.BatchID)
	return s.getItem(ctx, itemID)
}

// Cancel abandons a batch that has not been approved. No money moved, so
// nothing is refunded.
func (s *Service) Cancel(ctx context.Context, batchID uint) (*models.DisbursementBatch, error) {
	now := s.now()
	moved, err := s.batches.TransitionBatch(ctx, batchID, []string{models.BatchStatusPending}, models.BatchUpdate{
		Status:      models.BatchStatusCancelled,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		if _, err := s.Get(ctx, batchID); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrBatchNotPending
	}

	items, err := s.batches.ListItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if _, _, err := s.batches.FailAndRefundItem(ctx, items[i].ID, pendingItem, models.ItemStatusFailed, "batch cancelled", now); err != nil {
			return nil, err
		}
	}
	s.log.Info("disbursement batch cancelled", zap.Uint("batch_id", batchID))
	return s.Get(ctx, batchID)
}

// SweepTimeouts times out phone items whose result never arrived and
// refunds them. Card items stuck in processing are replayed under their
// original key instead, since only the provider knows whether they were paid.
func (s *Service) SweepTimeouts(ctx context.Context) (int, error) {
	if s.cfg.ItemTimeout <= 0 {
		return 0, nil
	}
	now := s.now()
	items, err := s.batches.ListStaleProcessing(ctx, models.ChannelKindMpesa, time.Time{}, now.Add(-s.cfg.ItemTimeout), s.cfg.SweepLimit)
	if err != nil {
		return 0, err
	}
	swept := 0
	touched := make(map[uint]struct{})
	for i := range items {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		if s.failItem(ctx, items[i].ID, models.ItemStatusTimeout, "no result received") {
			swept++
			touched[items[i].BatchID] = struct{}{}
		}
	}

	// keys older than the provider keeps them would pay twice on replay
	cards, err := s.batches.ListStaleProcessing(ctx, models.ChannelKindStripe, now.Add(-transferKeyLifetime), now.Add(-s.cfg.ItemTimeout), s.cfg.SweepLimit)
	if err != nil {
		return swept, err
	}
	for i := range cards {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		s.log.Info("replaying transfer", zap.Uint("item_id", cards[i].ID), zap.String("idempotency_key", TransferKey(&cards[i])))
		if s.sendTransfer(ctx, ctx, &cards[i]) {
			swept++
			touched[cards[i].BatchID] = struct{}{}
		}
	}

	for batchID := range touched {
		s.recompute(ctx, batchID)
	}
	return swept, nil
}

// Reconcile sums the money movements of a batch.
func (s *Service) Reconcile(ctx context.Context, batchID uint) (repositories.ReconcileTotals, error) {
	if _, err := s.Get(ctx, batchID); err != nil {
		return repositories.ReconcileTotals{}, err
	}
	items, err := s.batches.ListItems(ctx, batchID)
	if err != nil {
		return repositories.ReconcileTotals{}, err
	}
	return repositories.Reconcile(items), nil
}

func (s *Service) Get(ctx context.Context, batchID uint) (*models.DisbursementBatch, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrBatchNotFound
	}
	return batch, err
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.DisbursementBatch, int64, error) {
	return s.batches.List(ctx, limit, offset)
}

func (s *Service) getItem(ctx context.Context, itemID uint) (*models.DisbursementItem, error) {
	item, err := s.batches.GetItem(ctx, itemID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrItemNotFound
	}
	return item, err
}
