// Package disbursement builds and executes consolidated payout batches.
// Every item's reservation is either paid out or refunded exactly once, and
// the batch status is derived from its items.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "paycore/internal/errors"
	"paycore/internal/logging"
	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/services/fees"
	"paycore/internal/services/mpesa"
	"paycore/internal/services/payout"
	"paycore/internal/services/rates"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// transferKeyLifetime is how long the card provider remembers an idempotency
// key.
const transferKeyLifetime = 24 * time.Hour

var (
	resolvableBatchStatuses = []string{
		models.BatchStatusProcessing,
		models.BatchStatusPartiallyCompleted,
		models.BatchStatusFailed,
		models.BatchStatusCompleted,
	}
	pendingItem    = []string{models.ItemStatusPending}
	processingItem = []string{models.ItemStatusProcessing}
	retryableItem  = []string{models.ItemStatusFailed, models.ItemStatusTimeout}
)

type Config struct {
	MpesaFloorKES  decimal.Decimal
	StripeFloorUSD decimal.Decimal
	DispatchDelay  time.Duration
	MaxRetries     int
	ItemTimeout    time.Duration
	// ResumeAfter is how long after approval an unfinished batch counts as
	// interrupted.
	ResumeAfter time.Duration
	SweepLimit  int
}

type Service struct {
	batches   repositories.BatchRepository
	channels  repositories.ChannelRepository
	balances  Balances
	transfers Transferer
	b2c       BusinessPayer
	rates     RateSource
	origins   OriginChecker
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	batches repositories.BatchRepository,
	channels repositories.ChannelRepository,
	balances Balances,
	transfers Transferer,
	b2c BusinessPayer,
	rateSource RateSource,
	origins OriginChecker,
	cfg Config,
	log *zap.Logger,
) *Service {
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 100
	}
	return &Service{
		batches:   batches,
		channels:  channels,
		balances:  balances,
		transfers: transfers,
		b2c:       b2c,
		rates:     rateSource,
		origins:   origins,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Generate builds a pending batch with one item per payee whose balance
// clears the floor of their channel. No balance is touched.
func (s *Service) Generate(ctx context.Context) (*models.DisbursementBatch, error) {
	inFlight, err := s.batches.HasInFlight(ctx)
	if err != nil {
		return nil, err
	}
	if inFlight {
		return nil, apperrors.ErrBatchInFlight
	}

	chs, err := s.channels.ListPayoutReady(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list payout channels: %w", err)
	}

	var rate decimal.Decimal
	batch := &models.DisbursementBatch{Status: models.BatchStatusPending}
	for i := range chs {
		ch := &chs[i]
		balance, err := s.balances.Balance(ctx, ch.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to read balance of user %d: %w", ch.UserID, err)
		}
		amount := balance.Truncate(2)
		if !amount.IsPositive() {
			continue
		}

		if ch.Kind == models.ChannelKindMpesa && rate.IsZero() {
			if rate, err = s.rates.Withdrawal(ctx); err != nil {
				if errors.Is(err, rates.ErrUnavailable) {
					return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
				}
				return nil, err
			}
		}

		item, ok := s.buildItem(ch, amount, rate)
		if !ok {
			continue
		}
		batch.Items = append(batch.Items, item)
		batch.TotalAmount = batch.TotalAmount.Add(item.Amount)
		fee := item.Fee
		if item.PayoutCurrency == fees.CurrencyKES {
			fee = rates.ToUSD(fee, item.RateUsed)
		}
		batch.TotalFees = batch.TotalFees.Add(fee)
	}

	if len(batch.Items) == 0 {
		return nil, apperrors.ErrNoEligiblePayees
	}
	batch.ItemCount = len(batch.Items)

	if err := s.batches.CreateWithItems(ctx, batch); err != nil {
		if errors.Is(err, repositories.ErrBatchInFlight) {
			return nil, apperrors.ErrBatchInFlight
		}
		return nil, err
	}
	s.log.Info("disbursement batch generated",
		zap.Uint("batch_id", batch.ID),
		zap.Int("items", batch.ItemCount),
		zap.String("total_usd", batch.TotalAmount.String()))
	return batch, nil
}

// buildItem applies the channel floor and previews the fee. Phone payouts
// above the provider maximum are capped and the rest waits for the next batch.
func (s *Service) buildItem(ch *models.WithdrawalChannel, amount, rate decimal.Decimal) (models.DisbursementItem, bool) {
	item := models.DisbursementItem{
		UserID:      ch.UserID,
		ChannelID:   ch.ID,
		ChannelKind: ch.Kind,
		Destination: ch.Destination,
		Status:      models.ItemStatusPending,
	}
	switch ch.Kind {
	case models.ChannelKindStripe:
		if amount.LessThan(s.cfg.StripeFloorUSD) {
			return item, false
		}
		q, err := fees.Stripe(amount)
		if err != nil {
			s.log.Warn("skipping payee", zap.Uint("user_id", ch.UserID), zap.Error(err))
			return item, false
		}
		item.Amount, item.PayoutAmount, item.PayoutCurrency = amount, q.Net, fees.CurrencyUSD
		item.Fee, item.Net = q.Fee, q.Net
		return item, true

	case models.ChannelKindMpesa:
		local := rates.ToLocalFloor(amount, rate)
		if local.LessThan(s.cfg.MpesaFloorKES) {
			return item, false
		}
		q, err := fees.MpesaB2C(local)
		if errors.Is(err, fees.ErrAboveProviderMaximum) {
			local = fees.MpesaMaximumKES
			amount = rates.ToUSD(local, rate)
			q, err = fees.MpesaB2C(local)
		}
		if err != nil {
			s.log.Warn("skipping payee", zap.Uint("user_id", ch.UserID), zap.Error(err))
			return item, false
		}
		item.Amount, item.PayoutAmount, item.PayoutCurrency = amount, q.Net, fees.CurrencyKES
		item.Fee, item.Net, item.RateUsed = q.Fee, q.Net, rate
		return item, true
	}
	return item, false
}

// Approve reserves every item, moves the batch to processing and dispatches
// the items one by one.
func (s *Service) Approve(ctx context.Context, batchID, approver uint) (*models.DisbursementBatch, error) {
	now := s.now()
	moved, err := s.batches.TransitionBatch(ctx, batchID, []string{models.BatchStatusPending}, models.BatchUpdate{
		Status:     models.BatchStatusApproved,
		ApprovedBy: approver,
		ApprovedAt: &now,
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
	s.log.Info("disbursement batch approved", zap.Uint("batch_id", batchID), zap.Uint("approver", approver))

	items, err := s.batches.ListItems(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		s.reserve(ctx, &items[i])
	}

	if _, err := s.batches.TransitionBatch(ctx, batchID, []string{models.BatchStatusApproved}, models.BatchUpdate{
		Status: models.BatchStatusProcessing,
	}); err != nil {
		return nil, err
	}

	if err := s.execute(ctx, batchID); err != nil {
		return nil, err
	}
	return s.Get(ctx, batchID)
}

// Resume finishes batches whose execution stopped part way, for example on
// a restart. Reservations not yet taken are taken and reserved items that were
// never sent are dispatched. Items already claimed are left alone.
func (s *Service) Resume(ctx context.Context) (int, error) {
	if s.cfg.ResumeAfter <= 0 {
		return 0, nil
	}
	batches, err := s.batches.ListInterrupted(ctx, s.now().Add(-s.cfg.ResumeAfter), s.cfg.SweepLimit)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for i := range batches {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		ok, err := s.resume(ctx, &batches[i])
		if err != nil {
			s.log.Error("failed to resume batch", zap.Uint("batch_id", batches[i].ID), zap.Error(err))
			continue
		}
		if ok {
			resumed++
		}
	}
	return resumed, nil
}

func (s *Service) resume(ctx context.Context, batch *models.DisbursementBatch) (bool, error) {
	items, err := s.batches.ListItems(ctx, batch.ID)
	if err != nil {
		return false, err
	}
	pending := 0
	for i := range items {
		if items[i].Status != models.ItemStatusPending {
			continue
		}
		pending++
		if !items[i].Reserved {
			s.reserve(ctx, &items[i])
		}
	}

	if batch.Status == models.BatchStatusApproved {
		if _, err := s.batches.TransitionBatch(ctx, batch.ID, []string{models.BatchStatusApproved}, models.BatchUpdate{
			Status: models.BatchStatusProcessing,
		}); err != nil {
			return false, err
		}
	}
	if pending == 0 {
		s.recompute(ctx, batch.ID)
		return false, nil
	}

	s.log.Info("resuming disbursement batch", zap.Uint("batch_id", batch.ID), zap.Int("pending", pending))
	return true, s.execute(ctx, batch.ID)
}

// reserve debits the payee for one item. An item the balance no longer
// covers fails without a refund since nothing was taken.
func (s *Service) reserve(ctx context.Context, item *models.DisbursementItem) {
	_, err := s.batches.ReserveItem(ctx, item.ID)
	if err == nil {
		return
	}
	reason := "reservation failed: " + err.Error()
	if errors.Is(err, repositories.ErrInsufficientBalance) {
		reason = "insufficient balance at approval"
	}
	if _, _, ferr := s.batches.FailAndRefundItem(ctx, item.ID, pendingItem, models.ItemStatusFailed, reason, s.now()); ferr != nil {
		s.log.Error("failed to mark item failed", zap.Uint("item_id", item.ID), zap.Error(ferr))
	}
	s.log.Warn("item not reserved", zap.Uint("item_id", item.ID), zap.Uint("user_id", item.UserID), zap.String("reason", reason))
}

// execute dispatches every reserved pending item of the batch with a short
// pause between provider calls.
func (s *Service) execute(ctx context.Context, batchID uint) error {
	items, err := s.batches.ListItems(ctx, batchID)
	if err != nil {
		return err
	}
	first := true
	for i := range items {
		item := &items[i]
		if item.Status != models.ItemStatusPending || !item.Reserved {
			continue
		}
		if !first {
			if err := s.pause(ctx); err != nil {
				return err
			}
		}
		first = false
		s.dispatch(ctx, item)
	}
	s.recompute(ctx, batchID)
	return nil
}

func (s *Service) pause(ctx context.Context) error {
	if s.cfg.DispatchDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.DispatchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// dispatch claims a pending item and sends it. Rejected payments fail the
// item and refund its reservation.
func (s *Service) dispatch(ctx context.Context, item *models.DisbursementItem) {
	now := s.now()
	update := models.ItemUpdate{Status: models.ItemStatusProcessing, DispatchedAt: &now}
	if item.ChannelKind == models.ChannelKindMpesa {
		update.OriginatorConversationID = uuid.NewString()
	}
	claimed, err := s.batches.UpdateItem(ctx, item.ID, pendingItem, update)
	if err != nil {
		s.log.Error("failed to claim item", zap.Uint("item_id", item.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	// Outcomes are recorded even if the caller goes away mid-dispatch.
	done := context.WithoutCancel(ctx)

	switch item.ChannelKind {
	case models.ChannelKindStripe:
		s.sendTransfer(ctx, done, item)

	case models.ChannelKindMpesa:
		resp, err := s.b2c.BusinessPayment(ctx, mpesa.B2CRequest{
			OriginatorConversationID: update.OriginatorConversationID,
			Phone:                    item.Destination,
			Amount:                   item.PayoutAmount,
			Remarks:                  "Earnings payout",
			Occasion:                 fmt.Sprintf("batch-%d", item.BatchID),
		})
		if err != nil {
			if !mpesa.IsRejection(err) {
				s.log.Warn("business payment outcome unknown, refunding",
					logging.Reconciliation(),
					zap.Uint("item_id", item.ID),
					zap.String("originator_conversation_id", update.OriginatorConversationID),
					zap.Error(err))
			}
			s.failItem(done, item.ID, models.ItemStatusFailed, err.Error())
			return
		}
		if _, err := s.batches.UpdateItem(done, item.ID, processingItem, models.ItemUpdate{
			ConversationID: resp.ConversationID,
		}); err != nil {
			s.log.Error("failed to record conversation id", zap.Uint("item_id", item.ID), zap.Error(err))
		}
		s.log.Info("business payment accepted",
			zap.Uint("item_id", item.ID),
			zap.String("conversation_id", resp.ConversationID))

	default:
		s.failItem(done, item.ID, models.ItemStatusFailed, "unsupported channel kind "+item.ChannelKind)
	}
}

// sendTransfer sends a card item under its stable key. Only a decline is
// refunded. Any other error leaves the item processing so the sweep can
// replay the same key.
func (s *Service) sendTransfer(ctx, done context.Context, item *models.DisbursementItem) bool {
	key := TransferKey(item)
	res, err := s.transfers.Transfer(ctx, payout.TransferRequest{
		Amount:         item.PayoutAmount,
		Destination:    item.Destination,
		Description:    fmt.Sprintf("Payout batch #%d", item.BatchID),
		IdempotencyKey: key,
		Metadata: map[string]string{
			"batch_id": fmt.Sprint(item.BatchID),
			"item_id":  fmt.Sprint(item.ID),
		},
	})
	switch {
	case err == nil:
		return s.completeItem(done, item.ID, res.ID)
	case payout.IsDeclined(err):
		return s.failItem(done, item.ID, models.ItemStatusFailed, err.Error())
	default:
		s.log.Warn("transfer outcome unknown, item left processing",
			logging.Reconciliation(),
			zap.Uint("item_id", item.ID),
			zap.String("idempotency_key", key),
			zap.Error(err))
		return false
	}
}

// TransferKey is the idempotency key of one dispatch of a card item. It only
// changes when the item is retried after a refund.
func TransferKey(item *models.DisbursementItem) string {
	return fmt.Sprintf("disbursement-item-%d-%d", item.ID, item.RetryCount)
}

func (s *Service) completeItem(ctx context.Context, itemID uint, receipt string) bool {
	now := s.now()
	moved, err := s.batches.UpdateItem(ctx, itemID, processingItem, models.ItemUpdate{
		Status:      models.ItemStatusCompleted,
		Receipt:     receipt,
		CompletedAt: &now,
	})
	if err != nil {
		s.log.Error("failed to complete item", zap.Uint("item_id", itemID), zap.Error(err))
		return false
	}
	if moved {
		s.log.Info("disbursement item completed", zap.Uint("item_id", itemID), zap.String("receipt", receipt))
	}
	return moved
}

func (s *Service) failItem(ctx context.Context, itemID uint, status, reason string) bool {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	moved, refunded, err := s.batches.FailAndRefundItem(ctx, itemID, processingItem, status, reason, s.now())
	if err != nil {
		s.log.Error("failed to fail item", zap.Uint("item_id", itemID), zap.Error(err))
		return false
	}
	if moved {
		s.log.Warn("disbursement item failed",
			zap.Uint("item_id", itemID),
			zap.String("status", status),
			zap.Bool("refunded", refunded),
			zap.String("reason", reason))
	}
	return moved
}

// recompute derives the batch status once every item is resolved.
func (s *Service) recompute(ctx context.Context, batchID uint) {
	items, err := s.batches.ListItems(ctx, batchID)
	if err != nil {
		s.log.Error("failed to list items", zap.Uint("batch_id", batchID), zap.Error(err))
		return
	}
	completed, failed := 0, 0
	for i := range items {
		switch {
		case !items[i].IsResolved():
			return
		case items[i].Status == models.ItemStatusCompleted:
			completed++
		default:
			failed++
		}
	}

	status := models.BatchStatusPartiallyCompleted
	switch {
	case failed == 0:
		status = models.BatchStatusCompleted
	case completed == 0:
		status = models.BatchStatusFailed
	}
	now := s.now()
	moved, err := s.batches.TransitionBatch(ctx, batchID, resolvableBatchStatuses, models.BatchUpdate{
		Status:         status,
		CompletedAt:    &now,
		CompletedCount: &completed,
		FailedCount:    &failed,
	})
	if err != nil {
		s.log.Error("failed to update batch status", zap.Uint("batch_id", batchID), zap.Error(err))
		return
	}
	if moved {
		s.log.Info("disbursement batch resolved",
			zap.Uint("batch_id", batchID),
			zap.String("status", status),
			zap.Int("completed", completed),
			zap.Int("failed", failed))
	}
}
