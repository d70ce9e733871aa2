// Package payment drives inbound mobile-money payments from the prompt to
// settlement. Callbacks, polls and sweeps all move a payment through the same
// guarded transitions, so any of them may arrive in any order.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "paycore/internal/errors"
	"paycore/internal/logging"
	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/services/fulfillment"
	"paycore/internal/services/mpesa"
	"paycore/internal/services/rates"
	"paycore/internal/validation"

	"go.uber.org/zap"
)

var (
	openStatuses    = []string{models.TransactionStatusPending, models.TransactionStatusSTKSent}
	promptStatuses  = []string{models.TransactionStatusSTKSent}
	pendingStatuses = []string{models.TransactionStatusPending}
)

type Config struct {
	ReplayWindow time.Duration
	ExpiryWindow time.Duration
	PollGrace    time.Duration
	SweepLimit   int
}

type Service struct {
	txs       repositories.TransactionRepository
	provider  Provider
	rates     RateSource
	fulfiller Fulfiller
	verifier  *Verifier
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	txs repositories.TransactionRepository,
	provider Provider,
	rateSource RateSource,
	fulfiller Fulfiller,
	verifier *Verifier,
	cfg Config,
	log *zap.Logger,
) *Service {
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 100
	}
	return &Service{
		txs:       txs,
		provider:  provider,
		rates:     rateSource,
		fulfiller: fulfiller,
		verifier:  verifier,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initiate records a pending payment and prompts the payer. A rejection from
// the provider fails the payment immediately; it is not retried.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*models.Transaction, error) {
	v := validation.New()
	phone := v.Phone("phone", req.Phone)
	v.OneOf("type", req.Type,
		models.TransactionTypeSubscription,
		models.TransactionTypeBalanceTopup,
		models.TransactionTypeContentUnlock)
	v.Required("purchase_ref", req.PurchaseRef)
	v.MaxLength("purchase_ref", req.PurchaseRef, 64)
	v.Positive("amount_usd", req.AmountUSD)
	if err := v.Err(); err != nil {
		return nil, err
	}

	rate, err := s.rates.Deposit(ctx)
	if err != nil {
		if errors.Is(err, rates.ErrUnavailable) {
			return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("failed to get deposit rate: %w", err)
	}

	tx := &models.Transaction{
		UserID:      req.UserID,
		Type:        req.Type,
		PurchaseRef: req.PurchaseRef,
		AmountUSD:   req.AmountUSD.Round(2),
		AmountLocal: rates.ToLocalCeil(req.AmountUSD, rate),
		Currency:    "KES",
		RateUsed:    rate,
		Phone:       phone,
		Status:      models.TransactionStatusPending,
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	resp, err := s.provider.STKPush(ctx, mpesa.STKPushRequest{
		Phone:       phone,
		Amount:      tx.AmountLocal,
		Reference:   fmt.Sprintf("PAY%d", tx.ID),
		Description: tx.Type,
	})
	if err != nil {
		reason := "provider rejected request: " + err.Error()
		if !mpesa.IsRejection(err) {
			reason = "provider unreachable: " + err.Error()
		}
		s.fail(ctx, tx, pendingStatuses, reason)
		s.log.Warn("payment prompt failed",
			zap.Uint("transaction_id", tx.ID),
			zap.Bool("rejected", mpesa.IsRejection(err)),
			zap.Error(err))
		return s.reload(ctx, tx), apperrors.Wrap(apperrors.ErrPaymentRejected, err)
	}

	moved, err := s.txs.Transition(ctx, tx.ID, pendingStatuses, models.TransactionUpdate{
		Status:            models.TransactionStatusSTKSent,
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			s.fail(ctx, tx, pendingStatuses, "duplicate checkout request id")
			return s.reload(ctx, tx), apperrors.WithMessage(apperrors.ErrPaymentRejected, "duplicate checkout request id")
		}
		return nil, fmt.Errorf("failed to record prompt: %w", err)
	}
	if !moved {
		s.log.Warn("transaction moved before prompt was recorded", zap.Uint("transaction_id", tx.ID))
	}

	s.log.Info("payment prompt sent",
		zap.Uint("transaction_id", tx.ID),
		zap.Uint("user_id", tx.UserID),
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.String("amount_local", tx.AmountLocal.String()))
	return s.reload(ctx, tx), nil
}

// HandleCallback applies a prompt result. The returned error is only set
// for storage failures; provider-facing handlers acknowledge regardless.
func (s *Service) HandleCallback(ctx context.Context, ev CallbackEvent) (CallbackOutcome, error) {
	tx, err := s.txs.GetByCheckoutRequestID(ctx, ev.CheckoutRequestID)
	if errors.Is(err, repositories.ErrNotFound) {
		s.security("callback for unknown checkout request", ev)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to load transaction: %w", err)
	}

	if tx.IsTerminal() {
		s.log.Info("callback for finished payment ignored",
			zap.Uint("transaction_id", tx.ID),
			zap.String("status", tx.Status))
		return OutcomeIgnored, nil
	}
	if tx.Status == models.TransactionStatusConfirmed {
		// Settled by another trigger; make sure fulfillment ran.
		s.fulfill(ctx, tx.ID)
		return OutcomeIgnored, nil
	}

	if s.now().Sub(tx.CreatedAt) > s.cfg.ReplayWindow {
		s.security("callback outside replay window", ev, zap.Uint("transaction_id", tx.ID))
		return OutcomeRejectedReplay, nil
	}

	if !ev.Succeeded {
		reason := ev.ResultDesc
		if reason == "" {
			reason = fmt.Sprintf("payment failed with result code %d", ev.ResultCode)
		}
		s.fail(ctx, tx, openStatuses, reason)
		return OutcomeFailed, nil
	}

	verdict, why := s.verifier.Verify(ctx, ev.CheckoutRequestID, ev.SourceIP)
	switch verdict {
	case VerdictDeclined:
		s.security("success claim contradicted by provider", ev, zap.Uint("transaction_id", tx.ID), zap.String("reason", why))
		s.fail(ctx, tx, openStatuses, why)
		return OutcomeRejectedUnverified, nil
	case VerdictUnconfirmed:
		s.security("success claim could not be verified", ev, zap.Uint("transaction_id", tx.ID), zap.String("reason", why))
		return OutcomeRejectedUnverified, nil
	}

	if verdict == VerdictTrusted && ev.HasAmount && ev.Amount.LessThan(tx.AmountLocal) {
		s.log.Warn("callback amount below requested amount",
			zap.Uint("transaction_id", tx.ID),
			zap.String("requested", tx.AmountLocal.String()),
			zap.String("paid", ev.Amount.String()))
		s.fail(ctx, tx, openStatuses, apperrors.ErrAmountMismatch.Message)
		return OutcomeFailed, nil
	}

	return s.settle(ctx, tx, ev.Receipt, ev.Payload)
}

// Poll queries the provider for a payment the user is waiting on.
func (s *Service) Poll(ctx context.Context, userID, id uint) (*StatusView, error) {
	tx, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.poll(ctx, tx)
	return viewOf(s.reload(ctx, tx)), nil
}

// Get returns the user-visible status of a payment.
func (s *Service) Get(ctx context.Context, userID, id uint) (*StatusView, error) {
	tx, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return viewOf(tx), nil
}

// List returns a user's payments, newest first.
func (s *Service) List(ctx context.Context, userID uint, limit, offset int) ([]*StatusView, int64, error) {
	txs, total, err := s.txs.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	views := make([]*StatusView, 0, len(txs))
	for i := range txs {
		views = append(views, viewOf(&txs[i]))
	}
	return views, total, nil
}

func (s *Service) owned(ctx context.Context, userID, id uint) (*models.Transaction, error) {
	tx, err := s.txs.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx.UserID != userID {
		return nil, apperrors.ErrPaymentNotFound
	}
	return tx, nil
}

// poll drives one open payment from a status query. Query errors leave the
// payment untouched.
func (s *Service) poll(ctx context.Context, tx *models.Transaction) {
	switch {
	case tx.Status == models.TransactionStatusConfirmed && tx.FulfillmentClaimed:
		// a claimed fulfillment cannot be re-run safely, so it needs an operator
		if tx.ConfirmedAt != nil && tx.ConfirmedAt.Before(s.now().Add(-s.cfg.PollGrace)) {
			s.log.Warn("payment confirmed but fulfillment never finished",
				logging.Reconciliation(),
				zap.Uint("transaction_id", tx.ID),
				zap.Uint("user_id", tx.UserID),
				zap.Time("confirmed_at", *tx.ConfirmedAt))
		}
		return
	case tx.Status == models.TransactionStatusConfirmed:
		s.fulfill(ctx, tx.ID)
		return
	case tx.Status != models.TransactionStatusSTKSent || tx.CheckoutRequestID == nil:
		return
	}

	res, err := s.provider.STKQuery(ctx, *tx.CheckoutRequestID)
	if err != nil {
		s.log.Warn("status query failed", zap.Uint("transaction_id", tx.ID), zap.Error(err))
		return
	}
	switch res.Status {
	case mpesa.QueryCompleted:
		if _, err := s.settle(ctx, tx, "", nil); err != nil {
			s.log.Error("failed to settle polled payment", zap.Uint("transaction_id", tx.ID), zap.Error(err))
		}
	case mpesa.QueryFailed:
		s.fail(ctx, tx, promptStatuses, res.Reason)
	}
}

// settle confirms the payment and hands it to fulfillment.
func (s *Service) settle(ctx context.Context, tx *models.Transaction, receipt string, payload models.JSON) (CallbackOutcome, error) {
	now := s.now()
	moved, err := s.txs.Transition(ctx, tx.ID, openStatuses, models.TransactionUpdate{
		Status:          models.TransactionStatusConfirmed,
		Receipt:         receipt,
		ProviderPayload: payload,
		ConfirmedAt:     &now,
	})
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("failed to confirm transaction: %w", err)
	}
	if !moved {
		current := s.reload(ctx, tx)
		if current.Status != models.TransactionStatusConfirmed {
			return OutcomeIgnored, nil
		}
	} else {
		s.log.Info("payment confirmed",
			zap.Uint("transaction_id", tx.ID),
			zap.String("receipt", receipt))
	}

	res := s.fulfill(ctx, tx.ID)
	if res != nil && res.Status == models.TransactionStatusFailed {
		return OutcomeFailed, nil
	}
	if !moved {
		return OutcomeIgnored, nil
	}
	return OutcomeAccepted, nil
}

func (s *Service) fulfill(ctx context.Context, id uint) *fulfillment.Result {
	res, err := s.fulfiller.Fulfill(ctx, id)
	if err != nil {
		s.log.Warn("fulfillment did not complete", zap.Uint("transaction_id", id), zap.Error(err))
	}
	return res
}

func (s *Service) fail(ctx context.Context, tx *models.Transaction, from []string, reason string) {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	now := s.now()
	moved, err := s.txs.Transition(ctx, tx.ID, from, models.TransactionUpdate{
		Status:        models.TransactionStatusFailed,
		FailureReason: reason,
		CompletedAt:   &now,
	})
	if err != nil {
		s.log.Error("failed to mark payment failed", zap.Uint("transaction_id", tx.ID), zap.Error(err))
		return
	}
	if moved {
		s.log.Info("payment failed", zap.Uint("transaction_id", tx.ID), zap.String("reason", reason))
	}
}

func (s *Service) reload(ctx context.Context, tx *models.Transaction) *models.Transaction {
	current, err := s.txs.GetByID(ctx, tx.ID)
	if err != nil {
		s.log.Warn("failed to reload transaction", zap.Uint("transaction_id", tx.ID), zap.Error(err))
		return tx
	}
	return current
}

func (s *Service) security(msg string, ev CallbackEvent, fields ...zap.Field) {
	fields = append(fields,
		logging.Security(),
		zap.String("checkout_request_id", ev.CheckoutRequestID),
		zap.String("source_ip", ev.SourceIP),
		zap.Bool("claimed_success", ev.Succeeded))
	s.log.Warn(msg, fields...)
}
