// Package fulfillment applies the effect of a settled payment exactly once.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "paycore/internal/errors"
	"paycore/internal/logging"
	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	PriceTolerance decimal.Decimal
	SellerShare    decimal.Decimal
}

type Dispatcher struct {
	txs      repositories.TransactionRepository
	plans    PlanCatalog
	subs     SubscriptionActivator
	balances BalanceCreditor
	content  ContentUnlocker
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

func NewDispatcher(
	txs repositories.TransactionRepository,
	plans PlanCatalog,
	subs SubscriptionActivator,
	balances BalanceCreditor,
	content ContentUnlocker,
	cfg Config,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		txs:      txs,
		plans:    plans,
		subs:     subs,
		balances: balances,
		content:  content,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Fulfill runs the downstream effect for a confirmed transaction. Only the
// caller that wins the claim runs it; everyone else gets the current state.
func (d *Dispatcher) Fulfill(ctx context.Context, txID uint) (*Result, error) {
	tx, err := d.txs.GetByID(ctx, txID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	switch tx.Status {
	case models.TransactionStatusCompleted:
		return priorResult(tx), nil
	case models.TransactionStatusFailed, models.TransactionStatusExpired:
		return priorResult(tx), apperrors.WithMessage(apperrors.ErrPaymentTerminal, "payment already %s", tx.Status)
	case models.TransactionStatusConfirmed:
	default:
		return nil, apperrors.ErrNotConfirmed
	}

	claimed, err := d.txs.ClaimFulfillment(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim transaction: %w", err)
	}
	if !claimed {
		current, err := d.txs.GetByID(ctx, tx.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload transaction: %w", err)
		}
		return priorResult(current), nil
	}

	ref, err := d.apply(ctx, tx)
	now := d.now()
	if err != nil {
		reason := failureReason(err)
		if _, terr := d.txs.Transition(ctx, tx.ID, []string{models.TransactionStatusConfirmed}, models.TransactionUpdate{
			Status:        models.TransactionStatusFailed,
			FailureReason: reason,
			CompletedAt:   &now,
		}); terr != nil {
			d.log.Error("failed to record fulfillment failure", zap.Uint("transaction_id", tx.ID), zap.Error(terr))
		}
		// Money was received but no effect was granted. It waits for an
		// operator in the reconciliation queue.
		d.log.Error("fulfillment failed after payment received",
			logging.Reconciliation(),
			zap.Uint("transaction_id", tx.ID),
			zap.Uint("user_id", tx.UserID),
			zap.String("type", tx.Type),
			zap.String("receipt", tx.Receipt),
			zap.String("reason", reason),
			zap.Error(err))
		return &Result{TransactionID: tx.ID, Status: models.TransactionStatusFailed, Reason: reason}, err
	}

	moved, err := d.txs.Transition(ctx, tx.ID, []string{models.TransactionStatusConfirmed}, models.TransactionUpdate{
		Status:         models.TransactionStatusCompleted,
		FulfillmentRef: ref,
		CompletedAt:    &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete transaction: %w", err)
	}
	if !moved {
		d.log.Warn("transaction moved during fulfillment", zap.Uint("transaction_id", tx.ID))
	}

	d.log.Info("payment fulfilled",
		zap.Uint("transaction_id", tx.ID),
		zap.String("type", tx.Type),
		zap.String("fulfillment_ref", ref))
	return &Result{TransactionID: tx.ID, Status: models.TransactionStatusCompleted, FulfillmentRef: ref}, nil
}

func (d *Dispatcher) apply(ctx context.Context, tx *models.Transaction) (string, error) {
	ref := TransactionRef(tx.ID)
	switch tx.Type {
	case models.TransactionTypeSubscription:
		plan, err := d.plans.Plan(ctx, tx.PurchaseRef)
		if err != nil {
			return "", err
		}
		if !d.matches(tx.AmountUSD, plan.PriceUSD) {
			return "", apperrors.WithMessage(apperrors.ErrAmountMismatch,
				"amount mismatch: paid %s, plan %s costs %s", tx.AmountUSD.StringFixed(2), plan.Code, plan.PriceUSD.StringFixed(2))
		}
		return d.subs.Activate(ctx, tx.UserID, plan, ref)

	case models.TransactionTypeBalanceTopup:
		if err := d.balances.CreditBalance(ctx, tx.UserID, tx.AmountUSD, "USD", ref); err != nil {
			return "", err
		}
		return ref, nil

	case models.TransactionTypeContentUnlock:
		contentID, err := strconv.ParseUint(tx.PurchaseRef, 10, 64)
		if err != nil {
			return "", apperrors.ErrContentNotFound
		}
		item, err := d.content.Content(ctx, uint(contentID))
		if err != nil {
			return "", err
		}
		if !d.matches(tx.AmountUSD, item.PriceUSD) {
			return "", apperrors.WithMessage(apperrors.ErrAmountMismatch,
				"amount mismatch: paid %s, content costs %s", tx.AmountUSD.StringFixed(2), item.PriceUSD.StringFixed(2))
		}
		share := tx.AmountUSD.Mul(d.cfg.SellerShare).Round(2)
		return d.content.Unlock(ctx, item, tx.UserID, share, ref)
	}
	return "", apperrors.ErrUnsupportedType
}

func (d *Dispatcher) matches(paid, price decimal.Decimal) bool {
	return paid.Sub(price).Abs().LessThanOrEqual(d.cfg.PriceTolerance)
}

// TransactionRef is the idempotency reference downstream effects are keyed on.
func TransactionRef(txID uint) string {
	return "ptx-" + strconv.FormatUint(uint64(txID), 10)
}

func priorResult(tx *models.Transaction) *Result {
	return &Result{
		TransactionID:  tx.ID,
		Status:         tx.Status,
		FulfillmentRef: tx.FulfillmentRef,
		Reason:         tx.FailureReason,
		Replayed:       true,
	}
}

// failureReason keeps the stored reason short. Amount mismatches always
// store the bare code text so operators can filter on it.
func failureReason(err error) string {
	if errors.Is(err, apperrors.ErrAmountMismatch) {
		return apperrors.ErrAmountMismatch.Message
	}
	var de *apperrors.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	msg := err.Error()
	if len(msg) > 255 {
		msg = msg[:255]
	}
	return msg
}
