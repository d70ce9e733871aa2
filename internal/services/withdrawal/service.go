// Package withdrawal manages payout channels and the lifecycle of withdrawal
// requests. Funds are reserved when a request is made and either paid out or
// returned exactly once.
package withdrawal

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
	"paycore/internal/services/notification"
	"paycore/internal/services/payout"
	"paycore/internal/services/rates"
	"paycore/internal/validation"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	MinimumStripeUSD decimal.Decimal
	MinimumMpesaUSD  decimal.Decimal
	Cooldown         time.Duration
	OTPTTL           time.Duration
	OTPMaxAttempts   int
}

type Service struct {
	withdrawals repositories.WithdrawalRepository
	channels    repositories.ChannelRepository
	linked      repositories.LinkedAccountRepository
	payouts     Payouts
	rates       RateSource
	notifier    Notifier
	cfg         Config
	log         *zap.Logger
	now         func() time.Time
	hashCost    int
}

func NewService(
	withdrawals repositories.WithdrawalRepository,
	channels repositories.ChannelRepository,
	linked repositories.LinkedAccountRepository,
	payouts Payouts,
	rateSource RateSource,
	notifier Notifier,
	cfg Config,
	log *zap.Logger,
) *Service {
	return &Service{
		withdrawals: withdrawals,
		channels:    channels,
		linked:      linked,
		payouts:     payouts,
		rates:       rateSource,
		notifier:    notifier,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
		hashCost:    bcrypt.DefaultCost,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Quote is the payout estimate for a withdrawal on a channel. PayoutAmount
// is what reaches the payee, after the fee.
type Quote struct {
	ChannelKind    string          `json:"channel_kind"`
	Amount         decimal.Decimal `json:"amount"`
	PayoutAmount   decimal.Decimal `json:"payout_amount"`
	PayoutCurrency string          `json:"payout_currency"`
	Fee            decimal.Decimal `json:"fee"`
	Net            decimal.Decimal `json:"net"`
	RateUsed       decimal.Decimal `json:"rate_used,omitempty"`
	Minimum        decimal.Decimal `json:"minimum"`
}

// QuoteFor previews a withdrawal on the user's active channel.
func (s *Service) QuoteFor(ctx context.Context, userID uint, amount decimal.Decimal) (*Quote, error) {
	v := validation.New()
	v.Positive("amount", amount)
	if err := v.Err(); err != nil {
		return nil, err
	}
	ch, err := s.payoutChannel(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, ch.Kind, amount.Round(2))
}

func (s *Service) quote(ctx context.Context, kind string, amount decimal.Decimal) (*Quote, error) {
	q := &Quote{ChannelKind: kind, Amount: amount, Minimum: s.minimum(kind)}
	switch kind {
	case models.ChannelKindStripe:
		fq, err := fees.Stripe(amount)
		if err != nil {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidAmount, "%s", err.Error())
		}
		q.PayoutAmount, q.PayoutCurrency, q.Fee, q.Net = fq.Net, fees.CurrencyUSD, fq.Fee, fq.Net
	case models.ChannelKindMpesa:
		rate, err := s.rates.Withdrawal(ctx)
		if err != nil {
			if errors.Is(err, rates.ErrUnavailable) {
				return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
			}
			return nil, fmt.Errorf("failed to get withdrawal rate: %w", err)
		}
		local := rates.ToLocalFloor(amount, rate)
		fq, err := fees.MpesaB2C(local)
		if err != nil {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidAmount, "%s", err.Error())
		}
		q.PayoutAmount, q.PayoutCurrency, q.Fee, q.Net, q.RateUsed = fq.Net, fees.CurrencyKES, fq.Fee, fq.Net, rate
	default:
		return nil, apperrors.WithMessage(apperrors.ErrNoActiveChannel, "unsupported channel kind %s", kind)
	}
	return q, nil
}

func (s *Service) minimum(kind string) decimal.Decimal {
	if kind == models.ChannelKindStripe {
		return s.cfg.MinimumStripeUSD
	}
	return s.cfg.MinimumMpesaUSD
}

// Request reserves amount from the user's balance and opens a pending
// withdrawal on the active channel.
func (s *Service) Request(ctx context.Context, userID uint, amount decimal.Decimal) (*models.WithdrawalRequest, error) {
	v := validation.New()
	v.Positive("amount", amount)
	if err := v.Err(); err != nil {
		return nil, err
	}
	amount = amount.Round(2)

	ch, err := s.payoutChannel(ctx, userID)
	if err != nil {
		return nil, err
	}
	if floor := s.minimum(ch.Kind); amount.LessThan(floor) {
		return nil, apperrors.WithMessage(apperrors.ErrBelowMinimum,
			"minimum withdrawal for %s is %s USD", ch.Kind, floor.StringFixed(2))
	}

	outstanding, err := s.withdrawals.HasOutstanding(ctx, userID)
	if err != nil {
		return nil, err
	}
	if outstanding {
		return nil, apperrors.ErrOutstandingRequest
	}

	q, err := s.quote(ctx, ch.Kind, amount)
	if err != nil {
		return nil, err
	}

	req := &models.WithdrawalRequest{
		UserID:         userID,
		ChannelID:      ch.ID,
		ChannelKind:    ch.Kind,
		Destination:    ch.Destination,
		Amount:         amount,
		PayoutAmount:   q.PayoutAmount,
		PayoutCurrency: q.PayoutCurrency,
		RateUsed:       q.RateUsed,
		Fee:            q.Fee,
		Status:         models.WithdrawalStatusPending,
	}
	if err := s.withdrawals.CreateReserved(ctx, req); err != nil {
		switch {
		case errors.Is(err, repositories.ErrInsufficientBalance):
			return nil, apperrors.ErrInsufficientBalance
		case errors.Is(err, repositories.ErrOutstandingRequest):
			return nil, apperrors.ErrOutstandingRequest
		}
		return nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}

	s.log.Info("withdrawal requested",
		zap.Uint("withdrawal_id", req.ID),
		zap.Uint("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("channel", ch.Kind))
	return req, nil
}

// Approve moves a pending request to approved. Requests on an external
// account channel are transferred straight away; a failed transfer leaves the
// request approved with the funds still reserved.
func (s *Service) Approve(ctx context.Context, id, reviewer uint, notes string) (*models.WithdrawalRequest, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	moved, err := s.withdrawals.MarkApproved(ctx, id, reviewer, notes, s.now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidTransition, "cannot approve a %s request", req.Status)
	}
	s.log.Info("withdrawal approved", zap.Uint("withdrawal_id", id), zap.Uint("reviewer", reviewer))

	if req.ChannelKind == models.ChannelKindStripe {
		s.transfer(ctx, req)
	}
	return s.get(ctx, id)
}

// RetryTransfer re-sends a failed transfer without a new approval. After an
// unknown outcome the same idempotency key is used again.
func (s *Service) RetryTransfer(ctx context.Context, id, reviewer uint) (*models.WithdrawalRequest, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ChannelKind != models.ChannelKindStripe || req.Status != models.WithdrawalStatusApproved || !req.TransferFailed {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidTransition, "only failed transfers can be retried")
	}
	s.log.Info("retrying withdrawal transfer", zap.Uint("withdrawal_id", id), zap.Uint("reviewer", reviewer))
	s.transfer(ctx, req)
	return s.get(ctx, id)
}

func (s *Service) transfer(ctx context.Context, req *models.WithdrawalRequest) {
	claimed, err := s.withdrawals.BeginTransfer(ctx, req.ID)
	if err != nil {
		s.log.Error("failed to claim transfer", zap.Uint("withdrawal_id", req.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	key := TransferKey(req)
	res, terr := s.payouts.Transfer(ctx, payout.TransferRequest{
		Amount:         req.PayoutAmount,
		Destination:    req.Destination,
		Description:    fmt.Sprintf("Withdrawal #%d", req.ID),
		IdempotencyKey: key,
		Metadata:       map[string]string{"withdrawal_id": fmt.Sprint(req.ID)},
	})

	// The claim must be released even if the caller has gone away.
	done := context.WithoutCancel(ctx)
	var outcome models.TransferOutcome
	if terr != nil {
		outcome.Failure = terr.Error()
		outcome.Declined = payout.IsDeclined(terr)
	} else {
		outcome.TransferID = res.ID
	}
	if err := s.withdrawals.FinishTransfer(done, req.ID, outcome, s.now()); err != nil {
		s.log.Error("failed to record transfer outcome",
			zap.Uint("withdrawal_id", req.ID),
			zap.String("transfer_id", outcome.TransferID),
			zap.Error(err))
		return
	}

	switch {
	case terr == nil:
		s.log.Info("withdrawal transferred", zap.Uint("withdrawal_id", req.ID), zap.String("transfer_id", outcome.TransferID))
		s.notify(req.UserID, "withdrawal_completed", fmt.Sprintf("Your withdrawal of %s USD has been sent.", req.Amount.StringFixed(2)))
	case outcome.Declined:
		s.log.Warn("withdrawal transfer declined, funds stay reserved",
			zap.Uint("withdrawal_id", req.ID),
			zap.Error(terr))
	default:
		s.log.Warn("withdrawal transfer outcome unknown, funds stay reserved",
			logging.Reconciliation(),
			zap.Uint("withdrawal_id", req.ID),
			zap.String("idempotency_key", key),
			zap.Error(terr))
	}
}

// TransferKey is the idempotency key of the request's current transfer
// attempt. Retrying after an unknown outcome reuses it, so the provider
// answers with the original transfer instead of sending a second one.
func TransferKey(req *models.WithdrawalRequest) string {
	return fmt.Sprintf("withdrawal-%d-%d", req.ID, req.TransferAttempt)
}

// Complete finalizes a phone channel request once the operator has sent the
// funds outside the system.
func (s *Service) Complete(ctx context.Context, id, reviewer uint, receipt, notes string) (*models.WithdrawalRequest, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ChannelKind != models.ChannelKindMpesa {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidTransition, "%s withdrawals complete through their transfer", req.ChannelKind)
	}
	moved, err := s.withdrawals.MarkCompleted(ctx, id, reviewer, receipt, notes, s.now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidTransition, "cannot complete a %s request", req.Status)
	}
	s.log.Info("withdrawal completed", zap.Uint("withdrawal_id", id), zap.String("receipt", receipt))
	s.notify(req.UserID, "withdrawal_completed", fmt.Sprintf("Your withdrawal of %s USD has been sent.", req.Amount.StringFixed(2)))
	return s.get(ctx, id)
}

// Reject closes a pending or approved request and returns its reserved
// amount to the user.
func (s *Service) Reject(ctx context.Context, id, reviewer uint, notes string) (*models.WithdrawalRequest, error) {
	moved, err := s.withdrawals.RejectAndRefund(ctx, id, reviewer, notes, s.now())
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !moved {
		if req.IsOutstanding() && req.TransferUncertain {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidTransition, "transfer outcome unknown, retry the transfer to settle it")
		}
		return nil, apperrors.WithMessage(apperrors.ErrInvalidTransition, "cannot reject a %s request", req.Status)
	}
	s.log.Info("withdrawal rejected and refunded",
		zap.Uint("withdrawal_id", id),
		zap.String("amount", req.Amount.String()))
	s.notify(req.UserID, "withdrawal_rejected", fmt.Sprintf("Your withdrawal of %s USD was declined and returned to your balance.", req.Amount.StringFixed(2)))
	return req, nil
}

// Get returns a request owned by userID.
func (s *Service) Get(ctx context.Context, userID, id uint) (*models.WithdrawalRequest, error) {
	req, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, apperrors.ErrWithdrawalNotFound
	}
	return req, nil
}

func (s *Service) List(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	return s.withdrawals.ListByUser(ctx, userID, limit, offset)
}

// ListByStatus lists requests for operators; an empty status lists all.
func (s *Service) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	return s.withdrawals.ListByStatus(ctx, status, limit, offset)
}

func (s *Service) get(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	req, err := s.withdrawals.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrWithdrawalNotFound
	}
	return req, err
}

func (s *Service) payoutChannel(ctx context.Context, userID uint) (*models.WithdrawalChannel, error) {
	ch, err := s.channels.ActiveForUser(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrNoActiveChannel
	}
	if err != nil {
		return nil, err
	}
	if !ch.Verified {
		return nil, apperrors.ErrNoActiveChannel
	}
	return ch, nil
}

func (s *Service) notify(userID uint, kind, body string) {
	if err := s.notifier.Enqueue(notification.Message{UserID: userID, Kind: kind, Body: body}); err != nil {
		s.log.Warn("notification not queued", zap.Uint("user_id", userID), zap.String("kind", kind), zap.Error(err))
	}
}
