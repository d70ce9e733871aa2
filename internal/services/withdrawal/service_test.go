package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "paycore/internal/errors"
	"paycore/internal/models"
	"paycore/internal/repositories/memory"
	"paycore/internal/services/notification"
	"paycore/internal/services/payout"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type mockPayouts struct {
	mock.Mock
}

func (m *mockPayouts) Transfer(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*payout.TransferResult)
	return res, args.Error(1)
}

func (m *mockPayouts) AccountEnabled(ctx context.Context, accountID string) (bool, error) {
	args := m.Called(ctx, accountID)
	return args.Bool(0), args.Error(1)
}

type fixedRate struct{ rate decimal.Decimal }

func (f fixedRate) Withdrawal(context.Context) (decimal.Decimal, error) { return f.rate, nil }

type recorder struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (r *recorder) Enqueue(msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) lastCode(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Kind == "channel_code" {
			body := r.msgs[i].Body
			return body[len(body)-codeDigits:]
		}
	}
	t.Fatal("no code sent")
	return ""
}

type harness struct {
	svc     *Service
	store   *memory.Store
	payouts *mockPayouts
	notes   *recorder
	now     time.Time
}

const (
	user  = uint(7)
	admin = uint(1)
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.NewStore(),
		payouts: new(mockPayouts),
		notes:   &recorder{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.store.WithClock(clock)
	h.svc = NewService(
		h.store.Withdrawals(),
		h.store.Channels(),
		h.store.LinkedAccounts(),
		h.payouts,
		fixedRate{rate: decimal.NewFromInt(125)},
		h.notes,
		Config{
			MinimumStripeUSD: decimal.NewFromInt(10),
			MinimumMpesaUSD:  decimal.NewFromInt(5),
			Cooldown:         48 * time.Hour,
			OTPTTL:           10 * time.Minute,
			OTPMaxAttempts:   5,
		},
		zap.NewNop(),
	).WithClock(clock)
	h.svc.hashCost = bcrypt.MinCost
	return h
}

func (h *harness) stripeChannel(t *testing.T) *models.WithdrawalChannel {
	t.Helper()
	h.store.AddLinkedAccount(models.LinkedAccount{Email: "payee@example.com", StripeAccountID: "acct_123", Status: "active"})
	ch, err := h.svc.AddExternalChannel(context.Background(), user, "payee@example.com")
	require.NoError(t, err)
	return ch
}

func (h *harness) phoneChannel(t *testing.T) *models.WithdrawalChannel {
	t.Helper()
	ctx := context.Background()
	ch, err := h.svc.AddPhoneChannel(ctx, user, "0712345678")
	require.NoError(t, err)
	ch, err = h.svc.VerifyPhoneChannel(ctx, user, ch.ID, h.notes.lastCode(t))
	require.NoError(t, err)
	return ch
}

func TestRequestValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("no channel", func(t *testing.T) {
		h := newHarness(t)
		h.store.SetBalance(user, decimal.NewFromInt(100))
		_, err := h.svc.Request(ctx, user, decimal.NewFromInt(20))
		assert.ErrorIs(t, err, apperrors.ErrNoActiveChannel)
	})

	t.Run("below external minimum", func(t *testing.T) {
		h := newHarness(t)
		h.stripeChannel(t)
		h.store.SetBalance(user, decimal.NewFromInt(100))
		_, err := h.svc.Request(ctx, user, decimal.NewFromFloat(9.99))
		assert.ErrorIs(t, err, apperrors.ErrBelowMinimum)
		assert.True(t, decimal.NewFromInt(100).Equal(h.store.BalanceOf(user)))
	})

	t.Run("below phone minimum", func(t *testing.T) {
		h := newHarness(t)
		h.phoneChannel(t)
		h.store.SetBalance(user, decimal.NewFromInt(100))
		_, err := h.svc.Request(ctx, user, decimal.NewFromFloat(4.99))
		assert.ErrorIs(t, err, apperrors.ErrBelowMinimum)

		req, err := h.svc.Request(ctx, user, decimal.NewFromInt(5))
		require.NoError(t, err)
		assert.Equal(t, "KES", req.PayoutCurrency)
		// 5 USD at 125 is KES 625, less the KES 5 tariff
		assert.True(t, decimal.NewFromInt(620).Equal(req.PayoutAmount))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		h := newHarness(t)
		h.stripeChannel(t)
		h.store.SetBalance(user, decimal.NewFromInt(15))
		_, err := h.svc.Request(ctx, user, decimal.NewFromInt(20))
		assert.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
		assert.True(t, decimal.NewFromInt(15).Equal(h.store.BalanceOf(user)))
	})

	t.Run("duplicate outstanding", func(t *testing.T) {
		h := newHarness(t)
		h.stripeChannel(t)
		h.store.SetBalance(user, decimal.NewFromInt(100))
		_, err := h.svc.Request(ctx, user, decimal.NewFromInt(20))
		require.NoError(t, err)
		_, err = h.svc.Request(ctx, user, decimal.NewFromInt(20))
		assert.ErrorIs(t, err, apperrors.ErrOutstandingRequest)
		assert.True(t, decimal.NewFromInt(80).Equal(h.store.BalanceOf(user)))
	})
}

func TestRejectRefundsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stripeChannel(t)
	before := decimal.NewFromFloat(73.41)
	h.store.SetBalance(user, before)

	req, err := h.svc.Request(ctx, user, decimal.NewFromFloat(25.17))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromFloat(48.24).Equal(h.store.BalanceOf(user)))

	rejected, err := h.svc.Reject(ctx, req.ID, admin, "duplicate account")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusRejected, rejected.Status)
	assert.True(t, rejected.Refunded)
	assert.True(t, before.Equal(h.store.BalanceOf(user)))

	_, err = h.svc.Reject(ctx, req.ID, admin, "again")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.True(t, before.Equal(h.store.BalanceOf(user)))

	_, err = h.svc.Reject(ctx, 999, admin, "")
	assert.ErrorIs(t, err, apperrors.ErrWithdrawalNotFound)
}

func TestApproveTransfers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stripeChannel(t)
	h.store.SetBalance(user, decimal.NewFromInt(100))
	req, err := h.svc.Request(ctx, user, decimal.NewFromInt(50))
	require.NoError(t, err)

	h.payouts.On("Transfer", mock.Anything, mock.MatchedBy(func(r payout.TransferRequest) bool {
		return r.Destination == "acct_123" && r.IdempotencyKey != "" && r.Amount.Equal(req.PayoutAmount)
	})).Return(&payout.TransferResult{ID: "tr_1", AmountCents: 4825}, nil).Once()

	got, err := h.svc.Approve(ctx, req.ID, admin, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusCompleted, got.Status)
	assert.Equal(t, "tr_1", got.TransferID)
	assert.True(t, decimal.NewFromInt(50).Equal(h.store.BalanceOf(user)))
	h.payouts.AssertExpectations(t)

	_, err = h.svc.Approve(ctx, req.ID, admin, "again")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestFailedTransferKeepsReservation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stripeChannel(t)
	h.store.SetBalance(user, decimal.NewFromInt(100))
	req, err := h.svc.Request(ctx, user, decimal.NewFromInt(40))
	require.NoError(t, err)

	h.payouts.On("Transfer", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("payout: %w: insufficient_funds: platform balance too low", payout.ErrDeclined)).Once()

	got, err := h.svc.Approve(ctx, req.ID, admin, "")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusApproved, got.Status)
	assert.True(t, got.TransferFailed)
	assert.Contains(t, got.FailureReason, "insufficient_funds")
	assert.False(t, got.Refunded)
	assert.True(t, decimal.NewFromInt(60).Equal(h.store.BalanceOf(user)), "funds stay reserved")

	h.payouts.On("Transfer", mock.Anything, mock.MatchedBy(func(r payout.TransferRequest) bool {
		return r.IdempotencyKey == fmt.Sprintf("withdrawal-%d-1", req.ID)
	})).Return(&payout.TransferResult{ID: "tr_2"}, nil).Once()
	got, err = h.svc.RetryTransfer(ctx, req.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusCompleted, got.Status)
	assert.False(t, got.TransferFailed)
	assert.True(t, decimal.NewFromInt(60).Equal(h.store.BalanceOf(user)))

	_, err = h.svc.RetryTransfer(ctx, req.ID, admin)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestUnknownTransferOutcomeReusesKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stripeChannel(t)
	h.store.SetBalance(user, decimal.NewFromInt(100))
	req, err := h.svc.Request(ctx, user, decimal.NewFromInt(40))
	require.NoError(t, err)

	var keys []string
	record := func(args mock.Arguments) {
		keys = append(keys, args.Get(1).(payout.TransferRequest).IdempotencyKey)
	}
	h.payouts.On("Transfer", mock.Anything, mock.Anything).
		Return(nil, errors.New("payout: context deadline exceeded")).Run(record).Once()

	got, err := h.svc.Approve(ctx, req.ID, admin, "")
	require.NoError(t, err)
	assert.True(t, got.TransferFailed)
	assert.True(t, got.TransferUncertain)
	assert.Equal(t, 0, got.TransferAttempt)

	_, err = h.svc.Reject(ctx, req.ID, admin, "give up")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "money may already be sent")
	assert.True(t, decimal.NewFromInt(60).Equal(h.store.BalanceOf(user)))

	h.payouts.On("Transfer", mock.Anything, mock.Anything).
		Return(&payout.TransferResult{ID: "tr_1"}, nil).Run(record).Once()
	got, err = h.svc.RetryTransfer(ctx, req.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusCompleted, got.Status)
	assert.False(t, got.TransferUncertain)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1], "one transfer, asked for twice")
	assert.Equal(t, TransferKey(req), keys[0])
	assert.True(t, decimal.NewFromInt(60).Equal(h.store.BalanceOf(user)))
	h.payouts.AssertExpectations(t)
}

func TestRejectAfterFailedTransfer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stripeChannel(t)
	h.store.SetBalance(user, decimal.NewFromInt(100))
	req, err := h.svc.Request(ctx, user, decimal.NewFromInt(40))
	require.NoError(t, err)
	h.payouts.On("Transfer", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("payout: %w: account closed", payout.ErrDeclined)).Once()
	_, err = h.svc.Approve(ctx, req.ID, admin, "")
	require.NoError(t, err)

	_, err = h.svc.Reject(ctx, req.ID, admin, "account closed")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(h.store.BalanceOf(user)))
}

func TestPhoneWithdrawalCompletesManually(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.phoneChannel(t)
	h.store.SetBalance(user, decimal.NewFromInt(100))
	req, err := h.svc.Request(ctx, user, decimal.NewFromInt(20))
	require.NoError(t, err)

	_, err = h.svc.Complete(ctx, req.ID, admin, "QK1", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "must be approved first")

	got, err := h.svc.Approve(ctx, req.ID, admin, "")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusApproved, got.Status)
	h.payouts.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)

	got, err = h.svc.Complete(ctx, req.ID, admin, "QK1", "sent from till")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusCompleted, got.Status)
	assert.Equal(t, "QK1", got.Receipt)
}

func TestPhoneChannelVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong codes lock the channel", func(t *testing.T) {
		h := newHarness(t)
		ch, err := h.svc.AddPhoneChannel(ctx, user, "+254712345678")
		require.NoError(t, err)
		assert.Equal(t, "254712345678", ch.Destination)
		good := h.notes.lastCode(t)
		bad := "000000"
		if good == bad {
			bad = "111111"
		}

		for i := 0; i < 4; i++ {
			_, err = h.svc.VerifyPhoneChannel(ctx, user, ch.ID, bad)
			assert.ErrorIs(t, err, apperrors.ErrInvalidCode)
		}
		_, err = h.svc.VerifyPhoneChannel(ctx, user, ch.ID, bad)
		assert.ErrorIs(t, err, apperrors.ErrTooManyAttempts)
		_, err = h.svc.VerifyPhoneChannel(ctx, user, ch.ID, good)
		assert.ErrorIs(t, err, apperrors.ErrTooManyAttempts)

		require.NoError(t, h.svc.ResendCode(ctx, user, ch.ID))
		got, err := h.svc.VerifyPhoneChannel(ctx, user, ch.ID, h.notes.lastCode(t))
		require.NoError(t, err)
		assert.True(t, got.Active && got.Verified && got.Primary)
	})

	t.Run("expired code", func(t *testing.T) {
		h := newHarness(t)
		ch, err := h.svc.AddPhoneChannel(ctx, user, "0712345678")
		require.NoError(t, err)
		h.now = h.now.Add(11 * time.Minute)
		_, err = h.svc.VerifyPhoneChannel(ctx, user, ch.ID, h.notes.lastCode(t))
		assert.ErrorIs(t, err, apperrors.ErrCodeExpired)
	})

	t.Run("other user", func(t *testing.T) {
		h := newHarness(t)
		ch, err := h.svc.AddPhoneChannel(ctx, user, "0712345678")
		require.NoError(t, err)
		_, err = h.svc.VerifyPhoneChannel(ctx, user+1, ch.ID, h.notes.lastCode(t))
		assert.ErrorIs(t, err, apperrors.ErrChannelNotFound)
	})

	t.Run("code is not stored in clear", func(t *testing.T) {
		h := newHarness(t)
		ch, err := h.svc.AddPhoneChannel(ctx, user, "0712345678")
		require.NoError(t, err)
		stored, err := h.store.Channels().GetByID(ctx, ch.ID)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(stored.OTPHash, "$2"))
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.OTPHash), []byte(h.notes.lastCode(t))))
	})
}

func TestExternalChannelAndCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.AddExternalChannel(ctx, user, "nobody@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNoLinkedAccount)

	ch := h.stripeChannel(t)
	assert.Equal(t, "acct_123", ch.Destination)
	require.NotNil(t, ch.CooldownUntil)
	assert.Equal(t, h.now.Add(48*time.Hour), *ch.CooldownUntil)

	_, err = h.svc.AddPhoneChannel(ctx, user, "0712345678")
	assert.ErrorIs(t, err, apperrors.ErrChannelExists)

	err = h.svc.RemoveChannel(ctx, user, ch.ID)
	assert.ErrorIs(t, err, apperrors.ErrChannelCooldown)

	h.now = h.now.Add(49 * time.Hour)
	require.NoError(t, h.svc.RemoveChannel(ctx, user, ch.ID))

	chs, err := h.svc.ListChannels(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, chs)

	_, err = h.svc.AddPhoneChannel(ctx, user, "0712345678")
	assert.NoError(t, err)
}

func TestRemoveBlockedByOutstandingWithdrawal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ch := h.stripeChannel(t)
	h.store.SetBalance(user, decimal.NewFromInt(100))
	_, err := h.svc.Request(ctx, user, decimal.NewFromInt(20))
	require.NoError(t, err)

	h.now = h.now.Add(49 * time.Hour)
	err = h.svc.RemoveChannel(ctx, user, ch.ID)
	assert.ErrorIs(t, err, apperrors.ErrOutstandingRequest)
}

func TestValidateExternalChannels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.stripeChannel(t)

	h.payouts.On("AccountEnabled", mock.Anything, "acct_123").Return(true, nil).Once()
	n, err := h.svc.ValidateExternalChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.payouts.On("AccountEnabled", mock.Anything, "acct_123").Return(false, nil).Once()
	n, err = h.svc.ValidateExternalChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.svc.Request(ctx, user, decimal.NewFromInt(20))
	assert.ErrorIs(t, err, apperrors.ErrNoActiveChannel)
	h.payouts.AssertExpectations(t)
}
