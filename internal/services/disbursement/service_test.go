package disbursement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "paycore/internal/errors"
	"paycore/internal/models"
	"paycore/internal/repositories/memory"
	"paycore/internal/services/mpesa"
	"paycore/internal/services/payout"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTransfers struct {
	mock.Mock
}

func (m *mockTransfers) Transfer(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*payout.TransferResult)
	return res, args.Error(1)
}

type mockB2C struct {
	mock.Mock
}

func (m *mockB2C) BusinessPayment(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*mpesa.B2CResponse)
	return res, args.Error(1)
}

type fixedRate struct{ rate decimal.Decimal }

func (f fixedRate) Withdrawal(context.Context) (decimal.Decimal, error) { return f.rate, nil }

type origins map[string]bool

func (o origins) Trusted(ip string) bool { return o[ip] }

const providerIP = "196.201.214.10"

type harness struct {
	svc       *Service
	store     *memory.Store
	transfers *mockTransfers
	b2c       *mockB2C
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		transfers: new(mockTransfers),
		b2c:       new(mockB2C),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.store.WithClock(clock)
	h.svc = NewService(
		h.store.Batches(),
		h.store.Channels(),
		h.store.Wallets(),
		h.transfers,
		h.b2c,
		fixedRate{rate: decimal.NewFromInt(125)},
		origins{providerIP: true},
		Config{
			MpesaFloorKES:  decimal.NewFromInt(1000),
			StripeFloorUSD: decimal.NewFromInt(10),
			MaxRetries:     3,
			ItemTimeout:    30 * time.Minute,
			ResumeAfter:    10 * time.Minute,
		},
		zap.NewNop(),
	).WithClock(clock)
	return h
}

// payee seeds a payout-ready channel and a balance for userID.
func (h *harness) payee(t *testing.T, userID uint, kind, destination string, balance float64) {
	t.Helper()
	ctx := context.Background()
	ch := &models.WithdrawalChannel{UserID: userID, Kind: kind, Destination: destination}
	require.NoError(t, h.store.Channels().Create(ctx, ch))
	require.NoError(t, h.store.Channels().Activate(ctx, ch.ID, h.now.Add(-time.Hour)))
	h.store.SetBalance(userID, decimal.NewFromFloat(balance))
}

func (h *harness) transferTo(destination string, err error) *mock.Call {
	call := h.transfers.On("Transfer", mock.Anything, mock.MatchedBy(func(r payout.TransferRequest) bool {
		return r.Destination == destination
	}))
	if err != nil {
		return call.Return(nil, err)
	}
	return call.Return(&payout.TransferResult{ID: "tr_" + destination}, nil)
}

func declined(reason string) error {
	return fmt.Errorf("payout: %w: %s", payout.ErrDeclined, reason)
}

func keysOf(m *mockTransfers) []string {
	var keys []string
	for _, c := range m.Calls {
		keys = append(keys, c.Arguments.Get(1).(payout.TransferRequest).IdempotencyKey)
	}
	return keys
}

func itemOf(t *testing.T, batch *models.DisbursementBatch, userID uint) models.DisbursementItem {
	t.Helper()
	for _, it := range batch.Items {
		if it.UserID == userID {
			return it
		}
	}
	t.Fatalf("no item for user %d", userID)
	return models.DisbursementItem{}
}

func balance(h *harness, userID uint) string {
	return h.store.BalanceOf(userID).StringFixed(2)
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.payee(t, 1, models.ChannelKindStripe, "acct_1", 100)
	h.payee(t, 2, models.ChannelKindMpesa, "254711111111", 20)
	// under the floors
	h.payee(t, 3, models.ChannelKindMpesa, "254722222222", 5)
	h.payee(t, 4, models.ChannelKindStripe, "acct_4", 9.99)
	// above the phone maximum
	h.payee(t, 5, models.ChannelKindMpesa, "254733333333", 3000)

	batch, err := h.svc.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusPending, batch.Status)
	require.Len(t, batch.Items, 3)

	stripeItem := itemOf(t, batch, 1)
	assert.Equal(t, "100.00", stripeItem.Amount.StringFixed(2))
	assert.Equal(t, "3.20", stripeItem.Fee.StringFixed(2))
	assert.Equal(t, "96.80", stripeItem.PayoutAmount.StringFixed(2))
	assert.Equal(t, "USD", stripeItem.PayoutCurrency)

	phoneItem := itemOf(t, batch, 2)
	assert.Equal(t, "2491", phoneItem.PayoutAmount.String())
	assert.Equal(t, "KES", phoneItem.PayoutCurrency)
	assert.Equal(t, "125", phoneItem.RateUsed.String())

	capped := itemOf(t, batch, 5)
	assert.Equal(t, "2000.00", capped.Amount.StringFixed(2))
	assert.Equal(t, "249987", capped.PayoutAmount.String())

	assert.Equal(t, "2120.00", batch.TotalAmount.StringFixed(2))
	// 3.20 USD plus 9 and 13 KES at 125
	assert.Equal(t, "3.37", batch.TotalFees.StringFixed(2))

	// generation never touches balances
	assert.Equal(t, "100.00", balance(h, 1))

	_, err = h.svc.Generate(ctx)
	assert.ErrorIs(t, err, apperrors.ErrBatchInFlight)
}

func TestGenerateNoPayees(t *testing.T) {
	h := newHarness(t)
	h.payee(t, 1, models.ChannelKindStripe, "acct_1", 1)

	_, err := h.svc.Generate(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoEligiblePayees)
}

func TestGenerateSkipsChannelsInCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ch := &models.WithdrawalChannel{UserID: 1, Kind: models.ChannelKindStripe, Destination: "acct_1"}
	require.NoError(t, h.store.Channels().Create(ctx, ch))
	require.NoError(t, h.store.Channels().Activate(ctx, ch.ID, h.now.Add(time.Hour)))
	h.store.SetBalance(1, decimal.NewFromInt(100))

	_, err := h.svc.Generate(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNoEligiblePayees)
}

func TestApprovePartialFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.payee(t, 1, models.ChannelKindStripe, "acct_1", 100)
	h.payee(t, 2, models.ChannelKindStripe, "acct_2", 50)
	h.payee(t, 3, models.ChannelKindStripe, "acct_3", 30)
	h.transferTo("acct_1", nil)
	h.transferTo("acct_2", declined("account restricted"))
	h.transferTo("acct_3", nil)

	batch, err := h.svc.Generate(ctx)
	require.NoError(t, err)

	batch, err = h.svc.Approve(ctx, batch.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusPartiallyCompleted, batch.Status)
	assert.Equal(t, 2, batch.CompletedCount)
	assert.Equal(t, 1, batch.FailedCount)
	assert.Equal(t, uint(99), batch.ApprovedBy)

	failed := itemOf(t, batch, 2)
	assert.Equal(t, models.ItemStatusFailed, failed.Status)
	assert.True(t, failed.Refunded)
	assert.Contains(t, failed.FailureReason, "account restricted")
	assert.Equal(t, "tr_acct_1", itemOf(t, batch, 1).Receipt)

	assert.Equal(t, "0.00", balance(h, 1))
	assert.Equal(t, "50.00", balance(h, 2))
	assert.Equal(t, "0.00", balance(h, 3))

	totals, err := h.svc.Reconcile(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "180.00", totals.Reserved.StringFixed(2))
	assert.Equal(t, "130.00", totals.Completed.StringFixed(2))
	assert.Equal(t, "50.00", totals.Refunded.StringFixed(2))
	assert.True(t, totals.Outstanding.IsZero())

	_, err = h.svc.Approve(ctx, batch.ID, 99)
	assert.ErrorIs(t, err, apperrors.ErrBatchNotPending)
	h.transfers.AssertNumberOfCalls(t, "Transfer", 3)
}

func TestApproveInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.payee(t, 1, models.ChannelKindStripe, "acct_1", 100)
	h.payee(t, 2, models.ChannelKindStripe, "acct_2", 50)
	h.transferTo("acct_1", nil)

	batch, err := h.svc.Generate(ctx)
	require.NoError(t, err)
	h.store.SetBalance(2, decimal.NewFromInt(10))

	batch, err = h.svc.Approve(ctx, batch.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusPartiallyCompleted, batch.Status)

	item := itemOf(t, batch, 2)
	assert.Equal(t, models.ItemStatusFailed, item.Status)
	assert.False(t, item.Reserved)
	assert.False(t, item.Refunded)
	assert.Equal(t, "10.00", balance(h, 2))
	h.transfers.AssertNotCalled(t, "Transfer", mock.Anything, mock.MatchedBy(func(r payout.TransferRequest) bool {
		return r.Destination == "acct_2"
	}))
}

func TestApproveUnknownBatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Approve(context.Background(), 404, 99)
	assert.ErrorIs(t, err, apperrors.ErrBatchNotFound)
}

func TestBusinessPaymentResults(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*harness, *models.DisbursementBatch) {
		h := newHarness(t)
		h.payee(t, 2, models.ChannelKindMpesa, "254711111111", 20)
		h.b2c.On("BusinessPayment", mock.Anything, mock.MatchedBy(func(r mpesa.B2CRequest) bool {
			return r.Phone == "254711111111" && r.Amount.Equal(decimal.NewFromInt(2491)) && r.OriginatorConversationID != ""
		})).Return(&mpesa.B2CResponse{ConversationID: "AG_1", ResponseCode: "0"}, nil)

		batch, err := h.svc.Generate(ctx)
		require.NoError(t, err)
		batch, err = h.svc.Approve(ctx, batch.ID, 99)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusProcessing, batch.Status)
		item := itemOf(t, batch, 2)
		assert.Equal(t, models.ItemStatusProcessing, item.Status)
		assert.Equal(t, "AG_1", item.ConversationID)
		assert.Equal(t, "0.00", balance(h, 2))
		return h, batch
	}

	t.Run("success", func(t *testing.T) {
		h, batch := setup(t)
		out, err := h.svc.HandleResult(ctx, ResultEvent{ConversationID: "AG_1", Succeeded: true, Receipt: "QKJ1", SourceIP: providerIP})
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, out)

		got, err := h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusCompleted, got.Status)
		assert.Equal(t, "QKJ1", itemOf(t, got, 2).Receipt)

		out, err = h.svc.HandleResult(ctx, ResultEvent{ConversationID: "AG_1", Succeeded: true, Receipt: "QKJ1", SourceIP: providerIP})
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, out)
		assert.Equal(t, "0.00", balance(h, 2))
	})

	t.Run("failure refunds", func(t *testing.T) {
		h, batch := setup(t)
		out, err := h.svc.HandleResult(ctx, ResultEvent{ConversationID: "AG_1", ResultCode: 2001, ResultDesc: "invalid initiator", SourceIP: providerIP})
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, out)
		assert.Equal(t, "20.00", balance(h, 2))

		got, err := h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusFailed, got.Status)
	})

	t.Run("untrusted origin", func(t *testing.T) {
		h, batch := setup(t)
		out, err := h.svc.HandleResult(ctx, ResultEvent{ConversationID: "AG_1", Succeeded: true, Receipt: "FAKE", SourceIP: "10.0.0.1"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejectedUnverified, out)

		got, err := h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusProcessing, itemOf(t, got, 2).Status)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		h, _ := setup(t)
		out, err := h.svc.HandleResult(ctx, ResultEvent{ConversationID: "AG_9", Succeeded: true, SourceIP: providerIP})
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, out)
	})

	t.Run("timeout then retry", func(t *testing.T) {
		h, batch := setup(t)
		out, err := h.svc.HandleTimeout(ctx, ResultEvent{ConversationID: "AG_1", ResultDesc: "queue timeout", SourceIP: providerIP})
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, out)
		assert.Equal(t, "20.00", balance(h, 2))

		got, err := h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		item := itemOf(t, got, 2)
		assert.Equal(t, models.ItemStatusTimeout, item.Status)
		assert.Equal(t, models.BatchStatusFailed, got.Status)

		retried, err := h.svc.RetryItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusProcessing, retried.Status)
		assert.Equal(t, 1, retried.RetryCount)
		assert.Equal(t, "0.00", balance(h, 2))

		got, err = h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusProcessing, got.Status)
		h.b2c.AssertNumberOfCalls(t, "BusinessPayment", 2)
	})

	t.Run("sweep times out silent items", func(t *testing.T) {
		h, batch := setup(t)
		n, err := h.svc.SweepTimeouts(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		h.now = h.now.Add(31 * time.Minute)
		n, err = h.svc.SweepTimeouts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "20.00", balance(h, 2))

		totals, err := h.svc.Reconcile(ctx, batch.ID)
		require.NoError(t, err)
		assert.True(t, totals.Outstanding.IsZero())
		assert.Equal(t, "20.00", totals.Refunded.StringFixed(2))
	})
}

func TestRejectedBusinessPaymentRefunds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.payee(t, 2, models.ChannelKindMpesa, "254711111111", 20)
	h.b2c.On("BusinessPayment", mock.Anything, mock.Anything).
		Return(nil, &mpesa.APIError{Status: 400, Code: "400.002.02", Message: "Bad Request"})

	batch, err := h.svc.Generate(ctx)
	require.NoError(t, err)
	batch, err = h.svc.Approve(ctx, batch.ID, 99)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, batch.Status)
	assert.Equal(t, "20.00", balance(h, 2))
}

func TestRetryLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.payee(t, 1, models.ChannelKindStripe, "acct_1", 40)
	h.transferTo("acct_1", declined("account restricted"))

	batch, err := h.svc.Generate(ctx)
	require.NoError(t, err)
	batch, err = h.svc.Approve(ctx, batch.ID, 99)
	require.NoError(t, err)
	itemID := itemOf(t, batch, 1).ID

	for i := 1; i <= 3; i++ {
		item, err := h.svc.RetryItem(ctx, itemID)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusFailed, item.Status)
		assert.Equal(t, i, item.RetryCount)
		assert.Equal(t, "40.00", balance(h, 1))
	}

	_, err = h.svc.RetryItem(ctx, itemID)
	assert.ErrorIs(t, err, apperrors.ErrRetryLimit)

	totals, err := h.svc.Reconcile(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "160.00", totals.Reserved.StringFixed(2))
	assert.Equal(t, "160.00", totals.Refunded.StringFixed(2))
	assert.True(t, totals.Outstanding.IsZero())
	h.transfers.AssertNumberOfCalls(t, "Transfer", 4)

	// each attempt uses its own idempotency key
	keys := map[string]bool{}
	for _, k := range keysOf(h.transfers) {
		keys[k] = true
	}
	assert.Len(t, keys, 4)
}

func TestRetryCompletedItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.payee(t, 1, models.ChannelKindStripe, "acct_1", 40)
	h.transferTo("acct_1", nil)

	batch, err := h.svc.Generate(ctx)
	require.NoError(t, err)
	batch, err = h.svc.Approve(ctx, batch.ID, 99)
	require.NoError(t, err)

	_, err = h.svc.RetryItem(ctx, itemOf(t, batch, 1).ID)
	assert.ErrorIs(t, err, apperrors.ErrItemNotRetryable)

	_, err = h.svc.RetryItem(ctx, 404)
	assert.ErrorIs(t, err, apperrors.ErrItemNotFound)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.payee(t, 1, models.ChannelKindStripe, "acct_1", 40)

	batch, err := h.svc.Generate(ctx)
	require.NoError(t, err)

	batch, err = h.svc.Cancel(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCancelled, batch.Status)
	assert.Equal(t, models.ItemStatusFailed, itemOf(t, batch, 1).Status)
	assert.Equal(t, "40.00", balance(h, 1))

	_, err = h.svc.Cancel(ctx, batch.ID)
	assert.ErrorIs(t, err, apperrors.ErrBatchNotPending)
	_, err = h.svc.Approve(ctx, batch.ID, 99)
	assert.ErrorIs(t, err, apperrors.ErrBatchNotPending)

	// a cancelled batch no longer blocks generation
	_, err = h.svc.Generate(ctx)
	assert.NoError(t, err)
	h.transfers.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

func TestUnknownTransferOutcomeIsReplayed(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*harness, *models.DisbursementBatch) {
		h := newHarness(t)
		h.payee(t, 1, models.ChannelKindStripe, "acct_1", 40)
		h.transfers.On("Transfer", mock.Anything, mock.Anything).
			Return(nil, errors.New("payout: connection reset by peer")).Once()

		batch, err := h.svc.Generate(ctx)
		require.NoError(t, err)
		batch, err = h.svc.Approve(ctx, batch.ID, 99)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusProcessing, batch.Status)
		assert.Equal(t, models.ItemStatusProcessing, itemOf(t, batch, 1).Status)
		assert.Equal(t, "0.00", balance(h, 1), "reservation is held while the outcome is unknown")
		return h, batch
	}

	t.Run("replay settles under the same key", func(t *testing.T) {
		h, batch := setup(t)
		h.transferTo("acct_1", nil)

		n, err := h.svc.SweepTimeouts(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		h.now = h.now.Add(31 * time.Minute)
		n, err = h.svc.SweepTimeouts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusCompleted, got.Status)
		item := itemOf(t, got, 1)
		assert.Equal(t, "tr_acct_1", item.Receipt)
		assert.False(t, item.Refunded)
		assert.Equal(t, "0.00", balance(h, 1))

		keys := keysOf(h.transfers)
		require.Len(t, keys, 2)
		assert.Equal(t, keys[0], keys[1])
		assert.Equal(t, TransferKey(&item), keys[0])
	})

	t.Run("declined replay refunds", func(t *testing.T) {
		h, batch := setup(t)
		h.transferTo("acct_1", declined("account closed"))

		h.now = h.now.Add(31 * time.Minute)
		n, err := h.svc.SweepTimeouts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "40.00", balance(h, 1))

		got, err := h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusFailed, got.Status)
	})

	t.Run("still unknown stays processing", func(t *testing.T) {
		h, batch := setup(t)
		h.transfers.On("Transfer", mock.Anything, mock.Anything).
			Return(nil, errors.New("payout: service unavailable"))

		h.now = h.now.Add(31 * time.Minute)
		n, err := h.svc.SweepTimeouts(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, "0.00", balance(h, 1))

		got, err := h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ItemStatusProcessing, itemOf(t, got, 1).Status)
	})

	t.Run("expired key is never replayed", func(t *testing.T) {
		h, _ := setup(t)

		h.now = h.now.Add(25 * time.Hour)
		n, err := h.svc.SweepTimeouts(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, "0.00", balance(h, 1))
		h.transfers.AssertNumberOfCalls(t, "Transfer", 1)
	})
}

func TestResumeInterruptedBatch(t *testing.T) {
	t.Run("dispatch cut short", func(t *testing.T) {
		h := newHarness(t)
		h.payee(t, 1, models.ChannelKindStripe, "acct_1", 100)
		h.payee(t, 2, models.ChannelKindStripe, "acct_2", 50)
		h.payee(t, 3, models.ChannelKindStripe, "acct_3", 30)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.transfers.On("Transfer", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(&payout.TransferResult{ID: "tr_first"}, nil).Once()
		h.transferTo("acct_1", nil)
		h.transferTo("acct_2", nil)
		h.transferTo("acct_3", nil)

		batch, err := h.svc.Generate(ctx)
		require.NoError(t, err)
		_, err = h.svc.Approve(ctx, batch.ID, 99)
		require.ErrorIs(t, err, context.Canceled)
		h.transfers.AssertNumberOfCalls(t, "Transfer", 1)

		bg := context.Background()
		got, err := h.svc.Get(bg, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusProcessing, got.Status)

		n, err := h.svc.Resume(bg)
		require.NoError(t, err)
		assert.Zero(t, n, "recent batches may still be executing")

		h.now = h.now.Add(11 * time.Minute)
		n, err = h.svc.Resume(bg)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		h.transfers.AssertNumberOfCalls(t, "Transfer", 3)

		got, err = h.svc.Get(bg, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusCompleted, got.Status)
		assert.Equal(t, 3, got.CompletedCount)
		for _, uid := range []uint{1, 2, 3} {
			assert.Equal(t, "0.00", balance(h, uid))
		}

		n, err = h.svc.Resume(bg)
		require.NoError(t, err)
		assert.Zero(t, n)

		// the batch no longer blocks the next run
		_, err = h.svc.Generate(bg)
		assert.ErrorIs(t, err, apperrors.ErrNoEligiblePayees)
	})

	t.Run("stopped before reservation", func(t *testing.T) {
		ctx := context.Background()
		h := newHarness(t)
		h.payee(t, 1, models.ChannelKindStripe, "acct_1", 100)
		h.transferTo("acct_1", nil)

		batch, err := h.svc.Generate(ctx)
		require.NoError(t, err)
		at := h.now
		moved, err := h.store.Batches().TransitionBatch(ctx, batch.ID, []string{models.BatchStatusPending}, models.BatchUpdate{
			Status:     models.BatchStatusApproved,
			ApprovedBy: 99,
			ApprovedAt: &at,
		})
		require.NoError(t, err)
		require.True(t, moved)

		h.now = h.now.Add(11 * time.Minute)
		n, err := h.svc.Resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := h.svc.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchStatusCompleted, got.Status)
		item := itemOf(t, got, 1)
		assert.True(t, item.Reserved)
		assert.Equal(t, "0.00", balance(h, 1))
		h.transfers.AssertNumberOfCalls(t, "Transfer", 1)
	})
}
