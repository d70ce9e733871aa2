package payment

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	apperrors "paycore/internal/errors"
	"paycore/internal/logging"
	"paycore/internal/models"
	"paycore/internal/repositories/memory"
	"paycore/internal/services/fulfillment"
	"paycore/internal/services/mpesa"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	trustedIP   = "196.201.214.10"
	untrustedIP = "203.0.113.9"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*mpesa.STKPushResponse)
	return resp, args.Error(1)
}

func (m *mockProvider) STKQuery(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResult, error) {
	args := m.Called(ctx, checkoutRequestID)
	res, _ := args.Get(0).(*mpesa.STKQueryResult)
	return res, args.Error(1)
}

type fixedRate struct{ rate decimal.Decimal }

func (f fixedRate) Deposit(context.Context) (decimal.Decimal, error) { return f.rate, nil }

type subscriptions struct {
	mu          sync.Mutex
	activations int
}

func (s *subscriptions) Plan(_ context.Context, code string) (*models.SubscriptionPlan, error) {
	if code != "pro" {
		return nil, apperrors.ErrPlanNotFound
	}
	return &models.SubscriptionPlan{ID: 1, Code: "pro", PriceUSD: decimal.NewFromInt(10), DurationDays: 30}, nil
}

func (s *subscriptions) Activate(context.Context, uint, *models.SubscriptionPlan, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activations++
	return fmt.Sprintf("sub-%d", s.activations), nil
}

func (s *subscriptions) Content(context.Context, uint) (*models.ContentItem, error) {
	return nil, apperrors.ErrContentNotFound
}

func (s *subscriptions) Unlock(context.Context, *models.ContentItem, uint, decimal.Decimal, string) (string, error) {
	return "", errors.New("not used")
}

func (s *subscriptions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activations
}

type harness struct {
	svc      *Service
	store    *memory.Store
	provider *mockProvider
	subs     *subscriptions
	now      time.Time
	seq      int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(),
		provider: new(mockProvider),
		subs:     &subscriptions{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.store.WithClock(clock)

	prefixes := []netip.Prefix{netip.MustParsePrefix("196.201.214.0/24")}
	dispatcher := fulfillment.NewDispatcher(
		h.store.Transactions(),
		h.subs,
		h.subs,
		fulfillment.NewWalletCreditor(h.store.Wallets(), zap.NewNop()),
		h.subs,
		fulfillment.Config{PriceTolerance: decimal.NewFromFloat(0.01), SellerShare: decimal.NewFromFloat(0.7)},
		zap.NewNop(),
	)
	h.svc = NewService(
		h.store.Transactions(),
		h.provider,
		fixedRate{rate: decimal.NewFromInt(130)},
		dispatcher,
		NewVerifier(prefixes, h.provider),
		Config{ReplayWindow: 10 * time.Minute, ExpiryWindow: 15 * time.Minute, PollGrace: time.Minute},
		zap.NewNop(),
	).WithClock(clock)
	return h
}

func (h *harness) initiate(t *testing.T, typ, ref string, usd decimal.Decimal) (*models.Transaction, string) {
	t.Helper()
	h.seq++
	checkout := fmt.Sprintf("ws_CO_%d", h.seq)
	h.provider.On("STKPush", mock.Anything, mock.MatchedBy(func(r mpesa.STKPushRequest) bool {
		return r.Phone == "254712345678" && r.Amount.IsPositive()
	})).Return(&mpesa.STKPushResponse{
		MerchantRequestID: fmt.Sprintf("mr-%d", h.seq),
		CheckoutRequestID: checkout,
		ResponseCode:      "0",
	}, nil).Once()

	tx, err := h.svc.Initiate(context.Background(), InitiateRequest{
		UserID:      7,
		Phone:       "0712345678",
		Type:        typ,
		PurchaseRef: ref,
		AmountUSD:   usd,
	})
	require.NoError(t, err)
	return tx, checkout
}

func (h *harness) status(t *testing.T, id uint) *models.Transaction {
	t.Helper()
	tx, err := h.store.Transactions().GetByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func success(checkout, ip string) CallbackEvent {
	return CallbackEvent{CheckoutRequestID: checkout, Succeeded: true, Receipt: "QAB12CD34", SourceIP: ip}
}

func TestInitiate(t *testing.T) {
	h := newHarness(t)
	tx, checkout := h.initiate(t, models.TransactionTypeSubscription, "pro", decimal.NewFromInt(10))

	assert.Equal(t, models.TransactionStatusSTKSent, tx.Status)
	require.NotNil(t, tx.CheckoutRequestID)
	assert.Equal(t, checkout, *tx.CheckoutRequestID)
	assert.Equal(t, "254712345678", tx.Phone)
	assert.True(t, decimal.NewFromInt(1300).Equal(tx.AmountLocal))
	assert.True(t, decimal.NewFromInt(130).Equal(tx.RateUsed))
	h.provider.AssertExpectations(t)
}

func TestInitiateRejectedByProvider(t *testing.T) {
	h := newHarness(t)
	h.provider.On("STKPush", mock.Anything, mock.Anything).
		Return(nil, &mpesa.APIError{Status: 400, Code: "400.002.02", Message: "Invalid PhoneNumber"}).Once()

	tx, err := h.svc.Initiate(context.Background(), InitiateRequest{
		UserID: 7, Phone: "0712345678", Type: models.TransactionTypeBalanceTopup,
		PurchaseRef: "topup", AmountUSD: decimal.NewFromInt(5),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPaymentRejected)
	require.NotNil(t, tx)
	assert.Equal(t, models.TransactionStatusFailed, tx.Status)
	assert.Contains(t, tx.FailureReason, "Invalid PhoneNumber")
}

func TestInitiateValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Initiate(context.Background(), InitiateRequest{
		UserID: 7, Phone: "12", Type: "gift", AmountUSD: decimal.Zero,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	h.provider.AssertNotCalled(t, "STKPush", mock.Anything, mock.Anything)
}

func TestTrustedCallbackFulfillsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tx, checkout := h.initiate(t, models.TransactionTypeSubscription, "pro", decimal.NewFromInt(10))

	out, err := h.svc.HandleCallback(ctx, success(checkout, trustedIP))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)

	got := h.status(t, tx.ID)
	assert.Equal(t, models.TransactionStatusCompleted, got.Status)
	assert.Equal(t, "QAB12CD34", got.Receipt)
	assert.Equal(t, 1, h.subs.count())

	// the provider retries the same callback
	out, err = h.svc.HandleCallback(ctx, success(checkout, trustedIP))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Equal(t, 1, h.subs.count())
	assert.Equal(t, models.TransactionStatusCompleted, h.status(t, tx.ID).Status)

	h.provider.AssertNotCalled(t, "STKQuery", mock.Anything, mock.Anything)
}

func TestUnderpaidPlanFails(t *testing.T) {
	h := newHarness(t)
	tx, checkout := h.initiate(t, models.TransactionTypeSubscription, "pro", decimal.NewFromInt(5))

	out, err := h.svc.HandleCallback(context.Background(), success(checkout, trustedIP))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)

	got := h.status(t, tx.ID)
	assert.Equal(t, models.TransactionStatusFailed, got.Status)
	assert.Equal(t, "amount mismatch", got.FailureReason)
	assert.Equal(t, 0, h.subs.count())
	assert.True(t, h.store.BalanceOf(7).IsZero())
}

func TestCallbackAmountBelowRequest(t *testing.T) {
	h := newHarness(t)
	tx, checkout := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))

	ev := success(checkout, trustedIP)
	ev.Amount, ev.HasAmount = decimal.NewFromInt(1), true
	out, err := h.svc.HandleCallback(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Equal(t, "amount mismatch", h.status(t, tx.ID).FailureReason)
	assert.True(t, h.store.BalanceOf(7).IsZero())
}

func TestUntrustedCallbackIsRequeried(t *testing.T) {
	tests := []struct {
		name       string
		query      *mpesa.STKQueryResult
		queryErr   error
		wantOut    CallbackOutcome
		wantStatus string
	}{
		{
			name:       "provider still pending",
			query:      &mpesa.STKQueryResult{Status: mpesa.QueryPending},
			wantOut:    OutcomeRejectedUnverified,
			wantStatus: models.TransactionStatusSTKSent,
		},
		{
			name:       "query unreachable",
			queryErr:   errors.New("connection refused"),
			wantOut:    OutcomeRejectedUnverified,
			wantStatus: models.TransactionStatusSTKSent,
		},
		{
			name:       "provider reports failure",
			query:      &mpesa.STKQueryResult{Status: mpesa.QueryFailed, ResultCode: "1032", Reason: "Request cancelled by user"},
			wantOut:    OutcomeRejectedUnverified,
			wantStatus: models.TransactionStatusFailed,
		},
		{
			name:       "provider confirms",
			query:      &mpesa.STKQueryResult{Status: mpesa.QueryCompleted, ResultCode: "0"},
			wantOut:    OutcomeAccepted,
			wantStatus: models.TransactionStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tx, checkout := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))
			h.provider.On("STKQuery", mock.Anything, checkout).Return(tt.query, tt.queryErr).Once()

			out, err := h.svc.HandleCallback(context.Background(), success(checkout, untrustedIP))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOut, out)
			assert.Equal(t, tt.wantStatus, h.status(t, tx.ID).Status)
			if tt.wantStatus != models.TransactionStatusCompleted {
				assert.True(t, h.store.BalanceOf(7).IsZero())
			} else {
				assert.True(t, decimal.NewFromInt(10).Equal(h.store.BalanceOf(7)))
			}
			h.provider.AssertExpectations(t)
		})
	}
}

func TestReplayWindow(t *testing.T) {
	h := newHarness(t)
	tx, checkout := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))
	h.now = h.now.Add(11 * time.Minute)

	out, err := h.svc.HandleCallback(context.Background(), success(checkout, trustedIP))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejectedReplay, out)
	assert.Equal(t, models.TransactionStatusSTKSent, h.status(t, tx.ID).Status)
	assert.True(t, h.store.BalanceOf(7).IsZero())
}

func TestFailureCallback(t *testing.T) {
	h := newHarness(t)
	tx, checkout := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))

	out, err := h.svc.HandleCallback(context.Background(), CallbackEvent{
		CheckoutRequestID: checkout, ResultCode: 1032, ResultDesc: "Request cancelled by user", SourceIP: untrustedIP,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out)

	got := h.status(t, tx.ID)
	assert.Equal(t, models.TransactionStatusFailed, got.Status)
	assert.Equal(t, "Request cancelled by user", got.FailureReason)
	h.provider.AssertNotCalled(t, "STKQuery", mock.Anything, mock.Anything)

	// a late success claim for a failed payment changes nothing
	out, err = h.svc.HandleCallback(context.Background(), success(checkout, trustedIP))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Equal(t, models.TransactionStatusFailed, h.status(t, tx.ID).Status)
}

func TestUnknownCheckoutIgnored(t *testing.T) {
	h := newHarness(t)
	out, err := h.svc.HandleCallback(context.Background(), success("ws_CO_forged", trustedIP))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
}

func TestCallbackAndPollRace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tx, checkout := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))
	h.provider.On("STKQuery", mock.Anything, checkout).
		Return(&mpesa.STKQueryResult{Status: mpesa.QueryCompleted, ResultCode: "0"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.svc.HandleCallback(ctx, success(checkout, trustedIP))
		}()
		go func() {
			defer wg.Done()
			_, _ = h.svc.Poll(ctx, 7, tx.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, models.TransactionStatusCompleted, h.status(t, tx.ID).Status)
	assert.True(t, decimal.NewFromInt(10).Equal(h.store.BalanceOf(7)))
}

func TestPollPending(t *testing.T) {
	h := newHarness(t)
	tx, checkout := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))
	h.provider.On("STKQuery", mock.Anything, checkout).
		Return(&mpesa.STKQueryResult{Status: mpesa.QueryCompleted, ResultCode: "0"}, nil).Once()

	n, err := h.svc.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "inside the grace period")

	h.now = h.now.Add(2 * time.Minute)
	n, err = h.svc.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.TransactionStatusCompleted, h.status(t, tx.ID).Status)
	assert.True(t, decimal.NewFromInt(10).Equal(h.store.BalanceOf(7)))
}

func TestPollPendingFlagsStuckFulfillment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	core, logs := observer.New(zap.WarnLevel)
	h.svc.log = zap.New(core)

	tx, _ := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))
	h.now = h.now.Add(30 * time.Second)
	confirmedAt := h.now
	moved, err := h.store.Transactions().Transition(ctx, tx.ID, []string{models.TransactionStatusSTKSent}, models.TransactionUpdate{
		Status:      models.TransactionStatusConfirmed,
		ConfirmedAt: &confirmedAt,
	})
	require.NoError(t, err)
	require.True(t, moved)
	// a worker claimed fulfillment and died before finishing it
	claimed, err := h.store.Transactions().ClaimFulfillment(ctx, tx.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	h.now = h.now.Add(45 * time.Second)
	_, err = h.svc.PollPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, logs.FilterField(logging.Reconciliation()).Len(), "still inside the grace period")

	h.now = h.now.Add(time.Minute)
	n, err := h.svc.PollPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	flagged := logs.FilterField(logging.Reconciliation()).All()
	require.Len(t, flagged, 1)
	assert.Equal(t, "payment confirmed but fulfillment never finished", flagged[0].Message)
	assert.Equal(t, uint64(tx.ID), flagged[0].ContextMap()["transaction_id"])

	assert.Equal(t, models.TransactionStatusConfirmed, h.status(t, tx.ID).Status)
	assert.True(t, h.store.BalanceOf(7).IsZero())
	h.provider.AssertNotCalled(t, "STKQuery", mock.Anything, mock.Anything)
}

func TestSweepStale(t *testing.T) {
	h := newHarness(t)
	stale, _ := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))
	h.now = h.now.Add(10 * time.Minute)
	fresh, _ := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))
	h.now = h.now.Add(6 * time.Minute)

	n, err := h.svc.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.TransactionStatusExpired, h.status(t, stale.ID).Status)
	assert.Equal(t, models.TransactionStatusSTKSent, h.status(t, fresh.ID).Status)

	n, err = h.svc.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetHidesIntermediateStates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tx, _ := h.initiate(t, models.TransactionTypeBalanceTopup, "topup", decimal.NewFromInt(10))

	view, err := h.svc.Get(ctx, 7, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, view.Status)

	_, err = h.svc.Get(ctx, 8, tx.ID)
	assert.ErrorIs(t, err, apperrors.ErrPaymentNotFound)
}

func TestVerifierTrusted(t *testing.T) {
	v := NewVerifier([]netip.Prefix{netip.MustParsePrefix("196.201.214.0/24")}, nil)
	assert.True(t, v.Trusted("196.201.214.200"))
	assert.True(t, v.Trusted("::ffff:196.201.214.1"))
	assert.False(t, v.Trusted("196.201.215.1"))
	assert.False(t, v.Trusted("not-an-ip"))
	assert.False(t, v.Trusted(""))
}
