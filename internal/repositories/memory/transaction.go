package memory

import (
	"context"
	"slices"
	"time"

	"paycore/internal/models"
	"paycore/internal/repositories"
)

type transactionRepo struct{ s *Store }

func (r *transactionRepo) Create(_ context.Context, tx *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if tx.CheckoutRequestID != nil && r.checkoutTaken(*tx.CheckoutRequestID, 0) {
		return repositories.ErrDuplicate
	}
	tx.ID = r.s.id()
	now := r.s.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	if tx.Status == "" {
		tx.Status = models.TransactionStatusPending
	}
	row := *tx
	r.s.txs[tx.ID] = &row
	return nil
}

func (r *transactionRepo) checkoutTaken(id string, except uint) bool {
	for _, t := range r.s.txs {
		if t.ID != except && t.CheckoutRequestID != nil && *t.CheckoutRequestID == id {
			return true
		}
	}
	return false
}

func (r *transactionRepo) GetByID(_ context.Context, id uint) (*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.txs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (r *transactionRepo) GetByCheckoutRequestID(_ context.Context, checkoutRequestID string) (*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.txs {
		if t.CheckoutRequestID != nil && *t.CheckoutRequestID == checkoutRequestID {
			out := *t
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *transactionRepo) ListByUser(_ context.Context, userID uint, limit, offset int) ([]models.Transaction, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []models.Transaction
	for _, t := range r.s.txs {
		if t.UserID == userID {
			rows = append(rows, *t)
		}
	}
	sortByID(rows, func(t models.Transaction) uint { return t.ID }, true)
	return page(rows, limit, offset), int64(len(rows)), nil
}

func (r *transactionRepo) ListByStatusBefore(_ context.Context, statuses []string, before time.Time, limit int) ([]models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []models.Transaction
	for _, t := range r.s.txs {
		if slices.Contains(statuses, t.Status) && t.CreatedAt.Before(before) {
			rows = append(rows, *t)
		}
	}
	sortByID(rows, func(t models.Transaction) uint { return t.ID }, false)
	return page(rows, limit, 0), nil
}

func (r *transactionRepo) Transition(_ context.Context, id uint, from []string, u models.TransactionUpdate) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.txs[id]
	if !ok || !slices.Contains(from, t.Status) {
		return false, nil
	}
	if u.CheckoutRequestID != "" && r.checkoutTaken(u.CheckoutRequestID, id) {
		return false, repositories.ErrDuplicate
	}
	if u.Status != "" {
		t.Status = u.Status
	}
	if u.FailureReason != "" {
		t.FailureReason = u.FailureReason
	}
	if u.MerchantRequestID != "" {
		t.MerchantRequestID = u.MerchantRequestID
	}
	if u.CheckoutRequestID != "" {
		v := u.CheckoutRequestID
		t.CheckoutRequestID = &v
	}
	if u.Receipt != "" {
		t.Receipt = u.Receipt
	}
	if u.FulfillmentRef != "" {
		t.FulfillmentRef = u.FulfillmentRef
	}
	if u.ProviderPayload != nil {
		t.ProviderPayload = u.ProviderPayload
	}
	if u.ConfirmedAt != nil {
		t.ConfirmedAt = u.ConfirmedAt
	}
	if u.CompletedAt != nil {
		t.CompletedAt = u.CompletedAt
	}
	t.UpdatedAt = r.s.now()
	return true, nil
}

func (r *transactionRepo) ClaimFulfillment(_ context.Context, id uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.txs[id]
	if !ok || t.Status != models.TransactionStatusConfirmed || t.FulfillmentClaimed {
		return false, nil
	}
	t.FulfillmentClaimed = true
	return true, nil
}
