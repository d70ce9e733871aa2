package memory

import (
	"context"
	"time"

	"paycore/internal/models"
	"paycore/internal/repositories"
)

type withdrawalRepo struct{ s *Store }

func (r *withdrawalRepo) CreateReserved(_ context.Context, req *models.WithdrawalRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.withdrawals {
		if w.UserID == req.UserID && w.IsOutstanding() {
			return repositories.ErrOutstandingRequest
		}
	}
	if err := r.s.debit(req.UserID, req.Amount); err != nil {
		return err
	}
	req.ID = r.s.id()
	req.CreatedAt = r.s.now()
	req.UpdatedAt = req.CreatedAt
	if req.Status == "" {
		req.Status = models.WithdrawalStatusPending
	}
	row := *req
	r.s.withdrawals[req.ID] = &row
	return nil
}

func (r *withdrawalRepo) GetByID(_ context.Context, id uint) (*models.WithdrawalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *w
	return &out, nil
}

func (r *withdrawalRepo) ListByUser(_ context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	return r.list(func(w *models.WithdrawalRequest) bool { return w.UserID == userID }, limit, offset)
}

func (r *withdrawalRepo) ListByStatus(_ context.Context, status string, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	return r.list(func(w *models.WithdrawalRequest) bool { return status == "" || w.Status == status }, limit, offset)
}

func (r *withdrawalRepo) list(match func(*models.WithdrawalRequest) bool, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []models.WithdrawalRequest
	for _, w := range r.s.withdrawals {
		if match(w) {
			rows = append(rows, *w)
		}
	}
	sortByID(rows, func(w models.WithdrawalRequest) uint { return w.ID }, true)
	return page(rows, limit, offset), int64(len(rows)), nil
}

func (r *withdrawalRepo) HasOutstanding(_ context.Context, userID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.withdrawals {
		if w.UserID == userID && w.IsOutstanding() {
			return true, nil
		}
	}
	return false, nil
}

func (r *withdrawalRepo) guard(id uint, ok func(*models.WithdrawalRequest) bool, apply func(*models.WithdrawalRequest)) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, found := r.s.withdrawals[id]
	if !found || !ok(w) {
		return false
	}
	apply(w)
	w.UpdatedAt = r.s.now()
	return true
}

func (r *withdrawalRepo) MarkApproved(_ context.Context, id, reviewer uint, notes string, at time.Time) (bool, error) {
	return r.guard(id,
		func(w *models.WithdrawalRequest) bool { return w.Status == models.WithdrawalStatusPending },
		func(w *models.WithdrawalRequest) {
			w.Status = models.WithdrawalStatusApproved
			w.AdminNotes = notes
			w.ReviewedBy = reviewer
			w.ReviewedAt = &at
		}), nil
}

func (r *withdrawalRepo) BeginTransfer(_ context.Context, id uint) (bool, error) {
	return r.guard(id,
		func(w *models.WithdrawalRequest) bool {
			return w.Status == models.WithdrawalStatusApproved && !w.TransferInFlight
		},
		func(w *models.WithdrawalRequest) { w.TransferInFlight = true }), nil
}

func (r *withdrawalRepo) FinishTransfer(_ context.Context, id uint, o models.TransferOutcome, at time.Time) error {
	r.guard(id,
		func(w *models.WithdrawalRequest) bool {
			return w.Status == models.WithdrawalStatusApproved && w.TransferInFlight
		},
		func(w *models.WithdrawalRequest) {
			w.TransferInFlight = false
			if o.Failure == "" {
				w.Status = models.WithdrawalStatusCompleted
				w.TransferID = o.TransferID
				w.TransferFailed = false
				w.TransferUncertain = false
				w.FailureReason = ""
				w.CompletedAt = &at
				return
			}
			w.TransferFailed = true
			w.TransferUncertain = !o.Declined
			w.FailureReason = o.Failure
			if o.Declined {
				w.TransferAttempt++
			}
		})
	return nil
}

func (r *withdrawalRepo) MarkCompleted(_ context.Context, id, reviewer uint, receipt, notes string, at time.Time) (bool, error) {
	return r.guard(id,
		func(w *models.WithdrawalRequest) bool {
			return w.Status == models.WithdrawalStatusApproved && !w.TransferInFlight
		},
		func(w *models.WithdrawalRequest) {
			w.Status = models.WithdrawalStatusCompleted
			w.Receipt = receipt
			w.ReviewedBy = reviewer
			w.CompletedAt = &at
			if notes != "" {
				w.AdminNotes = notes
			}
		}), nil
}

func (r *withdrawalRepo) RejectAndRefund(_ context.Context, id, reviewer uint, notes string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.withdrawals[id]
	if !ok {
		return false, repositories.ErrNotFound
	}
	if !w.IsOutstanding() || w.TransferInFlight || w.TransferUncertain || w.Refunded {
		return false, nil
	}
	w.Status = models.WithdrawalStatusRejected
	w.Refunded = true
	w.AdminNotes = notes
	w.ReviewedBy = reviewer
	w.ReviewedAt = &at
	w.UpdatedAt = r.s.now()
	r.s.credit(w.UserID, w.Amount)
	return true, nil
}
