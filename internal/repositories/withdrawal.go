package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paycore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var outstandingStatuses = []string{models.WithdrawalStatusPending, models.WithdrawalStatusApproved}

// WithdrawalRepository stores withdrawal requests. Every operation that moves
// money does so in the same database transaction as the status change.
type WithdrawalRepository interface {
	// CreateReserved debits the wallet and inserts the request atomically.
	CreateReserved(ctx context.Context, req *models.WithdrawalRequest) error
	GetByID(ctx context.Context, id uint) (*models.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, int64, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.WithdrawalRequest, int64, error)
	HasOutstanding(ctx context.Context, userID uint) (bool, error)
	MarkApproved(ctx context.Context, id, reviewer uint, notes string, at time.Time) (bool, error)
	// BeginTransfer claims an approved request for an outbound transfer so
	// that two approvals or retries never send twice.
	BeginTransfer(ctx context.Context, id uint) (bool, error)
	// FinishTransfer releases the claim. A success completes the request;
	// otherwise it stays approved with TransferFailed set. A declined attempt
	// advances TransferAttempt, any other failure marks the outcome uncertain.
	FinishTransfer(ctx context.Context, id uint, outcome models.TransferOutcome, at time.Time) error
	MarkCompleted(ctx context.Context, id, reviewer uint, receipt, notes string, at time.Time) (bool, error)
	// RejectAndRefund rejects a pending or approved request that has no
	// transfer in flight or of uncertain outcome and credits back exactly the
	// reserved amount once.
	RejectAndRefund(ctx context.Context, id, reviewer uint, notes string, at time.Time) (bool, error)
}

type withdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) CreateReserved(ctx context.Context, req *models.WithdrawalRequest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := debitWallet(tx, req.UserID, req.Amount); err != nil {
			return err
		}
		if err := tx.Create(req).Error; err != nil {
			if IsUniqueViolation(err) {
				return ErrOutstandingRequest
			}
			return fmt.Errorf("failed to create withdrawal request: %w", err)
		}
		return nil
	})
}

func (r *withdrawalRepository) GetByID(ctx context.Context, id uint) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (r *withdrawalRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("user_id = ?", userID), limit, offset)
}

func (r *withdrawalRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	q := r.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return r.list(ctx, q, limit, offset)
}

func (r *withdrawalRepository) list(_ context.Context, q *gorm.DB, limit, offset int) ([]models.WithdrawalRequest, int64, error) {
	var (
		reqs  []models.WithdrawalRequest
		total int64
	)
	q = q.Model(&models.WithdrawalRequest{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count withdrawals: %w", err)
	}
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&reqs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	return reqs, total, nil
}

func (r *withdrawalRepository) HasOutstanding(ctx context.Context, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WithdrawalRequest{}).
		Where("user_id = ? AND status IN ?", userID, outstandingStatuses).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check outstanding withdrawals: %w", err)
	}
	return count > 0, nil
}

func (r *withdrawalRepository) MarkApproved(ctx context.Context, id, reviewer uint, notes string, at time.Time) (bool, error) {
	return r.update(ctx, r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, models.WithdrawalStatusPending),
		map[string]interface{}{
			"status":      models.WithdrawalStatusApproved,
			"admin_notes": notes,
			"reviewed_by": reviewer,
			"reviewed_at": at,
		})
}

func (r *withdrawalRepository) BeginTransfer(ctx context.Context, id uint) (bool, error) {
	return r.update(ctx, r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND transfer_in_flight = ?", id, models.WithdrawalStatusApproved, false),
		map[string]interface{}{"transfer_in_flight": true})
}

func (r *withdrawalRepository) FinishTransfer(ctx context.Context, id uint, o models.TransferOutcome, at time.Time) error {
	cols := map[string]interface{}{"transfer_in_flight": false}
	switch {
	case o.Failure == "":
		cols["status"] = models.WithdrawalStatusCompleted
		cols["transfer_id"] = o.TransferID
		cols["transfer_failed"] = false
		cols["transfer_uncertain"] = false
		cols["failure_reason"] = ""
		cols["completed_at"] = at
	case o.Declined:
		cols["transfer_failed"] = true
		cols["transfer_uncertain"] = false
		cols["transfer_attempt"] = gorm.Expr("transfer_attempt + 1")
		cols["failure_reason"] = o.Failure
	default:
		cols["transfer_failed"] = true
		cols["transfer_uncertain"] = true
		cols["failure_reason"] = o.Failure
	}
	_, err := r.update(ctx, r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND transfer_in_flight = ?", id, models.WithdrawalStatusApproved, true), cols)
	return err
}

func (r *withdrawalRepository) MarkCompleted(ctx context.Context, id, reviewer uint, receipt, notes string, at time.Time) (bool, error) {
	cols := map[string]interface{}{
		"status":       models.WithdrawalStatusCompleted,
		"receipt":      receipt,
		"reviewed_by":  reviewer,
		"completed_at": at,
	}
	if notes != "" {
		cols["admin_notes"] = notes
	}
	return r.update(ctx, r.db.WithContext(ctx).
		Where("id = ? AND status = ? AND transfer_in_flight = ?", id, models.WithdrawalStatusApproved, false), cols)
}

func (r *withdrawalRepository) RejectAndRefund(ctx context.Context, id, reviewer uint, notes string, at time.Time) (bool, error) {
	moved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req models.WithdrawalRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, id).Error
		if err != nil {
			return notFound(err)
		}
		if !req.IsOutstanding() || req.TransferInFlight || req.TransferUncertain || req.Refunded {
			return nil
		}
		err = tx.Model(&req).Updates(map[string]interface{}{
			"status":      models.WithdrawalStatusRejected,
			"refunded":    true,
			"admin_notes": notes,
			"reviewed_by": reviewer,
			"reviewed_at": at,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to reject withdrawal: %w", err)
		}
		if err := creditWallet(tx, req.UserID, req.Amount); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

func (r *withdrawalRepository) update(_ context.Context, q *gorm.DB, cols map[string]interface{}) (bool, error) {
	cols["updated_at"] = time.Now()
	result := q.Model(&models.WithdrawalRequest{}).Updates(cols)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update withdrawal: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
