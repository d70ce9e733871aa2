package repositories

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/models"

	"gorm.io/gorm"
)

// TransactionRepository stores inbound payments.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id uint) (*models.Transaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, int64, error)
	// ListByStatusBefore returns up to limit rows in one of statuses created
	// before the cutoff, oldest first.
	ListByStatusBefore(ctx context.Context, statuses []string, before time.Time, limit int) ([]models.Transaction, error)
	// Transition applies update only when the row is still in one of from. It
	// reports false when another trigger already moved the row on.
	Transition(ctx context.Context, id uint, from []string, update models.TransactionUpdate) (bool, error)
	// ClaimFulfillment marks a confirmed row as claimed. Only one caller ever
	// observes true for a given row.
	ClaimFulfillment(ctx context.Context, id uint) (bool, error)
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (r *transactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&tx).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, int64, error) {
	var (
		txs   []models.Transaction
		total int64
	)
	q := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&txs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, total, nil
}

func (r *transactionRepository) ListByStatusBefore(ctx context.Context, statuses []string, before time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", statuses, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func (r *transactionRepository) Transition(ctx context.Context, id uint, from []string, update models.TransactionUpdate) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(transactionColumns(update))
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return false, ErrDuplicate
		}
		return false, fmt.Errorf("failed to update transaction: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *transactionRepository) ClaimFulfillment(ctx context.Context, id uint) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND fulfillment_claimed = ?", id, models.TransactionStatusConfirmed, false).
		UpdateColumn("fulfillment_claimed", true)
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim transaction: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func transactionColumns(u models.TransactionUpdate) map[string]interface{} {
	cols := map[string]interface{}{"updated_at": time.Now()}
	if u.Status != "" {
		cols["status"] = u.Status
	}
	if u.FailureReason != "" {
		cols["failure_reason"] = u.FailureReason
	}
	if u.MerchantRequestID != "" {
		cols["merchant_request_id"] = u.MerchantRequestID
	}
	if u.CheckoutRequestID != "" {
		cols["checkout_request_id"] = u.CheckoutRequestID
	}
	if u.Receipt != "" {
		cols["receipt"] = u.Receipt
	}
	if u.FulfillmentRef != "" {
		cols["fulfillment_ref"] = u.FulfillmentRef
	}
	if u.ProviderPayload != nil {
		cols["provider_payload"] = u.ProviderPayload
	}
	if u.ConfirmedAt != nil {
		cols["confirmed_at"] = *u.ConfirmedAt
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	return cols
}
