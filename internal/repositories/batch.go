package repositories

import (
	"context"
	"fmt"
	"slices"
	"time"

	"paycore/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// batchGenerationLock serialises batch creation across processes.
const batchGenerationLock = 7300211

// BatchRepository stores disbursement batches and their items. Reservation
// and refund always change the item and the wallet in one transaction.
type BatchRepository interface {
	HasInFlight(ctx context.Context) (bool, error)
	// CreateWithItems inserts the batch and batch.Items. It returns
	// ErrBatchInFlight when another non-terminal batch exists.
	CreateWithItems(ctx context.Context, batch *models.DisbursementBatch) error
	GetByID(ctx context.Context, id uint) (*models.DisbursementBatch, error)
	List(ctx context.Context, limit, offset int) ([]models.DisbursementBatch, int64, error)
	ListItems(ctx context.Context, batchID uint) ([]models.DisbursementItem, error)
	GetItem(ctx context.Context, id uint) (*models.DisbursementItem, error)
	GetItemByConversation(ctx context.Context, conversationID, originatorConversationID string) (*models.DisbursementItem, error)
	TransitionBatch(ctx context.Context, id uint, from []string, update models.BatchUpdate) (bool, error)
	// ReserveItem debits the payee for a pending, unreserved item.
	ReserveItem(ctx context.Context, itemID uint) (bool, error)
	UpdateItem(ctx context.Context, itemID uint, from []string, update models.ItemUpdate) (bool, error)
	// FailAndRefundItem moves the item to status and, when it holds an
	// unrefunded reservation, credits the amount back. It reports whether the
	// item moved and whether a refund was issued.
	FailAndRefundItem(ctx context.Context, itemID uint, from []string, status, reason string, at time.Time) (moved, refunded bool, err error)
	// ReserveRetry re-reserves a failed or timed out item below maxRetries
	// and resets it to pending.
	ReserveRetry(ctx context.Context, itemID uint, maxRetries int) (bool, error)
	// ListStaleProcessing lists processing items of one channel kind
	// dispatched before before. A non-zero after bounds the age.
	ListStaleProcessing(ctx context.Context, kind string, after, before time.Time, limit int) ([]models.DisbursementItem, error)
	// ListInterrupted lists approved or processing batches approved before
	// before.
	ListInterrupted(ctx context.Context, before time.Time, limit int) ([]models.DisbursementBatch, error)
}

type batchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) HasInFlight(ctx context.Context) (bool, error) {
	return hasInFlight(r.db.WithContext(ctx))
}

func hasInFlight(db *gorm.DB) (bool, error) {
	var count int64
	err := db.Model(&models.DisbursementBatch{}).
		Where("status IN ?", models.InFlightBatchStatuses).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check in-flight batches: %w", err)
	}
	return count > 0, nil
}

func (r *batchRepository) CreateWithItems(ctx context.Context, batch *models.DisbursementBatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", batchGenerationLock).Error; err != nil {
			return fmt.Errorf("failed to lock batch generation: %w", err)
		}
		inFlight, err := hasInFlight(tx)
		if err != nil {
			return err
		}
		if inFlight {
			return ErrBatchInFlight
		}
		if err := tx.Create(batch).Error; err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}
		return nil
	})
}

func (r *batchRepository) GetByID(ctx context.Context, id uint) (*models.DisbursementBatch, error) {
	var batch models.DisbursementBatch
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&batch, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &batch, nil
}

func (r *batchRepository) List(ctx context.Context, limit, offset int) ([]models.DisbursementBatch, int64, error) {
	var (
		batches []models.DisbursementBatch
		total   int64
	)
	q := r.db.WithContext(ctx).Model(&models.DisbursementBatch{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&batches).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, total, nil
}

func (r *batchRepository) ListItems(ctx context.Context, batchID uint) ([]models.DisbursementItem, error) {
	var items []models.DisbursementItem
	if err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

func (r *batchRepository) GetItem(ctx context.Context, id uint) (*models.DisbursementItem, error) {
	var item models.DisbursementItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (r *batchRepository) GetItemByConversation(ctx context.Context, conversationID, originatorConversationID string) (*models.DisbursementItem, error) {
	q := r.db.WithContext(ctx)
	switch {
	case conversationID != "" && originatorConversationID != "":
		q = q.Where("conversation_id = ? OR originator_conversation_id = ?", conversationID, originatorConversationID)
	case conversationID != "":
		q = q.Where("conversation_id = ?", conversationID)
	case originatorConversationID != "":
		q = q.Where("originator_conversation_id = ?", originatorConversationID)
	default:
		return nil, ErrNotFound
	}
	var item models.DisbursementItem
	if err := q.Order("id DESC").First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (r *batchRepository) TransitionBatch(ctx context.Context, id uint, from []string, u models.BatchUpdate) (bool, error) {
	cols := map[string]interface{}{"updated_at": time.Now()}
	if u.Status != "" {
		cols["status"] = u.Status
	}
	if u.ApprovedBy != 0 {
		cols["approved_by"] = u.ApprovedBy
	}
	if u.ApprovedAt != nil {
		cols["approved_at"] = *u.ApprovedAt
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	if u.CompletedCount != nil {
		cols["completed_count"] = *u.CompletedCount
	}
	if u.FailedCount != nil {
		cols["failed_count"] = *u.FailedCount
	}
	result := r.db.WithContext(ctx).Model(&models.DisbursementBatch{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(cols)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update batch: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *batchRepository) ReserveItem(ctx context.Context, itemID uint) (bool, error) {
	moved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := lockItem(tx, itemID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemStatusPending || item.Reserved {
			return nil
		}
		if err := debitWallet(tx, item.UserID, item.Amount); err != nil {
			return err
		}
		if err := markReserved(tx, item, nil); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

func (r *batchRepository) UpdateItem(ctx context.Context, itemID uint, from []string, u models.ItemUpdate) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.DisbursementItem{}).
		Where("id = ? AND status IN ?", itemID, from).
		Updates(itemColumns(u))
	if result.Error != nil {
		return false, fmt.Errorf("failed to update item: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *batchRepository) FailAndRefundItem(ctx context.Context, itemID uint, from []string, status, reason string, at time.Time) (bool, bool, error) {
	var moved, refunded bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := lockItem(tx, itemID)
		if err != nil {
			return err
		}
		if !slices.Contains(from, item.Status) {
			return nil
		}
		cols := itemColumns(models.ItemUpdate{Status: status, FailureReason: reason, CompletedAt: &at})
		refund := item.Reserved && !item.Refunded
		if refund {
			cols["refunded"] = true
			cols["refunded_total"] = item.RefundedTotal.Add(item.Amount)
		}
		if err := tx.Model(item).Updates(cols).Error; err != nil {
			return fmt.Errorf("failed to fail item: %w", err)
		}
		if refund {
			if err := creditWallet(tx, item.UserID, item.Amount); err != nil {
				return err
			}
		}
		moved, refunded = true, refund
		return nil
	})
	return moved, refunded, err
}

func (r *batchRepository) ReserveRetry(ctx context.Context, itemID uint, maxRetries int) (bool, error) {
	moved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := lockItem(tx, itemID)
		if err != nil {
			return err
		}
		if item.Status != models.ItemStatusFailed && item.Status != models.ItemStatusTimeout {
			return nil
		}
		if item.RetryCount >= maxRetries {
			return nil
		}
		if item.Reserved && !item.Refunded {
			// still holding funds from the previous attempt
			return nil
		}
		if err := debitWallet(tx, item.UserID, item.Amount); err != nil {
			return err
		}
		if err := markReserved(tx, item, map[string]interface{}{
			"status":                     models.ItemStatusPending,
			"retry_count":                item.RetryCount + 1,
			"conversation_id":            "",
			"originator_conversation_id": "",
			"failure_reason":             "",
			"completed_at":               nil,
		}); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

func (r *batchRepository) ListStaleProcessing(ctx context.Context, kind string, after, before time.Time, limit int) ([]models.DisbursementItem, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND channel_kind = ? AND dispatched_at < ?", models.ItemStatusProcessing, kind, before)
	if !after.IsZero() {
		q = q.Where("dispatched_at >= ?", after)
	}
	var items []models.DisbursementItem
	if err := q.Order("dispatched_at ASC").Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale items: %w", err)
	}
	return items, nil
}

func (r *batchRepository) ListInterrupted(ctx context.Context, before time.Time, limit int) ([]models.DisbursementBatch, error) {
	var batches []models.DisbursementBatch
	err := r.db.WithContext(ctx).
		Where("status IN ? AND approved_at < ?", []string{models.BatchStatusApproved, models.BatchStatusProcessing}, before).
		Order("approved_at ASC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list interrupted batches: %w", err)
	}
	return batches, nil
}

func lockItem(tx *gorm.DB, id uint) (*models.DisbursementItem, error) {
	var item models.DisbursementItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func markReserved(tx *gorm.DB, item *models.DisbursementItem, extra map[string]interface{}) error {
	cols := map[string]interface{}{
		"reserved":       true,
		"refunded":       false,
		"reserved_total": item.ReservedTotal.Add(item.Amount),
		"updated_at":     time.Now(),
	}
	for k, v := range extra {
		cols[k] = v
	}
	if err := tx.Model(item).Updates(cols).Error; err != nil {
		return fmt.Errorf("failed to reserve item: %w", err)
	}
	return nil
}

func itemColumns(u models.ItemUpdate) map[string]interface{} {
	cols := map[string]interface{}{"updated_at": time.Now()}
	if u.Status != "" {
		cols["status"] = u.Status
	}
	if u.ConversationID != "" {
		cols["conversation_id"] = u.ConversationID
	}
	if u.OriginatorConversationID != "" {
		cols["originator_conversation_id"] = u.OriginatorConversationID
	}
	if u.Receipt != "" {
		cols["receipt"] = u.Receipt
	}
	if u.FailureReason != "" {
		cols["failure_reason"] = u.FailureReason
	}
	if u.DispatchedAt != nil {
		cols["dispatched_at"] = *u.DispatchedAt
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	return cols
}

// ReconcileTotals sums the money movements recorded on a batch's items.
type ReconcileTotals struct {
	Reserved  decimal.Decimal
	Completed decimal.Decimal
	Refunded  decimal.Decimal

	// Outstanding is reserved money neither paid out nor refunded yet.
	Outstanding decimal.Decimal
}

// Reconcile computes totals from items. Once every item is resolved
// Completed + Refunded equals Reserved.
func Reconcile(items []models.DisbursementItem) ReconcileTotals {
	var t ReconcileTotals
	for _, it := range items {
		t.Reserved = t.Reserved.Add(it.ReservedTotal)
		t.Refunded = t.Refunded.Add(it.RefundedTotal)
		if it.Status == models.ItemStatusCompleted {
			t.Completed = t.Completed.Add(it.Amount)
		}
	}
	t.Outstanding = t.Reserved.Sub(t.Completed).Sub(t.Refunded)
	return t
}
