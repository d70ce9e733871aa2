package memory

import (
	"context"
	"slices"
	"time"

	"paycore/internal/models"
	"paycore/internal/repositories"
)

type batchRepo struct{ s *Store }

func (r *batchRepo) inFlightLocked() bool {
	for _, b := range r.s.batches {
		if slices.Contains(models.InFlightBatchStatuses, b.Status) {
			return true
		}
	}
	return false
}

func (r *batchRepo) HasInFlight(_ context.Context) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.inFlightLocked(), nil
}

func (r *batchRepo) CreateWithItems(_ context.Context, batch *models.DisbursementBatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.inFlightLocked() {
		return repositories.ErrBatchInFlight
	}
	now := r.s.now()
	batch.ID = r.s.id()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	if batch.Status == "" {
		batch.Status = models.BatchStatusPending
	}
	for i := range batch.Items {
		it := &batch.Items[i]
		it.ID = r.s.id()
		it.BatchID = batch.ID
		it.CreatedAt = now
		it.UpdatedAt = now
		if it.Status == "" {
			it.Status = models.ItemStatusPending
		}
		row := *it
		r.s.items[it.ID] = &row
	}
	row := *batch
	row.Items = nil
	r.s.batches[batch.ID] = &row
	return nil
}

func (r *batchRepo) itemsLocked(batchID uint) []models.DisbursementItem {
	var rows []models.DisbursementItem
	for _, it := range r.s.items {
		if it.BatchID == batchID {
			rows = append(rows, *it)
		}
	}
	sortByID(rows, func(it models.DisbursementItem) uint { return it.ID }, false)
	return rows
}

func (r *batchRepo) GetByID(_ context.Context, id uint) (*models.DisbursementBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *b
	out.Items = r.itemsLocked(id)
	return &out, nil
}

func (r *batchRepo) List(_ context.Context, limit, offset int) ([]models.DisbursementBatch, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []models.DisbursementBatch
	for _, b := range r.s.batches {
		rows = append(rows, *b)
	}
	sortByID(rows, func(b models.DisbursementBatch) uint { return b.ID }, true)
	return page(rows, limit, offset), int64(len(rows)), nil
}

func (r *batchRepo) ListItems(_ context.Context, batchID uint) ([]models.DisbursementItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.itemsLocked(batchID), nil
}

func (r *batchRepo) GetItem(_ context.Context, id uint) (*models.DisbursementItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *it
	return &out, nil
}

func (r *batchRepo) GetItemByConversation(_ context.Context, conversationID, originatorConversationID string) (*models.DisbursementItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *models.DisbursementItem
	for _, it := range r.s.items {
		match := (conversationID != "" && it.ConversationID == conversationID) ||
			(originatorConversationID != "" && it.OriginatorConversationID == originatorConversationID)
		if match && (found == nil || it.ID > found.ID) {
			found = it
		}
	}
	if found == nil {
		return nil, repositories.ErrNotFound
	}
	out := *found
	return &out, nil
}

func (r *batchRepo) TransitionBatch(_ context.Context, id uint, from []string, u models.BatchUpdate) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok || !slices.Contains(from, b.Status) {
		return false, nil
	}
	if u.Status != "" {
		b.Status = u.Status
	}
	if u.ApprovedBy != 0 {
		b.ApprovedBy = u.ApprovedBy
	}
	if u.ApprovedAt != nil {
		b.ApprovedAt = u.ApprovedAt
	}
	if u.CompletedAt != nil {
		b.CompletedAt = u.CompletedAt
	}
	if u.CompletedCount != nil {
		b.CompletedCount = *u.CompletedCount
	}
	if u.FailedCount != nil {
		b.FailedCount = *u.FailedCount
	}
	b.UpdatedAt = r.s.now()
	return true, nil
}

func (r *batchRepo) ReserveItem(_ context.Context, itemID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[itemID]
	if !ok {
		return false, repositories.ErrNotFound
	}
	if it.Status != models.ItemStatusPending || it.Reserved {
		return false, nil
	}
	if err := r.s.debit(it.UserID, it.Amount); err != nil {
		return false, err
	}
	it.Reserved = true
	it.Refunded = false
	it.ReservedTotal = it.ReservedTotal.Add(it.Amount)
	it.UpdatedAt = r.s.now()
	return true, nil
}

func (r *batchRepo) UpdateItem(_ context.Context, itemID uint, from []string, u models.ItemUpdate) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[itemID]
	if !ok || !slices.Contains(from, it.Status) {
		return false, nil
	}
	applyItem(it, u)
	it.UpdatedAt = r.s.now()
	return true, nil
}

func applyItem(it *models.DisbursementItem, u models.ItemUpdate) {
	if u.Status != "" {
		it.Status = u.Status
	}
	if u.ConversationID != "" {
		it.ConversationID = u.ConversationID
	}
	if u.OriginatorConversationID != "" {
		it.OriginatorConversationID = u.OriginatorConversationID
	}
	if u.Receipt != "" {
		it.Receipt = u.Receipt
	}
	if u.FailureReason != "" {
		it.FailureReason = u.FailureReason
	}
	if u.DispatchedAt != nil {
		it.DispatchedAt = u.DispatchedAt
	}
	if u.CompletedAt != nil {
		it.CompletedAt = u.CompletedAt
	}
}

func (r *batchRepo) FailAndRefundItem(_ context.Context, itemID uint, from []string, status, reason string, at time.Time) (bool, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[itemID]
	if !ok {
		return false, false, repositories.ErrNotFound
	}
	if !slices.Contains(from, it.Status) {
		return false, false, nil
	}
	applyItem(it, models.ItemUpdate{Status: status, FailureReason: reason, CompletedAt: &at})
	refund := it.Reserved && !it.Refunded
	if refund {
		it.Refunded = true
		it.RefundedTotal = it.RefundedTotal.Add(it.Amount)
		r.s.credit(it.UserID, it.Amount)
	}
	it.UpdatedAt = r.s.now()
	return true, refund, nil
}

func (r *batchRepo) ReserveRetry(_ context.Context, itemID uint, maxRetries int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[itemID]
	if !ok {
		return false, repositories.ErrNotFound
	}
	if it.Status != models.ItemStatusFailed && it.Status != models.ItemStatusTimeout {
		return false, nil
	}
	if it.RetryCount >= maxRetries || (it.Reserved && !it.Refunded) {
		return false, nil
	}
	if err := r.s.debit(it.UserID, it.Amount); err != nil {
		return false, err
	}
	it.Status = models.ItemStatusPending
	it.RetryCount++
	it.Reserved = true
	it.Refunded = false
	it.ReservedTotal = it.ReservedTotal.Add(it.Amount)
	it.ConversationID = ""
	it.OriginatorConversationID = ""
	it.FailureReason = ""
	it.CompletedAt = nil
	it.UpdatedAt = r.s.now()
	return true, nil
}

func (r *batchRepo) ListStaleProcessing(_ context.Context, kind string, after, before time.Time, limit int) ([]models.DisbursementItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []models.DisbursementItem
	for _, it := range r.s.items {
		if it.Status != models.ItemStatusProcessing || it.ChannelKind != kind || it.DispatchedAt == nil {
			continue
		}
		if !it.DispatchedAt.Before(before) || (!after.IsZero() && it.DispatchedAt.Before(after)) {
			continue
		}
		rows = append(rows, *it)
	}
	sortByID(rows, func(it models.DisbursementItem) uint { return it.ID }, false)
	return page(rows, limit, 0), nil
}

func (r *batchRepo) ListInterrupted(_ context.Context, before time.Time, limit int) ([]models.DisbursementBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []models.DisbursementBatch
	for _, b := range r.s.batches {
		if b.Status != models.BatchStatusApproved && b.Status != models.BatchStatusProcessing {
			continue
		}
		if b.ApprovedAt != nil && b.ApprovedAt.Before(before) {
			rows = append(rows, *b)
		}
	}
	sortByID(rows, func(b models.DisbursementBatch) uint { return b.ID }, false)
	return page(rows, limit, 0), nil
}
