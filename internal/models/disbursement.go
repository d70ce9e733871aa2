package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch statuses
const (
	BatchStatusPending            = "pending"
	BatchStatusApproved           = "approved"
	BatchStatusProcessing         = "processing"
	BatchStatusCompleted          = "completed"
	BatchStatusPartiallyCompleted = "partially_completed"
	BatchStatusFailed             = "failed"
	BatchStatusCancelled          = "cancelled"
)

// Item statuses
const (
	ItemStatusPending    = "pending"
	ItemStatusProcessing = "processing"
	ItemStatusCompleted  = "completed"
	ItemStatusFailed     = "failed"
	ItemStatusTimeout    = "timeout"
)

// InFlightBatchStatuses are the statuses that block generating a new batch.
var InFlightBatchStatuses = []string{BatchStatusPending, BatchStatusApproved, BatchStatusProcessing}

// DisbursementBatch is one consolidated payout run. Its status is derived from
// its items once they are all resolved.
type DisbursementBatch struct {
	ID             uint               `gorm:"primarykey" json:"id"`
	Status         string             `gorm:"size:24;not null;default:'pending';index" json:"status"`
	TotalAmount    decimal.Decimal    `gorm:"type:numeric(20,4);not null" json:"total_amount"`
	TotalFees      decimal.Decimal    `gorm:"type:numeric(20,4);not null" json:"total_fees"`
	ItemCount      int                `json:"item_count"`
	CompletedCount int                `json:"completed_count"`
	FailedCount    int                `json:"failed_count"`
	ApprovedBy     uint               `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time         `json:"approved_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	Items          []DisbursementItem `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// DisbursementItem pays one payee. Reserved and Refunded track the single
// outstanding reservation; ReservedTotal and RefundedTotal accumulate across
// retries so a batch can be reconciled.
type DisbursementItem struct {
	ID                       uint            `gorm:"primarykey" json:"id"`
	BatchID                  uint            `gorm:"not null;index" json:"batch_id"`
	UserID                   uint            `gorm:"not null;index" json:"user_id"`
	ChannelID                uint            `gorm:"not null" json:"channel_id"`
	ChannelKind              string          `gorm:"size:16;not null" json:"channel_kind"`
	Destination              string          `gorm:"size:64;not null" json:"destination"`
	Amount                   decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	PayoutAmount             decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"payout_amount"`
	PayoutCurrency           string          `gorm:"size:3;not null" json:"payout_currency"`
	Fee                      decimal.Decimal `gorm:"type:numeric(20,4)" json:"fee"`
	Net                      decimal.Decimal `gorm:"type:numeric(20,4)" json:"net"`
	RateUsed                 decimal.Decimal `gorm:"type:numeric(20,6)" json:"rate_used"`
	ConversationID           string          `gorm:"size:64;index" json:"conversation_id,omitempty"`
	OriginatorConversationID string          `gorm:"size:64;index" json:"originator_conversation_id,omitempty"`
	Receipt                  string          `gorm:"size:64" json:"receipt,omitempty"`
	Status                   string          `gorm:"size:16;not null;default:'pending';index" json:"status"`
	Reserved                 bool            `gorm:"default:false" json:"reserved"`
	Refunded                 bool            `gorm:"default:false" json:"refunded"`
	ReservedTotal            decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"reserved_total"`
	RefundedTotal            decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"refunded_total"`
	RetryCount               int             `gorm:"default:0" json:"retry_count"`
	FailureReason            string          `gorm:"size:255" json:"failure_reason,omitempty"`
	DispatchedAt             *time.Time      `json:"dispatched_at,omitempty"`
	CompletedAt              *time.Time      `json:"completed_at,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// IsResolved reports whether the item has reached a terminal outcome.
func (i *DisbursementItem) IsResolved() bool {
	switch i.Status {
	case ItemStatusCompleted, ItemStatusFailed, ItemStatusTimeout:
		return true
	}
	return false
}

// ItemUpdate lists the fields a guarded item transition may set.
type ItemUpdate struct {
	Status                   string
	ConversationID           string
	OriginatorConversationID string
	Receipt                  string
	FailureReason            string
	DispatchedAt             *time.Time
	CompletedAt              *time.Time
}

// BatchUpdate lists the fields a guarded batch transition may set.
type BatchUpdate struct {
	Status         string
	ApprovedBy     uint
	ApprovedAt     *time.Time
	CompletedAt    *time.Time
	CompletedCount *int
	FailedCount    *int
}
