package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal request statuses
const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusApproved  = "approved"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusRejected  = "rejected"
)

// WithdrawalRequest is a user's claim on part of their balance. The amount is
// debited when the request is created; Refunded records the single
// compensating credit on rejection. TransferAttempt numbers the transfer
// idempotency key and only advances after a declined transfer.
type WithdrawalRequest struct {
	ID                uint            `gorm:"primarykey" json:"id"`
	UserID            uint            `gorm:"not null;index;uniqueIndex:idx_withdrawal_outstanding,where:status = 'pending' OR status = 'approved'" json:"user_id"`
	ChannelID         uint            `gorm:"not null" json:"channel_id"`
	ChannelKind       string          `gorm:"size:16;not null" json:"channel_kind"`
	Destination       string          `gorm:"size:64;not null" json:"destination"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	PayoutAmount      decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"payout_amount"`
	PayoutCurrency    string          `gorm:"size:3;not null" json:"payout_currency"`
	RateUsed          decimal.Decimal `gorm:"type:numeric(20,6)" json:"rate_used"`
	Fee               decimal.Decimal `gorm:"type:numeric(20,4)" json:"fee"`
	Status            string          `gorm:"size:16;not null;default:'pending';index" json:"status"`
	TransferFailed    bool            `gorm:"default:false" json:"transfer_failed"`
	TransferInFlight  bool            `gorm:"default:false" json:"-"`
	TransferAttempt   int             `gorm:"default:0" json:"transfer_attempt"`
	TransferUncertain bool            `gorm:"default:false" json:"transfer_uncertain"`
	TransferID        string          `gorm:"size:64" json:"transfer_id,omitempty"`
	Receipt           string          `gorm:"size:64" json:"receipt,omitempty"`
	FailureReason     string          `gorm:"size:255" json:"failure_reason,omitempty"`
	Refunded          bool            `gorm:"default:false" json:"refunded"`
	AdminNotes        string          `gorm:"size:500" json:"admin_notes,omitempty"`
	ReviewedBy        uint            `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time      `json:"reviewed_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsOutstanding reports whether the request still holds reserved funds that
// have not been paid out or returned.
func (w *WithdrawalRequest) IsOutstanding() bool {
	return w.Status == WithdrawalStatusPending || w.Status == WithdrawalStatusApproved
}

// TransferOutcome is the result of one outbound transfer attempt. An empty
// Failure means the transfer went through.
type TransferOutcome struct {
	TransferID string
	Failure    string
	// Declined marks a failure where nothing was sent.
	Declined bool
}
