package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment purposes
const (
	TransactionTypeSubscription  = "subscription"
	TransactionTypeBalanceTopup  = "balance_topup"
	TransactionTypeContentUnlock = "content_unlock"
)

// Inbound payment statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusSTKSent   = "stk_sent"
	TransactionStatusConfirmed = "confirmed"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusExpired   = "expired"
)

// Transaction is one inbound mobile-money payment. Rows reference the user by
// id only; the rate used and the provider receipt are kept on the row so it can
// be audited without live config.
type Transaction struct {
	ID                 uint            `gorm:"primarykey" json:"id"`
	UserID             uint            `gorm:"not null;index" json:"user_id"`
	Type               string          `gorm:"size:32;not null" json:"type"`
	PurchaseRef        string          `gorm:"size:64;not null" json:"purchase_ref"`
	AmountUSD          decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount_usd"`
	AmountLocal        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount_local"`
	Currency           string          `gorm:"size:3;default:'KES'" json:"currency"`
	RateUsed           decimal.Decimal `gorm:"type:numeric(20,6)" json:"rate_used"`
	Phone              string          `gorm:"size:16;not null" json:"phone"`
	MerchantRequestID  string          `gorm:"size:64" json:"merchant_request_id,omitempty"`
	CheckoutRequestID  *string         `gorm:"size:64;uniqueIndex" json:"checkout_request_id,omitempty"`
	Receipt            string          `gorm:"size:64" json:"receipt,omitempty"`
	Status             string          `gorm:"size:16;not null;default:'pending';index" json:"status"`
	FailureReason      string          `gorm:"size:255" json:"failure_reason,omitempty"`
	FulfillmentClaimed bool            `gorm:"default:false" json:"-"`
	FulfillmentRef     string          `gorm:"size:128" json:"fulfillment_ref,omitempty"`
	ProviderPayload    JSON            `gorm:"type:jsonb" json:"-"`
	ConfirmedAt        *time.Time      `json:"confirmed_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (Transaction) TableName() string { return "payment_transactions" }

// IsTerminal reports whether no further transition may leave the status.
func (t *Transaction) IsTerminal() bool {
	return IsTerminalTransactionStatus(t.Status)
}

func IsTerminalTransactionStatus(status string) bool {
	switch status {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusExpired:
		return true
	}
	return false
}

// TransactionUpdate lists the fields a guarded transition may set. Empty
// values are left untouched.
type TransactionUpdate struct {
	Status            string
	FailureReason     string
	MerchantRequestID string
	CheckoutRequestID string
	Receipt           string
	FulfillmentRef    string
	ProviderPayload   JSON
	ConfirmedAt       *time.Time
	CompletedAt       *time.Time
}
