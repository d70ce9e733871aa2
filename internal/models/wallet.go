package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's USD earnings balance. It is the shared resource every
// credit, debit, reservation and refund goes through.
type Wallet struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	UserID    uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"balance"`
	Currency  string          `gorm:"size:3;default:'USD'" json:"currency"`
	Status    string          `gorm:"size:16;default:'active'" json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
