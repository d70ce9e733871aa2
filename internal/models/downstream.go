package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionPlan is owned by the surrounding application; the engine only
// reads it to validate that a payment matches the plan price.
type SubscriptionPlan struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	Code         string          `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name         string          `gorm:"size:128" json:"name"`
	PriceUSD     decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"price_usd"`
	DurationDays int             `gorm:"not null" json:"duration_days"`
	Active       bool            `gorm:"default:true" json:"active"`
}

// Subscription is the effect of a settled subscription payment.
type Subscription struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	PlanID         uint      `gorm:"not null" json:"plan_id"`
	TransactionRef string    `gorm:"size:64;uniqueIndex;not null" json:"transaction_ref"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ContentItem is a piece of paid content sold by a seller.
type ContentItem struct {
	ID       uint            `gorm:"primarykey" json:"id"`
	SellerID uint            `gorm:"not null;index" json:"seller_id"`
	Title    string          `gorm:"size:255" json:"title"`
	PriceUSD decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"price_usd"`
}

// ContentUnlock is the effect of a settled content purchase.
type ContentUnlock struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	ContentID      uint            `gorm:"not null;index" json:"content_id"`
	BuyerID        uint            `gorm:"not null;index" json:"buyer_id"`
	SellerID       uint            `gorm:"not null" json:"seller_id"`
	SellerShare    decimal.Decimal `gorm:"type:numeric(20,4)" json:"seller_share"`
	TransactionRef string          `gorm:"size:64;uniqueIndex;not null" json:"transaction_ref"`
	CreatedAt      time.Time       `json:"created_at"`
}
