package models

import "time"

// Withdrawal channel kinds
const (
	ChannelKindMpesa  = "mpesa"
	ChannelKindStripe = "stripe"
)

// WithdrawalChannel is a payee's configured payout destination. At most one
// channel per user is active; activation starts a cooldown that blocks
// removal and batch payouts until it passes.
type WithdrawalChannel struct {
	ID            uint       `gorm:"primarykey" json:"id"`
	UserID        uint       `gorm:"not null;index;uniqueIndex:idx_channel_active,where:active AND removed_at IS NULL" json:"user_id"`
	Kind          string     `gorm:"size:16;not null" json:"kind"`
	Destination   string     `gorm:"size:64;not null" json:"destination"`
	Email         string     `gorm:"size:255" json:"email,omitempty"`
	Verified      bool       `gorm:"default:false" json:"verified"`
	Active        bool       `gorm:"default:false" json:"active"`
	Primary       bool       `gorm:"column:is_primary;default:false" json:"primary"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	OTPHash       string     `gorm:"size:72" json:"-"`
	OTPExpiresAt  *time.Time `json:"-"`
	OTPAttempts   int        `gorm:"default:0" json:"-"`
	RemovedAt     *time.Time `gorm:"index" json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// InCooldown reports whether the channel is still inside its cooldown.
func (c *WithdrawalChannel) InCooldown(now time.Time) bool {
	return c.CooldownUntil != nil && now.Before(*c.CooldownUntil)
}

// PayoutReady reports whether the channel may receive a batch payout.
func (c *WithdrawalChannel) PayoutReady(now time.Time) bool {
	return c.RemovedAt == nil && c.Active && c.Verified && c.Primary && !c.InCooldown(now)
}

// LinkedAccount is an external payout account previously connected by its
// owner. Channels of kind stripe can only be added when one exists for the
// owner's email.
type LinkedAccount struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	Email           string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	StripeAccountID string    `gorm:"size:64;not null" json:"stripe_account_id"`
	Status          string    `gorm:"size:16;default:'active'" json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
