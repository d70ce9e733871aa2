package fulfillment

import (
	"context"

	"paycore/internal/models"

	"github.com/shopspring/decimal"
)

// PlanCatalog looks up subscription plans by code.
type PlanCatalog interface {
	Plan(ctx context.Context, code string) (*models.SubscriptionPlan, error)
}

// SubscriptionActivator grants a plan. Activating twice with the same ref
// returns the existing subscription.
type SubscriptionActivator interface {
	Activate(ctx context.Context, userID uint, plan *models.SubscriptionPlan, ref string) (string, error)
}

// BalanceCreditor adds funds to a user's balance.
type BalanceCreditor interface {
	CreditBalance(ctx context.Context, userID uint, amount decimal.Decimal, currency, reason string) error
}

// ContentUnlocker grants content to the buyer and settles the seller's share.
// Unlocking twice with the same ref returns the existing unlock.
type ContentUnlocker interface {
	Content(ctx context.Context, contentID uint) (*models.ContentItem, error)
	Unlock(ctx context.Context, item *models.ContentItem, buyerID uint, share decimal.Decimal, ref string) (string, error)
}

// Result is the outcome of one fulfillment attempt.
type Result struct {
	TransactionID  uint   `json:"transaction_id"`
	Status         string `json:"status"`
	FulfillmentRef string `json:"fulfillment_ref,omitempty"`
	Reason         string `json:"reason,omitempty"`
	// Replayed is set when the effect had already been applied and nothing ran.
	Replayed bool `json:"replayed"`
}
