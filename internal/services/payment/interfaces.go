package payment

import (
	"context"

	"paycore/internal/services/fulfillment"
	"paycore/internal/services/mpesa"

	"github.com/shopspring/decimal"
)

// Provider is the mobile-money collaborator used for inbound payments.
type Provider interface {
	STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
	Querier
}

// Querier asks the provider for the outcome of a prompt.
type Querier interface {
	STKQuery(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResult, error)
}

// RateSource returns the marked-up USD to KES deposit rate.
type RateSource interface {
	Deposit(ctx context.Context) (decimal.Decimal, error)
}

// Fulfiller applies a confirmed payment's effect.
type Fulfiller interface {
	Fulfill(ctx context.Context, txID uint) (*fulfillment.Result, error)
}
