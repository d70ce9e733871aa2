package disbursement

import (
	"context"

	"paycore/internal/services/mpesa"
	"paycore/internal/services/payout"

	"github.com/shopspring/decimal"
)

// Transferer pays external-account items synchronously.
type Transferer interface {
	Transfer(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error)
}

// BusinessPayer submits phone items; the outcome arrives later as a result
// or timeout event.
type BusinessPayer interface {
	BusinessPayment(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error)
}

// RateSource returns the marked-down USD to KES withdrawal rate.
type RateSource interface {
	Withdrawal(ctx context.Context) (decimal.Decimal, error)
}

// Balances reads payee balances.
type Balances interface {
	Balance(ctx context.Context, userID uint) (decimal.Decimal, error)
}

// OriginChecker reports whether an event came from a provider-owned range.
type OriginChecker interface {
	Trusted(ip string) bool
}
