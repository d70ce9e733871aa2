package withdrawal

import (
	"context"

	"paycore/internal/services/notification"
	"paycore/internal/services/payout"

	"github.com/shopspring/decimal"
)

// Payouts sends transfers to external accounts and reports whether an
// account can still receive them.
type Payouts interface {
	Transfer(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error)
	AccountEnabled(ctx context.Context, accountID string) (bool, error)
}

// RateSource returns the marked-down USD to KES withdrawal rate.
type RateSource interface {
	Withdrawal(ctx context.Context) (decimal.Decimal, error)
}

// Notifier queues a message to a user.
type Notifier interface {
	Enqueue(msg notification.Message) error
}
