package payment

import (
	"time"

	"paycore/internal/models"

	"github.com/shopspring/decimal"
)

// StatusProcessing is shown to users while any step is outstanding.
const StatusProcessing = "processing"

type InitiateRequest struct {
	UserID      uint
	Phone       string
	Type        string
	PurchaseRef string
	AmountUSD   decimal.Decimal
}

// CallbackEvent is a prompt result delivered by the provider.
type CallbackEvent struct {
	CheckoutRequestID string
	Succeeded         bool
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            decimal.Decimal
	HasAmount         bool
	SourceIP          string
	Payload           models.JSON
}

type CallbackOutcome string

const (
	OutcomeAccepted           CallbackOutcome = "accepted"
	OutcomeIgnored            CallbackOutcome = "ignored"
	OutcomeFailed             CallbackOutcome = "failed"
	OutcomeRejectedReplay     CallbackOutcome = "rejected_replay"
	OutcomeRejectedUnverified CallbackOutcome = "rejected_unverified"
)

// StatusView is the user-facing shape of a payment.
type StatusView struct {
	ID            uint            `json:"id"`
	Type          string          `json:"type"`
	PurchaseRef   string          `json:"purchase_ref"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	AmountLocal   decimal.Decimal `json:"amount_local"`
	Currency      string          `json:"currency"`
	RateUsed      decimal.Decimal `json:"rate_used"`
	Status        string          `json:"status"`
	Receipt       string          `json:"receipt,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func viewOf(tx *models.Transaction) *StatusView {
	status := tx.Status
	if !tx.IsTerminal() {
		status = StatusProcessing
	}
	return &StatusView{
		ID:            tx.ID,
		Type:          tx.Type,
		PurchaseRef:   tx.PurchaseRef,
		AmountUSD:     tx.AmountUSD,
		AmountLocal:   tx.AmountLocal,
		Currency:      tx.Currency,
		RateUsed:      tx.RateUsed,
		Status:        status,
		Receipt:       tx.Receipt,
		FailureReason: tx.FailureReason,
		CreatedAt:     tx.CreatedAt,
		CompletedAt:   tx.CompletedAt,
	}
}
