// Package payout sends USD transfers to connected Stripe accounts.
package payout

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// ErrDeclined marks a transfer that was refused outright. No money moved, so
// it is safe to refund or to retry under a new idempotency key. Any other
// Transfer error leaves the outcome unknown.
var ErrDeclined = errors.New("transfer declined")

type TransferRequest struct {
	Amount         decimal.Decimal
	Destination    string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

type TransferResult struct {
	ID          string
	AmountCents int64
}

type Service struct {
	api *client.API
	log *zap.Logger
}

// NewService builds a client with its own key. backends may be nil to use
// the live API.
func NewService(secretKey string, backends *stripe.Backends, log *zap.Logger) *Service {
	return &Service{api: client.New(secretKey, backends), log: log}
}

// Transfer moves amount from the platform balance to the destination
// account. The idempotency key makes retries of the same payout safe.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	cents := req.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if cents <= 0 {
		return nil, fmt.Errorf("payout: %w: invalid amount %s", ErrDeclined, req.Amount)
	}
	if req.Destination == "" {
		return nil, fmt.Errorf("payout: %w: destination account is required", ErrDeclined)
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Destination: stripe.String(req.Destination),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	t, err := s.api.Transfers.New(params)
	if err != nil {
		s.log.Warn("stripe transfer failed",
			zap.String("destination", req.Destination),
			zap.Int64("amount_cents", cents),
			zap.Error(err))
		if declined(err) {
			return nil, fmt.Errorf("payout: %w: %s", ErrDeclined, Reason(err))
		}
		return nil, fmt.Errorf("payout: %s", Reason(err))
	}
	return &TransferResult{ID: t.ID, AmountCents: t.Amount}, nil
}

// AccountEnabled reports whether a connected account can still receive payouts.
func (s *Service) AccountEnabled(ctx context.Context, accountID string) (bool, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := s.api.Account.GetByID(accountID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("payout: %s", Reason(err))
	}
	return acct.PayoutsEnabled && !acct.Deleted, nil
}

// IsDeclined reports whether err is a definitive refusal of the transfer.
func IsDeclined(err error) bool {
	return errors.Is(err, ErrDeclined)
}

// declined treats 4xx answers as final. 409 (idempotent request still in
// progress) and 429 say nothing about the transfer itself.
func declined(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.HTTPStatusCode {
	case http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500
}

// Reason turns a Stripe error into a short human readable reason.
func Reason(err error) string {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Code != "" {
			return fmt.Sprintf("%s: %s", se.Code, se.Msg)
		}
		return se.Msg
	}
	return err.Error()
}
