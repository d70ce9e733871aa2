// Package fees computes outbound payout fees. Every function is pure.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	CurrencyUSD = "USD"
	CurrencyKES = "KES"
)

var (
	ErrBelowProviderMinimum = errors.New("amount is below the provider minimum")
	ErrAboveProviderMaximum = errors.New("amount is above the provider maximum")
	ErrFeeExceedsAmount     = errors.New("fee exceeds the payout amount")
)

// Quote describes a payout before it is sent.
type Quote struct {
	Gross    decimal.Decimal `json:"gross"`
	Fee      decimal.Decimal `json:"fee"`
	Net      decimal.Decimal `json:"net"`
	Currency string          `json:"currency"`
}

// tier charges Fee for amounts up to and including Max.
type tier struct {
	Max decimal.Decimal
	Fee decimal.Decimal
}

var (
	mpesaMinimumKES = decimal.NewFromInt(10)

	// MpesaMaximumKES is the largest single business payment.
	MpesaMaximumKES = decimal.NewFromInt(250000)

	// B2C business payment tariff for registered recipients, KES.
	mpesaTariff = []tier{
		{Max: decimal.NewFromInt(100), Fee: decimal.Zero},
		{Max: decimal.NewFromInt(1500), Fee: decimal.NewFromInt(5)},
		{Max: decimal.NewFromInt(5000), Fee: decimal.NewFromInt(9)},
		{Max: decimal.NewFromInt(20000), Fee: decimal.NewFromInt(11)},
		{Max: decimal.NewFromInt(250000), Fee: decimal.NewFromInt(13)},
	}

	stripeBaseFee     = decimal.NewFromFloat(0.30)
	stripePercentRate = decimal.NewFromFloat(0.029)
)

// MpesaB2C quotes a mobile-money business payment of amountKES. Amounts are
// whole shillings; fractions are truncated before lookup.
func MpesaB2C(amountKES decimal.Decimal) (Quote, error) {
	gross := amountKES.Floor()
	if gross.LessThan(mpesaMinimumKES) {
		return Quote{}, fmt.Errorf("%w: KES %s < %s", ErrBelowProviderMinimum, gross, mpesaMinimumKES)
	}
	if gross.GreaterThan(MpesaMaximumKES) {
		return Quote{}, fmt.Errorf("%w: KES %s > %s", ErrAboveProviderMaximum, gross, MpesaMaximumKES)
	}
	fee := decimal.Zero
	for _, t := range mpesaTariff {
		if gross.LessThanOrEqual(t.Max) {
			fee = t.Fee
			break
		}
	}
	return newQuote(gross, fee, CurrencyKES)
}

// Stripe quotes a connected-account transfer: 2.9% plus 0.30 USD, rounded to
// the cent.
func Stripe(amountUSD decimal.Decimal) (Quote, error) {
	gross := amountUSD.Round(2)
	fee := gross.Mul(stripePercentRate).Add(stripeBaseFee).Round(2)
	return newQuote(gross, fee, CurrencyUSD)
}

func newQuote(gross, fee decimal.Decimal, currency string) (Quote, error) {
	net := gross.Sub(fee)
	if !net.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s %s fee on %s", ErrFeeExceedsAmount, currency, fee, gross)
	}
	return Quote{Gross: gross, Fee: fee, Net: net, Currency: currency}, nil
}
