package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMpesaB2C(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		fee     string
		net     string
		wantErr error
	}{
		{name: "free tier", amount: "100", fee: "0", net: "100"},
		{name: "tier boundary", amount: "1500", fee: "5", net: "1495"},
		{name: "next tier", amount: "1501", fee: "9", net: "1492"},
		{name: "fraction truncated", amount: "1000.90", fee: "5", net: "995"},
		{name: "top tier", amount: "250000", fee: "13", net: "249987"},
		{name: "below minimum", amount: "9", wantErr: ErrBelowProviderMinimum},
		{name: "above maximum", amount: "250001", wantErr: ErrAboveProviderMaximum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := MpesaB2C(decimal.RequireFromString(tt.amount))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "KES", q.Currency)
			assert.True(t, decimal.RequireFromString(tt.fee).Equal(q.Fee), "fee %s", q.Fee)
			assert.True(t, decimal.RequireFromString(tt.net).Equal(q.Net), "net %s", q.Net)
			assert.True(t, q.Gross.Equal(q.Fee.Add(q.Net)))
		})
	}
}

func TestStripe(t *testing.T) {
	q, err := Stripe(decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "3.2", q.Fee.String())
	assert.Equal(t, "96.8", q.Net.String())

	q, err = Stripe(decimal.RequireFromString("10"))
	require.NoError(t, err)
	assert.Equal(t, "0.59", q.Fee.String())

	_, err = Stripe(decimal.RequireFromString("0.25"))
	assert.ErrorIs(t, err, ErrFeeExceedsAmount)
}
