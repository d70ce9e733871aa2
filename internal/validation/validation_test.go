package validation

import (
	"testing"

	apperrors "paycore/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"0712345678":       "254712345678",
		"712345678":        "254712345678",
		"+254712345678":    "254712345678",
		"254 712 345 678":  "254712345678",
		"0110345678":       "254110345678",
		"(+254) 712-345678": "254712345678",
	}
	for in, want := range valid {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "12345", "0812345678", "25471234567", "+15551234567"} {
		_, err := NormalizePhone(in)
		assert.ErrorIs(t, err, ErrInvalidPhone, in)
	}
}

func TestValidatorErr(t *testing.T) {
	v := New()
	v.Required("purchase_ref", " ")
	v.Positive("amount", decimal.Zero)
	v.OneOf("type", "gift", "subscription", "balance_topup")
	v.Phone("phone", "123")

	err := v.Err()
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "amount must be greater than zero; phone")

	assert.NoError(t, New().Err())
}
