package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Load()
	cfg.JWT.Secret = "secret"
	cfg.Mpesa.ConsumerKey = "key"
	cfg.Mpesa.ConsumerSecret = "secret"
	cfg.Mpesa.ShortCode = "174379"
	cfg.Mpesa.PassKey = "passkey"
	cfg.Mpesa.CallbackURL = "https://example.com/cb"
	cfg.Mpesa.B2CShortCode = "600000"
	cfg.Mpesa.InitiatorName = "api"
	cfg.Mpesa.SecurityCredential = "cred"
	cfg.Mpesa.ResultURL = "https://example.com/result"
	cfg.Mpesa.TimeoutURL = "https://example.com/timeout"
	cfg.Stripe.SecretKey = "sk_test"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("complete config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mpesa.ConsumerKey = ""
		cfg.Stripe.SecretKey = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MPESA_CONSUMER_KEY")
		assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	})

	t.Run("bad cidr", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mpesa.TrustedCIDRs = []string{"not-a-cidr"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("markup out of range", func(t *testing.T) {
		cfg := validConfig()
		cfg.Rates.Markup = decimal.NewFromInt(2)
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing security credential", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mpesa.SecurityCredential = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PAYCORE_TEST_LIST", "a, b,,c")
	assert.Equal(t, []string{"a", "b", "c"}, GetListEnv("PAYCORE_TEST_LIST", nil))

	t.Setenv("PAYCORE_TEST_DEC", "0.05")
	assert.True(t, decimal.NewFromFloat(0.05).Equal(GetDecimalEnv("PAYCORE_TEST_DEC", decimal.Zero)))

	t.Setenv("PAYCORE_TEST_DUR", "bogus")
	assert.Equal(t, int64(7), int64(GetDurationEnv("PAYCORE_TEST_DUR", 7)))
}
