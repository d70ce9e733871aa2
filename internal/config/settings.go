package config

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/shopspring/decimal"
)

// Safaricom publishes the address ranges its callbacks originate from.
var defaultTrustedCIDRs = []string{
	"196.201.214.0/24",
	"196.201.213.0/24",
	"196.201.212.0/24",
	"196.201.216.0/24",
}

// Config holds every setting the engine needs. It is built once at startup by
// Load and injected into the components that need it.
type Config struct {
	Env  string
	Port string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Mpesa    MpesaConfig
	Stripe   StripeConfig
	Rates    RatesConfig
	Payments PaymentsConfig

	Withdrawals  WithdrawalsConfig
	Disbursement DisbursementConfig
	Scheduler    SchedulerConfig
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string

	B2CShortCode       string
	InitiatorName      string
	InitiatorPassword  string
	CertPath           string
	SecurityCredential string
	ResultURL          string
	TimeoutURL         string

	TrustedCIDRs []string
	Timeout      time.Duration
}

type StripeConfig struct {
	SecretKey string
}

type RatesConfig struct {
	SourceURL    string
	Markup       decimal.Decimal
	TTL          time.Duration
	FallbackRate decimal.Decimal
	FetchTimeout time.Duration
}

type PaymentsConfig struct {
	ReplayWindow    time.Duration
	ExpiryWindow    time.Duration
	PollGrace       time.Duration
	PriceTolerance  decimal.Decimal
	SellerShare     decimal.Decimal
	SweepBatchLimit int
}

type WithdrawalsConfig struct {
	MinimumStripeUSD decimal.Decimal
	MinimumMpesaUSD  decimal.Decimal
	Cooldown         time.Duration
	OTPTTL           time.Duration
	OTPMaxAttempts   int
}

type DisbursementConfig struct {
	MpesaFloorKES  decimal.Decimal
	StripeFloorUSD decimal.Decimal
	DispatchDelay  time.Duration
	MaxRetries     int
	ItemTimeout    time.Duration
	ResumeAfter    time.Duration
}

type SchedulerConfig struct {
	SweepInterval      time.Duration
	PollInterval       time.Duration
	BatchInterval      time.Duration
	MembershipInterval time.Duration
	ItemSweepInterval  time.Duration
	ResumeInterval     time.Duration
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Env:  GetEnv("ENV", "development"),
		Port: GetEnv("PORT", "3000"),
		Database: DatabaseConfig{
			Host:            GetEnv("DB_HOST", "localhost"),
			Port:            GetEnv("DB_PORT", "5432"),
			User:            GetEnv("DB_USER", "postgres"),
			Password:        GetEnv("DB_PASSWORD", "postgres"),
			Name:            GetEnv("DB_NAME", "paycore"),
			SSLMode:         GetEnv("DB_SSLMODE", "disable"),
			MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: GetEnv("JWT_SECRET", ""),
			Issuer: GetEnv("JWT_ISSUER", "paycore-api"),
		},
		Mpesa: MpesaConfig{
			BaseURL:            GetEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:        GetEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:     GetEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:          GetEnv("MPESA_SHORTCODE", ""),
			PassKey:            GetEnv("MPESA_PASSKEY", ""),
			CallbackURL:        GetEnv("MPESA_CALLBACK_URL", ""),
			B2CShortCode:       GetEnv("MPESA_B2C_SHORTCODE", ""),
			InitiatorName:      GetEnv("MPESA_INITIATOR_NAME", ""),
			InitiatorPassword:  GetEnv("MPESA_INITIATOR_PASSWORD", ""),
			CertPath:           GetEnv("MPESA_CERT_PATH", ""),
			SecurityCredential: GetEnv("MPESA_SECURITY_CREDENTIAL", ""),
			ResultURL:          GetEnv("MPESA_B2C_RESULT_URL", ""),
			TimeoutURL:         GetEnv("MPESA_B2C_TIMEOUT_URL", ""),
			TrustedCIDRs:       GetListEnv("MPESA_TRUSTED_CIDRS", defaultTrustedCIDRs),
			Timeout:            GetDurationEnv("MPESA_HTTP_TIMEOUT", 30*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey: GetEnv("STRIPE_SECRET_KEY", ""),
		},
		Rates: RatesConfig{
			SourceURL:    GetEnv("RATES_SOURCE_URL", "https://open.er-api.com/v6/latest/USD"),
			Markup:       GetDecimalEnv("RATES_MARKUP", decimal.NewFromFloat(0.03)),
			TTL:          GetDurationEnv("RATES_TTL", time.Hour),
			FallbackRate: GetDecimalEnv("RATES_FALLBACK_KES", decimal.Zero),
			FetchTimeout: GetDurationEnv("RATES_FETCH_TIMEOUT", 10*time.Second),
		},
		Payments: PaymentsConfig{
			ReplayWindow:    GetDurationEnv("PAYMENT_REPLAY_WINDOW", 10*time.Minute),
			ExpiryWindow:    GetDurationEnv("PAYMENT_EXPIRY_WINDOW", 15*time.Minute),
			PollGrace:       GetDurationEnv("PAYMENT_POLL_GRACE", time.Minute),
			PriceTolerance:  GetDecimalEnv("PAYMENT_PRICE_TOLERANCE", decimal.NewFromFloat(0.01)),
			SellerShare:     GetDecimalEnv("PAYMENT_SELLER_SHARE", decimal.NewFromFloat(0.7)),
			SweepBatchLimit: GetIntEnv("PAYMENT_SWEEP_LIMIT", 100),
		},
		Withdrawals: WithdrawalsConfig{
			MinimumStripeUSD: GetDecimalEnv("WITHDRAWAL_MIN_STRIPE_USD", decimal.NewFromInt(10)),
			MinimumMpesaUSD:  GetDecimalEnv("WITHDRAWAL_MIN_MPESA_USD", decimal.NewFromInt(5)),
			Cooldown:         GetDurationEnv("CHANNEL_COOLDOWN", 48*time.Hour),
			OTPTTL:           GetDurationEnv("CHANNEL_OTP_TTL", 10*time.Minute),
			OTPMaxAttempts:   GetIntEnv("CHANNEL_OTP_MAX_ATTEMPTS", 5),
		},
		Disbursement: DisbursementConfig{
			MpesaFloorKES:  GetDecimalEnv("DISBURSEMENT_MPESA_FLOOR_KES", decimal.NewFromInt(1000)),
			StripeFloorUSD: GetDecimalEnv("DISBURSEMENT_STRIPE_FLOOR_USD", decimal.NewFromInt(10)),
			DispatchDelay:  GetDurationEnv("DISBURSEMENT_DISPATCH_DELAY", 500*time.Millisecond),
			MaxRetries:     GetIntEnv("DISBURSEMENT_MAX_RETRIES", 3),
			ItemTimeout:    GetDurationEnv("DISBURSEMENT_ITEM_TIMEOUT", 30*time.Minute),
			ResumeAfter:    GetDurationEnv("DISBURSEMENT_RESUME_AFTER", 10*time.Minute),
		},
		Scheduler: SchedulerConfig{
			SweepInterval:      GetDurationEnv("SWEEP_INTERVAL", time.Minute),
			PollInterval:       GetDurationEnv("POLL_INTERVAL", 30*time.Second),
			BatchInterval:      GetDurationEnv("BATCH_INTERVAL", 24*time.Hour),
			MembershipInterval: GetDurationEnv("MEMBERSHIP_INTERVAL", 6*time.Hour),
			ItemSweepInterval:  GetDurationEnv("ITEM_SWEEP_INTERVAL", 5*time.Minute),
			ResumeInterval:     GetDurationEnv("BATCH_RESUME_INTERVAL", 5*time.Minute),
		},
	}
}

// Validate fails fast on settings the engine cannot run without. It must be
// called before any component touches persistent state.
func (c *Config) Validate() error {
	var errs []error
	require := func(name, val string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	require("JWT_SECRET", c.JWT.Secret)
	require("MPESA_CONSUMER_KEY", c.Mpesa.ConsumerKey)
	require("MPESA_CONSUMER_SECRET", c.Mpesa.ConsumerSecret)
	require("MPESA_SHORTCODE", c.Mpesa.ShortCode)
	require("MPESA_PASSKEY", c.Mpesa.PassKey)
	require("MPESA_CALLBACK_URL", c.Mpesa.CallbackURL)
	require("MPESA_B2C_SHORTCODE", c.Mpesa.B2CShortCode)
	require("MPESA_INITIATOR_NAME", c.Mpesa.InitiatorName)
	require("MPESA_B2C_RESULT_URL", c.Mpesa.ResultURL)
	require("MPESA_B2C_TIMEOUT_URL", c.Mpesa.TimeoutURL)
	require("STRIPE_SECRET_KEY", c.Stripe.SecretKey)

	if c.Mpesa.SecurityCredential == "" && (c.Mpesa.CertPath == "" || c.Mpesa.InitiatorPassword == "") {
		errs = append(errs, errors.New("MPESA_SECURITY_CREDENTIAL or MPESA_CERT_PATH with MPESA_INITIATOR_PASSWORD is required"))
	}

	if _, err := ParsePrefixes(c.Mpesa.TrustedCIDRs); err != nil {
		errs = append(errs, err)
	}

	if c.Rates.Markup.IsNegative() || c.Rates.Markup.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("RATES_MARKUP must be in [0,1), got %s", c.Rates.Markup))
	}
	if c.Payments.ReplayWindow <= 0 || c.Payments.ExpiryWindow <= 0 {
		errs = append(errs, errors.New("payment windows must be positive"))
	}
	if c.Disbursement.MaxRetries < 0 {
		errs = append(errs, errors.New("DISBURSEMENT_MAX_RETRIES must not be negative"))
	}

	return errors.Join(errs...)
}

// ParsePrefixes parses a list of CIDR ranges.
func ParsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted CIDR %q: %w", cidr, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}
