// Package rates converts between USD and KES. The base rate is fetched at most
// once per TTL and marked up for deposits and down for withdrawals.
package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paycore/internal/repositories/cache"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrUnavailable = errors.New("exchange rate unavailable")

var baseKey = cache.Key("rate", "base", "USD_KES")

type Config struct {
	Markup   decimal.Decimal
	TTL      time.Duration
	Fallback decimal.Decimal
	// FetchTimeout bounds a shared fetch, which outlives any single caller.
	FetchTimeout time.Duration
}

type cachedRate struct {
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type Service struct {
	source Source
	store  cache.Store
	cfg    Config
	log    *zap.Logger
	group  singleflight.Group
}

func NewService(source Source, store cache.Store, cfg Config, log *zap.Logger) *Service {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Service{source: source, store: store, cfg: cfg, log: log}
}

// Base returns the unmarked USD to KES rate.
func (s *Service) Base(ctx context.Context) (decimal.Decimal, error) {
	var hit cachedRate
	found, err := cache.GetJSON(ctx, s.store, baseKey, &hit)
	if err != nil {
		s.log.Warn("rate cache read failed", zap.Error(err))
	}
	if found && hit.Rate.IsPositive() {
		return hit.Rate, nil
	}

	// the fetch is shared, so it is detached from the caller that starts it
	ch := s.group.DoChan(baseKey, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
		defer cancel()
		rate, err := s.source.FetchBase(fctx)
		if err != nil {
			return nil, err
		}
		entry := cachedRate{Rate: rate, FetchedAt: time.Now().UTC()}
		if err := cache.SetJSON(fctx, s.store, baseKey, entry, s.cfg.TTL); err != nil {
			s.log.Warn("rate cache write failed", zap.Error(err))
		}
		return rate, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		if s.cfg.Fallback.IsPositive() {
			s.log.Warn("using fallback exchange rate", zap.Error(err), zap.String("rate", s.cfg.Fallback.String()))
			return s.cfg.Fallback, nil
		}
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v.(decimal.Decimal), nil
}

// Deposit is the rate charged to payers: base marked up.
func (s *Service) Deposit(ctx context.Context) (decimal.Decimal, error) {
	base, err := s.Base(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return base.Mul(decimal.NewFromInt(1).Add(s.cfg.Markup)), nil
}

// Withdrawal is the rate paid out to payees: base marked down.
func (s *Service) Withdrawal(ctx context.Context) (decimal.Decimal, error) {
	base, err := s.Base(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return base.Mul(decimal.NewFromInt(1).Sub(s.cfg.Markup)), nil
}

// ToLocalCeil converts USD to whole KES, rounding up so the payer never
// underpays.
func ToLocalCeil(usd, rate decimal.Decimal) decimal.Decimal {
	return usd.Mul(rate).Ceil()
}

// ToLocalFloor converts USD to whole KES, rounding down so a payout never
// exceeds the reserved amount.
func ToLocalFloor(usd, rate decimal.Decimal) decimal.Decimal {
	return usd.Mul(rate).Floor()
}

// ToUSD converts KES to USD rounded to the cent.
func ToUSD(local, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return local.DivRound(rate, 2)
}
