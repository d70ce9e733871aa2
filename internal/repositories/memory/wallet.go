package memory

import (
	"context"
	"fmt"

	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
)

type walletRepo struct{ s *Store }

func (r *walletRepo) GetByUserID(_ context.Context, userID uint) (*models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *w
	return &out, nil
}

func (r *walletRepo) Balance(_ context.Context, userID uint) (decimal.Decimal, error) {
	return r.s.BalanceOf(userID), nil
}

func (r *walletRepo) Credit(_ context.Context, userID uint, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.credit(userID, amount)
	return nil
}

func (r *walletRepo) Debit(_ context.Context, userID uint, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.debit(userID, amount)
}
