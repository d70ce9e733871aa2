package repositories

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletRepository mutates balances with single atomic statements.
type WalletRepository interface {
	GetByUserID(ctx context.Context, userID uint) (*models.Wallet, error)
	// Balance returns zero for users without a wallet.
	Balance(ctx context.Context, userID uint) (decimal.Decimal, error)
	// Credit adds amount, creating the wallet on first credit.
	Credit(ctx context.Context, userID uint, amount decimal.Decimal) error
	// Debit subtracts amount only when the balance covers it, otherwise it
	// returns ErrInsufficientBalance and changes nothing.
	Debit(ctx context.Context, userID uint, amount decimal.Decimal) error
}

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) GetByUserID(ctx context.Context, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, notFound(err)
	}
	return &wallet, nil
}

func (r *walletRepository) Balance(ctx context.Context, userID uint) (decimal.Decimal, error) {
	wallet, err := r.GetByUserID(ctx, userID)
	if err == ErrNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet.Balance, nil
}

func (r *walletRepository) Credit(ctx context.Context, userID uint, amount decimal.Decimal) error {
	return creditWallet(r.db.WithContext(ctx), userID, amount)
}

func (r *walletRepository) Debit(ctx context.Context, userID uint, amount decimal.Decimal) error {
	return debitWallet(r.db.WithContext(ctx), userID, amount)
}

func creditWallet(db *gorm.DB, userID uint, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	wallet := models.Wallet{
		UserID:   userID,
		Balance:  amount,
		Currency: "USD",
		Status:   "active",
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("wallets.balance + ?", amount),
			"updated_at": time.Now(),
		}),
	}).Create(&wallet).Error
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	return nil
}

func debitWallet(db *gorm.DB, userID uint, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	result := db.Model(&models.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		UpdateColumns(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to debit wallet: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
