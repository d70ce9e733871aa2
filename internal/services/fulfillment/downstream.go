package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "paycore/internal/errors"
	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store implements the downstream interfaces on the application database.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

func (s *Store) Plan(ctx context.Context, code string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := s.db.WithContext(ctx).Where("code = ? AND active = ?", code, true).First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return &plan, nil
}

func (s *Store) Activate(ctx context.Context, userID uint, plan *models.SubscriptionPlan, ref string) (string, error) {
	now := time.Now()
	sub := models.Subscription{
		UserID:         userID,
		PlanID:         plan.ID,
		TransactionRef: ref,
		StartsAt:       now,
		EndsAt:         now.AddDate(0, 0, plan.DurationDays),
	}
	err := s.db.WithContext(ctx).Create(&sub).Error
	if repositories.IsUniqueViolation(err) {
		var existing models.Subscription
		if err := s.db.WithContext(ctx).Where("transaction_ref = ?", ref).First(&existing).Error; err != nil {
			return "", fmt.Errorf("failed to load subscription: %w", err)
		}
		return subscriptionRef(existing.ID), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to activate subscription: %w", err)
	}
	s.log.Info("subscription activated", zap.Uint("user_id", userID), zap.String("plan", plan.Code))
	return subscriptionRef(sub.ID), nil
}

func (s *Store) Content(ctx context.Context, contentID uint) (*models.ContentItem, error) {
	var item models.ContentItem
	err := s.db.WithContext(ctx).First(&item, contentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	return &item, nil
}

// Unlock records the unlock and credits the seller in one transaction.
func (s *Store) Unlock(ctx context.Context, item *models.ContentItem, buyerID uint, share decimal.Decimal, ref string) (string, error) {
	unlock := models.ContentUnlock{
		ContentID:      item.ID,
		BuyerID:        buyerID,
		SellerID:       item.SellerID,
		SellerShare:    share,
		TransactionRef: ref,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&unlock).Error; err != nil {
			return err
		}
		if share.IsPositive() {
			return repositories.NewWalletRepository(tx).Credit(ctx, item.SellerID, share)
		}
		return nil
	})
	if repositories.IsUniqueViolation(err) {
		var existing models.ContentUnlock
		if err := s.db.WithContext(ctx).Where("transaction_ref = ?", ref).First(&existing).Error; err != nil {
			return "", fmt.Errorf("failed to load unlock: %w", err)
		}
		return unlockRef(existing.ID), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to unlock content: %w", err)
	}
	return unlockRef(unlock.ID), nil
}

// WalletCreditor credits top-ups to the user's wallet.
type WalletCreditor struct {
	wallets repositories.WalletRepository
	log     *zap.Logger
}

func NewWalletCreditor(wallets repositories.WalletRepository, log *zap.Logger) *WalletCreditor {
	return &WalletCreditor{wallets: wallets, log: log}
}

func (c *WalletCreditor) CreditBalance(ctx context.Context, userID uint, amount decimal.Decimal, currency, reason string) error {
	if currency != "USD" {
		return apperrors.WithMessage(apperrors.ErrInvalidAmount, "unsupported wallet currency %s", currency)
	}
	if err := c.wallets.Credit(ctx, userID, amount); err != nil {
		return err
	}
	c.log.Info("wallet credited",
		zap.Uint("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("reason", reason))
	return nil
}

func subscriptionRef(id uint) string { return "sub-" + strconv.FormatUint(uint64(id), 10) }

func unlockRef(id uint) string { return "unlock-" + strconv.FormatUint(uint64(id), 10) }
