package repositories

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/models"

	"gorm.io/gorm"
)

// ChannelRepository stores payout channels. Removed channels are kept for
// audit and excluded from every query.
type ChannelRepository interface {
	Create(ctx context.Context, ch *models.WithdrawalChannel) error
	GetByID(ctx context.Context, id uint) (*models.WithdrawalChannel, error)
	ListByUser(ctx context.Context, userID uint) ([]models.WithdrawalChannel, error)
	ActiveForUser(ctx context.Context, userID uint) (*models.WithdrawalChannel, error)
	// SetOTP stores a fresh code hash and resets the attempt counter.
	SetOTP(ctx context.Context, id uint, hash string, expiresAt time.Time) error
	// RecordFailedAttempt increments the attempt counter and returns its new value.
	RecordFailedAttempt(ctx context.Context, id uint) (int, error)
	// Activate marks the channel verified, active and primary and starts its
	// cooldown. It returns ErrActiveChannelExists when another channel of the
	// user is already active.
	Activate(ctx context.Context, id uint, cooldownUntil time.Time) error
	Deactivate(ctx context.Context, id uint) error
	Remove(ctx context.Context, id uint, at time.Time) (bool, error)
	// ListPayoutReady returns channels that are active, verified, primary and
	// out of cooldown at now.
	ListPayoutReady(ctx context.Context, now time.Time) ([]models.WithdrawalChannel, error)
	ListActiveByKind(ctx context.Context, kind string) ([]models.WithdrawalChannel, error)
}

// LinkedAccountRepository looks up external payout accounts.
type LinkedAccountRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.LinkedAccount, error)
}

type channelRepository struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

func (r *channelRepository) live(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.WithdrawalChannel{}).Where("removed_at IS NULL")
}

func (r *channelRepository) Create(ctx context.Context, ch *models.WithdrawalChannel) error {
	if err := r.db.WithContext(ctx).Create(ch).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrActiveChannelExists
		}
		return fmt.Errorf("failed to create channel: %w", err)
	}
	return nil
}

func (r *channelRepository) GetByID(ctx context.Context, id uint) (*models.WithdrawalChannel, error) {
	var ch models.WithdrawalChannel
	if err := r.live(ctx).Where("id = ?", id).First(&ch).Error; err != nil {
		return nil, notFound(err)
	}
	return &ch, nil
}

func (r *channelRepository) ListByUser(ctx context.Context, userID uint) ([]models.WithdrawalChannel, error) {
	var chs []models.WithdrawalChannel
	if err := r.live(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&chs).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return chs, nil
}

func (r *channelRepository) ActiveForUser(ctx context.Context, userID uint) (*models.WithdrawalChannel, error) {
	var ch models.WithdrawalChannel
	if err := r.live(ctx).Where("user_id = ? AND active = ?", userID, true).First(&ch).Error; err != nil {
		return nil, notFound(err)
	}
	return &ch, nil
}

func (r *channelRepository) SetOTP(ctx context.Context, id uint, hash string, expiresAt time.Time) error {
	result := r.live(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"otp_hash":       hash,
		"otp_expires_at": expiresAt,
		"otp_attempts":   0,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to store verification code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *channelRepository) RecordFailedAttempt(ctx context.Context, id uint) (int, error) {
	result := r.live(ctx).Where("id = ?", id).UpdateColumn("otp_attempts", gorm.Expr("otp_attempts + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", result.Error)
	}
	ch, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return ch.OTPAttempts, nil
}

func (r *channelRepository) Activate(ctx context.Context, id uint, cooldownUntil time.Time) error {
	result := r.live(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"verified":       true,
		"active":         true,
		"is_primary":     true,
		"cooldown_until": cooldownUntil,
		"otp_hash":       "",
		"otp_expires_at": nil,
		"otp_attempts":   0,
	})
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return ErrActiveChannelExists
		}
		return fmt.Errorf("failed to activate channel: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *channelRepository) Deactivate(ctx context.Context, id uint) error {
	err := r.live(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"active":     false,
		"is_primary": false,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate channel: %w", err)
	}
	return nil
}

func (r *channelRepository) Remove(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.live(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"removed_at": at,
		"active":     false,
		"is_primary": false,
	})
	if result.Error != nil {
		return false, fmt.Errorf("failed to remove channel: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *channelRepository) ListPayoutReady(ctx context.Context, now time.Time) ([]models.WithdrawalChannel, error) {
	var chs []models.WithdrawalChannel
	err := r.live(ctx).
		Where(`active = ? AND verified = ? AND is_primary = ?`, true, true, true).
		Where("cooldown_until IS NULL OR cooldown_until <= ?", now).
		Order("user_id ASC").
		Find(&chs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payout channels: %w", err)
	}
	return chs, nil
}

func (r *channelRepository) ListActiveByKind(ctx context.Context, kind string) ([]models.WithdrawalChannel, error) {
	var chs []models.WithdrawalChannel
	if err := r.live(ctx).Where("active = ? AND kind = ?", true, kind).Find(&chs).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return chs, nil
}

type linkedAccountRepository struct {
	db *gorm.DB
}

func NewLinkedAccountRepository(db *gorm.DB) LinkedAccountRepository {
	return &linkedAccountRepository{db: db}
}

func (r *linkedAccountRepository) GetByEmail(ctx context.Context, email string) (*models.LinkedAccount, error) {
	var acct models.LinkedAccount
	if err := r.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&acct).Error; err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}
