package withdrawal

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	apperrors "paycore/internal/errors"
	"paycore/internal/logging"
	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/services/notification"
	"paycore/internal/validation"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const codeDigits = 6

// AddPhoneChannel registers a mobile-money number and sends it a one-time
// code. The channel stays inactive until the code is verified.
func (s *Service) AddPhoneChannel(ctx context.Context, userID uint, phone string) (*models.WithdrawalChannel, error) {
	v := validation.New()
	phone = v.Phone("phone", phone)
	if err := v.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureNoActive(ctx, userID); err != nil {
		return nil, err
	}

	ch := &models.WithdrawalChannel{
		UserID:      userID,
		Kind:        models.ChannelKindMpesa,
		Destination: phone,
	}
	if err := s.channels.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := s.issueCode(ctx, ch); err != nil {
		return ch, err
	}
	s.log.Info("phone channel added", zap.Uint("user_id", userID), zap.Uint("channel_id", ch.ID))
	return ch, nil
}

// ResendCode replaces the code of an unverified phone channel.
func (s *Service) ResendCode(ctx context.Context, userID, channelID uint) error {
	ch, err := s.ownedChannel(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if ch.Kind != models.ChannelKindMpesa {
		return apperrors.WithMessage(apperrors.ErrInvalidTransition, "only phone channels use codes")
	}
	if ch.Verified {
		return apperrors.ErrChannelVerified
	}
	return s.issueCode(ctx, ch)
}

// VerifyPhoneChannel checks the code and activates the channel. Activation
// starts the cooldown.
func (s *Service) VerifyPhoneChannel(ctx context.Context, userID, channelID uint, code string) (*models.WithdrawalChannel, error) {
	ch, err := s.ownedChannel(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Verified {
		return nil, apperrors.ErrChannelVerified
	}
	if ch.OTPAttempts >= s.cfg.OTPMaxAttempts {
		return nil, apperrors.ErrTooManyAttempts
	}
	if ch.OTPHash == "" || ch.OTPExpiresAt == nil || !s.now().Before(*ch.OTPExpiresAt) {
		return nil, apperrors.ErrCodeExpired
	}

	if err := bcrypt.CompareHashAndPassword([]byte(ch.OTPHash), []byte(strings.TrimSpace(code))); err != nil {
		attempts, aerr := s.channels.RecordFailedAttempt(ctx, ch.ID)
		if aerr != nil {
			return nil, aerr
		}
		s.log.Warn("channel verification failed",
			logging.Security(),
			zap.Uint("user_id", userID),
			zap.Uint("channel_id", ch.ID),
			zap.Int("attempts", attempts))
		if attempts >= s.cfg.OTPMaxAttempts {
			return nil, apperrors.ErrTooManyAttempts
		}
		return nil, apperrors.ErrInvalidCode
	}

	return s.activate(ctx, ch)
}

// AddExternalChannel activates the external account linked to email, which
// must be the authenticated caller's own address.
func (s *Service) AddExternalChannel(ctx context.Context, userID uint, email string) (*models.WithdrawalChannel, error) {
	v := validation.New()
	v.Email("email", email)
	if err := v.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureNoActive(ctx, userID); err != nil {
		return nil, err
	}

	acct, err := s.linked.GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrNoLinkedAccount
	}
	if err != nil {
		return nil, err
	}
	if acct.Status != "active" {
		return nil, apperrors.WithMessage(apperrors.ErrNoLinkedAccount, "linked account is %s", acct.Status)
	}

	ch := &models.WithdrawalChannel{
		UserID:      userID,
		Kind:        models.ChannelKindStripe,
		Destination: acct.StripeAccountID,
		Email:       acct.Email,
	}
	if err := s.channels.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return s.activate(ctx, ch)
}

// RemoveChannel removes a channel once its cooldown has passed and no
// withdrawal is outstanding against it.
func (s *Service) RemoveChannel(ctx context.Context, userID, channelID uint) error {
	ch, err := s.ownedChannel(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if ch.InCooldown(s.now()) {
		return apperrors.WithMessage(apperrors.ErrChannelCooldown,
			"channel can be changed after %s", ch.CooldownUntil.UTC().Format("2006-01-02 15:04 MST"))
	}
	if ch.Active {
		outstanding, err := s.withdrawals.HasOutstanding(ctx, userID)
		if err != nil {
			return err
		}
		if outstanding {
			return apperrors.WithMessage(apperrors.ErrOutstandingRequest, "finish the outstanding withdrawal first")
		}
	}
	removed, err := s.channels.Remove(ctx, ch.ID, s.now())
	if err != nil {
		return err
	}
	if removed {
		s.log.Info("channel removed", zap.Uint("user_id", userID), zap.Uint("channel_id", ch.ID))
	}
	return nil
}

func (s *Service) ListChannels(ctx context.Context, userID uint) ([]models.WithdrawalChannel, error) {
	return s.channels.ListByUser(ctx, userID)
}

// ValidateExternalChannels deactivates active external channels whose linked
// account can no longer receive payouts. It returns the number deactivated.
func (s *Service) ValidateExternalChannels(ctx context.Context) (int, error) {
	chs, err := s.channels.ListActiveByKind(ctx, models.ChannelKindStripe)
	if err != nil {
		return 0, err
	}
	deactivated := 0
	for i := range chs {
		if ctx.Err() != nil {
			return deactivated, ctx.Err()
		}
		ch := &chs[i]
		ok, reason := s.externalUsable(ctx, ch)
		if ok {
			continue
		}
		if err := s.channels.Deactivate(ctx, ch.ID); err != nil {
			s.log.Error("failed to deactivate channel", zap.Uint("channel_id", ch.ID), zap.Error(err))
			continue
		}
		deactivated++
		s.log.Warn("external channel deactivated",
			zap.Uint("user_id", ch.UserID),
			zap.Uint("channel_id", ch.ID),
			zap.String("reason", reason))
		s.notify(ch.UserID, "channel_deactivated", "Your payout account is no longer available. Please link a new one.")
	}
	return deactivated, nil
}

// externalUsable reports whether the channel's account still exists and can
// receive payouts. Lookup errors count as usable so that a provider outage
// never deactivates channels.
func (s *Service) externalUsable(ctx context.Context, ch *models.WithdrawalChannel) (bool, string) {
	acct, err := s.linked.GetByEmail(ctx, ch.Email)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, "linked account removed"
	}
	if err != nil {
		s.log.Warn("linked account lookup failed", zap.Uint("channel_id", ch.ID), zap.Error(err))
		return true, ""
	}
	if acct.Status != "active" || acct.StripeAccountID != ch.Destination {
		return false, "linked account changed"
	}
	enabled, err := s.payouts.AccountEnabled(ctx, ch.Destination)
	if err != nil {
		s.log.Warn("account status check failed", zap.Uint("channel_id", ch.ID), zap.Error(err))
		return true, ""
	}
	if !enabled {
		return false, "payouts disabled on account"
	}
	return true, ""
}

func (s *Service) activate(ctx context.Context, ch *models.WithdrawalChannel) (*models.WithdrawalChannel, error) {
	err := s.channels.Activate(ctx, ch.ID, s.now().Add(s.cfg.Cooldown))
	if errors.Is(err, repositories.ErrActiveChannelExists) {
		return nil, apperrors.ErrChannelExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to activate channel: %w", err)
	}
	s.log.Info("channel activated",
		zap.Uint("user_id", ch.UserID),
		zap.Uint("channel_id", ch.ID),
		zap.String("kind", ch.Kind))
	return s.channels.GetByID(ctx, ch.ID)
}

func (s *Service) ensureNoActive(ctx context.Context, userID uint) error {
	_, err := s.channels.ActiveForUser(ctx, userID)
	if err == nil {
		return apperrors.ErrChannelExists
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) ownedChannel(ctx context.Context, userID, channelID uint) (*models.WithdrawalChannel, error) {
	ch, err := s.channels.GetByID(ctx, channelID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.ErrChannelNotFound
	}
	if err != nil {
		return nil, err
	}
	if ch.UserID != userID {
		return nil, apperrors.ErrChannelNotFound
	}
	return ch, nil
}

func (s *Service) issueCode(ctx context.Context, ch *models.WithdrawalChannel) error {
	code, err := newCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}
	if err := s.channels.SetOTP(ctx, ch.ID, string(hash), s.now().Add(s.cfg.OTPTTL)); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}
	err = s.notifier.Enqueue(notification.Message{
		UserID: ch.UserID,
		To:     ch.Destination,
		Kind:   "channel_code",
		Body:   "Your payout verification code is " + code,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	return nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
