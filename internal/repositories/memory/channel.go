package memory

import (
	"context"
	"strings"
	"time"

	"paycore/internal/models"
	"paycore/internal/repositories"
)

type channelRepo struct{ s *Store }

func (r *channelRepo) liveLocked(id uint) (*models.WithdrawalChannel, bool) {
	ch, ok := r.s.channels[id]
	if !ok || ch.RemovedAt != nil {
		return nil, false
	}
	return ch, true
}

func (r *channelRepo) activeExists(userID, except uint) bool {
	for _, ch := range r.s.channels {
		if ch.ID != except && ch.UserID == userID && ch.Active && ch.RemovedAt == nil {
			return true
		}
	}
	return false
}

func (r *channelRepo) Create(_ context.Context, ch *models.WithdrawalChannel) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if ch.Active && r.activeExists(ch.UserID, 0) {
		return repositories.ErrActiveChannelExists
	}
	ch.ID = r.s.id()
	ch.CreatedAt = r.s.now()
	ch.UpdatedAt = ch.CreatedAt
	row := *ch
	r.s.channels[ch.ID] = &row
	return nil
}

func (r *channelRepo) GetByID(_ context.Context, id uint) (*models.WithdrawalChannel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.liveLocked(id)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *ch
	return &out, nil
}

func (r *channelRepo) ListByUser(_ context.Context, userID uint) ([]models.WithdrawalChannel, error) {
	return r.filter(func(ch *models.WithdrawalChannel) bool { return ch.UserID == userID }, true), nil
}

func (r *channelRepo) filter(match func(*models.WithdrawalChannel) bool, desc bool) []models.WithdrawalChannel {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []models.WithdrawalChannel
	for _, ch := range r.s.channels {
		if ch.RemovedAt == nil && match(ch) {
			rows = append(rows, *ch)
		}
	}
	sortByID(rows, func(ch models.WithdrawalChannel) uint { return ch.ID }, desc)
	return rows
}

func (r *channelRepo) ActiveForUser(_ context.Context, userID uint) (*models.WithdrawalChannel, error) {
	rows := r.filter(func(ch *models.WithdrawalChannel) bool { return ch.UserID == userID && ch.Active }, false)
	if len(rows) == 0 {
		return nil, repositories.ErrNotFound
	}
	return &rows[0], nil
}

func (r *channelRepo) SetOTP(_ context.Context, id uint, hash string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.liveLocked(id)
	if !ok {
		return repositories.ErrNotFound
	}
	ch.OTPHash = hash
	ch.OTPExpiresAt = &expiresAt
	ch.OTPAttempts = 0
	return nil
}

func (r *channelRepo) RecordFailedAttempt(_ context.Context, id uint) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.liveLocked(id)
	if !ok {
		return 0, repositories.ErrNotFound
	}
	ch.OTPAttempts++
	return ch.OTPAttempts, nil
}

func (r *channelRepo) Activate(_ context.Context, id uint, cooldownUntil time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.liveLocked(id)
	if !ok {
		return repositories.ErrNotFound
	}
	if r.activeExists(ch.UserID, ch.ID) {
		return repositories.ErrActiveChannelExists
	}
	ch.Verified = true
	ch.Active = true
	ch.Primary = true
	ch.CooldownUntil = &cooldownUntil
	ch.OTPHash = ""
	ch.OTPExpiresAt = nil
	ch.OTPAttempts = 0
	ch.UpdatedAt = r.s.now()
	return nil
}

func (r *channelRepo) Deactivate(_ context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if ch, ok := r.liveLocked(id); ok {
		ch.Active = false
		ch.Primary = false
	}
	return nil
}

func (r *channelRepo) Remove(_ context.Context, id uint, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.liveLocked(id)
	if !ok {
		return false, nil
	}
	ch.RemovedAt = &at
	ch.Active = false
	ch.Primary = false
	return true, nil
}

func (r *channelRepo) ListPayoutReady(_ context.Context, now time.Time) ([]models.WithdrawalChannel, error) {
	return r.filter(func(ch *models.WithdrawalChannel) bool { return ch.PayoutReady(now) }, false), nil
}

func (r *channelRepo) ListActiveByKind(_ context.Context, kind string) ([]models.WithdrawalChannel, error) {
	return r.filter(func(ch *models.WithdrawalChannel) bool { return ch.Active && ch.Kind == kind }, false), nil
}

type linkedRepo struct{ s *Store }

func (r *linkedRepo) GetByEmail(_ context.Context, email string) (*models.LinkedAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for k, acct := range r.s.linked {
		if strings.EqualFold(k, email) {
			out := *acct
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}
