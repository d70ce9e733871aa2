package handlers

import (
	"context"
	"errors"

	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WalletReader interface {
	GetByUserID(ctx context.Context, userID uint) (*models.Wallet, error)
}

// WalletHandler exposes a payee's earnings balance.
type WalletHandler struct {
	wallets WalletReader
	log     *zap.Logger
}

func NewWalletHandler(wallets WalletReader, log *zap.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, log: log}
}

// GetWallet answers with a zero balance until the first credit creates the wallet.
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	wallet, err := h.wallets.GetByUserID(c.UserContext(), uid)
	if errors.Is(err, repositories.ErrNotFound) {
		return response.Success(c, "Wallet retrieved", fiber.Map{
			"user_id":  uid,
			"balance":  decimal.Zero,
			"currency": "USD",
		})
	}
	if err != nil {
		h.log.Error("wallet lookup failed", zap.Uint("user_id", uid), zap.Error(err))
		return response.Error(c, fiber.StatusInternalServerError, "INTERNAL", "Failed to get wallet")
	}
	return response.Success(c, "Wallet retrieved", fiber.Map{
		"user_id":  wallet.UserID,
		"balance":  wallet.Balance,
		"currency": wallet.Currency,
	})
}
