package handlers

import (
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WithdrawalHandler struct {
	withdrawals WithdrawalService
	log         *zap.Logger
}

func NewWithdrawalHandler(withdrawals WithdrawalService, log *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals, log: log}
}

// Quote previews fees and the payout amount for ?amount= on the active channel.
func (h *WithdrawalHandler) Quote(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		return response.BadRequest(c, "amount must be a decimal number")
	}
	q, err := h.withdrawals.QuoteFor(c.UserContext(), uid, amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Withdrawal quote", q)
}

func (h *WithdrawalHandler) Request(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	var input struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	req, err := h.withdrawals.Request(c.UserContext(), uid, input.Amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Created(c, "Withdrawal requested", req)
}

func (h *WithdrawalHandler) List(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	p := utils.GetPagination(c, 1, 20)
	reqs, total, err := h.withdrawals.List(c.UserContext(), uid, p.Limit, p.Offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	p.SetTotal(total)
	return c.JSON(utils.NewPaginatedResponse(reqs, p))
}

func (h *WithdrawalHandler) Get(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	req, err := h.withdrawals.Get(c.UserContext(), uid, id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Withdrawal retrieved", req)
}

// Operator endpoints

type reviewInput struct {
	Notes   string `json:"notes"`
	Receipt string `json:"receipt"`
}

func (h *WithdrawalHandler) ListByStatus(c *fiber.Ctx) error {
	p := utils.GetPagination(c, 1, 50)
	reqs, total, err := h.withdrawals.ListByStatus(c.UserContext(), c.Query("status", "pending"), p.Limit, p.Offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	p.SetTotal(total)
	return c.JSON(utils.NewPaginatedResponse(reqs, p))
}

func (h *WithdrawalHandler) Approve(c *fiber.Ctx) error {
	return h.review(c, "Withdrawal approved", func(c *fiber.Ctx, id, reviewer uint, in reviewInput) (interface{}, error) {
		return h.withdrawals.Approve(c.UserContext(), id, reviewer, in.Notes)
	})
}

func (h *WithdrawalHandler) Reject(c *fiber.Ctx) error {
	return h.review(c, "Withdrawal rejected", func(c *fiber.Ctx, id, reviewer uint, in reviewInput) (interface{}, error) {
		return h.withdrawals.Reject(c.UserContext(), id, reviewer, in.Notes)
	})
}

func (h *WithdrawalHandler) Complete(c *fiber.Ctx) error {
	return h.review(c, "Withdrawal completed", func(c *fiber.Ctx, id, reviewer uint, in reviewInput) (interface{}, error) {
		return h.withdrawals.Complete(c.UserContext(), id, reviewer, in.Receipt, in.Notes)
	})
}

func (h *WithdrawalHandler) RetryTransfer(c *fiber.Ctx) error {
	return h.review(c, "Transfer retried", func(c *fiber.Ctx, id, reviewer uint, _ reviewInput) (interface{}, error) {
		return h.withdrawals.RetryTransfer(c.UserContext(), id, reviewer)
	})
}

type reviewFunc func(c *fiber.Ctx, id, reviewer uint, in reviewInput) (interface{}, error)

func (h *WithdrawalHandler) review(c *fiber.Ctx, message string, fn reviewFunc) error {
	reviewer, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	var in reviewInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return response.BadRequest(c, "Invalid request format")
		}
	}
	out, err := fn(c, id, reviewer, in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, message, out)
}
