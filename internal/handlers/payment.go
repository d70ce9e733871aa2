package handlers

import (
	"paycore/internal/services/payment"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	payments PaymentService
	log      *zap.Logger
}

func NewPaymentHandler(payments PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

// Initiate starts a phone prompt for a purchase.
func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}

	var input struct {
		Phone       string          `json:"phone"`
		Type        string          `json:"type"`
		PurchaseRef string          `json:"purchase_ref"`
		AmountUSD   decimal.Decimal `json:"amount_usd"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	tx, err := h.payments.Initiate(c.UserContext(), payment.InitiateRequest{
		UserID:      uid,
		Phone:       input.Phone,
		Type:        input.Type,
		PurchaseRef: input.PurchaseRef,
		AmountUSD:   input.AmountUSD,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Created(c, "Payment prompt sent", fiber.Map{
		"id":           tx.ID,
		"status":       payment.StatusProcessing,
		"amount_local": tx.AmountLocal,
		"currency":     tx.Currency,
		"rate_used":    tx.RateUsed,
	})
}

func (h *PaymentHandler) Get(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	view, err := h.payments.Get(c.UserContext(), uid, id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Payment retrieved", view)
}

// Poll asks the provider for the prompt's outcome instead of waiting for the
// callback.
func (h *PaymentHandler) Poll(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	view, err := h.payments.Poll(c.UserContext(), uid, id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Payment status refreshed", view)
}

func (h *PaymentHandler) List(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	p := utils.GetPagination(c, 1, 20)
	views, total, err := h.payments.List(c.UserContext(), uid, p.Limit, p.Offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	p.SetTotal(total)
	return c.JSON(utils.NewPaginatedResponse(views, p))
}
