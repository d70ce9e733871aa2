package handlers

import (
	"context"
	"strconv"

	"paycore/internal/models"
	"paycore/internal/services/disbursement"
	"paycore/internal/services/mpesa"
	"paycore/internal/services/payment"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// accepted is the only body the provider expects back. Anything else makes
// it retry the delivery.
var accepted = fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"}

// CallbackHandler receives provider notifications. It always acknowledges;
// rejections are decided and logged by the services.
type CallbackHandler struct {
	payments PaymentService
	batches  BatchService
	log      *zap.Logger
}

func NewCallbackHandler(payments PaymentService, batches BatchService, log *zap.Logger) *CallbackHandler {
	return &CallbackHandler{payments: payments, batches: batches, log: log}
}

func (h *CallbackHandler) STK(c *fiber.Ctx) error {
	cb, err := mpesa.ParseSTKCallback(c.Body())
	if err != nil {
		h.log.Warn("malformed stk callback", zap.String("source_ip", c.IP()), zap.Error(err))
		return c.JSON(accepted)
	}

	ev := payment.CallbackEvent{
		CheckoutRequestID: cb.CheckoutRequestID,
		Succeeded:         cb.ResultCode.OK(),
		ResultCode:        resultCode(cb.ResultCode),
		ResultDesc:        cb.ResultDesc,
		Receipt:           cb.Receipt(),
		SourceIP:          c.IP(),
		Payload:           payload(c),
	}
	ev.Amount, ev.HasAmount = cb.Amount()

	outcome, err := h.payments.HandleCallback(c.UserContext(), ev)
	if err != nil {
		h.log.Error("stk callback not applied", zap.String("checkout_request_id", cb.CheckoutRequestID), zap.Error(err))
		return c.JSON(accepted)
	}
	h.log.Info("stk callback", zap.String("checkout_request_id", cb.CheckoutRequestID), zap.String("outcome", string(outcome)))
	return c.JSON(accepted)
}

func (h *CallbackHandler) B2CResult(c *fiber.Ctx) error {
	return h.b2c(c, h.batches.HandleResult)
}

func (h *CallbackHandler) B2CTimeout(c *fiber.Ctx) error {
	return h.b2c(c, h.batches.HandleTimeout)
}

type resultFunc func(ctx context.Context, ev disbursement.ResultEvent) (disbursement.ResultOutcome, error)

func (h *CallbackHandler) b2c(c *fiber.Ctx, handle resultFunc) error {
	res, err := mpesa.ParseB2CResult(c.Body())
	if err != nil {
		h.log.Warn("malformed b2c result", zap.String("source_ip", c.IP()), zap.Error(err))
		return c.JSON(accepted)
	}

	outcome, err := handle(c.UserContext(), disbursement.ResultEvent{
		ConversationID:           res.ConversationID,
		OriginatorConversationID: res.OriginatorConversationID,
		Succeeded:                res.ResultCode.OK(),
		ResultCode:               resultCode(res.ResultCode),
		ResultDesc:               res.ResultDesc,
		Receipt:                  res.Receipt(),
		SourceIP:                 c.IP(),
	})
	if err != nil {
		h.log.Error("b2c result not applied", zap.String("conversation_id", res.ConversationID), zap.Error(err))
		return c.JSON(accepted)
	}
	h.log.Info("b2c result", zap.String("conversation_id", res.ConversationID), zap.String("outcome", string(outcome)))
	return c.JSON(accepted)
}

// resultCode returns -1 when the code is missing or not numeric.
func resultCode(code mpesa.Code) int {
	if !code.Set {
		return -1
	}
	n, err := strconv.Atoi(code.Value)
	if err != nil {
		return -1
	}
	return n
}

func payload(c *fiber.Ctx) models.JSON {
	var body models.JSON
	if err := c.App().Config().JSONDecoder(c.Body(), &body); err != nil {
		return nil
	}
	return body
}
