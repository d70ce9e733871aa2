package handlers

import (
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type BatchHandler struct {
	batches BatchService
	log     *zap.Logger
}

func NewBatchHandler(batches BatchService, log *zap.Logger) *BatchHandler {
	return &BatchHandler{batches: batches, log: log}
}

func (h *BatchHandler) Generate(c *fiber.Ctx) error {
	batch, err := h.batches.Generate(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Created(c, "Batch generated", batch)
}

func (h *BatchHandler) List(c *fiber.Ctx) error {
	p := utils.GetPagination(c, 1, 20)
	batches, total, err := h.batches.List(c.UserContext(), p.Limit, p.Offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	p.SetTotal(total)
	return c.JSON(utils.NewPaginatedResponse(batches, p))
}

func (h *BatchHandler) Get(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	batch, err := h.batches.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Batch retrieved", batch)
}

// Approve reserves and pays the batch. It returns once every item has been
// dispatched; phone items resolve later through result callbacks.
func (h *BatchHandler) Approve(c *fiber.Ctx) error {
	approver, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	batch, err := h.batches.Approve(c.UserContext(), id, approver)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Batch approved", batch)
}

func (h *BatchHandler) Cancel(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	batch, err := h.batches.Cancel(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Batch cancelled", batch)
}

func (h *BatchHandler) Reconcile(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	totals, err := h.batches.Reconcile(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Batch reconciliation", fiber.Map{
		"reserved":    totals.Reserved,
		"completed":   totals.Completed,
		"refunded":    totals.Refunded,
		"outstanding": totals.Outstanding,
	})
}

func (h *BatchHandler) RetryItem(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	item, err := h.batches.RetryItem(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Item retried", item)
}
