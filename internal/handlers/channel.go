package handlers

import (
	apperrors "paycore/internal/errors"
	"paycore/internal/models"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ChannelHandler struct {
	channels ChannelService
	log      *zap.Logger
}

func NewChannelHandler(channels ChannelService, log *zap.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, log: log}
}

func (h *ChannelHandler) List(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	chs, err := h.channels.ListChannels(c.UserContext(), uid)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Channels retrieved", chs)
}

// Add registers a phone channel (a code is sent) or links the external
// account registered under the caller's own email. The email always comes
// from the token, never from the body.
func (h *ChannelHandler) Add(c *fiber.Ctx) error {
	claims, ok := utils.GetUserClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}
	uid := claims.UserID
	var input struct {
		Kind  string `json:"kind"`
		Phone string `json:"phone"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}

	var (
		ch  *models.WithdrawalChannel
		err error
	)
	switch input.Kind {
	case models.ChannelKindMpesa:
		ch, err = h.channels.AddPhoneChannel(c.UserContext(), uid, input.Phone)
	case models.ChannelKindStripe:
		if claims.Email == "" {
			return respondError(c, h.log, apperrors.WithMessage(apperrors.ErrValidation, "token carries no email"))
		}
		ch, err = h.channels.AddExternalChannel(c.UserContext(), uid, claims.Email)
	default:
		return response.BadRequest(c, "kind must be mpesa or stripe")
	}
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Created(c, "Channel added", ch)
}

func (h *ChannelHandler) Verify(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	var input struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	ch, err := h.channels.VerifyPhoneChannel(c.UserContext(), uid, id, input.Code)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Channel verified", ch)
}

func (h *ChannelHandler) ResendCode(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	if err := h.channels.ResendCode(c.UserContext(), uid, id); err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Code sent", nil)
}

func (h *ChannelHandler) Remove(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return response.Unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, h.log, err)
	}
	if err := h.channels.RemoveChannel(c.UserContext(), uid, id); err != nil {
		return respondError(c, h.log, err)
	}
	return response.Success(c, "Channel removed", nil)
}
