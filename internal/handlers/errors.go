package handlers

import (
	"errors"

	apperrors "paycore/internal/errors"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func statusOf(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return fiber.StatusBadRequest
	case apperrors.KindNotFound:
		return fiber.StatusNotFound
	case apperrors.KindConflict:
		return fiber.StatusConflict
	case apperrors.KindForbidden, apperrors.KindSecurity:
		return fiber.StatusForbidden
	case apperrors.KindProvider:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as JSON. Domain errors keep their code and
// message; anything else is logged and hidden behind a generic 500.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	var de *apperrors.DomainError
	if errors.As(err, &de) && de.Kind != apperrors.KindInternal {
		status := statusOf(de.Kind)
		if status >= fiber.StatusInternalServerError {
			log.Warn("provider error", zap.String("path", c.Path()), zap.Error(err))
		}
		return response.Error(c, status, de.Code, de.Message)
	}
	log.Error("request failed", zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
	return response.Error(c, fiber.StatusInternalServerError, "INTERNAL", "internal server error")
}

func userID(c *fiber.Ctx) (uint, bool) {
	claims, ok := utils.GetUserClaims(c)
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}

func idParam(c *fiber.Ctx, name string) (uint, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, apperrors.WithMessage(apperrors.ErrValidation, "invalid %s", name)
	}
	return uint(id), nil
}
