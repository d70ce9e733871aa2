package utils

import (
	"paycore/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ClaimsKey is the fiber local the auth middleware stores claims under.
const ClaimsKey = "claims"

// GetUserClaims extracts the authenticated user's claims.
func GetUserClaims(c *fiber.Ctx) (*models.UserClaims, bool) {
	claims, ok := c.Locals(ClaimsKey).(*models.UserClaims)
	return claims, ok && claims != nil
}
