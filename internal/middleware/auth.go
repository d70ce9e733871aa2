// Package middleware provides HTTP middleware for the fiber app.
package middleware

import (
	"strings"

	"paycore/internal/logging"
	"paycore/internal/utils"
	"paycore/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AuthMiddleware validates bearer tokens issued by the surrounding application
// and stores their claims on the request.
type AuthMiddleware struct {
	secret string
	issuer string
	log    *zap.Logger
}

func NewAuthMiddleware(secret, issuer string, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{secret: secret, issuer: issuer, log: log}
}

func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return response.Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return response.Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization format")
	}

	claims, err := utils.ParseToken(m.secret, m.issuer, tokenString)
	if err != nil {
		m.log.Debug("token rejected", zap.String("ip", c.IP()), zap.Error(err))
		return response.Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
	}

	c.Locals(utils.ClaimsKey, claims)
	return c.Next()
}

// AdminOnly requires operator claims. It must run after Handler.
func (m *AuthMiddleware) AdminOnly(c *fiber.Ctx) error {
	claims, ok := utils.GetUserClaims(c)
	if !ok {
		return response.Unauthorized(c)
	}
	if !claims.IsAdmin() {
		m.log.Warn("operator route denied",
			logging.Security(),
			zap.Uint("user_id", claims.UserID),
			zap.String("path", c.Path()))
		return response.Forbidden(c)
	}
	return c.Next()
}
