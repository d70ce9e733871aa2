package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"paycore/internal/models"
	"paycore/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	secret = "test-secret"
	issuer = "paycore-api"
)

func newApp() *fiber.App {
	m := NewAuthMiddleware(secret, issuer, zap.NewNop())
	app := fiber.New()
	app.Get("/me", m.Handler, func(c *fiber.Ctx) error {
		claims, _ := utils.GetUserClaims(c)
		return c.JSON(fiber.Map{"user_id": claims.UserID})
	})
	app.Get("/admin", m.Handler, m.AdminOnly, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func token(t *testing.T, role, iss string, ttl time.Duration) string {
	t.Helper()
	tok, err := utils.GenerateToken(secret, iss, &models.UserClaims{UserID: 7, Role: role}, ttl)
	require.NoError(t, err)
	return tok
}

func TestAuthMiddleware(t *testing.T) {
	app := newApp()

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/me", "", fiber.StatusUnauthorized},
		{"not bearer", "/me", "Basic abc", fiber.StatusUnauthorized},
		{"garbage", "/me", "Bearer abc", fiber.StatusUnauthorized},
		{"valid user", "/me", "Bearer " + token(t, models.RoleUser, issuer, time.Hour), fiber.StatusOK},
		{"expired", "/me", "Bearer " + token(t, models.RoleUser, issuer, -time.Minute), fiber.StatusUnauthorized},
		{"foreign issuer", "/me", "Bearer " + token(t, models.RoleUser, "someone-else", time.Hour), fiber.StatusUnauthorized},
		{"user on admin route", "/admin", "Bearer " + token(t, models.RoleUser, issuer, time.Hour), fiber.StatusForbidden},
		{"admin", "/admin", "Bearer " + token(t, models.RoleAdmin, issuer, time.Hour), fiber.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestTokenSignedWithOtherSecret(t *testing.T) {
	tok, err := utils.GenerateToken("other", issuer, &models.UserClaims{UserID: 7, Role: models.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := newApp().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
