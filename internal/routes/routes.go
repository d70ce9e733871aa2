// Package routes wires handlers to the HTTP API.
package routes

import (
	"paycore/internal/handlers"
	"paycore/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// Handlers groups every handler the API serves.
type Handlers struct {
	Payments    *handlers.PaymentHandler
	Withdrawals *handlers.WithdrawalHandler
	Channels    *handlers.ChannelHandler
	Batches     *handlers.BatchHandler
	Callbacks   *handlers.CallbackHandler
	Wallet      *handlers.WalletHandler
	Health      *handlers.HealthHandler
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, h Handlers, auth *middleware.AuthMiddleware) {
	app.Get("/health", h.Health.Health)

	api := app.Group("/api")

	// Provider notifications carry no token; origin is checked by the services.
	callbacks := api.Group("/callbacks/mpesa")
	callbacks.Post("/stk", h.Callbacks.STK)
	callbacks.Post("/b2c/result", h.Callbacks.B2CResult)
	callbacks.Post("/b2c/timeout", h.Callbacks.B2CTimeout)

	protected := api.Group("", auth.Handler)
	setupUserRoutes(protected, h)
	setupAdminRoutes(protected.Group("/admin", auth.AdminOnly), h)
}

func setupUserRoutes(r fiber.Router, h Handlers) {
	payments := r.Group("/payments")
	payments.Post("/", h.Payments.Initiate)
	payments.Get("/", h.Payments.List)
	payments.Get("/:id", h.Payments.Get)
	payments.Post("/:id/poll", h.Payments.Poll)

	channels := r.Group("/channels")
	channels.Get("/", h.Channels.List)
	channels.Post("/", h.Channels.Add)
	channels.Post("/:id/verify", h.Channels.Verify)
	channels.Post("/:id/resend", h.Channels.ResendCode)
	channels.Delete("/:id", h.Channels.Remove)

	withdrawals := r.Group("/withdrawals")
	withdrawals.Post("/", h.Withdrawals.Request)
	withdrawals.Get("/", h.Withdrawals.List)
	withdrawals.Get("/:id", h.Withdrawals.Get)

	r.Get("/wallet", h.Wallet.GetWallet)
	r.Get("/quotes/withdrawal", h.Withdrawals.Quote)
}

func setupAdminRoutes(r fiber.Router, h Handlers) {
	withdrawals := r.Group("/withdrawals")
	withdrawals.Get("/", h.Withdrawals.ListByStatus)
	withdrawals.Post("/:id/approve", h.Withdrawals.Approve)
	withdrawals.Post("/:id/reject", h.Withdrawals.Reject)
	withdrawals.Post("/:id/complete", h.Withdrawals.Complete)
	withdrawals.Post("/:id/retry", h.Withdrawals.RetryTransfer)

	batches := r.Group("/batches")
	batches.Post("/", h.Batches.Generate)
	batches.Get("/", h.Batches.List)
	batches.Post("/items/:id/retry", h.Batches.RetryItem)
	batches.Get("/:id", h.Batches.Get)
	batches.Get("/:id/reconcile", h.Batches.Reconcile)
	batches.Post("/:id/approve", h.Batches.Approve)
	batches.Post("/:id/cancel", h.Batches.Cancel)
}
