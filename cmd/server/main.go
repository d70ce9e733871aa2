// Package main is the entry point for the payment engine API.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"paycore/internal/config"
	"paycore/internal/handlers"
	"paycore/internal/logging"
	"paycore/internal/middleware"
	"paycore/internal/repositories"
	"paycore/internal/repositories/cache"
	"paycore/internal/routes"
	"paycore/internal/scheduler"
	"paycore/internal/services/disbursement"
	"paycore/internal/services/fulfillment"
	"paycore/internal/services/mpesa"
	"paycore/internal/services/notification"
	"paycore/internal/services/payment"
	"paycore/internal/services/payout"
	"paycore/internal/services/rates"
	"paycore/internal/services/withdrawal"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	zl, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	trusted, err := config.ParsePrefixes(cfg.Mpesa.TrustedCIDRs)
	if err != nil {
		return err
	}
	credential := cfg.Mpesa.SecurityCredential
	if credential == "" {
		if credential, err = mpesa.SecurityCredentialFromFile(cfg.Mpesa.CertPath, cfg.Mpesa.InitiatorPassword); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repositories.InitDB(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			zl.Warn("failed to close database", zap.Error(err))
		}
	}()

	redisStore := cache.NewRedisStore(cache.NewRedisClient(&cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}))
	defer redisStore.Close()
	if err := redisStore.HealthCheck(ctx); err != nil {
		return err
	}

	// Stores
	txs := repositories.NewTransactionRepository(db)
	wallets := repositories.NewWalletRepository(db)
	channels := repositories.NewChannelRepository(db)
	batches := repositories.NewBatchRepository(db)

	// Collaborators
	rateSvc := rates.NewService(
		rates.NewHTTPSource(cfg.Rates.SourceURL, 10*time.Second),
		redisStore,
		rates.Config{
			Markup:       cfg.Rates.Markup,
			TTL:          cfg.Rates.TTL,
			Fallback:     cfg.Rates.FallbackRate,
			FetchTimeout: cfg.Rates.FetchTimeout,
		},
		zl.Named("rates"),
	)
	mpesaClient := mpesa.NewClient(mpesa.Config{
		BaseURL:            cfg.Mpesa.BaseURL,
		ConsumerKey:        cfg.Mpesa.ConsumerKey,
		ConsumerSecret:     cfg.Mpesa.ConsumerSecret,
		ShortCode:          cfg.Mpesa.ShortCode,
		PassKey:            cfg.Mpesa.PassKey,
		CallbackURL:        cfg.Mpesa.CallbackURL,
		B2CShortCode:       cfg.Mpesa.B2CShortCode,
		InitiatorName:      cfg.Mpesa.InitiatorName,
		SecurityCredential: credential,
		ResultURL:          cfg.Mpesa.ResultURL,
		TimeoutURL:         cfg.Mpesa.TimeoutURL,
		Timeout:            cfg.Mpesa.Timeout,
	}, redisStore, zl.Named("mpesa"))
	payouts := payout.NewService(cfg.Stripe.SecretKey, nil, zl.Named("payout"))
	notes := notification.NewQueue(notification.NewLogSender(zl.Named("notify")), 256, 4, zl.Named("notify"))

	// Engine
	downstream := fulfillment.NewStore(db, zl.Named("fulfillment"))
	dispatcher := fulfillment.NewDispatcher(
		txs,
		downstream,
		downstream,
		fulfillment.NewWalletCreditor(wallets, zl.Named("fulfillment")),
		downstream,
		fulfillment.Config{PriceTolerance: cfg.Payments.PriceTolerance, SellerShare: cfg.Payments.SellerShare},
		zl.Named("fulfillment"),
	)
	verifier := payment.NewVerifier(trusted, mpesaClient)
	paymentSvc := payment.NewService(txs, mpesaClient, rateSvc, dispatcher, verifier, payment.Config{
		ReplayWindow: cfg.Payments.ReplayWindow,
		ExpiryWindow: cfg.Payments.ExpiryWindow,
		PollGrace:    cfg.Payments.PollGrace,
		SweepLimit:   cfg.Payments.SweepBatchLimit,
	}, zl.Named("payment"))
	withdrawalSvc := withdrawal.NewService(
		repositories.NewWithdrawalRepository(db),
		channels,
		repositories.NewLinkedAccountRepository(db),
		payouts,
		rateSvc,
		notes,
		withdrawal.Config{
			MinimumStripeUSD: cfg.Withdrawals.MinimumStripeUSD,
			MinimumMpesaUSD:  cfg.Withdrawals.MinimumMpesaUSD,
			Cooldown:         cfg.Withdrawals.Cooldown,
			OTPTTL:           cfg.Withdrawals.OTPTTL,
			OTPMaxAttempts:   cfg.Withdrawals.OTPMaxAttempts,
		},
		zl.Named("withdrawal"),
	)
	disbursementSvc := disbursement.NewService(
		batches,
		channels,
		wallets,
		payouts,
		mpesaClient,
		rateSvc,
		verifier,
		disbursement.Config{
			MpesaFloorKES:  cfg.Disbursement.MpesaFloorKES,
			StripeFloorUSD: cfg.Disbursement.StripeFloorUSD,
			DispatchDelay:  cfg.Disbursement.DispatchDelay,
			MaxRetries:     cfg.Disbursement.MaxRetries,
			ItemTimeout:    cfg.Disbursement.ItemTimeout,
			ResumeAfter:    cfg.Disbursement.ResumeAfter,
		},
		zl.Named("disbursement"),
	)

	app := newApp(zl)
	routes.SetupRoutes(app, routes.Handlers{
		Payments:    handlers.NewPaymentHandler(paymentSvc, zl),
		Withdrawals: handlers.NewWithdrawalHandler(withdrawalSvc, zl),
		Channels:    handlers.NewChannelHandler(withdrawalSvc, zl),
		Batches:     handlers.NewBatchHandler(disbursementSvc, zl),
		Callbacks:   handlers.NewCallbackHandler(paymentSvc, disbursementSvc, zl.Named("callbacks")),
		Wallet:      handlers.NewWalletHandler(wallets, zl),
		Health: handlers.NewHealthHandler(map[string]handlers.Check{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": redisStore.HealthCheck,
		}),
	}, middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Issuer, zl.Named("auth")))

	jobs := scheduler.New(zl.Named("scheduler")).Add(
		scheduler.EngineTasks(cfg.Scheduler, paymentSvc, withdrawalSvc, disbursementSvc, zl.Named("scheduler"))...,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return jobs.Run(gctx) })
	g.Go(func() error {
		zl.Info("listening", zap.String("port", cfg.Port))
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			zl.Warn("http shutdown", zap.Error(err))
		}
		return notes.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	zl.Info("shutdown complete", zap.Int64("notifications_sent", notes.Stats().Sent))
	return nil
}

func newApp(zl *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "paycore",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.GetEnv("CORS_ORIGINS", "http://localhost:5173"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,DELETE",
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Code entry is the brute-force surface; throttle it per client.
	app.Use("/api/channels", limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			zl.Warn("rate limit reached", logging.Security(), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))
	return app
}
