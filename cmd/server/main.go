package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/pennywise/backend/internal/config"
	"github.com/pennywise/backend/internal/database"
	"github.com/pennywise/backend/internal/handlers"
	"github.com/pennywise/backend/internal/middleware"
	"github.com/pennywise/backend/internal/services"
	"github.com/pennywise/backend/pkg/logger"
	"github.com/pennywise/backend/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	logger.Init()

	cfg := config.Load()
	utils.ConfigureResetTokens(cfg.Auth.ResetTokenSecret)
	go func() {
		for range time.Tick(5 * time.Minute) {
			utils.CleanupExpiredJTIs()
		}
	}()

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	var mailer services.Mailer
	if cfg.Mail.Username != "" {
		mailer = services.NewSMTPMailer(cfg.Mail)
	} else {
		logger.Warn("smtp_not_configured", map[string]interface{}{
			"fallback": "log mailer",
		})
		mailer = services.LogMailer{}
	}

	otpService := services.NewOTPService(db, mailer, cfg.Auth.OTPLifetime)
	tokenService := services.NewTokenService(db, cfg.Auth.TokenPrefix)
	accessService := services.NewAccessService()
	auditService := services.NewAuditService(db)
	googleService := services.NewGoogleAuthService(db, cfg.Google)

	authHandler := handlers.NewAuthHandler(db, otpService, tokenService, auditService)
	oauthHandler := handlers.NewOAuthHandler(googleService, tokenService, auditService)
	resetHandler := handlers.NewPasswordResetHandler(db, mailer, tokenService, auditService, cfg.Server.FrontendURL)
	userHandler := handlers.NewUserHandler(db, accessService, tokenService, auditService)
	sessionHandler := handlers.NewSessionHandler(db, tokenService, auditService)
	auditHandler := handlers.NewAuditHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Credential and OTP endpoints share a per-IP budget; everything behind
	// RequireAuth is already gated by a valid token.
	authLimiter := limiter.New(limiter.Config{
		Max:        20,
		Expiration: 1 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Error(c, fiber.StatusTooManyRequests, "Too many attempts. Please try again later.")
		},
	})

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authLimiter, authHandler.Register)
	authRoutes.Post("/login", authLimiter, authHandler.Login)
	authRoutes.Post("/verify-otp", authLimiter, authHandler.VerifyOTP)
	authRoutes.Post("/resend-otp", authLimiter, authHandler.ResendOTP)
	authRoutes.Post("/forgot-password", authLimiter, resetHandler.ForgotPassword)
	authRoutes.Post("/reset-password", authLimiter, resetHandler.ResetPassword)
	authRoutes.Get("/google", oauthHandler.GoogleRedirect)
	authRoutes.Get("/google/callback", oauthHandler.GoogleCallback)
	authRoutes.Post("/logout", authMiddleware.RequireAuth, authHandler.Logout)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/me", authMiddleware.RequireAuth, authHandler.UpdateMe)
	authRoutes.Post("/2fa/enable", authMiddleware.RequireAuth, authHandler.Enable2FA)
	authRoutes.Post("/2fa/disable", authMiddleware.RequireAuth, authHandler.Disable2FA)
	authRoutes.Get("/sessions", authMiddleware.RequireAuth, sessionHandler.List)
	authRoutes.Delete("/sessions/:id", authMiddleware.RequireAuth, sessionHandler.Revoke)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth)
	userRoutes.Get("/", middleware.AdminOnly, userHandler.List)
	userRoutes.Get("/:id", userHandler.Get)
	userRoutes.Put("/:id", middleware.AdminOnly, userHandler.Update)
	userRoutes.Delete("/:id", middleware.AdminOnly, userHandler.Delete)

	api.Get("/audit-log", authMiddleware.RequireAuth, middleware.AdminOnly, auditHandler.List)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":         cfg.Server.Port,
		"address":      listenAddr,
		"google_oauth": cfg.Google.Enabled,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
