package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pennywise/backend/internal/config"
	"github.com/pennywise/backend/internal/database"
	"github.com/pennywise/backend/internal/middleware"
	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/internal/services"
	"github.com/pennywise/backend/pkg/logger"
	"github.com/pennywise/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	mailer *recordingMailer
	tokens *services.TokenService
	otp    *services.OTPService
}

// recordingMailer captures outgoing mail so tests can read OTP codes and
// reset links without SMTP.
type recordingMailer struct {
	mu         sync.Mutex
	otpCodes   []string
	resetLinks []string
	failNext   bool
}

func (m *recordingMailer) SendOTP(to, name, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errSMTPDown
	}
	m.otpCodes = append(m.otpCodes, code)
	return nil
}

func (m *recordingMailer) SendPasswordReset(to, name, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errSMTPDown
	}
	m.resetLinks = append(m.resetLinks, link)
	return nil
}

func (m *recordingMailer) lastOTP(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.otpCodes) == 0 {
		t.Fatal("no OTP was sent")
	}
	return m.otpCodes[len(m.otpCodes)-1]
}

func (m *recordingMailer) lastResetLink(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resetLinks) == 0 {
		t.Fatal("no reset link was sent")
	}
	return m.resetLinks[len(m.resetLinks)-1]
}

func (m *recordingMailer) otpCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.otpCodes)
}

var errSMTPDown = errors.New("smtp unreachable")

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureResetTokens("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	mailer := &recordingMailer{}
	otpService := services.NewOTPService(db, mailer, 10*time.Minute)
	tokenService := services.NewTokenService(db, "pw_")
	accessService := services.NewAccessService()
	auditService := services.NewAuditService(db)

	googleService := services.NewGoogleAuthService(db, config.GoogleConfig{
		Enabled:      true,
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/api/auth/google/callback",
	})

	authHandler := NewAuthHandler(db, otpService, tokenService, auditService)
	oauthHandler := NewOAuthHandler(googleService, tokenService, auditService)
	resetHandler := NewPasswordResetHandler(db, mailer, tokenService, auditService, "http://localhost:5173")
	userHandler := NewUserHandler(db, accessService, tokenService, auditService)
	sessionHandler := NewSessionHandler(db, tokenService, auditService)
	auditHandler := NewAuditHandler(db)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS("http://localhost:5173"))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/verify-otp", authHandler.VerifyOTP)
	authRoutes.Post("/resend-otp", authHandler.ResendOTP)
	authRoutes.Post("/forgot-password", resetHandler.ForgotPassword)
	authRoutes.Post("/reset-password", resetHandler.ResetPassword)
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

	return &testEnv{app: app, db: db, mailer: mailer, tokens: tokenService, otp: otpService}
}

// createTestUser inserts a user with 2FA off so authed requests do not need
// an OTP round trip. Tests covering the challenge flip the flag themselves.
func createTestUser(t *testing.T, env *testEnv, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := env.db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, _, err := env.tokens.Issue(user, "test")
	if err != nil {
		t.Fatalf("failed issuing session token: %v", err)
	}

	return user, token
}

func enableTwoFactor(t *testing.T, env *testEnv, userID uint) {
	t.Helper()
	if err := env.db.Model(&models.User{}).Where("id = ?", userID).
		Update("two_factor_enabled", true).Error; err != nil {
		t.Fatalf("failed enabling 2FA: %v", err)
	}
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
