package services

import (
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/pkg/logger"
	"gorm.io/gorm"
)

var serviceTestOnce sync.Once

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	serviceTestOnce.Do(func() {
		logger.Init()
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

	err = db.AutoMigrate(
		&models.User{},
		&models.UserOTP{},
		&models.SessionToken{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func createServiceTestUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) *models.User {
	t.Helper()

	user := &models.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: "hash",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}
	return user
}

// stubMailer records the last code and can simulate an outage.
type stubMailer struct {
	lastCode string
	lastLink string
	fail     bool
}

func (m *stubMailer) SendOTP(to, name, code string) error {
	if m.fail {
		return errStubMailer
	}
	m.lastCode = code
	return nil
}

func (m *stubMailer) SendPasswordReset(to, name, link string) error {
	if m.fail {
		return errStubMailer
	}
	m.lastLink = link
	return nil
}
