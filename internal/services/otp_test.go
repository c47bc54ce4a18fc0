package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pennywise/backend/internal/models"
)

var errStubMailer = errors.New("mailer down")

func TestOTPGenerateProducesSixDigitCode(t *testing.T) {
	db := setupServiceTestDB(t)
	mailer := &stubMailer{}
	service := NewOTPService(db, mailer, 10*time.Minute)
	user := createServiceTestUser(t, db, "otp@test.com", models.UserRoleStudent)

	code, err := service.Generate(user)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
	if mailer.lastCode != code {
		t.Errorf("mailer received %q, expected %q", mailer.lastCode, code)
	}
}

func TestOTPGenerateReplacesUnusedCodes(t *testing.T) {
	db := setupServiceTestDB(t)
	service := NewOTPService(db, &stubMailer{}, 10*time.Minute)
	user := createServiceTestUser(t, db, "replace@test.com", models.UserRoleStudent)

	if _, err := service.Generate(user); err != nil {
		t.Fatalf("first generate failed: %v", err)
	}
	if _, err := service.Generate(user); err != nil {
		t.Fatalf("second generate failed: %v", err)
	}

	var count int64
	db.Model(&models.UserOTP{}).Where("user_id = ? AND used = ?", user.ID, false).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one live code, found %d", count)
	}
}

func TestOTPGenerateKeepsConsumedCodes(t *testing.T) {
	db := setupServiceTestDB(t)
	mailer := &stubMailer{}
	service := NewOTPService(db, mailer, 10*time.Minute)
	user := createServiceTestUser(t, db, "history@test.com", models.UserRoleStudent)

	if _, err := service.Generate(user); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if err := service.Verify(user, mailer.lastCode); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if _, err := service.Generate(user); err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}

	// Consumed rows stay behind as history; only unused ones are replaced.
	var total int64
	db.Model(&models.UserOTP{}).Where("user_id = ?", user.ID).Count(&total)
	if total != 2 {
		t.Fatalf("expected consumed row to survive regeneration, found %d rows", total)
	}
}

func TestOTPGenerateMailFailure(t *testing.T) {
	db := setupServiceTestDB(t)
	service := NewOTPService(db, &stubMailer{fail: true}, 10*time.Minute)
	user := createServiceTestUser(t, db, "mailfail@test.com", models.UserRoleStudent)

	_, err := service.Generate(user)
	if !errors.Is(err, ErrOTPDispatch) {
		t.Fatalf("expected ErrOTPDispatch, got %v", err)
	}
}

func TestOTPVerifyWrongCode(t *testing.T) {
	db := setupServiceTestDB(t)
	service := NewOTPService(db, &stubMailer{}, 10*time.Minute)
	user := createServiceTestUser(t, db, "wrong@test.com", models.UserRoleStudent)

	if _, err := service.Generate(user); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if err := service.Verify(user, "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
}

func TestOTPVerifyExpiredCodeStaysUnconsumed(t *testing.T) {
	db := setupServiceTestDB(t)
	service := NewOTPService(db, &stubMailer{}, 10*time.Minute)
	user := createServiceTestUser(t, db, "stale@test.com", models.UserRoleStudent)

	row := models.UserOTP{
		UserID:    user.ID,
		Code:      "424242",
		ExpiresAt: time.Now().Add(-time.Second),
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed seeding expired code: %v", err)
	}

	if err := service.Verify(user, "424242"); !errors.Is(err, ErrExpiredOTP) {
		t.Fatalf("expected ErrExpiredOTP, got %v", err)
	}

	var reloaded models.UserOTP
	if err := db.First(&reloaded, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("failed reloading row: %v", err)
	}
	if reloaded.Used {
		t.Error("expired code must not be marked used")
	}
}

func TestOTPVerifyConsumesExactlyOnceUnderContention(t *testing.T) {
	db := setupServiceTestDB(t)
	service := NewOTPService(db, &stubMailer{}, 10*time.Minute)
	user := createServiceTestUser(t, db, "race@test.com", models.UserRoleStudent)

	row := models.UserOTP{
		UserID:    user.ID,
		Code:      "777777",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed seeding code: %v", err)
	}

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- service.Verify(user, "777777")
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrInvalidOTP) {
			t.Errorf("unexpected failure mode: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("code must verify exactly once, succeeded %d times", successes)
	}
}

func TestOTPVerifyIsScopedToUser(t *testing.T) {
	db := setupServiceTestDB(t)
	mailer := &stubMailer{}
	service := NewOTPService(db, mailer, 10*time.Minute)
	alice := createServiceTestUser(t, db, "alice@test.com", models.UserRoleStudent)
	bob := createServiceTestUser(t, db, "bob@test.com", models.UserRoleStudent)

	if _, err := service.Generate(alice); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if err := service.Verify(bob, mailer.lastCode); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("another user's code must not verify, got %v", err)
	}
}
