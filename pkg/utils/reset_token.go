package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const resetTokenExpiry = 15 * time.Minute

var resetTokenSecret = []byte("change-me-in-production")

func ConfigureResetTokens(secret string) {
	if secret != "" {
		resetTokenSecret = []byte(secret)
	}
}

type ResetClaims struct {
	UserID    uint   `json:"userID"`
	Email     string `json:"email"`
	TokenType string `json:"tokenType"`
	JTI       string `json:"jti"`
	jwt.RegisteredClaims
}

// GenerateResetToken mints a short-lived, single-use token carried in the
// password-reset email link.
func GenerateResetToken(userID uint, email string) (string, error) {
	expiresAt := time.Now().Add(resetTokenExpiry)
	jti := uuid.New().String()
	claims := ResetClaims{
		UserID:    userID,
		Email:     email,
		TokenType: "password_reset",
		JTI:       jti,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        jti,
			Subject:   fmt.Sprintf("%d", userID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(resetTokenSecret)
}

func ValidateResetToken(tokenString string) (*ResetClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ResetClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return resetTokenSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ResetClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid reset token")
	}

	if claims.TokenType != "password_reset" {
		return nil, fmt.Errorf("invalid token type")
	}

	if claims.JTI == "" {
		return nil, fmt.Errorf("missing token ID")
	}

	return claims, nil
}

var consumedJTIs = make(map[string]time.Time)
var jtiMu sync.Mutex

func IsJTIValid(jti string) bool {
	jtiMu.Lock()
	defer jtiMu.Unlock()
	_, exists := consumedJTIs[jti]
	return !exists
}

func ConsumeJTI(jti string) {
	jtiMu.Lock()
	defer jtiMu.Unlock()
	consumedJTIs[jti] = time.Now()
}

func CleanupExpiredJTIs() {
	jtiMu.Lock()
	defer jtiMu.Unlock()
	now := time.Now()
	for jti, consumedAt := range consumedJTIs {
		if now.Sub(consumedAt) > resetTokenExpiry {
			delete(consumedJTIs, jti)
		}
	}
}
