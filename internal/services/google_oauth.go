package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pennywise/backend/internal/config"
	"github.com/pennywise/backend/internal/models"
	"github.com/pennywise/backend/pkg/logger"
	"github.com/pennywise/backend/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

const googleIssuer = "https://accounts.google.com"

var ErrGoogleDisabled = errors.New("google oauth is not enabled")

// GoogleAuthService runs the authorization-code flow against Google and
// upserts the matching user. The callback returns JSON directly; tokens are
// never embedded in browser redirects.
type GoogleAuthService struct {
	DB  *gorm.DB
	Cfg config.GoogleConfig

	providerOnce sync.Once
	provider     *oidc.Provider
	providerErr  error
}

func NewGoogleAuthService(db *gorm.DB, cfg config.GoogleConfig) *GoogleAuthService {
	return &GoogleAuthService{DB: db, Cfg: cfg}
}

type GoogleProfile struct {
	Subject string
	Email   string
	Name    string
}

func (s *GoogleAuthService) OAuthConfig() (*oauth2.Config, error) {
	if !s.Cfg.Enabled {
		return nil, ErrGoogleDisabled
	}
	return &oauth2.Config{
		ClientID:     s.Cfg.ClientID,
		ClientSecret: s.Cfg.ClientSecret,
		RedirectURL:  s.Cfg.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		Endpoint:     google.Endpoint,
	}, nil
}

// AuthCodeURL builds the Google authorization URL with a fresh state nonce.
func (s *GoogleAuthService) AuthCodeURL() (string, error) {
	oauthCfg, err := s.OAuthConfig()
	if err != nil {
		return "", err
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}
	state := base64.URLEncoding.EncodeToString(nonceBytes)

	return oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (s *GoogleAuthService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	oauthCfg, err := s.OAuthConfig()
	if err != nil {
		return nil, err
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		logger.Warn("google_exchange_failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, errors.New("failed to exchange code for token")
	}

	return token, nil
}

// FetchProfile verifies the ID token Google returned alongside the access
// token and extracts the identity claims from it. Verifying the signed token
// avoids a second round trip to the userinfo endpoint.
func (s *GoogleAuthService) FetchProfile(ctx context.Context, token *oauth2.Token) (*GoogleProfile, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("google response is missing the id token")
	}

	s.providerOnce.Do(func() {
		s.provider, s.providerErr = oidc.NewProvider(ctx, googleIssuer)
	})
	if s.providerErr != nil {
		return nil, s.providerErr
	}

	verifier := s.provider.Verifier(&oidc.Config{ClientID: s.Cfg.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		logger.Warn("google_id_token_invalid", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, errors.New("failed to verify google identity")
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}

	if claims.Email == "" || !claims.EmailVerified {
		return nil, errors.New("google account email is not verified")
	}

	return &GoogleProfile{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// FindOrCreateUser upserts by email: an existing account gets the Google
// subject attached, a new one is created as a student with a random hashed
// password that is never communicated. Emails are lowercased to match the
// normalization registration applies, so the lookup stays case-insensitive
// on Postgres.
func (s *GoogleAuthService) FindOrCreateUser(ctx context.Context, profile *GoogleProfile) (*models.User, error) {
	var user models.User

	email := strings.ToLower(profile.Email)
	err := s.DB.WithContext(ctx).First(&user, "email = ?", email).Error
	if err == nil {
		if user.GoogleID == nil || *user.GoogleID != profile.Subject {
			if err := s.DB.WithContext(ctx).Model(&user).
				Update("google_id", profile.Subject).Error; err != nil {
				return nil, err
			}
			user.GoogleID = &profile.Subject
		}
		return &user, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	randomSecret, err := utils.RandomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(randomSecret)
	if err != nil {
		return nil, err
	}

	user = models.User{
		Name:         profile.Name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.UserRoleStudent,
		GoogleID:     &profile.Subject,
	}

	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	logger.Info("google_user_created", map[string]interface{}{
		"user_id": user.ID,
		"email":   user.Email,
	})

	return &user, nil
}
