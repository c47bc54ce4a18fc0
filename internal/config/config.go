package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB     DBConfig
	Server ServerConfig
	Auth   AuthConfig
	Google GoogleConfig
	Mail   MailConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

type AuthConfig struct {
	ResetTokenSecret string
	OTPLifetime      time.Duration
	TokenPrefix      string
}

type GoogleConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type MailConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	FromAddress string
	DialTimeout time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "pennywise"),
			Password: getEnv("DB_PASSWORD", "pennywise_secret"),
			Name:     getEnv("DB_NAME", "pennywise"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		},
		Auth: AuthConfig{
			ResetTokenSecret: getEnv("RESET_TOKEN_SECRET", "change-me-in-production"),
			OTPLifetime:      getEnvAsDuration("OTP_LIFETIME", 10*time.Minute),
			TokenPrefix:      getEnv("TOKEN_PREFIX", "pw_"),
		},
		Google: GoogleConfig{
			Enabled:      getEnvAsBool("GOOGLE_OAUTH_ENABLED", false),
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/auth/google/callback"),
		},
		Mail: MailConfig{
			Host:        getEnv("SMTP_HOST", "localhost"),
			Port:        getEnv("SMTP_PORT", "587"),
			Username:    getEnv("SMTP_USERNAME", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			FromAddress: getEnv("MAIL_FROM", "no-reply@pennywise.local"),
			DialTimeout: getEnvAsDuration("SMTP_DIAL_TIMEOUT", 10*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
