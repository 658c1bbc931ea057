// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all settings the application needs. It is built once at
// startup and injected into the components that use it; nothing reads
// environment variables at call time.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	SMTP SMTPConfig

	Getnet GetnetConfig
	Asaas  AsaasConfig

	Installments InstallmentConfig

	// GatewayTimeout bounds every outbound gateway call.
	GatewayTimeout time.Duration

	// BoletoDueDays is how many days from now a new boleto expires.
	BoletoDueDays int
}

// SMTPConfig holds the credentials for transactional mail. Mail is
// optional; with an empty host it is silently disabled.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

// GetnetConfig holds Getnet API credentials and endpoints.
type GetnetConfig struct {
	BaseURL      string
	SellerID     string
	ClientID     string
	ClientSecret string
}

// AsaasConfig holds Asaas API credentials and endpoints.
type AsaasConfig struct {
	BaseURL string
	APIKey  string
	// WebhookToken, when set, is required in the asaas-access-token
	// header of incoming webhooks. Asaas has no payload signature.
	WebhookToken string
}

// InstallmentConfig drives the installment pricing calculator.
type InstallmentConfig struct {
	MaxInstallments      int
	InterestFreeCount    int
	MinInstallmentValue  float64
	InterestRates        map[int]float64 // monthly rate (%) per installment count
	FallbackInterestRate float64         // used for counts missing from the table
}

// Load reads configuration from the environment with sensible defaults.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASS", ""),
			From:     getEnv("EMAIL_FROM", ""),
		},
		Getnet: GetnetConfig{
			BaseURL:      getEnv("GETNET_BASE_URL", "https://api-homologacao.getnet.com.br"),
			SellerID:     getEnv("GETNET_SELLER_ID", ""),
			ClientID:     getEnv("GETNET_CLIENT_ID", ""),
			ClientSecret: getEnv("GETNET_CLIENT_SECRET", ""),
		},
		Asaas: AsaasConfig{
			BaseURL:      getEnv("ASAAS_BASE_URL", "https://sandbox.asaas.com/api/v3"),
			APIKey:       getEnv("ASAAS_API_KEY", ""),
			WebhookToken: getEnv("ASAAS_WEBHOOK_TOKEN", ""),
		},
		Installments:   DefaultInstallments(),
		GatewayTimeout: getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		BoletoDueDays:  getEnvInt("BOLETO_DUE_DAYS", 3),
	}
}

// DefaultInstallments returns the standard installment pricing table.
func DefaultInstallments() InstallmentConfig {
	return InstallmentConfig{
		MaxInstallments:     12,
		InterestFreeCount:   3,
		MinInstallmentValue: 50.00,
		InterestRates: map[int]float64{
			4:  2.99,
			5:  3.49,
			6:  3.99,
			7:  4.49,
			8:  4.99,
			9:  5.49,
			10: 5.99,
			11: 6.49,
			12: 6.99,
		},
		FallbackInterestRate: 6.99,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
