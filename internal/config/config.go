package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment             string
	EncryptionKeyBase64     string
	DBHost                  string
	DBPort                  string
	DBUsername              string
	DBPassword              string
	DBName                  string
	DBSSLMode               string
	Port                    string
	SMTPListenAddr          string
	SMTPDomain              string
	MailerSendWebhookSecret string
	IMAPPollInterval        time.Duration
	IMAPCaptureEnabled      bool
	Timezone                string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("LEADSUP_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	pollInterval, err := time.ParseDuration(getEnvOrDefault("LEADSUP_IMAP_POLL_INTERVAL", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEADSUP_IMAP_POLL_INTERVAL: %w", err)
	}

	config := &Config{
		Environment:             env,
		EncryptionKeyBase64:     os.Getenv("LEADSUP_ENCRYPTION_KEY_BASE64"),
		DBHost:                  getEnvOrDefault("LEADSUP_DB_HOST", "localhost"),
		DBPort:                  getEnvOrDefault("LEADSUP_DB_PORT", "5432"),
		DBUsername:              getEnvOrDefault("LEADSUP_DB_USER", "leadsup"),
		DBPassword:              os.Getenv("LEADSUP_DB_PASSWORD"),
		DBName:                  getEnvOrDefault("LEADSUP_DB_NAME", "leadsup"),
		DBSSLMode:               getEnvOrDefault("LEADSUP_DB_SSLMODE", "disable"),
		Port:                    getEnvOrDefault("PORT", "8080"),
		SMTPListenAddr:          os.Getenv("LEADSUP_SMTP_LISTEN_ADDR"),
		SMTPDomain:              getEnvOrDefault("LEADSUP_SMTP_DOMAIN", "reply.leadsup.io"),
		MailerSendWebhookSecret: os.Getenv("LEADSUP_MAILERSEND_WEBHOOK_SECRET"),
		IMAPPollInterval:        pollInterval,
		IMAPCaptureEnabled:      os.Getenv("LEADSUP_IMAP_CAPTURE") == "true",
		Timezone:                getEnvOrDefault("TZ", "UTC"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("LEADSUP_DB_PASSWORD is required")
	}

	if c.IMAPCaptureEnabled && c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("LEADSUP_ENCRYPTION_KEY_BASE64 is required when IMAP capture is enabled")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
