package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port   string
	DBConn string

	// Engine knobs
	ScanIntervalMinutes int
	UpcomingWindowDays  int
	DefaultThreshold    int

	// Reminder delivery
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
	ExpoPushURL  string
}

// NewConfig loads configuration from environment variables. A .env file in
// the working directory is loaded first when present.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		DBConn:       getEnv("DB_CONN", "host=localhost port=5432 user=test password=test dbname=installments sslmode=disable"),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SenderEmail:  getEnv("SENDER_EMAIL", "reminders@installments.local"),
		ExpoPushURL:  getEnv("EXPO_PUSH_URL", ""),
	}

	var err error
	if cfg.ScanIntervalMinutes, err = getEnvInt("SCAN_INTERVAL_MINUTES", 15); err != nil {
		return nil, err
	}
	if cfg.UpcomingWindowDays, err = getEnvInt("UPCOMING_WINDOW_DAYS", 3); err != nil {
		return nil, err
	}
	if cfg.DefaultThreshold, err = getEnvInt("DEFAULT_THRESHOLD", 3); err != nil {
		return nil, err
	}

	if cfg.ScanIntervalMinutes < 1 {
		return nil, fmt.Errorf("SCAN_INTERVAL_MINUTES must be at least 1")
	}
	if cfg.UpcomingWindowDays < 0 {
		return nil, fmt.Errorf("UPCOMING_WINDOW_DAYS cannot be negative")
	}
	if cfg.DefaultThreshold < 1 {
		return nil, fmt.Errorf("DEFAULT_THRESHOLD must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
