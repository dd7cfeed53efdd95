package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	ListenAddr    string
	DatabasePath  string
	WebhookSecret string
	CountryCode   string

	// Transport selects the outbound channel implementation:
	// "whatsapp" for a linked device, "log" for a dry-run sender.
	Transport       string
	WhatsAppDataDir string

	PollInterval    time.Duration
	PlannerInterval time.Duration
	BatchSize       int
	MaxAttempts     int
	RetryBackoff    time.Duration
	ItemTimeout     time.Duration
	PlannerHorizon  time.Duration
	MorningHour     int
	Retention       time.Duration
}

// Load reads configuration from the environment, with an optional .env
// file, falling back to defaults.
func Load() *Config {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	return &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DatabasePath:    getEnv("DATABASE_PATH", "data/wedding-notify.db"),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		CountryCode:     getEnv("PHONE_COUNTRY_CODE", "972"),
		Transport:       getEnv("TRANSPORT", "log"),
		WhatsAppDataDir: getEnv("WHATSAPP_DATA_DIR", "data"),
		PollInterval:    getDuration("POLL_INTERVAL", time.Minute),
		PlannerInterval: getDuration("PLANNER_INTERVAL", time.Hour),
		BatchSize:       getInt("SCHEDULER_BATCH_SIZE", 50),
		MaxAttempts:     getInt("SCHEDULER_MAX_ATTEMPTS", 3),
		RetryBackoff:    getDuration("SCHEDULER_RETRY_BACKOFF", time.Hour),
		ItemTimeout:     getDuration("SCHEDULER_ITEM_TIMEOUT", 30*time.Second),
		PlannerHorizon:  getDuration("PLANNER_HORIZON", 7*24*time.Hour),
		MorningHour:     getInt("MORNING_HOUR", 9),
		Retention:       getDuration("EXECUTION_RETENTION", 30*24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
