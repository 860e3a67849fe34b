package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Webhook verification token checked on the GET /webhook handshake.
	// Per-tenant tokens on whatsapp_configurations are accepted as well.
	VerifyToken string

	// Fallback Graph API credentials used when a user has no configuration row.
	WhatsAppAPIURL            string
	WhatsAppToken             string
	PhoneNumberID             string
	PhoneNumber               string
	WhatsAppBusinessAccountID string

	DBDriver   string // postgres or sqlite
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string
	DBPath     string // sqlite only

	WebhookWorkers int
	DedupTTL       time.Duration
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	return &Config{
		Port:                      getEnv("PORT", "8080"),
		VerifyToken:               getEnv("VERIFY_TOKEN", ""),
		WhatsAppAPIURL:            getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0/"),
		WhatsAppToken:             getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:             getEnv("PHONE_NUMBER_ID", ""),
		PhoneNumber:               getEnv("PHONE_NUMBER", ""),
		WhatsAppBusinessAccountID: getEnv("WABA_ID", ""),
		DBDriver:                  getEnv("DB_DRIVER", "postgres"),
		DBHost:                    getEnv("DB_HOST", "localhost"),
		DBUser:                    getEnv("DB_USER", "postgres"),
		DBPassword:                getEnv("DB_PASSWORD", ""),
		DBName:                    getEnv("DB_NAME", "wagateway"),
		DBPort:                    getEnv("DB_PORT", "5432"),
		DBSSLMode:                 getEnv("DB_SSLMODE", "disable"),
		DBPath:                    getEnv("DB_PATH", "./wagateway.db"),
		WebhookWorkers:            getEnvInt("WEBHOOK_WORKERS", 4),
		DedupTTL:                  time.Duration(getEnvInt("WEBHOOK_DEDUP_TTL_SECONDS", 600)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
