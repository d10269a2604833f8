package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (per-IP rate limiting)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       string

	// Email Configuration
	EmailFrom     string
	EmailFromName string
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SMTPUseTLS    bool

	// Verification tokens
	TokenTTLMinutes  int
	TokenByteLength  int
	TokenMaxAttempts int

	// Resend rate limiting (sliding window, per subject)
	ResendMaxAttempts   int
	ResendWindowMinutes int

	// Per-IP rate limiting (middleware)
	IPRateLimitMaxRequests   int
	IPRateLimitWindowSeconds int

	// RateLimitFailureMode decides what happens when the limiter backend
	// itself errors: "fail_closed" denies the request, "fail_open" lets it
	// through. Default is fail_closed for the token endpoints.
	RateLimitFailureMode string

	// Frontend URL (verification links)
	FrontendURL string

	// Service
	VerificationServiceURL string
}

var cfg *Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	envPaths := []string{".env", "../.env", "../../.env"}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Environment loaded from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg = &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "mailverify"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),

		// Email Configuration
		EmailFrom:     getEnv("EMAIL_FROM", "noreply@mailverify.local"),
		EmailFromName: getEnv("EMAIL_FROM_NAME", "MailVerify"),
		SMTPHost:      getEnv("SMTP_HOST", "smtp.example.com"),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SMTPUseTLS:    getEnvAsBool("SMTP_USE_TLS", false),

		// Verification tokens
		TokenTTLMinutes:  getEnvAsInt("TOKEN_TTL_MINUTES", 1440),
		TokenByteLength:  getEnvAsInt("TOKEN_BYTE_LENGTH", 32),
		TokenMaxAttempts: getEnvAsInt("TOKEN_MAX_ATTEMPTS", 5),

		// Resend rate limiting
		ResendMaxAttempts:   getEnvAsInt("RESEND_MAX_ATTEMPTS", 3),
		ResendWindowMinutes: getEnvAsInt("RESEND_WINDOW_MINUTES", 60),

		// Per-IP rate limiting
		IPRateLimitMaxRequests:   getEnvAsInt("IP_RATE_LIMIT_MAX_REQUESTS", 30),
		IPRateLimitWindowSeconds: getEnvAsInt("IP_RATE_LIMIT_WINDOW_SECONDS", 60),

		RateLimitFailureMode: getEnv("RATE_LIMIT_FAILURE_MODE", "fail_closed"),

		// Frontend URL
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Service
		VerificationServiceURL: getEnv("VERIFICATION_SERVICE_URL", "http://localhost:8001"),
	}

	log.Println("Configuration loaded successfully")
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	if cfg == nil {
		LoadConfig()
	}
	return cfg
}

// TokenTTL returns the verification token lifetime
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// ResendWindow returns the sliding-window size for resend rate limiting
func (c *Config) ResendWindow() time.Duration {
	return time.Duration(c.ResendWindowMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	strValue := getEnv(key, "")
	if strValue == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	strValue := getEnv(key, "")
	if strValue == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(strValue)
	if err != nil {
		log.Printf("Warning: could not convert %s value '%s' to int, using default %d", key, strValue, defaultValue)
		return defaultValue
	}
	return value
}
