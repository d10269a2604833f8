package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"mailverify-backend/shared/clients"
	"mailverify-backend/shared/config"
	"mailverify-backend/shared/database"
	"mailverify-backend/verification-service/audit"
	"mailverify-backend/verification-service/handlers"
	"mailverify-backend/verification-service/middleware"
	"mailverify-backend/verification-service/ratelimit"
	"mailverify-backend/verification-service/service"
	"mailverify-backend/verification-service/store"
)

// newIPLimiter prefers Redis so per-IP limits hold across replicas, and
// falls back to the in-process limiter when Redis is unreachable.
func newIPLimiter(cfg *config.Config) middleware.Limiter {
	redisDB, err := strconv.Atoi(cfg.RedisDB)
	if err != nil {
		redisDB = 0
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       redisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Redis unavailable (%v), using in-process rate limiter", err)
		return middleware.NewLocalLimiter(30 * time.Minute)
	}

	log.Println("Redis connection established for rate limiting")
	return middleware.NewRedisLimiter(client)
}

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.GetConfig()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.CloseDatabase()

	db := database.GetDB()

	// Core components
	tokenStore := store.NewTokenStore(db)
	limiter := ratelimit.NewLimiter(db, cfg.ResendMaxAttempts, cfg.ResendWindow())
	recorder := audit.NewRecorder(db)
	users := service.NewGormIdentityStore(db)
	mailer := clients.NewSMTPMailer(cfg)

	verificationService := service.NewService(tokenStore, limiter, users, mailer, recorder, cfg)
	verificationHandler := handlers.NewVerificationHandler(verificationService, users)

	// Per-IP rate limiting for the public endpoints
	ipLimiter := newIPLimiter(cfg)
	ipConfig := middleware.RateLimitConfig{
		MaxRequests: cfg.IPRateLimitMaxRequests,
		TimeWindow:  time.Duration(cfg.IPRateLimitWindowSeconds) * time.Second,
		FailOpen:    cfg.RateLimitFailureMode == "fail_open",
	}

	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Verification endpoints
	router.POST("/api/verification/tokens", verificationHandler.CreateToken)
	router.POST("/api/verification/resend",
		middleware.RateLimitMiddleware(ipLimiter, "resend", ipConfig), verificationHandler.Resend)
	router.GET("/api/verification/verify/:token",
		middleware.RateLimitMiddleware(ipLimiter, "verify", ipConfig), verificationHandler.Verify)
	router.POST("/api/verification/revoke", verificationHandler.Revoke)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "verification",
		})
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	port, err := servicePort(cfg.VerificationServiceURL)
	if err != nil {
		log.Fatalf("Invalid VERIFICATION_SERVICE_URL %q: %v", cfg.VerificationServiceURL, err)
	}
	log.Printf("Verification Service starting on port %s...", port)
	router.Run(":" + port)
}

// servicePort extracts the listen port from the configured service URL
func servicePort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Port() == "" {
		return "", fmt.Errorf("service URL must include a port")
	}
	return u.Port(), nil
}
