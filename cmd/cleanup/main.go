// Command cleanup deletes terminal and long-expired verification rows.
// Token validity is derived at read time, so this sweep is storage hygiene
// only and can be run (or skipped) on any schedule.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"mailverify-backend/shared/config"
	"mailverify-backend/shared/database"
	"mailverify-backend/verification-service/ratelimit"
	"mailverify-backend/verification-service/store"
)

func main() {
	retentionDays := flag.Int("retention-days", 30, "delete rows older than this many days")
	flag.Parse()

	config.LoadConfig()
	cfg := config.GetConfig()

	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.CloseDatabase()

	db := database.GetDB()
	cutoff := time.Now().UTC().AddDate(0, 0, -*retentionDays)
	ctx := context.Background()

	tokenStore := store.NewTokenStore(db)
	tokens, err := tokenStore.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Token cleanup failed: %v", err)
	}

	limiter := ratelimit.NewLimiter(db, cfg.ResendMaxAttempts, cfg.ResendWindow())
	attempts, err := limiter.DeleteAttemptsBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Attempt cleanup failed: %v", err)
	}

	log.Printf("Cleanup complete: removed %d tokens and %d resend attempts older than %s",
		tokens, attempts, cutoff.Format(time.RFC3339))
}
