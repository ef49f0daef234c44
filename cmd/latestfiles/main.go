package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cbhacks/latestfiles/internal/dropwatch"
	"github.com/cbhacks/latestfiles/internal/httpapi"
	"github.com/cbhacks/latestfiles/internal/latestfiles"
)

func main() {
	addr := os.Getenv("LATESTFILES_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	storeDSN := strings.TrimSpace(os.Getenv("LATESTFILES_STORE_DSN"))
	if storeDSN == "" {
		storeDSN = "memory://"
	}
	store, err := latestfiles.BuildChannelStoreFromDSN(storeDSN)
	if err != nil {
		log.Fatalf("failed to initialize channel store: %v", err)
	}
	defer store.Close()

	announcer, err := buildAnnouncerFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize announcer: %v", err)
	}

	tracker, err := latestfiles.NewTracker(latestfiles.TrackerOptions{
		Store:     store,
		Announcer: announcer,
		Logger:    log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize tracker: %v", err)
	}

	if watchDir := strings.TrimSpace(os.Getenv("LATESTFILES_WATCH_DIR")); watchDir != "" {
		watcher, err := dropwatch.New(dropwatch.Options{
			Dir:          watchDir,
			CollectionID: strings.TrimSpace(os.Getenv("LATESTFILES_WATCH_COLLECTION")),
			Sink:         tracker,
			Logger:       log.Default(),
		})
		if err != nil {
			log.Fatalf("failed to initialize drop watcher: %v", err)
		}
		go func() {
			if err := watcher.Run(context.Background()); err != nil && err != context.Canceled {
				log.Printf("drop watcher stopped: %v", err)
			}
		}()
		log.Printf("watching drop directory %s", watchDir)
	}

	server := httpapi.NewServerWithConfig(tracker, store, httpapi.ServerConfig{
		JWTSecret:          os.Getenv("LATESTFILES_JWT_SECRET"),
		InternalHMACSecret: os.Getenv("LATESTFILES_INTERNAL_HMAC_SECRET"),
		InternalMaxSkew:    durationEnv("LATESTFILES_INTERNAL_MAX_SKEW", 5*time.Minute),
		RateLimitMax:       intEnv("LATESTFILES_RATE_LIMIT_MAX", 0),
		RateLimitWindow:    durationEnv("LATESTFILES_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:       int64Env("LATESTFILES_MAX_BODY_BYTES", 0),
	})

	log.Printf("latestfiles listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// buildAnnouncerFromEnv returns nil when announcements are not
// configured; both variables are required to turn them on.
func buildAnnouncerFromEnv() (latestfiles.Announcer, error) {
	webhook := strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK"))
	adminEmail := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	if webhook == "" || adminEmail == "" {
		return nil, nil
	}
	return latestfiles.NewWebhookAnnouncer(latestfiles.AnnouncerOptions{
		WebhookURL: webhook,
		FromEmail:  adminEmail,
	})
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
