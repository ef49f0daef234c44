// latestfiles-mount mounts a collection's channel pointers as a
// read-only FUSE filesystem. Each channel appears as one file whose
// content is the channel's current object key.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cbhacks/latestfiles/internal/pointerfs"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("LATESTFILES_BASE_URL", "http://127.0.0.1:8080"), "latestfiles base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("LATESTFILES_TOKEN")), "bearer token")
	collectionID := flag.String("collection", strings.TrimSpace(os.Getenv("LATESTFILES_COLLECTION")), "collection ID")
	mountpoint := flag.String("mountpoint", strings.TrimSpace(os.Getenv("LATESTFILES_MOUNTPOINT")), "mount directory")
	ttl := flag.Duration("ttl", durationEnv("LATESTFILES_MOUNT_TTL", 5*time.Second), "channel list cache TTL")
	timeout := flag.Duration("timeout", durationEnv("LATESTFILES_MOUNT_TIMEOUT", 15*time.Second), "per-request timeout")
	debug := flag.Bool("debug", false, "log FUSE traffic")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or LATESTFILES_TOKEN)")
	}
	if strings.TrimSpace(*collectionID) == "" {
		log.Fatalf("collection is required (--collection or LATESTFILES_COLLECTION)")
	}
	if strings.TrimSpace(*mountpoint) == "" {
		log.Fatalf("mountpoint is required (--mountpoint or LATESTFILES_MOUNTPOINT)")
	}

	client := pointerfs.NewHTTPClient(*baseURL, *token, &http.Client{Timeout: *timeout})
	server, err := pointerfs.Mount(*mountpoint, client, strings.TrimSpace(*collectionID), *ttl, *debug)
	if err != nil {
		log.Fatalf("mount failed: %v", err)
	}
	log.Printf("mounted collection %s at %s", *collectionID, *mountpoint)

	rootCtx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	go func() {
		<-rootCtx.Done()
		log.Printf("unmounting: %v", rootCtx.Err())
		if err := server.Unmount(); err != nil {
			log.Printf("unmount failed, try fusermount -u %s: %v", *mountpoint, err)
		}
	}()

	server.Wait()
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
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
