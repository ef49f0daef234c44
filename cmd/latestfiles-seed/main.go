// latestfiles-seed applies one creation event directly against the
// channel store, bypassing the API. Useful for backfilling pointers
// after registering channels over existing objects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cbhacks/latestfiles/internal/latestfiles"
)

func main() {
	storeDSN := flag.String("store-dsn", envOrDefault("LATESTFILES_STORE_DSN", ""), "channel store DSN")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: latestfiles-seed [flags] <collection-id> <object-key>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	collectionID := strings.TrimSpace(flag.Arg(0))
	objectKey := flag.Arg(1)
	if strings.TrimSpace(*storeDSN) == "" {
		log.Fatalf("store DSN is required (--store-dsn or LATESTFILES_STORE_DSN)")
	}

	store, err := latestfiles.BuildChannelStoreFromDSN(*storeDSN)
	if err != nil {
		log.Fatalf("failed to initialize channel store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	updater := latestfiles.NewUpdater(store)
	report, err := updater.Apply(ctx, latestfiles.CreationEvent{
		CollectionID: collectionID,
		ObjectKey:    objectKey,
	})
	if err != nil {
		log.Fatalf("seed failed: %v", err)
	}

	if len(report.Channels) == 0 {
		fmt.Printf("no channels matched %s in %s\n", objectKey, collectionID)
		return
	}
	for _, result := range report.Channels {
		fmt.Printf("%s\t%s\n", result.ChannelID, result.Outcome)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
