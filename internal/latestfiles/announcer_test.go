package latestfiles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookAnnouncerPostsEmbed(t *testing.T) {
	var gotFrom, gotWait string
	var gotBody announceBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.Header.Get("From")
		gotWait = r.URL.Query().Get("wait")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	announcer, err := NewWebhookAnnouncer(AnnouncerOptions{
		WebhookURL: server.URL,
		FromEmail:  "ops@example.com",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new announcer: %v", err)
	}

	err = announcer.Announce(context.Background(), CreationEvent{
		CollectionID: "builds.example.com",
		ObjectKey:    "nightly/2024-06-01.zip",
	})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if gotFrom != "ops@example.com" {
		t.Fatalf("missing From header, got %q", gotFrom)
	}
	if gotWait != "true" {
		t.Fatalf("wait param not set, got %q", gotWait)
	}
	if len(gotBody.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(gotBody.Embeds))
	}
	embed := gotBody.Embeds[0]
	if embed.Title != "2024-06-01.zip" {
		t.Fatalf("title should be the last path segment, got %q", embed.Title)
	}
	if embed.URL != "https://builds.example.com/nightly/2024-06-01.zip" {
		t.Fatalf("unexpected embed url: %q", embed.URL)
	}
}

func TestWebhookAnnouncerTitleWithoutSlash(t *testing.T) {
	if got := lastPathSegment("plain.zip"); got != "plain.zip" {
		t.Fatalf("unexpected segment: %q", got)
	}
}

func TestWebhookAnnouncerErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such webhook", http.StatusNotFound)
	}))
	defer server.Close()

	announcer, err := NewWebhookAnnouncer(AnnouncerOptions{
		WebhookURL: server.URL,
		FromEmail:  "ops@example.com",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new announcer: %v", err)
	}
	if err := announcer.Announce(context.Background(), CreationEvent{CollectionID: "c", ObjectKey: "k"}); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestNewWebhookAnnouncerValidatesOptions(t *testing.T) {
	if _, err := NewWebhookAnnouncer(AnnouncerOptions{FromEmail: "x@y"}); err == nil {
		t.Fatalf("expected error for missing webhook url")
	}
	if _, err := NewWebhookAnnouncer(AnnouncerOptions{WebhookURL: "https://x"}); err == nil {
		t.Fatalf("expected error for missing from email")
	}
}
