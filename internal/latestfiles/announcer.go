package latestfiles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Announcer posts a human-facing announcement for a freshly created
// object. Failures never fail the invocation that triggered them.
type Announcer interface {
	Announce(ctx context.Context, event CreationEvent) error
}

type AnnouncerOptions struct {
	// WebhookURL is a Discord-compatible webhook endpoint.
	WebhookURL string
	// FromEmail is sent as the From header so the endpoint operator can
	// reach whoever runs this deployment.
	FromEmail  string
	UserAgent  string
	HTTPClient *http.Client
}

type WebhookAnnouncer struct {
	webhookURL string
	fromEmail  string
	userAgent  string
	httpClient *http.Client
}

func NewWebhookAnnouncer(opts AnnouncerOptions) (*WebhookAnnouncer, error) {
	webhookURL := strings.TrimSpace(opts.WebhookURL)
	if webhookURL == "" {
		return nil, fmt.Errorf("%w: webhook URL is required", ErrInvalidInput)
	}
	fromEmail := strings.TrimSpace(opts.FromEmail)
	if fromEmail == "" {
		return nil, fmt.Errorf("%w: from email is required", ErrInvalidInput)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookAnnouncer{
		webhookURL: webhookURL,
		fromEmail:  fromEmail,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		httpClient: httpClient,
	}, nil
}

type announceEmbed struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type announceBody struct {
	Embeds []announceEmbed `json:"embeds"`
}

// Announce posts one embed titled with the object key's last path segment
// and linking https://<collection>/<key>. Any non-2xx status is an error.
func (a *WebhookAnnouncer) Announce(ctx context.Context, event CreationEvent) error {
	if a == nil {
		return fmt.Errorf("announcer is nil")
	}
	if event.CollectionID == "" || event.ObjectKey == "" {
		return ErrInvalidInput
	}
	body, err := json.Marshal(announceBody{
		Embeds: []announceEmbed{{
			Title: lastPathSegment(event.ObjectKey),
			URL:   fmt.Sprintf("https://%s/%s", event.CollectionID, event.ObjectKey),
		}},
	})
	if err != nil {
		return err
	}

	requestURL, err := withWaitParam(a.webhookURL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("From", a.fromEmail)
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	message := ""
	if readErr == nil {
		message = strings.TrimSpace(string(respBody))
	}
	return fmt.Errorf("announce failed: status=%d message=%s", resp.StatusCode, message)
}

func withWaitParam(webhookURL string) (string, error) {
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("wait", "true")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func lastPathSegment(objectKey string) string {
	if idx := strings.LastIndex(objectKey, "/"); idx >= 0 {
		return objectKey[idx+1:]
	}
	return objectKey
}
