package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cbhacks/latestfiles/internal/latestfiles"
)

type ServerConfig struct {
	JWTSecret          string
	InternalHMACSecret string
	InternalMaxSkew    time.Duration
	RateLimitMax       int
	RateLimitWindow    time.Duration
	MaxBodyBytes       int64
}

type Server struct {
	tracker            *latestfiles.Tracker
	store              latestfiles.ChannelStore
	cfg                ServerConfig
	rateLimiter        *rateLimiter
	internalReplayMu   sync.Mutex
	internalReplaySeen map[string]time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(tracker *latestfiles.Tracker, store latestfiles.ChannelStore) *Server {
	return NewServerWithConfig(tracker, store, ServerConfig{})
}

func NewServerWithConfig(tracker *latestfiles.Tracker, store latestfiles.ChannelStore, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.InternalHMACSecret == "" {
		cfg.InternalHMACSecret = "dev-internal-secret"
	}
	if cfg.InternalMaxSkew == 0 {
		cfg.InternalMaxSkew = 5 * time.Minute
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		tracker:            tracker,
		store:              store,
		cfg:                cfg,
		rateLimiter:        limiter,
		internalReplaySeen: map[string]time.Time{},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if r.URL.Path == "/v1/notifications" && r.Method == http.MethodPost {
		s.handleNotification(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "collections" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	collectionID := parts[2]

	var requiredScope string
	var route string
	switch {
	case len(parts) == 4 && parts[3] == "channels" && r.Method == http.MethodGet:
		requiredScope = "channels:read"
		route = "list_channels"
	case len(parts) == 5 && parts[3] == "channels" && r.Method == http.MethodGet:
		requiredScope = "channels:read"
		route = "get_channel"
	case len(parts) == 5 && parts[3] == "channels" && r.Method == http.MethodPut:
		requiredScope = "channels:write"
		route = "put_channel"
	case len(parts) == 4 && parts[3] == "seed" && r.Method == http.MethodPost:
		requiredScope = "events:seed"
		route = "seed"
	case len(parts) == 5 && parts[3] == "updates" && parts[4] == "stream" && r.Method == http.MethodGet:
		requiredScope = "updates:read"
		route = "updates_stream"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, collectionID, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" && route != "updates_stream" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil {
		key := collectionID + "|" + claims.ClientName
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	switch route {
	case "list_channels":
		s.handleListChannels(w, r, collectionID, correlationID)
	case "get_channel":
		s.handleGetChannel(w, r, collectionID, parts[4], correlationID)
	case "put_channel":
		s.handlePutChannel(w, r, collectionID, parts[4], correlationID)
	case "seed":
		s.handleSeed(w, r, collectionID, correlationID)
	case "updates_stream":
		s.handleUpdatesStream(w, r, collectionID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

// handleNotification ingests a raw provider notification. Transport
// services authenticate with the internal HMAC scheme, not bearer
// tokens; redeliveries past the skew window are rejected outright.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	now := time.Now().UTC()
	if authErr := verifyInternalHMAC(
		s.cfg.InternalHMACSecret,
		r.Header.Get("X-Latest-Timestamp"),
		r.Header.Get("X-Latest-Signature"),
		body,
		now,
		s.cfg.InternalMaxSkew,
	); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if !s.markInternalReplaySeen(r.Header.Get("X-Latest-Timestamp"), r.Header.Get("X-Latest-Signature"), now) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "internal request replay detected", correlationID)
		return
	}

	report, err := s.tracker.ProcessPayload(r.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, latestfiles.ErrMalformedEvent):
			writeError(w, http.StatusBadRequest, "malformed_event", err.Error(), correlationID)
		case errors.Is(err, latestfiles.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePutChannel(w http.ResponseWriter, r *http.Request, collectionID, channelID, correlationID string) {
	var body struct {
		Pattern string `json:"pattern"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if strings.TrimSpace(body.Pattern) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing pattern", correlationID)
		return
	}
	if _, err := regexp.Compile(body.Pattern); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "pattern does not compile: "+err.Error(), correlationID)
		return
	}

	err := s.store.PutChannel(r.Context(), latestfiles.Channel{
		CollectionID: collectionID,
		ChannelID:    channelID,
		Pattern:      body.Pattern,
	})
	if err != nil {
		if errors.Is(err, latestfiles.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	channel, err := s.store.GetChannel(r.Context(), collectionID, channelID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, channel)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request, collectionID, channelID, correlationID string) {
	channel, err := s.store.GetChannel(r.Context(), collectionID, channelID)
	if err != nil {
		if errors.Is(err, latestfiles.ErrChannelNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
			return
		}
		if errors.Is(err, latestfiles.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, channel)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request, collectionID, correlationID string) {
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	page, err := s.store.ListChannels(r.Context(), collectionID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, latestfiles.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleSeed applies a creation event without going through payload
// normalization or announcements. Used for backfills.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request, collectionID, correlationID string) {
	var body struct {
		ObjectKey string `json:"objectKey"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if strings.TrimSpace(body.ObjectKey) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing objectKey", correlationID)
		return
	}

	report, err := s.tracker.Seed(r.Context(), latestfiles.CreationEvent{
		CollectionID: collectionID,
		ObjectKey:    body.ObjectKey,
	})
	if err != nil {
		if errors.Is(err, latestfiles.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

const streamWriteTimeout = 10 * time.Second

// handleUpdatesStream upgrades to a websocket and pushes every update
// report for the collection until the client goes away.
func (s *Server) handleUpdatesStream(w http.ResponseWriter, r *http.Request, collectionID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := conn.CloseRead(r.Context())
	reports, cancel := s.tracker.Subscribe(16)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case report := <-reports:
			if report.CollectionID != collectionID {
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, report)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func (s *Server) markInternalReplaySeen(timestamp, signature string, now time.Time) bool {
	key := strings.TrimSpace(strings.ToLower(timestamp)) + "|" + strings.TrimSpace(strings.ToLower(signature))
	if key == "|" {
		return false
	}
	window := s.cfg.InternalMaxSkew
	if window <= 0 {
		window = 5 * time.Minute
	}
	s.internalReplayMu.Lock()
	defer s.internalReplayMu.Unlock()
	for replayKey, expiresAt := range s.internalReplaySeen {
		if !now.Before(expiresAt) {
			delete(s.internalReplaySeen, replayKey)
		}
	}
	if expiresAt, exists := s.internalReplaySeen[key]; exists && now.Before(expiresAt) {
		return false
	}
	s.internalReplaySeen[key] = now.Add(window)
	return true
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}
