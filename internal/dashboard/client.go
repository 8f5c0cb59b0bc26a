// Package dashboard integrates with the user dashboard API: it fetches
// per-tenant optimization preferences and emits optimization events. Both
// paths are best-effort and never block or fail the optimization flow.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/tokenpress/internal/tracing"
)

// sourceHeader identifies this service to the dashboard's event intake.
const sourceHeader = "token-optimizer-middleware"

const (
	fetchTimeout = 3 * time.Second
	emitTimeout  = 5 * time.Second
)

// Client is an HTTP client for the dashboard API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	// OnEvent, when set, is called with "ok" or "error" after each event
	// emission attempt. Used to feed metrics.
	OnEvent func(status string)
}

// NewClient builds a dashboard client. Returns nil when baseURL is empty,
// and a nil *Client is safe to use (all methods no-op).
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: emitTimeout},
	}
}

// FetchConfig retrieves the optimization preferences for a tenant/project.
// Returns nil on any failure so callers fall back to base config.
func (c *Client) FetchConfig(ctx context.Context, tenantID, projectID string) map[string]any {
	if c == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/config/%s/%s", c.baseURL, tenantID, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard config request build failed")
		return nil
	}
	req.Header.Set("X-API-Key", c.apiKey)
	tracing.InjectHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard config fetch failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("dashboard config fetch failed")
		return nil
	}

	var body struct {
		Config map[string]any `json:"config"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Warn().Err(err).Msg("dashboard config decode failed")
		return nil
	}

	log.Debug().Str("tenant", tenantID).Str("project", projectID).Msg("fetched dashboard config")
	return body.Config
}

// ValidateKey asks the dashboard whether a per-user API key is valid. Any
// failure (timeout, non-2xx, client unconfigured) counts as invalid.
func (c *Client) ValidateKey(ctx context.Context, key string) bool {
	if c == nil || key == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/keys/validate", nil)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard key validation request build failed")
		return false
	}
	req.Header.Set("X-API-Key", key)
	req.Header.Set("X-Source", sourceHeader)
	tracing.InjectHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard key validation failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Event is an optimization event sent to the dashboard.
type Event struct {
	EventType string      `json:"event_type"`
	Timestamp string      `json:"timestamp"`
	TenantID  string      `json:"tenant_id"`
	ProjectID string      `json:"project_id"`
	RequestID string      `json:"request_id"`
	TraceID   string      `json:"trace_id"`
	Target    EventTarget `json:"target"`
	Stats     EventStats  `json:"stats"`
}

// EventTarget names the provider and model the request was headed for.
type EventTarget struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// EventStats is the per-request optimization summary.
type EventStats struct {
	TokensBefore     int     `json:"tokens_before"`
	TokensAfter      int     `json:"tokens_after"`
	TokensSaved      int     `json:"tokens_saved"`
	CostSavedUSD     float64 `json:"cost_saved_usd"`
	CompressionRatio float64 `json:"compression_ratio"`
	LatencyMS        int64   `json:"latency_ms"`
	CacheHit         bool    `json:"cache_hit"`
	Route            string  `json:"route"`
	FallbackUsed     bool    `json:"fallback_used"`
}

// NewEvent builds an optimization event with defaults filled in.
func NewEvent(tenantID, projectID, requestID, traceID, provider, model string, stats EventStats) Event {
	if tenantID == "" {
		tenantID = "unknown"
	}
	if projectID == "" {
		projectID = "unknown"
	}
	if requestID == "" {
		requestID = traceID
	}
	if provider == "" {
		provider = "none"
	}
	return Event{
		EventType: "token_optimizer.request",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TenantID:  tenantID,
		ProjectID: projectID,
		RequestID: requestID,
		TraceID:   traceID,
		Target:    EventTarget{Provider: provider, Model: model},
		Stats:     stats,
	}
}

// EmitEvent sends an event in a background goroutine. Failures are logged
// and reported through OnEvent, never returned.
func (c *Client) EmitEvent(event Event) {
	if c == nil {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("dashboard event emit: recovered from panic")
			}
		}()
		c.emit(event)
	}()
}

func (c *Client) emit(event Event) {
	status := "error"
	defer func() {
		if c.OnEvent != nil {
			c.OnEvent(status)
		}
	}()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard event marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/events", bytes.NewReader(payload))
	if err != nil {
		log.Warn().Err(err).Msg("dashboard event request build failed")
		return
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Source", sourceHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard event emission failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		status = "ok"
	}
	log.Debug().Str("event_type", event.EventType).Int("status", resp.StatusCode).Msg("emitted dashboard event")
}
