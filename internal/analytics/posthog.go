package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Setup configuration keys understood by the PostHog provider.
const (
	PostHogAPIKey = "ApiKey"
	PostHogHost   = "Host"
)

const defaultPostHogHost = "https://app.posthog.com"

// PostHogProvider sends calls to the PostHog capture endpoint. PostHog keeps no
// client-side identity, so the active distinct id and globals live here.
type PostHogProvider struct {
	client  *http.Client
	logger  *slog.Logger
	globals *Globals
	timings *Timings

	anonymousID string

	mu         sync.RWMutex
	apiKey     string
	host       string
	distinctID string
}

type PostHogOption func(*PostHogProvider)

// WithPostHogAnonymousID sets the id used before Identify and after Reset.
// Identify links it to the identified user.
func WithPostHogAnonymousID(id string) PostHogOption {
	return func(c *PostHogProvider) { c.anonymousID = strings.TrimSpace(id) }
}

func NewPostHog(apiKey string, host string, opts ...PostHogOption) *PostHogProvider {
	c := &PostHogProvider{
		apiKey:  strings.TrimSpace(apiKey),
		host:    normalizeHost(host),
		client:  &http.Client{Timeout: 3 * time.Second},
		logger:  slog.Default(),
		globals: NewGlobals(),
		timings: NewTimings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalizeHost(host string) string {
	base := strings.TrimRight(strings.TrimSpace(host), "/")
	if base == "" {
		return defaultPostHogHost
	}
	return base
}

func (c *PostHogProvider) Name() string { return "posthog" }

func (c *PostHogProvider) Setup(_ context.Context, configuration Properties) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := configuration[PostHogAPIKey].(string); ok {
		c.apiKey = strings.TrimSpace(key)
	}
	if host, ok := configuration[PostHogHost].(string); ok {
		c.host = normalizeHost(host)
	}
}

// Flush has nothing to do: every capture is sent synchronously.
func (c *PostHogProvider) Flush(context.Context) {}

func (c *PostHogProvider) Reset(context.Context) {
	c.mu.Lock()
	c.distinctID = ""
	c.mu.Unlock()
	c.globals.Clear()
	c.timings.Clear()
}

func (c *PostHogProvider) Event(ctx context.Context, name string, props Properties) {
	c.capture(ctx, name, c.currentID(), c.globals.Merge(props))
}

func (c *PostHogProvider) Screen(ctx context.Context, name string, props Properties) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	c.capture(ctx, "$screen", c.currentID(), merge(c.globals.Merge(props), Properties{"$screen_name": name}))
}

func (c *PostHogProvider) Time(_ context.Context, name string, props Properties) {
	c.timings.Start(name, props)
}

func (c *PostHogProvider) Finish(ctx context.Context, name string, props Properties) {
	if finished, ok := c.timings.Finish(name, props); ok {
		c.Event(ctx, name, finished)
	}
}

func (c *PostHogProvider) Identify(ctx context.Context, userID string, props Properties) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	c.mu.Lock()
	previous := c.distinctID
	c.distinctID = userID
	c.mu.Unlock()
	if previous == "" {
		previous = c.anonymousID
	}

	properties := Properties{}
	if previous != "" && previous != userID {
		properties["$anon_distinct_id"] = previous
	}
	if props != nil {
		properties["$set"] = props
	}
	c.capture(ctx, "$identify", userID, properties)
}

func (c *PostHogProvider) Alias(ctx context.Context, userID string, forID string) {
	forID = strings.TrimSpace(forID)
	if forID == "" || strings.TrimSpace(userID) == "" {
		return
	}

	c.capture(ctx, "$create_alias", forID, Properties{"alias": userID})

	c.mu.Lock()
	c.distinctID = forID
	c.mu.Unlock()
}

func (c *PostHogProvider) Set(ctx context.Context, props Properties) {
	if len(props) == 0 {
		return
	}
	c.capture(ctx, "$set", c.currentID(), Properties{"$set": props})
}

func (c *PostHogProvider) Increment(ctx context.Context, property string, _ float64) {
	c.logger.DebugContext(ctx, "posthog has no increment; call ignored", "property", property)
}

func (c *PostHogProvider) Global(_ context.Context, props Properties, overwrite bool) {
	c.globals.Register(props, overwrite)
}

func (c *PostHogProvider) Purchase(ctx context.Context, amount float64, props Properties) {
	c.Event(ctx, EventPurchase, merge(props, Properties{PropertyAmount: amount}))
}

func (c *PostHogProvider) AddDevice(ctx context.Context, _ []byte) {
	c.logger.DebugContext(ctx, "posthog has no device registry; call ignored")
}

func (c *PostHogProvider) Push(ctx context.Context, _ map[string]any, event string) {
	c.logger.DebugContext(ctx, "posthog has no push tracking; call ignored", "event", event)
}

func (c *PostHogProvider) currentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.distinctID
}

func (c *PostHogProvider) capture(ctx context.Context, event string, distinctID string, props Properties) {
	c.mu.RLock()
	apiKey, host := c.apiKey, c.host
	c.mu.RUnlock()

	if apiKey == "" {
		return
	}
	name := strings.TrimSpace(event)
	if name == "" {
		return
	}

	distinctID = strings.TrimSpace(distinctID)
	if distinctID == "" {
		distinctID = c.anonymousID
	}
	if distinctID == "" {
		distinctID = "anonymous"
	}

	body, err := json.Marshal(map[string]any{
		"api_key":     apiKey,
		"event":       name,
		"distinct_id": distinctID,
		"properties":  props,
	})
	if err != nil {
		c.logger.DebugContext(ctx, "failed to encode posthog event", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/capture/", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "posthog capture failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.DebugContext(ctx, "posthog capture non-2xx", "status", resp.StatusCode, "event", name)
	}
}
