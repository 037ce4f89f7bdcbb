// Package mixpanel is a small stateful Mixpanel client: it keeps the active
// identity, super properties and event timers in process and hands every
// message to github.com/dukex/mixpanel for delivery.
package mixpanel

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	mp "github.com/dukex/mixpanel"
	"github.com/google/uuid"

	"analytical/internal/errorreporting"
)

const (
	// DefaultPushEvent is tracked when a push notification arrives without an explicit event name.
	DefaultPushEvent = "$campaign_received"

	durationProperty = "$duration"
)

// Instance is the capability surface of a Mixpanel client.
type Instance interface {
	Track(ctx context.Context, event string, props Properties)
	Time(ctx context.Context, event string)
	Identify(ctx context.Context, distinctID string)
	CreateAlias(ctx context.Context, alias string, distinctID string)
	RegisterSuperProperties(ctx context.Context, props Properties)
	RegisterSuperPropertiesOnce(ctx context.Context, props Properties)
	TrackPushNotification(ctx context.Context, payload map[string]any)
	TrackPushNotificationEvent(ctx context.Context, payload map[string]any, event string)
	Flush(ctx context.Context)
	Reset(ctx context.Context)
	People() People
}

// People updates the profile of the active identity.
type People interface {
	Set(ctx context.Context, props Properties)
	Increment(ctx context.Context, property string, by float64)
	TrackCharge(ctx context.Context, amount float64, props Properties)
	AddPushDeviceToken(ctx context.Context, token []byte)
}

// Sender delivers messages to the Mixpanel ingestion API. The dukex client satisfies it.
type Sender interface {
	Track(distinctID string, eventName string, e *mp.Event) error
	Update(distinctID string, u *mp.Update) error
	Alias(distinctID string, newID string) error
}

type Client struct {
	key      string
	sender   Sender
	store    StateStore
	reporter errorreporting.Reporter
	now      func() time.Time
	newID    func() string

	mu     sync.Mutex
	id     string
	super  Properties
	timers map[string]time.Time
}

type options struct {
	sender     Sender
	apiURL     string
	httpClient *http.Client
	store      StateStore
	reporter   errorreporting.Reporter
	now        func() time.Time
	newID      func() string
	session    string
}

type Option func(*options)

func WithSender(sender Sender) Option {
	return func(o *options) { o.sender = sender }
}

func WithAPIURL(apiURL string) Option {
	return func(o *options) { o.apiURL = apiURL }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func WithStore(store StateStore) Option {
	return func(o *options) { o.store = store }
}

func WithReporter(reporter errorreporting.Reporter) Option {
	return func(o *options) { o.reporter = reporter }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithSession scopes the client to one caller. The session id is the starting
// distinct id and the state is archived under "<token>:<session>".
func WithSession(session string) Option {
	return func(o *options) { o.session = session }
}

// Initialize creates a client for the project token and restores any archived
// state for it.
func Initialize(ctx context.Context, token string, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.sender == nil {
		httpClient := o.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 3 * time.Second}
		}
		o.sender = mp.NewFromClient(httpClient, token, o.apiURL)
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	if o.reporter == nil {
		o.reporter = errorreporting.NewConsole()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.NewString() }
	}

	key := token
	if o.session != "" {
		key = token + ":" + o.session
	}

	c := &Client{
		key:      key,
		sender:   o.sender,
		store:    o.store,
		reporter: o.reporter,
		now:      o.now,
		newID:    o.newID,
		super:    Properties{},
		timers:   map[string]time.Time{},
	}

	state, found, err := c.store.Load(ctx, c.key)
	if err != nil {
		c.report(ctx, "load_state", err)
	}
	if found {
		c.id = state.DistinctID
		if super, ok := Narrow(state.SuperProperties); ok && super != nil {
			c.super = super
		}
	}
	if c.id == "" {
		c.id = o.session
	}
	if c.id == "" {
		c.id = c.newID()
	}

	return c
}

// DistinctID returns the identity messages are currently sent under.
func (c *Client) DistinctID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) Track(ctx context.Context, event string, props Properties) {
	if event == "" {
		return
	}

	now := c.now()

	c.mu.Lock()
	merged := c.super.clone()
	for k, v := range props {
		merged[k] = v
	}
	if started, ok := c.timers[event]; ok {
		merged[durationProperty] = Float(now.Sub(started).Seconds())
		delete(c.timers, event)
	}
	id := c.id
	c.mu.Unlock()

	err := c.sender.Track(id, event, &mp.Event{Timestamp: &now, Properties: merged.Raw()})
	if err != nil {
		c.report(ctx, "track", err)
	}
}

func (c *Client) Time(_ context.Context, event string) {
	if event == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers[event] = c.now()
}

func (c *Client) Identify(_ context.Context, distinctID string) {
	if distinctID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = distinctID
}

// CreateAlias links alias to the existing distinctID.
func (c *Client) CreateAlias(ctx context.Context, alias string, distinctID string) {
	if alias == "" || distinctID == "" || alias == distinctID {
		return
	}

	if err := c.sender.Alias(distinctID, alias); err != nil {
		c.report(ctx, "create_alias", err)
	}
}

func (c *Client) RegisterSuperProperties(_ context.Context, props Properties) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range props {
		c.super[k] = v
	}
}

func (c *Client) RegisterSuperPropertiesOnce(_ context.Context, props Properties) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range props {
		if _, exists := c.super[k]; !exists {
			c.super[k] = v
		}
	}
}

func (c *Client) TrackPushNotification(ctx context.Context, payload map[string]any) {
	c.trackPush(ctx, payload, DefaultPushEvent)
}

func (c *Client) TrackPushNotificationEvent(ctx context.Context, payload map[string]any, event string) {
	if event == "" {
		event = DefaultPushEvent
	}
	c.trackPush(ctx, payload, event)
}

// trackPush only records notifications sent through Mixpanel campaigns, which
// carry the campaign and message ids under "mp".
func (c *Client) trackPush(ctx context.Context, payload map[string]any, event string) {
	info, ok := payload["mp"].(map[string]any)
	if !ok {
		return
	}

	if info["c"] == nil || info["m"] == nil {
		return
	}
	campaign, ok := ToValue(info["c"])
	if !ok {
		return
	}
	message, ok := ToValue(info["m"])
	if !ok {
		return
	}

	c.Track(ctx, event, Properties{
		"campaign_id":  campaign,
		"message_id":   message,
		"message_type": String("push"),
	})
}

// Flush archives the current state. Messages are delivered as they are
// produced, so there is nothing else pending.
func (c *Client) Flush(ctx context.Context) {
	if err := c.store.Save(ctx, c.key, c.snapshot()); err != nil {
		c.report(ctx, "flush", err)
	}
}

// Reset forgets the identity, super properties and timers and starts over
// under a fresh anonymous id.
func (c *Client) Reset(ctx context.Context) {
	c.mu.Lock()
	c.id = c.newID()
	c.super = Properties{}
	c.timers = map[string]time.Time{}
	c.mu.Unlock()

	if err := c.store.Save(ctx, c.key, c.snapshot()); err != nil {
		c.report(ctx, "reset", err)
	}
}

func (c *Client) People() People {
	return &people{client: c}
}

func (c *Client) snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{DistinctID: c.id, SuperProperties: c.super.Raw()}
}

func (c *Client) update(ctx context.Context, operation string, props map[string]any) {
	id := c.DistinctID()
	if err := c.sender.Update(id, &mp.Update{Operation: operation, Properties: props}); err != nil {
		c.report(ctx, operation, err)
	}
}

func (c *Client) report(ctx context.Context, operation string, err error) {
	errorreporting.Capture(ctx, c.reporter, fmt.Errorf("mixpanel %s: %w", operation, err), map[string]string{
		"vendor":    "mixpanel",
		"operation": operation,
	})
}

type people struct {
	client *Client
}

func (p *people) Set(ctx context.Context, props Properties) {
	if len(props) == 0 {
		return
	}
	p.client.update(ctx, "$set", props.Raw())
}

func (p *people) Increment(ctx context.Context, property string, by float64) {
	if property == "" {
		return
	}
	p.client.update(ctx, "$add", map[string]any{property: by})
}

func (p *people) TrackCharge(ctx context.Context, amount float64, props Properties) {
	transaction := props.Raw()
	if transaction == nil {
		transaction = map[string]any{}
	}
	transaction["$amount"] = amount
	transaction["$time"] = p.client.now().UTC().Format(dateLayout)

	p.client.update(ctx, "$append", map[string]any{"$transactions": transaction})
}

func (p *people) AddPushDeviceToken(ctx context.Context, token []byte) {
	if len(token) == 0 {
		return
	}
	p.client.update(ctx, "$union", map[string]any{"$ios_devices": []any{hex.EncodeToString(token)}})
}
