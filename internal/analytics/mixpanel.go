package analytics

import (
	"context"
	"log/slog"
	"sync"

	"analytical/internal/mixpanel"
)

// MixpanelAPIToken is the Setup configuration key holding the project token.
const MixpanelAPIToken = "ApiToken"

// mixpanelKeys maps well-known user properties to Mixpanel's reserved names.
var mixpanelKeys = map[string]string{
	PropertyEmail:     "$email",
	PropertyName:      "$name",
	PropertyLastLogin: "$last_login",
}

// MixpanelInitializer creates the vendor client for a token.
type MixpanelInitializer func(ctx context.Context, token string) mixpanel.Instance

type MixpanelProvider struct {
	mu       sync.RWMutex
	token    string
	instance mixpanel.Instance

	initialize MixpanelInitializer
	timings    *Timings
	logger     *slog.Logger
	drops      DropRecorder
}

type MixpanelOption func(*MixpanelProvider)

// WithMixpanelInitializer replaces the function that builds the vendor client.
func WithMixpanelInitializer(initialize MixpanelInitializer) MixpanelOption {
	return func(p *MixpanelProvider) { p.initialize = initialize }
}

// WithMixpanelClientOptions passes options to mixpanel.Initialize.
func WithMixpanelClientOptions(opts ...mixpanel.Option) MixpanelOption {
	return func(p *MixpanelProvider) {
		p.initialize = func(ctx context.Context, token string) mixpanel.Instance {
			return mixpanel.Initialize(ctx, token, opts...)
		}
	}
}

func WithMixpanelLogger(logger *slog.Logger) MixpanelOption {
	return func(p *MixpanelProvider) { p.logger = logger }
}

func WithMixpanelDropRecorder(drops DropRecorder) MixpanelOption {
	return func(p *MixpanelProvider) { p.drops = drops }
}

func NewMixpanel(token string, opts ...MixpanelOption) *MixpanelProvider {
	p := &MixpanelProvider{
		token:   token,
		timings: NewTimings(),
		logger:  slog.Default(),
		initialize: func(ctx context.Context, token string) mixpanel.Instance {
			return mixpanel.Initialize(ctx, token)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MixpanelProvider) Name() string { return "mixpanel" }

// Token returns the token the vendor client is, or will be, initialized with.
func (p *MixpanelProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

func (p *MixpanelProvider) Setup(ctx context.Context, configuration Properties) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if token, ok := configuration[MixpanelAPIToken].(string); ok {
		p.token = token
	}
	p.instance = p.initialize(ctx, p.token)
}

// client returns the vendor client, creating it with the current token the
// first time it is needed.
func (p *MixpanelProvider) client(ctx context.Context) mixpanel.Instance {
	p.mu.RLock()
	instance := p.instance
	p.mu.RUnlock()
	if instance != nil {
		return instance
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instance == nil {
		p.instance = p.initialize(ctx, p.token)
	}
	return p.instance
}

func (p *MixpanelProvider) Flush(ctx context.Context) {
	p.client(ctx).Flush(ctx)
}

func (p *MixpanelProvider) Reset(ctx context.Context) {
	p.timings.Clear()
	p.client(ctx).Reset(ctx)
}

// Event tracks name. Properties Mixpanel cannot hold are left off rather than
// losing the event.
func (p *MixpanelProvider) Event(ctx context.Context, name string, props Properties) {
	p.client(ctx).Track(ctx, name, p.narrowOrNil(ctx, "event", props))
}

// Screen is an ordinary event; Mixpanel has no screen primitive.
func (p *MixpanelProvider) Screen(ctx context.Context, name string, props Properties) {
	p.client(ctx).Track(ctx, name, p.narrowOrNil(ctx, "screen", props))
}

func (p *MixpanelProvider) Time(ctx context.Context, name string, props Properties) {
	p.timings.Start(name, props)
	p.client(ctx).Time(ctx, name)
}

// Finish tracks a timed event. The vendor client adds the duration itself.
// Without a running timer nothing is tracked.
func (p *MixpanelProvider) Finish(ctx context.Context, name string, props Properties) {
	startProps, _, ok := p.timings.Stop(name)
	if !ok {
		return
	}
	p.Event(ctx, name, merge(startProps, props))
}

func (p *MixpanelProvider) Identify(ctx context.Context, userID string, props Properties) {
	p.client(ctx).Identify(ctx, userID)

	if props != nil {
		p.Set(ctx, props)
	}
}

// Alias merges userID into forID and then identifies as forID, because
// creating an alias can leave the vendor client on another identity.
func (p *MixpanelProvider) Alias(ctx context.Context, userID string, forID string) {
	client := p.client(ctx)
	client.CreateAlias(ctx, userID, forID)
	client.Identify(ctx, forID)
}

func (p *MixpanelProvider) Set(ctx context.Context, props Properties) {
	prepared, ok := p.prepare(props)
	if !ok {
		p.dropped(ctx, "set")
		return
	}
	p.client(ctx).People().Set(ctx, prepared)
}

func (p *MixpanelProvider) Global(ctx context.Context, props Properties, overwrite bool) {
	narrowed, ok := mixpanel.Narrow(props)
	if !ok {
		p.dropped(ctx, "global")
		return
	}

	if overwrite {
		p.client(ctx).RegisterSuperProperties(ctx, narrowed)
	} else {
		p.client(ctx).RegisterSuperPropertiesOnce(ctx, narrowed)
	}
}

func (p *MixpanelProvider) Increment(ctx context.Context, property string, by float64) {
	p.client(ctx).People().Increment(ctx, property, by)
}

func (p *MixpanelProvider) Purchase(ctx context.Context, amount float64, props Properties) {
	p.client(ctx).People().TrackCharge(ctx, amount, p.narrowOrNil(ctx, "purchase", props))
}

func (p *MixpanelProvider) AddDevice(ctx context.Context, token []byte) {
	p.client(ctx).People().AddPushDeviceToken(ctx, token)
}

func (p *MixpanelProvider) Push(ctx context.Context, payload map[string]any, event string) {
	if event != "" {
		p.client(ctx).TrackPushNotificationEvent(ctx, payload, event)
		return
	}
	p.client(ctx).TrackPushNotification(ctx, payload)
}

// prepare narrows props and renames well-known user keys to Mixpanel's
// reserved ones. Other keys pass through unchanged. A reserved key given
// directly, such as "$email", wins over its well-known alias.
func (p *MixpanelProvider) prepare(props Properties) (mixpanel.Properties, bool) {
	narrowed, ok := mixpanel.Narrow(props)
	if !ok {
		return nil, false
	}

	prepared := make(mixpanel.Properties, len(narrowed))
	for key, value := range narrowed {
		if mapped, found := mixpanelKeys[key]; found {
			if _, direct := narrowed[mapped]; !direct {
				prepared[mapped] = value
			}
			continue
		}
		prepared[key] = value
	}
	return prepared, true
}

func (p *MixpanelProvider) narrowOrNil(ctx context.Context, operation string, props Properties) mixpanel.Properties {
	narrowed, ok := mixpanel.Narrow(props)
	if !ok {
		p.logger.DebugContext(ctx, "mixpanel properties not representable; sending without them", "operation", operation)
		return nil
	}
	return narrowed
}

func (p *MixpanelProvider) dropped(ctx context.Context, operation string) {
	p.logger.DebugContext(ctx, "mixpanel call dropped", "operation", operation)
	if p.drops != nil {
		p.drops.Dropped(p.Name(), operation)
	}
}
