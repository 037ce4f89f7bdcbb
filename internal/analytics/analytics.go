// Package analytics defines a vendor-neutral analytics contract and the
// providers that map it onto concrete analytics vendors.
//
// Every operation is best effort: providers never return errors and never
// panic on bad input. Calls a vendor cannot represent are dropped.
package analytics

import "context"

// Properties annotate events and user profiles. Values may be strings,
// numbers, booleans, time.Time, *url.URL, nil, or []any / map[string]any of
// the same. Providers only read them.
type Properties map[string]any

// Well-known property names.
const (
	PropertyEmail     = "email"
	PropertyName      = "name"
	PropertyLastLogin = "last_login"

	// PropertyTime carries the elapsed seconds of a finished timed event.
	PropertyTime = "time"
	// PropertyAmount carries the amount of a purchase on vendors without a charge primitive.
	PropertyAmount = "amount"
)

// EventPurchase is recorded for Purchase on vendors without a charge primitive.
const EventPurchase = "purchase"

// Provider is implemented once per analytics vendor.
type Provider interface {
	Name() string

	// Setup initializes the vendor client. Unknown or mistyped configuration
	// keys are ignored.
	Setup(ctx context.Context, configuration Properties)
	Flush(ctx context.Context)
	Reset(ctx context.Context)

	Event(ctx context.Context, name string, props Properties)
	Screen(ctx context.Context, name string, props Properties)
	// Time marks the start of name; the matching Finish records its duration.
	Time(ctx context.Context, name string, props Properties)
	Finish(ctx context.Context, name string, props Properties)

	// Identify makes userID the active identity and, when props is non-nil,
	// applies props to the user profile.
	Identify(ctx context.Context, userID string, props Properties)
	Alias(ctx context.Context, userID string, forID string)
	Set(ctx context.Context, props Properties)
	Increment(ctx context.Context, property string, by float64)

	// Global registers properties sent with every later event. With overwrite
	// false only properties not yet registered are added.
	Global(ctx context.Context, props Properties, overwrite bool)

	Purchase(ctx context.Context, amount float64, props Properties)

	AddDevice(ctx context.Context, token []byte)
	// Push records a received notification. An empty event means none was named.
	Push(ctx context.Context, payload map[string]any, event string)
}

// DropRecorder is told about calls a provider discarded because their input
// could not be represented by the vendor.
type DropRecorder interface {
	Dropped(provider string, operation string)
}

func merge(base Properties, overlay Properties) Properties {
	if base == nil && overlay == nil {
		return nil
	}
	out := make(Properties, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
