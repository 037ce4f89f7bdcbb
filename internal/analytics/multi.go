package analytics

import (
	"context"
	"strings"
)

// Multi forwards every call to each of its providers in order.
type Multi struct {
	providers []Provider
}

func NewMulti(providers ...Provider) *Multi {
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Multi{providers: kept}
}

func (m *Multi) Providers() []Provider {
	return append([]Provider(nil), m.providers...)
}

func (m *Multi) Name() string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

func (m *Multi) Setup(ctx context.Context, configuration Properties) {
	for _, p := range m.providers {
		p.Setup(ctx, configuration)
	}
}

func (m *Multi) Flush(ctx context.Context) {
	for _, p := range m.providers {
		p.Flush(ctx)
	}
}

func (m *Multi) Reset(ctx context.Context) {
	for _, p := range m.providers {
		p.Reset(ctx)
	}
}

func (m *Multi) Event(ctx context.Context, name string, props Properties) {
	for _, p := range m.providers {
		p.Event(ctx, name, props)
	}
}

func (m *Multi) Screen(ctx context.Context, name string, props Properties) {
	for _, p := range m.providers {
		p.Screen(ctx, name, props)
	}
}

func (m *Multi) Time(ctx context.Context, name string, props Properties) {
	for _, p := range m.providers {
		p.Time(ctx, name, props)
	}
}

func (m *Multi) Finish(ctx context.Context, name string, props Properties) {
	for _, p := range m.providers {
		p.Finish(ctx, name, props)
	}
}

func (m *Multi) Identify(ctx context.Context, userID string, props Properties) {
	for _, p := range m.providers {
		p.Identify(ctx, userID, props)
	}
}

func (m *Multi) Alias(ctx context.Context, userID string, forID string) {
	for _, p := range m.providers {
		p.Alias(ctx, userID, forID)
	}
}

func (m *Multi) Set(ctx context.Context, props Properties) {
	for _, p := range m.providers {
		p.Set(ctx, props)
	}
}

func (m *Multi) Increment(ctx context.Context, property string, by float64) {
	for _, p := range m.providers {
		p.Increment(ctx, property, by)
	}
}

func (m *Multi) Global(ctx context.Context, props Properties, overwrite bool) {
	for _, p := range m.providers {
		p.Global(ctx, props, overwrite)
	}
}

func (m *Multi) Purchase(ctx context.Context, amount float64, props Properties) {
	for _, p := range m.providers {
		p.Purchase(ctx, amount, props)
	}
}

func (m *Multi) AddDevice(ctx context.Context, token []byte) {
	for _, p := range m.providers {
		p.AddDevice(ctx, token)
	}
}

func (m *Multi) Push(ctx context.Context, payload map[string]any, event string) {
	for _, p := range m.providers {
		p.Push(ctx, payload, event)
	}
}
