package analytics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "analytical/internal/analytics"

// Traced wraps a provider with one span per call.
type Traced struct {
	inner  Provider
	tracer trace.Tracer
}

func NewTraced(inner Provider) *Traced {
	return &Traced{inner: inner, tracer: otel.Tracer(tracerName)}
}

func (t *Traced) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("analytics.provider", t.inner.Name()),
		attribute.String("analytics.operation", operation),
	)
	return t.tracer.Start(ctx, "analytics."+operation, trace.WithAttributes(attrs...))
}

func (t *Traced) Name() string { return t.inner.Name() }

func (t *Traced) Setup(ctx context.Context, configuration Properties) {
	ctx, span := t.start(ctx, "setup")
	defer span.End()
	t.inner.Setup(ctx, configuration)
}

func (t *Traced) Flush(ctx context.Context) {
	ctx, span := t.start(ctx, "flush")
	defer span.End()
	t.inner.Flush(ctx)
}

func (t *Traced) Reset(ctx context.Context) {
	ctx, span := t.start(ctx, "reset")
	defer span.End()
	t.inner.Reset(ctx)
}

func (t *Traced) Event(ctx context.Context, name string, props Properties) {
	ctx, span := t.start(ctx, "event", attribute.String("analytics.event", name))
	defer span.End()
	t.inner.Event(ctx, name, props)
}

func (t *Traced) Screen(ctx context.Context, name string, props Properties) {
	ctx, span := t.start(ctx, "screen", attribute.String("analytics.event", name))
	defer span.End()
	t.inner.Screen(ctx, name, props)
}

func (t *Traced) Time(ctx context.Context, name string, props Properties) {
	ctx, span := t.start(ctx, "time", attribute.String("analytics.event", name))
	defer span.End()
	t.inner.Time(ctx, name, props)
}

func (t *Traced) Finish(ctx context.Context, name string, props Properties) {
	ctx, span := t.start(ctx, "finish", attribute.String("analytics.event", name))
	defer span.End()
	t.inner.Finish(ctx, name, props)
}

func (t *Traced) Identify(ctx context.Context, userID string, props Properties) {
	ctx, span := t.start(ctx, "identify")
	defer span.End()
	t.inner.Identify(ctx, userID, props)
}

func (t *Traced) Alias(ctx context.Context, userID string, forID string) {
	ctx, span := t.start(ctx, "alias")
	defer span.End()
	t.inner.Alias(ctx, userID, forID)
}

func (t *Traced) Set(ctx context.Context, props Properties) {
	ctx, span := t.start(ctx, "set", attribute.Int("analytics.properties", len(props)))
	defer span.End()
	t.inner.Set(ctx, props)
}

func (t *Traced) Increment(ctx context.Context, property string, by float64) {
	ctx, span := t.start(ctx, "increment", attribute.String("analytics.property", property))
	defer span.End()
	t.inner.Increment(ctx, property, by)
}

func (t *Traced) Global(ctx context.Context, props Properties, overwrite bool) {
	ctx, span := t.start(ctx, "global", attribute.Bool("analytics.overwrite", overwrite))
	defer span.End()
	t.inner.Global(ctx, props, overwrite)
}

func (t *Traced) Purchase(ctx context.Context, amount float64, props Properties) {
	ctx, span := t.start(ctx, "purchase")
	defer span.End()
	t.inner.Purchase(ctx, amount, props)
}

func (t *Traced) AddDevice(ctx context.Context, token []byte) {
	ctx, span := t.start(ctx, "add_device")
	defer span.End()
	t.inner.AddDevice(ctx, token)
}

func (t *Traced) Push(ctx context.Context, payload map[string]any, event string) {
	ctx, span := t.start(ctx, "push", attribute.String("analytics.event", event))
	defer span.End()
	t.inner.Push(ctx, payload, event)
}
