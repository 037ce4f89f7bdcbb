package analytics

import "context"

type noopProvider struct{}

func NewNoop() Provider { return &noopProvider{} }

func (p *noopProvider) Name() string                                  { return "none" }
func (p *noopProvider) Setup(context.Context, Properties)             {}
func (p *noopProvider) Flush(context.Context)                         {}
func (p *noopProvider) Reset(context.Context)                         {}
func (p *noopProvider) Event(context.Context, string, Properties)     {}
func (p *noopProvider) Screen(context.Context, string, Properties)    {}
func (p *noopProvider) Time(context.Context, string, Properties)      {}
func (p *noopProvider) Finish(context.Context, string, Properties)    {}
func (p *noopProvider) Identify(context.Context, string, Properties)  {}
func (p *noopProvider) Alias(context.Context, string, string)         {}
func (p *noopProvider) Set(context.Context, Properties)               {}
func (p *noopProvider) Increment(context.Context, string, float64)    {}
func (p *noopProvider) Global(context.Context, Properties, bool)      {}
func (p *noopProvider) Purchase(context.Context, float64, Properties) {}
func (p *noopProvider) AddDevice(context.Context, []byte)             {}
func (p *noopProvider) Push(context.Context, map[string]any, string)  {}
