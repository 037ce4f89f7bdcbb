package analytics

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// ConsoleProvider writes every call to the log. It is the default provider for
// local development.
type ConsoleProvider struct {
	logger  *slog.Logger
	globals *Globals
	timings *Timings

	mu         sync.RWMutex
	distinctID string
}

func NewConsole(logger *slog.Logger) *ConsoleProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleProvider{
		logger:  logger,
		globals: NewGlobals(),
		timings: NewTimings(),
	}
}

func (c *ConsoleProvider) Name() string { return "console" }

func (c *ConsoleProvider) Setup(ctx context.Context, configuration Properties) {
	c.logger.InfoContext(ctx, "analytics setup", "keys", len(configuration))
}

func (c *ConsoleProvider) Flush(ctx context.Context) {
	c.logger.DebugContext(ctx, "analytics flush")
}

func (c *ConsoleProvider) Reset(ctx context.Context) {
	c.mu.Lock()
	c.distinctID = ""
	c.mu.Unlock()
	c.globals.Clear()
	c.timings.Clear()

	c.logger.InfoContext(ctx, "analytics reset")
}

func (c *ConsoleProvider) Event(ctx context.Context, name string, props Properties) {
	c.log(ctx, "analytics event", name, c.globals.Merge(props))
}

func (c *ConsoleProvider) Screen(ctx context.Context, name string, props Properties) {
	c.log(ctx, "analytics screen", name, c.globals.Merge(props))
}

func (c *ConsoleProvider) Time(ctx context.Context, name string, props Properties) {
	c.timings.Start(name, props)
	c.logger.DebugContext(ctx, "analytics timer started", "name", name)
}

func (c *ConsoleProvider) Finish(ctx context.Context, name string, props Properties) {
	finished, ok := c.timings.Finish(name, props)
	if !ok {
		c.logger.DebugContext(ctx, "analytics timer not running", "name", name)
		return
	}
	c.Event(ctx, name, finished)
}

func (c *ConsoleProvider) Identify(ctx context.Context, userID string, props Properties) {
	c.mu.Lock()
	c.distinctID = userID
	c.mu.Unlock()

	c.log(ctx, "analytics identify", "", props)
}

func (c *ConsoleProvider) Alias(ctx context.Context, userID string, forID string) {
	c.mu.Lock()
	c.distinctID = forID
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "analytics alias", "user_id", userID, "for_id", forID)
}

func (c *ConsoleProvider) Set(ctx context.Context, props Properties) {
	c.log(ctx, "analytics set", "", props)
}

func (c *ConsoleProvider) Increment(ctx context.Context, property string, by float64) {
	c.logger.InfoContext(ctx, "analytics increment", "distinct_id", c.currentID(), "property", property, "by", by)
}

func (c *ConsoleProvider) Global(ctx context.Context, props Properties, overwrite bool) {
	c.globals.Register(props, overwrite)
	c.logger.DebugContext(ctx, "analytics globals registered", "count", len(props), "overwrite", overwrite)
}

func (c *ConsoleProvider) Purchase(ctx context.Context, amount float64, props Properties) {
	c.Event(ctx, EventPurchase, merge(props, Properties{PropertyAmount: amount}))
}

func (c *ConsoleProvider) AddDevice(ctx context.Context, token []byte) {
	c.logger.InfoContext(ctx, "analytics device", "distinct_id", c.currentID(), "token", hex.EncodeToString(token))
}

func (c *ConsoleProvider) Push(ctx context.Context, payload map[string]any, event string) {
	c.log(ctx, "analytics push", event, payload)
}

func (c *ConsoleProvider) log(ctx context.Context, msg string, name string, props map[string]any) {
	name = strings.TrimSpace(name)

	encoded := ""
	if len(props) > 0 {
		if raw, err := json.Marshal(props); err == nil {
			encoded = string(raw)
		} else {
			encoded = "unencodable"
		}
	}

	c.logger.InfoContext(ctx, msg, "name", name, "distinct_id", c.currentID(), "properties", encoded)
}

func (c *ConsoleProvider) currentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.distinctID
}
